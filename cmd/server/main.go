package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"stakesession/pkg/auth"
	"stakesession/pkg/clientsession"
	"stakesession/pkg/config"
	"stakesession/pkg/contract"
	"stakesession/pkg/coordinator"
	"stakesession/pkg/resolver"
	"stakesession/pkg/server"
	"stakesession/pkg/store"
)

func main() {
	cfg := loadAndConfigureSystem()

	st := openStore(cfg)
	defer st.Close()

	contractClient := contract.New(contract.Config{
		Endpoint: cfg.ContractGatewayURL,
		Timeout:  cfg.ContractGatewayTimeout,
	})

	res := resolver.New(contractClient, st)
	clients := clientsession.NewRegistry()
	sessions := server.NewSessionRegistry()
	authValidator := auth.New(st, clients)

	rehydrateSessions(st, res, sessions)

	srv := server.New(server.Deps{
		Config:   cfg,
		Store:    st,
		Auth:     authValidator,
		Clients:  clients,
		Sessions: sessions,
		Contract: contractClient,
		Resolver: res,
	})

	executeServerLifecycle(srv, cfg)
}

// loadAndConfigureSystem loads configuration and sets up logging.
func loadAndConfigureSystem() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	configureLogging(cfg.LogLevel)
	logStartupInfo(cfg)
	return cfg
}

// configureLogging sets up the logging system based on configuration.
func configureLogging(logLevel string) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// logStartupInfo logs server startup information.
func logStartupInfo(cfg *config.Config) {
	logrus.WithFields(logrus.Fields{
		"port":     cfg.ServerPort,
		"logLevel": cfg.LogLevel,
		"devMode":  cfg.EnableDevMode,
	}).Info("starting session coordinator server")
}

// openStore connects to the Persistence Gateway, failing fast if it cannot
// be reached at startup.
func openStore(cfg *config.Config) *store.Store {
	storeConfig := store.DefaultConfig(cfg.DatabaseURL)
	storeConfig.MaxOpenConns = cfg.DatabaseMaxOpenConns
	storeConfig.MaxIdleConns = cfg.DatabaseMaxIdleConns

	st, err := store.Open(storeConfig)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open persistence gateway")
	}
	return st
}

// rehydrateSessions re-attaches a Coordinator to every session the resolver
// reports as left mid-settlement by a prior process, replaying the
// termination sequence exactly as a crash-free run would have completed it.
func rehydrateSessions(st *store.Store, res *resolver.Resolver, sessions *server.SessionRegistry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range res.Rehydrate(ctx) {
		sess, err := st.LoadSession(ctx, id)
		if err != nil {
			logrus.WithError(err).WithField("session_id", id).Warn("failed to rehydrate session")
			continue
		}

		game, err := st.LoadGame(ctx, sess.GameID)
		if err != nil {
			logrus.WithError(err).WithField("session_id", id).Warn("failed to load game for rehydrated session")
			continue
		}

		coord := coordinator.New(sess, game, sess.Creator, st, res)
		sessions.Put(coord)
		go coord.Run(context.Background())
		coord.Send(coordinator.SessionEnd{})

		logrus.WithField("session_id", id).Info("rehydrated unresolved session for termination replay")
	}
}

// executeServerLifecycle handles the complete server lifecycle including
// startup and graceful shutdown.
func executeServerLifecycle(srv *server.Server, cfg *config.Config) {
	sigChan, errChan := setupShutdownHandling()
	startServerAsync(srv, cfg, errChan)
	waitForShutdownSignal(sigChan, errChan)
	performGracefulShutdown(srv, cfg)
}

// setupShutdownHandling creates channels for graceful shutdown signal handling.
func setupShutdownHandling() (chan os.Signal, chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	errChan := make(chan error, 1)
	return sigChan, errChan
}

// startServerAsync starts the server in a background goroutine.
func startServerAsync(srv *server.Server, cfg *config.Config, errChan chan error) {
	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		if err := srv.Run(addr); err != nil {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()
}

// waitForShutdownSignal waits for either a shutdown signal or server error.
func waitForShutdownSignal(sigChan chan os.Signal, errChan chan error) {
	select {
	case sig := <-sigChan:
		logrus.WithField("signal", sig).Info("received shutdown signal")
	case err := <-errChan:
		logrus.WithError(err).Error("server error")
	}
}

// performGracefulShutdown handles the graceful server shutdown process.
func performGracefulShutdown(srv *server.Server, cfg *config.Config) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	logrus.Info("shutting down server gracefully...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("error during graceful shutdown")
	}

	time.Sleep(cfg.ShutdownGracePeriod)
	logrus.Info("server shutdown completed")
}
