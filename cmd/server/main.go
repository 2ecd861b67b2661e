// Package main provides the entry point for the generative-AI gateway server.
// The server accepts normalized generation requests on a single envelope endpoint, obtains
// short-lived provider credentials and routes each request to the right upstream model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/router-for-me/GenGateway/internal/api"
	"github.com/router-for-me/GenGateway/internal/api/handlers/gateway"
	"github.com/router-for-me/GenGateway/internal/auth/vertex"
	"github.com/router-for-me/GenGateway/internal/buildinfo"
	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/logging"
	"github.com/router-for-me/GenGateway/internal/metrics"
	"github.com/router-for-me/GenGateway/internal/runtime/executor"
	"github.com/router-for-me/GenGateway/internal/store"
	"github.com/router-for-me/GenGateway/internal/util"
	"github.com/router-for-me/GenGateway/internal/watcher"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 30 * time.Second

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main parses flags, loads configuration and the environment snapshot, wires the gateway
// components and serves until SIGINT or SIGTERM.
func main() {
	fmt.Printf("GenGateway Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, fs.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	defer logging.CloseLogOutputs()
	util.SetLogLevel(cfg)

	if err = run(cfg, configPath); err != nil {
		log.Errorf("gateway stopped: %v", err)
		logging.CloseLogOutputs()
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := config.LoadEnvDefaults(os.LookupEnv)
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	cred, err := vertex.ParseServiceAccountJSON(env.ServiceAccountJSON)
	if err != nil {
		return err
	}
	if cred != nil {
		log.Infof("using service account %s", util.HideSecret(cred.ClientEmail))
		if env.ProjectID == "" {
			env.ProjectID = cred.ProjectID
		}
	}

	httpClient := util.NewHTTPClient(cfg.ProxyURL, cfg.RequestTimeout())
	collector := metrics.NewCollector("gengateway")

	sources := vertex.Sources(
		cred,
		cfg.Vertex.MetadataServer,
		vertex.NewMetadataSource(nil),
		vertex.NewServiceAccountSource(cred, cfg.Vertex.TokenEndpoint, config.DefaultTokenEndpoint, httpClient),
	)
	broker := vertex.NewBroker(sources, vertex.BrokerOptions{
		Margin:  cfg.TokenRefreshMargin(),
		Metrics: collector,
	})

	settings, closeSettings, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer func() {
		if errClose := closeSettings(); errClose != nil {
			log.WithError(errClose).Warn("failed to close settings store")
		}
	}()

	router := executor.NewRouter(executor.RouterOptions{
		HTTPClient:       httpClient,
		GlobalEndpoint:   cfg.Vertex.GlobalEndpoint,
		RegionalEndpoint: cfg.Vertex.RegionalEndpoint,
		Metrics:          collector,
	})
	handler := gateway.NewHandler(gateway.Options{
		Tokens:   broker,
		Router:   router,
		Settings: settings,
		Env:      env,
		Timeout:  cfg.RequestTimeout(),
		Metrics:  collector,
	})
	server := api.NewServer(cfg, handler, collector)

	if w := watchConfig(ctx, configPath); w != nil {
		defer func() { _ = w.Stop() }()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = server.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errCh
}

// watchConfig hot reloads the logging section of the config file. Listener, endpoint and
// store settings take effect on restart only.
func watchConfig(ctx context.Context, configPath string) *watcher.Watcher {
	if _, errStat := os.Stat(configPath); errStat != nil {
		return nil
	}
	w, err := watcher.NewWatcher(func(path string, _ []byte) {
		next, errLoad := config.LoadConfig(path)
		if errLoad != nil {
			log.WithError(errLoad).Warn("config reload skipped")
			return
		}
		if errLog := logging.ConfigureLogOutput(next); errLog != nil {
			log.WithError(errLog).Warn("failed to apply reloaded log output")
		}
		util.SetLogLevel(next)
		log.Info("config reloaded")
	}, configPath)
	if err != nil {
		log.WithError(err).Warn("config file will not be hot reloaded")
		return nil
	}
	if err = w.Start(ctx); err != nil {
		log.WithError(err).Warn("config file will not be hot reloaded")
		_ = w.Stop()
		return nil
	}
	return w
}
