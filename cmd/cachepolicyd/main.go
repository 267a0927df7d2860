package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/freshcache/cachepolicy/cachepolicy"
	"github.com/freshcache/cachepolicy/internal/cacheserver"
	"github.com/freshcache/cachepolicy/internal/cachestore"
	"github.com/freshcache/cachepolicy/internal/config"
	"github.com/freshcache/cachepolicy/internal/metrics"
)

// set by goreleaser
var version = "DEV"

var (
	configPathFlag  string
	addrFlag        string
	verbosityTrace  bool
	logFilenameFlag string
)

func main() {
	root := &cobra.Command{
		Use:     "cachepolicyd",
		Short:   "A standalone HTTP caching reverse proxy driven by cachepolicy",
		Version: version,
	}
	root.PersistentFlags().BoolVar(&verbosityTrace, "vv", false, "Verbosity: trace logging")
	root.PersistentFlags().StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy for every origin in the config file",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&configPathFlag, "config", "c", "cachepolicy.yaml", "Path to the YAML origins config file")
	serveCmd.Flags().StringVar(&addrFlag, "addr", ":8080", "Address to listen on")

	checkCmd := &cobra.Command{
		Use:   "config-check",
		Short: "Parse the config file and report any errors, without serving",
		RunE:  runConfigCheck,
	}
	checkCmd.Flags().StringVarP(&configPathFlag, "config", "c", "cachepolicy.yaml", "Path to the YAML origins config file")

	root.AddCommand(serveCmd, checkCmd)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("cachepolicyd failed")
	}
}

func buildStore(origin config.Origin) (cachestore.Store, error) {
	switch origin.Storage {
	case "", "memory":
		return cachestore.NewMemory(), nil
	case "sqlite":
		return cachestore.NewSQLite(origin.StoragePath)
	case "badger":
		return cachestore.NewBadger(origin.StoragePath)
	case "redis":
		addr := origin.StoragePath
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		return cachestore.NewRedis(client, origin.Origin+":"), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", origin.Storage)
	}
}

func setupLogger() zerolog.Logger {
	logLevel := zerolog.InfoLevel
	if verbosityTrace {
		logLevel = zerolog.TraceLevel
	}
	outputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if logFilenameFlag != "" {
		f, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot open log file")
		}
		outputs = append(outputs, f)
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(outputs...)).Level(logLevel).
		With().Timestamp().Str("version", version).Logger()
	log.Logger = logger
	return logger
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	for _, origin := range cfg.Origins {
		if _, err := url.Parse(origin.Origin); err != nil {
			return fmt.Errorf("origin %q: %w", origin.Origin, err)
		}
	}
	fmt.Printf("%s: %d origin(s) configured\n", configPathFlag, len(cfg.Origins))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Origins) == 0 {
		return fmt.Errorf("no origins configured in %s", configPathFlag)
	}

	reg := prometheus.NewRegistry()
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	collector := metrics.New(reg)
	byHost := make(map[string]http.Handler, len(cfg.Origins))
	var fallback http.Handler

	for _, origin := range cfg.Origins {
		originURL, err := url.Parse(origin.Origin)
		if err != nil {
			return fmt.Errorf("origin %q: %w", origin.Origin, err)
		}

		store, err := buildStore(origin)
		if err != nil {
			return fmt.Errorf("origin %q: building store: %w", origin.Origin, err)
		}

		refresh := cacheserver.DefaultRefreshInterval
		if origin.DisableUpdates {
			refresh = 0
		}

		srv := cacheserver.New(cacheserver.Config{
			Origin:          originURL,
			OriginHost:      origin.Host,
			Store:           store,
			Options:         cachepolicy.DefaultOptions(),
			Rules:           origin.Rules,
			Logger:          logger.With().Str("origin", origin.Origin).Logger(),
			Metrics:         collector,
			RefreshInterval: refresh,
			CacheName:       "CachePolicy",
		})

		host := origin.Host
		if host == "" {
			host = originURL.Host
		}
		byHost[host] = srv
		if fallback == nil {
			fallback = srv
		}
		logger.Info().Str("origin", origin.Origin).Str("host", host).Msg("origin registered")
	}

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := byHost[r.Host]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		fallback.ServeHTTP(w, r)
	})

	logger.Info().Str("addr", addrFlag).Msg("listening")
	return http.ListenAndServe(addrFlag, mux)
}
