package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"artifactd/internal/catalog"
	"artifactd/internal/config"
	"artifactd/internal/download"
	"artifactd/internal/httpapi"
	"artifactd/internal/langcache"
	"artifactd/internal/manager"
	"artifactd/internal/prefetch"
	"artifactd/internal/validate"
	"artifactd/pkg/types"
)

type serveOptions struct {
	addr          string
	lowMB         int
	criticalMB    int
	monitorSec    int
	inactivitySec int
	loadTimeout   int64
	corsEnabled   bool
	corsOrigins   string
	corsMethods   string
	corsHeaders   string
	noPrefetch    bool
	noPreload     bool
}

func newServeCmd(root *options) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the artifact daemon and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.resolve(cmd)
			if err != nil {
				return err
			}
			so.apply(cmd, &cfg)
			return serve(cmd.Context(), cfg, so)
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.addr, "addr", "", "HTTP listen address (default :8080 or $ARTIFACTD_ADDR)")
	f.IntVar(&so.lowMB, "low-memory-mb", 0, "Available-memory threshold for LOW pressure and admission margin")
	f.IntVar(&so.criticalMB, "critical-memory-mb", 0, "Available-memory threshold for CRITICAL pressure")
	f.IntVar(&so.monitorSec, "monitor-interval", 0, "Memory sampling interval in seconds")
	f.IntVar(&so.inactivitySec, "inactivity-timeout", 0, "Unload non-critical artifacts idle for this many seconds")
	f.Int64Var(&so.loadTimeout, "load-timeout", 0, "Per-request load timeout in seconds (0 disables)")
	f.BoolVar(&so.corsEnabled, "cors-enabled", false, "Enable CORS middleware")
	f.StringVar(&so.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	f.StringVar(&so.corsMethods, "cors-methods", "", "Comma-separated allowed CORS methods")
	f.StringVar(&so.corsHeaders, "cors-headers", "", "Comma-separated allowed CORS headers")
	f.BoolVar(&so.noPrefetch, "no-prefetch", false, "Disable the background prefetch schedule")
	f.BoolVar(&so.noPreload, "no-preload", false, "Skip critical and usage-based preloading at startup")
	return cmd
}

// apply lets explicitly set serve flags override the config file.
func (so *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if changed(cmd, "addr") {
		cfg.Addr = so.addr
	}
	if changed(cmd, "low-memory-mb") {
		cfg.LowMemoryMB = so.lowMB
	}
	if changed(cmd, "critical-memory-mb") {
		cfg.CriticalMemoryMB = so.criticalMB
	}
	if changed(cmd, "monitor-interval") {
		cfg.MonitorIntervalSec = so.monitorSec
	}
	if changed(cmd, "inactivity-timeout") {
		cfg.InactivityTimeoutSec = so.inactivitySec
	}
	if changed(cmd, "cors-enabled") {
		cfg.CORSEnabled = so.corsEnabled
	}
	if changed(cmd, "cors-origins") {
		cfg.CORSAllowedOrigins = splitCSV(so.corsOrigins)
	}
	if changed(cmd, "cors-methods") {
		cfg.CORSAllowedMethods = splitCSV(so.corsMethods)
	}
	if changed(cmd, "cors-headers") {
		cfg.CORSAllowedHeaders = splitCSV(so.corsHeaders)
	}
}

// stack is the set of components shared by serve and fetch.
type stack struct {
	validator *validate.Validator
	engine    *download.Engine
	files     *manager.FileLoader
	langFiles *manager.FileLoader
}

func buildStack(cfg config.Config, log *zerolog.Logger) stack {
	plain := validate.New(validate.Config{CPUWorkers: cfg.CPUWorkers, Logger: log})
	engine := download.New(download.Config{
		Dir:            modelsDir(cfg),
		Verifier:       plain,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		IOWorkers:      cfg.IOWorkers,
		Logger:         log,
	})
	// Only language packs are GGUF files the llama engine can open.
	langCheck := validate.New(validate.Config{
		Engine:     validate.NewLlamaEngine(2048),
		CPUWorkers: cfg.CPUWorkers,
		Logger:     log,
	})
	return stack{
		validator: plain,
		engine:    engine,
		files:     manager.NewFileLoader(engine, plain, manager.OpenBlob, manager.FileLoaderOptions{Logger: log}),
		langFiles: manager.NewFileLoader(engine, langCheck, manager.OpenBlob, manager.FileLoaderOptions{
			LoadTest: cfg.LoadTest && validate.LlamaAvailable(),
			Logger:   log,
		}),
	}
}

func serve(ctx context.Context, cfg config.Config, so *serveOptions) error {
	log := newLogger(cfg.LogLevel)
	httpapi.SetLogger(log)

	descs, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}
	installed, _ := catalog.Installed(modelsDir(cfg))
	log.Info().Str("catalog", cfg.Catalog).Int("artifacts", len(descs)).Int("installed", len(installed)).Msg("catalog loaded")

	mem, err := manager.NewProcfsMemory()
	if err != nil {
		log.Warn().Err(err).Msg("procfs unavailable; assuming fixed available memory")
		mem = manager.StaticMemory{AvailableMBValue: 4096}
	}

	st := buildStack(cfg, &log)
	managed, _ := splitCatalog(descs)
	mgr := manager.New(manager.Config{
		Catalog: managed,
		Loaders: map[types.Category]manager.Loader{
			types.CategorySpeech:  st.files,
			types.CategoryVision:  st.files,
			types.CategoryGesture: st.files,
		},
		Memory:            mem,
		Clock:             clock.New(),
		LowMemoryMB:       cfg.LowMemoryMB,
		CriticalMemoryMB:  cfg.CriticalMemoryMB,
		MonitorInterval:   time.Duration(cfg.MonitorIntervalSec) * time.Second,
		InactivityTimeout: time.Duration(cfg.InactivityTimeoutSec) * time.Second,
		UsagePath:         cfg.UsagePath,
		Logger:            &log,
	})

	store, err := langcache.OpenBoltStore(cfg.StatsDB)
	if err != nil {
		return err
	}
	svc := newDaemon(mgr, nil, st.engine, nil, descs)
	svc.langs = langcache.New(langcache.Config{
		Capacity: cfg.LangCacheSize,
		Loader:   st.langFiles,
		Lookup:   svc.lookupLanguage,
		Store:    store,
		Logger:   &log,
	})
	sched, err := prefetch.New(prefetch.Config{
		Schedule: cfg.PrefetchSchedule,
		Catalog:  svc,
		Files:    st.files,
		Stale: func(ctx context.Context, d types.Descriptor) bool {
			return st.validator.NeedsUpdate(ctx, st.engine.PathFor(d.ID), d.SHA256)
		},
		Logger: &log,
	})
	if err != nil {
		_ = svc.langs.Close()
		return err
	}
	svc.later = sched

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetLoadTimeoutSeconds(so.loadTimeout)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)

	if !so.noPreload {
		_ = mgr.PreloadCritical(ctx)
		if err := mgr.SmartPreload(ctx, nil); err != nil {
			log.Warn().Err(err).Msg("smart preload")
		}
		if err := svc.langs.Warm(ctx); err != nil {
			log.Warn().Err(err).Msg("language cache warm")
		}
	}
	mgr.Start(ctx)
	if !so.noPrefetch {
		if err := sched.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("prefetch scheduler not started")
		} else {
			defer sched.Stop()
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("data_dir", cfg.DataDir).Msg("artifactd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := svc.langs.Close(); err != nil {
		log.Warn().Err(err).Msg("language cache close")
	}
	return mgr.Close()
}
