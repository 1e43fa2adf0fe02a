package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/fetchkit/internal/config"
	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/downloader"
	"github.com/ligustah/fetchkit/internal/fetch"
	"github.com/ligustah/fetchkit/internal/listener"
	"github.com/ligustah/fetchkit/internal/network"
	"github.com/ligustah/fetchkit/internal/progress"
)

// prober overrides the connectivity probe of every namespace when set.
var prober network.Prober

// commonFlags are shared by every command that opens a namespace.
type commonFlags struct {
	configPath  string
	namespace   string
	logLevel    string
	databaseDir string
	tempBucket  string
	outputDir   string
	metricsAddr string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.namespace, "namespace", "", "Download namespace (default from config, then \"default\")")
	fs.StringVar(&c.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fs.StringVar(&c.databaseDir, "db-dir", "", "Directory of the download database (default: user cache dir)")
	fs.StringVar(&c.tempBucket, "temp-bucket", "", "Bucket URL for temporary parts, e.g. file:///tmp/fetchkit?create_dir=true")
	fs.StringVar(&c.outputDir, "output-dir", "", "Directory for finished files")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

// load resolves the namespace configuration: file, then environment, then flags.
func (c *commonFlags) load() (config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	cfg = cfg.Merge(config.Config{
		Namespace:   c.namespace,
		DatabaseDir: c.databaseDir,
		TempBucket:  c.tempBucket,
		OutputDir:   c.outputDir,
	})
	if cfg.DatabaseDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return config.Config{}, fmt.Errorf("locate cache dir: %w", err)
		}
		cfg.DatabaseDir = filepath.Join(dir, "fetchkit")
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true
	return zc.Build()
}

// session is an open namespace for the lifetime of one command.
type session struct {
	cfg      config.Config
	logger   *zap.Logger
	reporter *progress.Reporter
	registry *fetch.Registry
	metrics  *http.Server
}

func (c *commonFlags) open() (*session, int) {
	cfg, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, ExitConfigError
	}
	logger, err := newLogger(c.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -log-level: %v\n", err)
		return nil, ExitInvalidArgs
	}

	s := &session{
		cfg:      cfg,
		logger:   logger,
		reporter: progress.NewReporter(progress.Options{Output: os.Stderr}),
	}
	opts := []fetch.Option{fetch.WithLogger(logger)}
	if c.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, fetch.WithRegisterer(reg))
		s.metrics = &http.Server{
			Addr:              c.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}
	s.registry = fetch.NewRegistry(opts...)
	return s, ExitSuccess
}

// configuration returns the build configuration of the session namespace.
// Without autoStart queued downloads stay queued.
func (s *session) configuration(autoStart bool) fetch.Configuration {
	cfg := s.cfg
	cfg.AutoStart = autoStart
	return fetch.Configuration{
		Config:   cfg,
		Notifier: s.reporter,
		Prober:   prober,
		Logger:   s.logger,
	}
}

// with runs fn on the session namespace.
func (s *session) with(autoStart bool, fn func(h *fetch.Handle) error) error {
	return fetch.With(s.registry, s.cfg.Namespace, s.configuration(autoStart), fn)
}

func (s *session) close() {
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.metrics.Shutdown(ctx)
	}
	s.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// settleWatch collects the first settling event of each watched id. Events
// of other downloads in the namespace are ignored.
type settleWatch struct {
	mu       sync.Mutex
	watching map[int]bool
	settled  chan database.DownloadInfo
}

func newSettleWatch(ids []int) *settleWatch {
	w := &settleWatch{watching: make(map[int]bool, len(ids))}
	for _, id := range ids {
		w.watching[id] = true
	}
	// One slot per watched id, so notify never blocks or drops.
	w.settled = make(chan database.DownloadInfo, len(w.watching))
	return w
}

func (w *settleWatch) notify(d database.DownloadInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching[d.ID] {
		return
	}
	delete(w.watching, d.ID)
	w.settled <- d
}

func (w *settleWatch) listener() listener.Listener {
	return &listener.Funcs{
		Completed: w.notify,
		Paused:    w.notify,
		Cancelled: w.notify,
		Error:     func(d database.DownloadInfo, _ error) { w.notify(d) },
	}
}

// wait blocks until every watched id settled and returns the number of
// failed ones.
func (w *settleWatch) wait(ctx context.Context) (int, error) {
	failed := 0
	for remaining := cap(w.settled); remaining > 0; remaining-- {
		select {
		case d := <-w.settled:
			if d.Status == database.StatusFailed {
				failed++
			}
		case <-ctx.Done():
			return failed, ctx.Err()
		}
	}
	return failed, nil
}

// waitSettled blocks until every id reaches a final state for this run:
// completed, failed, paused or cancelled. It returns the number of failures.
// On cancellation running downloads are paused.
func waitSettled(ctx context.Context, h *fetch.Handle, ids []int) (int, error) {
	w := newSettleWatch(ids)
	lid := h.Listeners().AddListener(w.listener())
	defer h.Listeners().RemoveListener(lid)

	// Records that settled before the listener was installed.
	for _, id := range ids {
		d, err := h.Database().Get(id)
		if err != nil {
			return 0, err
		}
		if d.Status.Terminal() || d.Status == database.StatusPaused {
			w.notify(d)
		}
	}
	h.Scheduler().Kick()

	failed, err := w.wait(ctx)
	if err != nil {
		for _, id := range h.Coordinator().IDs() {
			h.Manager().Pause(id)
		}
	}
	return failed, err
}

// exitFor maps the outcome of a run to an exit code.
func exitFor(err error, failed int) int {
	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, downloader.ErrClosed):
		return ExitGeneralError
	case err != nil:
		var ce *fetch.ConstructionError
		if errors.As(err, &ce) {
			if ce.Step == "storage" || ce.Step == "database" {
				return ExitStorageError
			}
			return ExitConfigError
		}
		return ExitGeneralError
	case failed > 0:
		return ExitDownloadFailed
	}
	return ExitSuccess
}
