package fetch

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/downloader"
	"github.com/ligustah/fetchkit/internal/executor"
	fkhttp "github.com/ligustah/fetchkit/internal/http"
	"github.com/ligustah/fetchkit/internal/listener"
	"github.com/ligustah/fetchkit/internal/network"
	"github.com/ligustah/fetchkit/internal/provider"
	"github.com/ligustah/fetchkit/internal/scheduler"
	"github.com/ligustah/fetchkit/internal/storage"
)

// Graph is the set of collaborators serving one namespace.
type Graph struct {
	Executor    *executor.Executor
	Database    database.Manager
	Downloads   *provider.DownloadProvider
	Coordinator *downloader.Coordinator
	Groups      *provider.GroupInfoProvider
	Listeners   *listener.Coordinator
	Updater     *downloader.InfoUpdater
	Network     *network.Monitor
	Storage     storage.Resolver
	Manager     *downloader.Manager
	Scheduler   *scheduler.PriorityProcessor

	// ownsStorage is set when Storage was opened from the temp bucket URL.
	ownsStorage bool
}

// Builder constructs the graph of a namespace. It must either return a
// complete graph or release everything it built and return an error.
type Builder func(namespace string, cfg Configuration) (*Graph, error)

// Build is the default Builder. Collaborators are created in dependency
// order. The database delete delegate is installed last and the notifier
// gets the progress interval once everything else exists.
func Build(namespace string, cfg Configuration) (_ *Graph, err error) {
	cfg.Namespace = namespace
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	fail := func(step string, cause error) (*Graph, error) {
		return nil, &ConstructionError{Namespace: namespace, Step: step, Err: cause}
	}
	if err := cfg.Validate(); err != nil {
		return fail("config", err)
	}

	g := &Graph{}
	defer func() {
		if err != nil {
			if cerr := g.abandon(); cerr != nil {
				logger.Warn("release partially built graph", zap.String("namespace", namespace), zap.Error(cerr))
			}
		}
	}()

	g.Executor = executor.New(namespace, executor.Options{Logger: logger, Clock: clk})

	if cfg.Database != nil {
		g.Database = cfg.Database
	} else {
		db, err := database.NewBadgerManager(database.Options{
			Namespace: namespace,
			Dir:       cfg.DatabaseDir,
			Logger:    logger,
		})
		if err != nil {
			return fail("database", err)
		}
		g.Database = db
	}
	if cfg.FileExistChecks {
		if _, err := downloader.RequeueMissingFiles(g.Database, cfg.OutputDir); err != nil {
			return fail("database", err)
		}
	}

	g.Downloads = provider.NewDownloadProvider(g.Database)
	g.Coordinator = downloader.NewCoordinator(namespace, logger)

	groups, err := provider.NewGroupInfoProvider(namespace, g.Downloads, cfg.GroupCacheSize)
	if err != nil {
		return fail("group info", err)
	}
	g.Groups = groups

	g.Listeners = listener.NewCoordinator(namespace, g.Groups, g.Downloads, logger)
	g.Updater = downloader.NewInfoUpdater(g.Database)
	g.Network = network.NewMonitor(network.Options{
		Prober:   cfg.Prober,
		Interval: cfg.NetworkPollInterval,
		Clock:    clk,
		Logger:   logger,
	})

	if cfg.Storage != nil {
		g.Storage = cfg.Storage
	} else {
		resolver, err := storage.Open(context.Background(), cfg.TempBucket, namespace)
		if err != nil {
			return fail("storage", err)
		}
		g.Storage = resolver
		g.ownsStorage = true
	}

	g.Manager, err = downloader.NewManager(downloader.Options{
		Namespace:          namespace,
		ConcurrentLimit:    cfg.ConcurrentLimit,
		ProgressInterval:   cfg.ProgressInterval,
		SegmentSize:        cfg.SegmentSize,
		OutputDir:          cfg.OutputDir,
		HashChecking:       cfg.HashChecking,
		RetryOnNetworkGain: cfg.RetryOnNetworkGain,
		HTTP: fkhttp.Options{
			Timeout:         cfg.Timeout,
			RetryAttempts:   cfg.Retry.Attempts,
			RetryBackoff:    cfg.Retry.Backoff,
			RetryMaxBackoff: cfg.Retry.MaxBackoff,
			Logger:          logger,
		},
		Coordinator: g.Coordinator,
		Updater:     g.Updater,
		Listener:    g.Listeners.Dispatcher(),
		Network:     g.Network,
		Storage:     g.Storage,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return fail("download manager", err)
	}

	g.Scheduler, err = scheduler.NewPriorityProcessor(scheduler.Options{
		Namespace:          namespace,
		Executor:           g.Executor,
		Pending:            g.Downloads,
		Starter:            g.Manager,
		Network:            g.Network,
		GlobalNetworkType:  cfg.NetworkType,
		RetryOnNetworkGain: cfg.RetryOnNetworkGain,
		AutoStart:          cfg.AutoStart,
		Logger:             logger,
	})
	if err != nil {
		return fail("scheduler", err)
	}

	resolver := g.Storage
	g.Database.SetDelegate(database.DelegateFunc(func(ctx context.Context, d database.DownloadInfo) error {
		req := storage.Request{ID: d.ID, URL: d.URL, File: d.File}
		return multierr.Combine(
			resolver.DeleteAllForID(ctx, resolver.DirectoryForRequest(req), d.ID),
			resolver.DeleteAllForID(ctx, resolver.DirectoryForRequest(storage.Request{ID: d.ID, Parallel: true}), d.ID),
		)
	}))

	if cfg.Notifier != nil {
		cfg.Notifier.SetProgressInterval(cfg.ProgressInterval)
		if l, ok := cfg.Notifier.(listener.Listener); ok {
			g.Listeners.AddListener(l)
		}
	}

	return g, nil
}

// teardown runs the ordered shutdown of a live graph. Every step runs even
// if an earlier one fails. It returns once no download goroutine of the
// graph is left running.
func (g *Graph) teardown() error {
	var errs error
	multierr.AppendInto(&errs, g.Executor.Close())
	g.Listeners.ClearAll()
	g.Groups.Clear()
	multierr.AppendInto(&errs, g.Database.Close())
	g.Coordinator.ClearAll()
	if g.Manager != nil {
		multierr.AppendInto(&errs, g.Manager.Close())
	}
	if g.Scheduler != nil {
		g.Scheduler.Stop()
	}
	g.Network.UnregisterAllNetworkChangeListeners()

	if g.ownsStorage {
		multierr.AppendInto(&errs, g.Storage.Close())
	}
	return errs
}

// abandon releases what a failed Build created, in reverse order.
func (g *Graph) abandon() error {
	var errs error
	if g.Scheduler != nil {
		g.Scheduler.Stop()
	}
	if g.Manager != nil {
		multierr.AppendInto(&errs, g.Manager.Close())
	}
	if g.Storage != nil && g.ownsStorage {
		multierr.AppendInto(&errs, g.Storage.Close())
	}
	if g.Network != nil {
		g.Network.UnregisterAllNetworkChangeListeners()
	}
	if g.Listeners != nil {
		g.Listeners.ClearAll()
	}
	if g.Groups != nil {
		g.Groups.Clear()
	}
	if g.Coordinator != nil {
		g.Coordinator.ClearAll()
	}
	if g.Database != nil {
		multierr.AppendInto(&errs, g.Database.Close())
	}
	if g.Executor != nil {
		multierr.AppendInto(&errs, g.Executor.Close())
	}
	return errs
}

var errIncompleteGraph = errors.New("builder returned an incomplete graph")

// complete reports whether g has every collaborator teardown touches.
func (g *Graph) complete() bool {
	return g != nil && g.Executor != nil && g.Database != nil && g.Listeners != nil &&
		g.Groups != nil && g.Coordinator != nil && g.Network != nil
}
