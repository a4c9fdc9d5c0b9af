// Command authgate serves the permission gate and the communication dispatch over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/kompo/authlib/authn"
	"github.com/kompo/authlib/authz"
	"github.com/kompo/authlib/cache"
	"github.com/kompo/authlib/communication"
	"github.com/kompo/authlib/config"
	"github.com/kompo/authlib/storage/gormstore"
	"github.com/kompo/authlib/storage/memory"
	"github.com/kompo/authlib/transport/httpapi"
	"github.com/kompo/authlib/types"
)

const shutdownTimeout = 10 * time.Second

// backend is the storage serving permissions, grants and template groups.
type backend struct {
	registry  authz.PermissionRegistry
	actor     func(subject string) types.Actor
	templates communication.TemplateGroupStore
	close     func() error
}

func main() {
	configPath := flag.String("config", "", "Path to an optional config file.")
	flag.Parse()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	if err := run(*configPath, logger); err != nil {
		level.Error(logger).Log("msg", "authgate stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(); err != nil {
			level.Warn(logger).Log("msg", "could not close storage", "err", err)
		}
	}()

	gate, err := authz.NewGate(cfg.GateConfig(), store.registry,
		authz.WithLoggerOption(logger),
		authz.WithCacheOption(cache.NewLocalCache(cache.Config{
			Expiry:          cfg.CacheExpiry,
			CleanupInterval: 2 * cfg.CacheExpiry,
		})),
	)
	if err != nil {
		return err
	}

	sender := communication.LogSender{Logger: logger}
	notifier := communication.NewTemplateNotifier(
		communication.WithNotifierLogger(logger),
		communication.WithSender(communication.ChannelMail, sender),
		communication.WithSender(communication.ChannelSMS, sender),
		communication.WithSender(communication.ChannelDatabase, sender),
	)
	dispatcher := communication.NewDispatcher(store.templates, notifier, communication.WithDispatcherLogger(logger))
	listener := communication.NewListener(dispatcher,
		communication.WithWorkers(cfg.DispatchWorkers),
		communication.WithQueueSize(cfg.DispatchQueue),
		communication.WithListenerLogger(logger),
	)

	routes := httpapi.Routes{
		Check:  gate.Component("PermissionCheck"),
		Events: gate.Component("Events"),
	}
	if cfg.JWKSURL != "" {
		auth, err := authn.NewAuthenticator(cfg.VerifierConfig())
		if err != nil {
			return err
		}
		resolve := func(_ context.Context, id *authn.Identity) (types.Actor, error) {
			return store.actor(id.Subject), nil
		}
		routes.Authenticate = httpapi.Authenticate(auth, resolve, logger)
	} else {
		level.Warn(logger).Log("msg", "no jwks url configured, requests are anonymous")
	}

	app := httpapi.NewApp(httpapi.NewHandler(gate, listener, logger), routes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// dispatch is not tied to ctx so queued events are drained on shutdown
		return listener.Run(context.Background())
	})
	g.Go(func() error {
		level.Info(logger).Log("msg", "listening", "addr", cfg.HTTPAddr)
		return app.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		// a failed Listen cancels gctx too
		<-gctx.Done()
		level.Info(logger).Log("msg", "shutting down")
		listener.Close()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}

func openBackend(ctx context.Context, cfg *config.Config, logger log.Logger) (*backend, error) {
	if cfg.DatabaseDSN == "" {
		registry, grants, templates := memory.NewRegistry(), memory.NewGrants(), memory.NewTemplateGroups()
		if cfg.SeedFile == "" {
			level.Warn(logger).Log("msg", "no database or seed file configured, in-memory storage starts empty and unregistered components are allowed")
		} else {
			seed, err := memory.ReadSeed(cfg.SeedFile)
			if err != nil {
				return nil, err
			}
			if err := seed.Apply(registry, grants, templates); err != nil {
				return nil, err
			}
			level.Warn(logger).Log("msg", "no database configured, using seeded in-memory storage", "seed", cfg.SeedFile,
				"permissions", len(seed.Permissions), "grants", len(seed.Grants), "template_groups", len(seed.TemplateGroups))
		}
		return &backend{
			registry:  registry,
			actor:     grants.Actor,
			templates: templates,
			close:     func() error { return nil },
		}, nil
	}

	store, err := gormstore.Open(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(ctx); err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return &backend{
		registry:  store,
		actor:     store.Actor,
		templates: store,
		close:     store.Close,
	}, nil
}
