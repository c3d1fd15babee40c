package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/quickorder/internal/handlers"
	"github.com/hanko-field/quickorder/internal/platform/config"
	"github.com/hanko-field/quickorder/internal/platform/events"
	pfirestore "github.com/hanko-field/quickorder/internal/platform/firestore"
	"github.com/hanko-field/quickorder/internal/platform/flash"
	"github.com/hanko-field/quickorder/internal/platform/i18n"
	"github.com/hanko-field/quickorder/internal/platform/idempotency"
	"github.com/hanko-field/quickorder/internal/platform/observability"
	"github.com/hanko-field/quickorder/internal/platform/session"
	"github.com/hanko-field/quickorder/internal/repositories"
	firestoreRepo "github.com/hanko-field/quickorder/internal/repositories/firestore"
	"github.com/hanko-field/quickorder/internal/repositories/memory"
	"github.com/hanko-field/quickorder/internal/repositories/sqlstore"
	"github.com/hanko-field/quickorder/internal/services"
)

const (
	defaultCheckTimeout  = 2 * time.Second
	firestoreDialTimeout = 10 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	QuickOrder services.QuickOrderService
	Stock      services.StockReader
	System     services.SystemService
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	Publisher   events.Publisher
	Flash       flash.Store
	Idempotency idempotency.Store
	I18n        *i18n.Bundle
	Session     *session.Manager
	Metrics     *observability.QuickOrderMetrics
	Prometheus  *prometheus.Registry

	logger *zap.Logger
	redis  *goredis.Client
	build  services.BuildInfo
	clock  func() time.Time
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	registry repositories.Registry
	logger   *zap.Logger
	build    services.BuildInfo
	clock    func() time.Time
}

// WithRegistry supplies a prebuilt repository registry instead of opening cfg.Backend. The container
// takes ownership and closes it.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Everything opened before a failure is closed again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	o := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock()
	}
	if o.build.Environment == "" {
		o.build.Environment = cfg.Security.Environment
	}

	c := &Container{Config: cfg, logger: o.logger, build: o.build, clock: o.clock}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	c.Repositories = o.registry
	if c.Repositories == nil {
		c.Repositories, err = OpenRegistry(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		c.redis = goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	serviceLogger := observability.ServiceLogger(o.logger)

	c.Publisher, err = newPublisher(ctx, cfg, serviceLogger)
	if err != nil {
		return nil, err
	}
	if err = c.buildStores(ctx, cfg); err != nil {
		return nil, err
	}

	c.I18n, err = i18n.Load(cfg.QuickOrder.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("load translations: %w", err)
	}

	c.Prometheus = prometheus.NewRegistry()
	c.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = observability.NewQuickOrderMetrics(c.Prometheus)

	c.Session = session.NewManager(session.Options{
		CookieName: cfg.Session.CookieName,
		Secret:     []byte(cfg.Session.Secret),
		MaxAge:     cfg.Session.MaxAge,
		Secure:     cfg.Session.Secure,
		Locale: func(r *http.Request) string {
			return c.I18n.Resolve(r.Header.Get("Accept-Language"))
		},
		Clock:  o.clock,
		Logger: o.logger,
	})

	c.Services, err = c.buildServices(cfg, serviceLogger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// OpenRegistry opens the repository backend selected by cfg.Backend.
func OpenRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memory.NewRegistry(), nil
	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(firestoreDialTimeout))
		if _, err := provider.Client(ctx); err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		reg, err := firestoreRepo.NewRegistry(provider, cfg.Firestore.ProductsCollection, cfg.Firestore.CartsCollection)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	case config.BackendPostgres, config.BackendSQLite:
		dialect := sqlstore.DialectPostgres
		if cfg.Backend == config.BackendSQLite {
			dialect = sqlstore.DialectSQLite
		}
		reg, err := sqlstore.NewRegistry(dialect, cfg.SQL.DSN, sqlstore.Options{
			MaxOpenConns: cfg.SQL.MaxOpenConns,
			AutoMigrate:  cfg.SQL.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", dialect, err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger func(context.Context, string, map[string]any)) (events.Publisher, error) {
	switch cfg.Events.Sink {
	case config.EventSinkNone, "":
		return events.NoopPublisher{}, nil
	case config.EventSinkLog:
		return events.NewLogPublisher(logger), nil
	case config.EventSinkPubSub:
		var opts []option.ClientOption
		if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
			opts = append(opts,
				option.WithEndpoint(host),
				option.WithoutAuthentication(),
				option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		pub, err := events.NewPubSubPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic, opts...)
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		return pub, nil
	case config.EventSinkKafka:
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout)
		if err != nil {
			return nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported event sink %q", cfg.Events.Sink)
	}
}

func (c *Container) buildStores(ctx context.Context, cfg config.Config) error {
	if c.redis == nil {
		c.Flash = flash.NewMemoryStore(cfg.Session.FlashTTL, c.clock)
		c.Idempotency = idempotency.NewMemoryStore()
		// Without Redis, Firestore deployments still share idempotency keys across instances.
		if reg, ok := c.Repositories.(*firestoreRepo.Registry); ok {
			client, err := reg.Provider().Client(ctx)
			if err != nil {
				return fmt.Errorf("build idempotency store: %w", err)
			}
			store, err := idempotency.NewFirestoreStore(client)
			if err != nil {
				return fmt.Errorf("build idempotency store: %w", err)
			}
			c.Idempotency = store
		}
		return nil
	}
	prefix := strings.TrimSpace(cfg.Redis.KeyPrefix)
	if prefix == "" {
		prefix = "quickorder:"
	}
	flashStore, err := flash.NewRedisStore(c.redis, prefix+"flash:", cfg.Session.FlashTTL)
	if err != nil {
		return fmt.Errorf("build flash store: %w", err)
	}
	idemStore, err := idempotency.NewRedisStore(c.redis, prefix+"idem:")
	if err != nil {
		return fmt.Errorf("build idempotency store: %w", err)
	}
	c.Flash = flashStore
	c.Idempotency = idemStore
	return nil
}

func (c *Container) buildServices(cfg config.Config, logger func(context.Context, string, map[string]any)) (Services, error) {
	stock, err := services.NewStockLookup(c.Repositories.Catalog())
	if err != nil {
		return Services{}, fmt.Errorf("build stock lookup: %w", err)
	}
	cartState, err := services.NewCartStateReader(c.Repositories.Carts())
	if err != nil {
		return Services{}, fmt.Errorf("build cart state reader: %w", err)
	}
	mutator, err := services.NewCartMutator(services.CartMutatorDeps{
		Carts:  c.Repositories.Carts(),
		Events: c.Publisher,
		Clock:  c.clock,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart mutator: %w", err)
	}
	quickOrder, err := services.NewQuickOrderService(services.QuickOrderServiceDeps{
		Stock:     stock,
		CartState: cartState,
		Mutator:   mutator,
		MaxItems:  cfg.QuickOrder.MaxItems,
		Metrics:   c.Metrics,
		Clock:     c.clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quick order service: %w", err)
	}

	health, err := repositories.NewDependencyHealthRepository(c.dependencyChecks(), repositories.WithDependencyClock(c.clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            c.clock,
		Build:            c.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{QuickOrder: quickOrder, Stock: stock, System: system}, nil
}

func (c *Container) dependencyChecks() []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:    "store",
		Timeout: defaultCheckTimeout,
		Check:   c.Repositories.Ping,
	}}
	if c.redis != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: defaultCheckTimeout,
			Check: func(ctx context.Context) error {
				return c.redis.Ping(ctx).Err()
			},
		})
	}
	if pinger, ok := c.Publisher.(events.Pinger); ok {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "events",
			Timeout: defaultCheckTimeout,
			Check:   pinger.Ping,
		})
	}
	return checks
}

// Router assembles the HTTP handler with observability, session, and idempotency middleware applied.
func (c *Container) Router() http.Handler {
	projectID := strings.TrimSpace(c.Config.Firestore.ProjectID)
	serviceLogger := observability.ServiceLogger(c.logger)

	quickOrder := handlers.NewQuickOrderHandlers(c.Services.QuickOrder, c.Flash, c.I18n,
		handlers.WithRedirectPath(c.Config.QuickOrder.RedirectPath),
		handlers.WithRateLimit(c.Config.RateLimits.QuickOrderPerMinute, c.Config.RateLimits.Burst, c.clock),
		handlers.WithQuickOrderLogger(serviceLogger),
	)
	health := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(c.Services.System),
		handlers.WithHealthBuildInfo(c.build),
		handlers.WithHealthClock(c.clock),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(c.logger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(c.logger),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithMetricsHandler(observability.MetricsHandler(c.Prometheus)),
		handlers.WithSessionMiddlewares(
			c.Session.Middleware,
			idempotency.Middleware(c.Idempotency,
				idempotency.WithHeader(c.Config.Idempotency.Header),
				idempotency.WithTTL(c.Config.Idempotency.TTL),
				idempotency.WithClock(c.clock),
				idempotency.WithLogger(serviceLogger),
			),
		),
		handlers.WithQuickOrder(quickOrder),
	)
}

// Close releases repository clients, the event sink, and the redis pool.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}
