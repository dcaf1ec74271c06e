package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/printhaus/api/internal/payments"
	"github.com/printhaus/api/internal/platform/config"
	"github.com/printhaus/api/internal/platform/idempotency"
	"github.com/printhaus/api/internal/platform/jobs"
	"github.com/printhaus/api/internal/platform/observability"
	platformstorage "github.com/printhaus/api/internal/platform/storage"
	"github.com/printhaus/api/internal/pricing"
	"github.com/printhaus/api/internal/repositories"
	"github.com/printhaus/api/internal/services"
)

const stripeProviderName = "stripe"

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout      services.CheckoutService
	Confirmations services.PaymentConfirmationService
	Orders        services.OrderAdminService
	Sweeper       services.HoldSweeper
	System        services.SystemService
}

// Options carries process-level collaborators that the container does not create itself.
type Options struct {
	Logger *zap.Logger
	Build  services.BuildInfo
	Meter  metric.Meter
	Clock  func() time.Time
	// Registry replaces the configured order store backend; tests pass memory.NewRegistry.
	Registry repositories.Registry
	// Images replaces the Cloud Storage object writer.
	Images platformstorage.ObjectWriter
	// Payments replaces the Stripe-backed payment manager.
	Payments *payments.Manager
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	Pricing     *pricing.Catalog
	Images      *platformstorage.ImageStore
	Webhooks    *payments.StripeWebhookVerifier
	Idempotency idempotency.Store
	Metrics     *observability.CheckoutMetrics

	closers []func(context.Context) error
}

// NewContainer constructs the runtime dependencies. Clients opened along the way are
// released by Close, including when construction fails part way.
func NewContainer(ctx context.Context, cfg config.Config, opts Options) (c *Container, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	c.Metrics = observability.NewCheckoutMetrics(opts.Meter, logger.Named("metrics"))

	if c.Pricing, err = loadPricing(cfg.Pricing, cfg.Checkout.Currency); err != nil {
		return nil, err
	}

	backends, err := newBackends(ctx, cfg, clock, logger)
	c.closers = append(c.closers, backends.close)
	if err != nil {
		return nil, err
	}

	if opts.Registry != nil {
		c.Repositories = opts.Registry
	} else if c.Repositories, err = backends.registry(ctx); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Repositories.Close)

	if c.Idempotency, err = backends.idempotencyStore(ctx); err != nil {
		return nil, err
	}

	writer := opts.Images
	if writer == nil {
		gcs, err := cloudstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialise storage client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return gcs.Close() })
		if writer, err = platformstorage.NewGCSWriter(gcs); err != nil {
			return nil, err
		}
	}
	c.Images, err = platformstorage.NewImageStore(platformstorage.ImageStoreConfig{
		Bucket:        cfg.Storage.ImagesBucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		MaxBytes:      cfg.Storage.MaxImageBytes,
		Writer:        writer,
		Clock:         clock,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise image store: %w", err)
	}

	manager := opts.Payments
	if manager == nil {
		if manager, err = newPaymentManager(cfg.Stripe, cfg.Checkout.Currency, clock, logger); err != nil {
			return nil, err
		}
	}
	if secret := strings.TrimSpace(cfg.Stripe.WebhookSecret); secret != "" {
		if c.Webhooks, err = payments.NewStripeWebhookVerifier(secret); err != nil {
			return nil, fmt.Errorf("initialise stripe webhook verifier: %w", err)
		}
	} else {
		logger.Warn("stripe webhook secret not configured; webhook confirmations disabled")
	}

	events, err := c.orderEventPublisher(ctx, cfg.PubSub, logger)
	if err != nil {
		return nil, err
	}

	if c.Services, err = buildServices(c.Repositories, cfg, servicesDeps{
		images:   c.Images,
		payments: manager,
		events:   events,
		clock:    clock,
		logger:   logger,
		build:    opts.Build,
		pricing:  c.Pricing,
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func loadPricing(cfg config.PricingConfig, currency string) (*pricing.Catalog, error) {
	var (
		table *pricing.Table
		err   error
	)
	if path := strings.TrimSpace(cfg.TableFile); path != "" {
		table, err = pricing.LoadFile(path)
	} else {
		table, err = pricing.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load pricing table: %w", err)
	}
	if !strings.EqualFold(table.Currency(), currency) {
		return nil, fmt.Errorf("pricing table currency %s does not match checkout currency %s", table.Currency(), currency)
	}
	return pricing.NewCatalog(table)
}

func newPaymentManager(cfg config.StripeConfig, currency string, clock func() time.Time, logger *zap.Logger) (*payments.Manager, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("stripe api key is required for card checkout")
	}
	stripeLogger := observability.NewEventLogger(logger.Named("payments"), stripeProviderName)
	provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.APIKey,
		Logger: payments.StripeLogger(stripeLogger),
		Clock:  clock,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise stripe payment provider: %w", err)
	}
	manager, err := payments.NewManager(
		map[string]payments.Provider{stripeProviderName: provider},
		payments.WithCurrencies(currency),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) orderEventPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (services.OrderEventPublisher, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	topicName := strings.TrimSpace(cfg.OrderEventsTopic)
	if projectID == "" || topicName == "" {
		logger.Info("order events disabled; pubsub project not configured")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("initialise pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

type servicesDeps struct {
	images   *platformstorage.ImageStore
	payments *payments.Manager
	events   services.OrderEventPublisher
	clock    func() time.Time
	logger   *zap.Logger
	build    services.BuildInfo
	pricing  *pricing.Catalog
}

func buildServices(reg repositories.Registry, cfg config.Config, deps servicesDeps) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, errors.New("repositories registry is required")
	}
	eventLogger := func(component string) func(context.Context, string, map[string]any) {
		return observability.NewEventLogger(deps.logger.Named(component), component)
	}

	var verifier *payments.Manager
	if cfg.Stripe.VerifySession {
		verifier = deps.payments
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Images:            deps.images,
		Payments:          deps.payments,
		Orders:            reg.Orders(),
		Holds:             reg.PendingCheckouts(),
		UnitOfWork:        reg,
		Events:            deps.events,
		Clock:             deps.clock,
		Logger:            eventLogger("checkout"),
		HoldTTL:           cfg.Checkout.HoldTTL,
		UploadConcurrency: cfg.Checkout.UploadConcurrency,
		UploadFolder:      cfg.Storage.UploadFolder,
		Currency:          cfg.Checkout.Currency,
		PaymentProvider:   stripeProviderName,
		SuccessURL:        cfg.Checkout.SuccessURL,
		CancelURL:         cfg.Checkout.CancelURL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	confirmDeps := services.PaymentConfirmationServiceDeps{
		Holds:           reg.PendingCheckouts(),
		Orders:          reg.Orders(),
		UnitOfWork:      reg,
		Events:          deps.events,
		PaymentProvider: stripeProviderName,
		Clock:           deps.clock,
		Logger:          eventLogger("payments"),
	}
	if verifier != nil {
		confirmDeps.Verifier = verifier
	}
	confirmSvc, err := services.NewPaymentConfirmationService(confirmDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build payment confirmation service: %w", err)
	}
	svc.Confirmations = confirmSvc

	orderSvc, err := services.NewOrderAdminService(services.OrderAdminServiceDeps{
		Orders: reg.Orders(),
		Events: deps.events,
		Clock:  deps.clock,
		Logger: eventLogger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order admin service: %w", err)
	}
	svc.Orders = orderSvc

	sweeper, err := services.NewHoldSweeper(services.HoldSweeperDeps{
		Holds:     reg.PendingCheckouts(),
		BatchSize: cfg.Checkout.HoldSweepBatch,
		Clock:     deps.clock,
		Logger:    eventLogger("holds"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build hold sweeper: %w", err)
	}
	svc.Sweeper = sweeper

	build := deps.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Pricing:          deps.pricing,
		Clock:            deps.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// newRedisClient opens the client shared by the hold and idempotency stores.
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
