package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/printhaus/api/internal/di"
	"github.com/printhaus/api/internal/handlers"
	"github.com/printhaus/api/internal/platform/auth"
	"github.com/printhaus/api/internal/platform/config"
	"github.com/printhaus/api/internal/platform/idempotency"
	"github.com/printhaus/api/internal/platform/observability"
	"github.com/printhaus/api/internal/platform/requestctx"
	"github.com/printhaus/api/internal/platform/secrets"
	"github.com/printhaus/api/internal/pricing"
	"github.com/printhaus/api/internal/services"
)

const meterName = "github.com/printhaus/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)
	meter := otel.GetMeterProvider().Meter(meterName)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	container, err := di.NewContainer(ctx, cfg, di.Options{
		Logger: logger,
		Build:  buildInfo,
		Meter:  meter,
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	authenticator := newAuthenticator(ctx, logger.Named("auth"), cfg)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	background, stopBackground := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	runEvery(background, &backgroundWG, cfg.Idempotency.CleanupInterval, func(runCtx context.Context) {
		cleanupLogger := logger.Named("idempotency")
		removed, err := container.Idempotency.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
		if err != nil {
			cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
		}
	})
	runEvery(background, &backgroundWG, cfg.Checkout.HoldSweepInterval, func(runCtx context.Context) {
		result, err := container.Services.Sweeper.Sweep(runCtx)
		container.Metrics.RecordSweep(runCtx, result.Removed)
		if err != nil {
			logger.Named("holds").Error("hold sweep error", zap.Error(err), zap.Int("removed", result.Removed))
		}
	})
	reloadDone := watchPricingReload(background, &backgroundWG, logger.Named("pricing"), cfg.Pricing, container.Pricing)

	pricingHandlers := handlers.NewPricingHandlers(container.Pricing)
	checkoutHandlers := handlers.NewCheckoutHandlers(
		container.Services.Checkout,
		container.Services.Confirmations,
		container.Pricing,
		handlers.WithCheckoutImageOwner(container.Images),
		handlers.WithCheckoutMetrics(container.Metrics),
	)
	var webhookVerifier handlers.WebhookVerifier
	if container.Webhooks != nil {
		webhookVerifier = container.Webhooks
	}
	webhookHandlers := handlers.NewPaymentWebhookHandlers(webhookVerifier, container.Services.Confirmations, container.Metrics)
	adminHandlers := handlers.NewAdminOrderHandlers(container.Services.Orders)
	internalHandlers := handlers.NewInternalHoldHandlers(container.Services.Sweeper, container.Metrics)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []handlers.Middleware{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware("/healthz", "/readyz"),
		handlers.RateLimit(cfg.RateLimits.DefaultPerMinute, "default", time.Now),
	}

	var internalMiddlewares []handlers.Middleware
	if oidcMiddleware != nil {
		internalMiddlewares = append(internalMiddlewares, oidcMiddleware)
	} else {
		logger.Warn("auth: OIDC not configured; internal routes are unauthenticated")
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithGroup(handlers.GroupPricing, pricingHandlers.Routes),
		handlers.WithGroup(handlers.GroupCheckout, checkoutHandlers.Routes,
			middleware.RequestSize(cfg.Server.RequestBodyLimit),
			handlers.RateLimit(cfg.RateLimits.CheckoutPerMinute, "checkout", time.Now),
			idempotencyMiddleware,
		),
		handlers.WithGroup(handlers.GroupAdmin, adminHandlers.Routes, authenticator.RequireRole(auth.RoleAdmin)),
		handlers.WithGroup(handlers.GroupWebhooks, webhookHandlers.Routes,
			handlers.RateLimit(cfg.RateLimits.WebhookBurst, "webhooks", time.Now),
		),
		handlers.WithGroup(handlers.GroupInternal, internalHandlers.Routes, internalMiddlewares...),
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("printhaus api listening",
			zap.String("version", buildInfo.Version),
			zap.String("orders", cfg.Orders.Driver),
			zap.String("holds", cfg.Checkout.HoldDriver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopBackground()
	reloadDone()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// runEvery invokes fn on a ticker until ctx is cancelled. Each run is bounded to a minute.
func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, time.Minute)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// watchPricingReload re-reads the pricing table file on SIGHUP. Requests in flight keep the
// table they started with. The returned func stops signal delivery.
func watchPricingReload(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, cfg config.PricingConfig, catalog *pricing.Catalog) func() {
	path := strings.TrimSpace(cfg.TableFile)
	if path == "" || catalog == nil {
		return func() {}
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-hup:
				table, err := pricing.LoadFile(path)
				if err != nil {
					logger.Error("pricing reload failed; keeping current table", zap.String("path", path), zap.Error(err))
					continue
				}
				if table.Currency() != catalog.Currency() {
					logger.Error("pricing reload rejected; currency changed",
						zap.String("current", catalog.Currency()),
						zap.String("loaded", table.Currency()),
					)
					continue
				}
				catalog.Replace(table)
				logger.Info("pricing table reloaded", zap.String("path", path))
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { signal.Stop(hup) }
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newAuthenticator verifies operator ID tokens through Firebase. Without a Firebase project
// the admin routes answer 503.
func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Warn("auth: firebase verifier unavailable; admin routes disabled", zap.Error(err))
		return auth.NewAuthenticator(nil)
	}
	return auth.NewAuthenticator(verifier)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.GetMeterProvider().Meter(meterName)),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve before the server starts.
// Card checkout and webhook confirmation cannot run without the Stripe pair.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Stripe.APIKey",
		"Stripe.WebhookSecret",
	}
	if env != nil {
		if strings.EqualFold(strings.TrimSpace(env["API_ORDERS_DRIVER"]), config.DriverPostgres) {
			required = append(required, "Orders.PostgresDSN")
		}
		if strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
			required = append(required, "Redis.Password")
		}
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	projects := make(map[string]string)
	for key, project := range parseKeyValueList(raw) {
		projects[strings.ToLower(key)] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_VERSION_PINS"]
	}
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
