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

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tradewinds/api/internal/di"
	"github.com/tradewinds/api/internal/handlers"
	"github.com/tradewinds/api/internal/platform/auth"
	"github.com/tradewinds/api/internal/platform/config"
	"github.com/tradewinds/api/internal/platform/events"
	pfirestore "github.com/tradewinds/api/internal/platform/firestore"
	"github.com/tradewinds/api/internal/platform/idempotency"
	"github.com/tradewinds/api/internal/platform/observability"
	"github.com/tradewinds/api/internal/platform/secrets"
	platformstorage "github.com/tradewinds/api/internal/platform/storage"
	"github.com/tradewinds/api/internal/repositories"
	firestoreRepo "github.com/tradewinds/api/internal/repositories/firestore"
	"github.com/tradewinds/api/internal/services"
)

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
	ctx = observability.WithLogger(ctx, logger)

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

	requiredSecrets := requiredSecretNames(envValues)
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider,
		firestoreRepo.WithDependencyProbes(secretManagerProbe(fetcher)),
	)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("registry close error", zap.Error(err))
		}
	}()

	var publisher services.EventPublisher
	if topicName := strings.TrimSpace(cfg.PubSub.EventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, pubsubProjectID(cfg))
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		defer topic.Stop()
		publisher, err = events.NewPubSubPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
	} else {
		logger.Warn("events topic not configured; domain events will not be published")
	}

	var (
		archiver      services.ReceiptArchiver
		receiptCopier *platformstorage.Copier
		receiptURLs   *platformstorage.Client
	)
	if bucket := strings.TrimSpace(cfg.Storage.ReceiptsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		archiver, err = platformstorage.NewReceiptArchiver(storageClient, bucket, time.Now)
		if err != nil {
			logger.Fatal("failed to initialise receipt archiver", zap.Error(err))
		}
		receiptCopier, err = platformstorage.NewCopier(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise storage copier", zap.Error(err))
		}
		if signerKey := strings.TrimSpace(cfg.Storage.SignerKey); signerKey != "" {
			signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
			if err != nil {
				logger.Fatal("failed to parse storage signer key", zap.Error(err))
			}
			receiptURLs, err = platformstorage.NewClient(signer)
			if err != nil {
				logger.Fatal("failed to initialise signed url client", zap.Error(err))
			}
		} else {
			logger.Warn("storage signer key not configured; receipt downloads disabled")
		}
	} else {
		logger.Warn("receipts bucket not configured; settled payments will not be archived")
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	deduper := idempotency.NewDeduplicator(idempotencyStore, cfg.Idempotency.TTL, time.Now)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	webhookAuth := buildWebhookAuth(logger.Named("auth"), cfg)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Publisher: publisher,
		Archiver:  archiver,
		Deduper:   deduper,
		Logger:    zapEventLogger(logger.Named("services")),
		Clock:     time.Now,
		StartedAt: startedAt,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	svc := container.Services

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Payments)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments)
	reviewHandlers := handlers.NewReviewVoteHandlers(authenticator, svc.ReviewVotes)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders)
	stockHandlers := handlers.NewStockHandlers(authenticator, svc.Stock)
	receiptHandlers := handlers.NewReceiptHandlers(authenticator, svc.Payments, receiptURLs, receiptCopier, cfg.Storage.ReceiptsBucket, cfg.Storage.LogsBucket)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments)
	healthHandlers := handlers.NewHealthHandlers(svc.System)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(func(r chi.Router) {
			paymentHandlers.Routes(r)
			r.Group(receiptHandlers.Routes)
		}),
		handlers.WithReviewRoutes(reviewHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			r.Route("/orders", adminOrderHandlers.Routes)
			r.Route("/stock", stockHandlers.AdminRoutes)
			r.Route("/receipts", receiptHandlers.AdminRoutes)
		}),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(stockHandlers.InternalRoutes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}
	if webhookAuth != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(webhookAuth))
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
		serverLogger.Info("tradewinds api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts the event-plus-fields logging contract the service
// layer uses onto a zap logger.
func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}

func secretManagerProbe(fetcher *secrets.Fetcher) repositories.DependencyProbe {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyProbe{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			// A missing probe secret still proves the API is reachable.
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

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

// selfVerifyingProviders names payment adapters that authenticate their own
// deliveries while parsing the event. Stripe signs with Stripe-Signature and
// the adapter checks it, so the shared-secret middleware must let those
// requests through untouched.
var selfVerifyingProviders = map[string]struct{}{
	"stripe": {},
}

// buildWebhookAuth assembles the signature middleware for /webhooks routes.
// Returns nil when no signing secret is configured, which leaves the routes
// open (local development only; config validation warns about it).
func buildWebhookAuth(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secrets := sharedWebhookSecrets(cfg)
	if len(secrets) == 0 {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	verifier := auth.NewSignatureVerifier(fixedSecretSource(secrets), auth.NewMemoryReplayGuard(),
		auth.WithSignatureLogger(adapter),
		auth.WithSignatureHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithSignatureSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithReplayWindow(cfg.Security.HMAC.NonceTTL),
	)
	return verifier.VerifyWebhooks(webhookAuthRoute(secrets))
}

// sharedWebhookSecrets folds the per-provider HMAC secrets and the catch-all
// signing secret into one lowercase-keyed map.
func sharedWebhookSecrets(cfg config.Config) map[string]string {
	secrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) != "" {
			secrets[strings.ToLower(key)] = value
		}
	}
	if _, ok := secrets["default"]; !ok && cfg.Webhooks.SigningSecret != "" {
		secrets["default"] = cfg.Webhooks.SigningSecret
	}
	return secrets
}

// fixedSecretSource serves signing secrets from an in-process map.
type fixedSecretSource map[string]string

func (s fixedSecretSource) Secret(_ context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("secret name required")
	}
	if secret, ok := s[key]; ok && secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("signing secret %q not configured", key)
}

// webhookAuthRoute classifies each /webhooks request. Self-verifying
// providers pass through to their adapter; everything else is matched against
// the shared secrets from most to least specific ("payments/mock", then
// "mock", then "default").
func webhookAuthRoute(secrets map[string]string) auth.WebhookRoute {
	return func(r *http.Request) (string, auth.WebhookAuthMode) {
		path := r.URL.Path
		if idx := strings.Index(path, "/webhooks/"); idx >= 0 {
			path = path[idx+len("/webhooks/"):]
		}
		segments := strings.Split(strings.Trim(path, "/"), "/")

		provider := strings.ToLower(segments[len(segments)-1])
		if _, ok := selfVerifyingProviders[provider]; ok {
			return "", auth.WebhookAuthProvider
		}

		var candidates []string
		if len(segments) >= 2 && segments[0] != "" {
			candidates = append(candidates, strings.ToLower(segments[0]+"/"+segments[1]))
		}
		if provider != "" {
			candidates = append(candidates, provider)
		}
		candidates = append(candidates, "default")

		for _, candidate := range candidates {
			if secrets[candidate] != "" {
				return candidate, auth.WebhookAuthShared
			}
		}
		return "", auth.WebhookAuthUnknown
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func pubsubProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return traceProjectID(cfg)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}

	// Per-environment Secret Manager projects, e.g. "staging=tw-staging,prod=tw-prod".
	if projects := lowercaseKeys(parseKeyValueList(lookup("API_SECRET_PROJECT_IDS"))); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve before the
// server starts. Stripe secrets become required once an API key is present;
// per-provider webhook secrets become required once declared.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Webhooks.SigningSecret"}

	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	hmacKeys := make([]string, 0)
	for key := range parseKeyValueList(env["API_SECURITY_HMAC_SECRETS"]) {
		hmacKeys = append(hmacKeys, strings.ToLower(key))
	}
	sort.Strings(hmacKeys)
	for _, key := range hmacKeys {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}

	return uniqueStrings(required)
}

// secretVersionPins parses "ref=version" pairs and normalises each ref onto
// the secret:// scheme, preserving an optional environment prefix such as
// "prod:".
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 && !strings.HasPrefix(ref[idx:], "://") {
			prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
			ref = strings.TrimSpace(ref[idx+1:])
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

// parseKeyValueList splits a comma-separated "key=value" list, dropping
// malformed or empty entries.
func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			result[key] = value
		}
	}
	return result
}

func lowercaseKeys(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[strings.ToLower(key)] = value
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
