// Package app assembles the resource registry, the persistence backends and
// the provider and processor chains into an HTTP application.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/apierror"
	"github.com/conduit-lang/restkit/internal/cli/config"
	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/iri"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/metrics"
	"github.com/conduit-lang/restkit/internal/odm"
	"github.com/conduit-lang/restkit/internal/openapi"
	"github.com/conduit-lang/restkit/internal/orm"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/search"
	"github.com/conduit-lang/restkit/internal/security"
	"github.com/conduit-lang/restkit/internal/serializer"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/state/processor"
	"github.com/conduit-lang/restkit/internal/state/provider"
	"github.com/conduit-lang/restkit/internal/subscription"
	"github.com/conduit-lang/restkit/internal/validation"
	"github.com/conduit-lang/restkit/internal/web/auth"
	"github.com/conduit-lang/restkit/internal/web/middleware"
	"github.com/conduit-lang/restkit/internal/web/request"
	"github.com/conduit-lang/restkit/internal/web/router"
	"github.com/conduit-lang/restkit/internal/web/server"
)

// MercurePath is where the built-in subscription hub is mounted
const MercurePath = "/.well-known/mercure"

// App is a composed application
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *metadata.Registry
	Locator  *state.Locator

	Provider  state.Provider
	Processor state.Processor
	// GraphQLProcessor wraps Processor with subscription ids and mutation
	// payload envelopes for GraphQL resolvers
	GraphQLProcessor state.Processor

	Identifiers *identifier.Converter
	IRIs        *iri.Converter
	Serializer  *serializer.Serializer
	Docs        *openapi.Factory
	Metrics     *metrics.Metrics
	Tokens      *auth.TokenService
	Router      *router.Router
	Hub         *subscription.Hub

	handler http.Handler
	closers []func(context.Context) error
}

// Load reads the resource file named by cfg and builds the application.
func Load(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	resources, err := metadata.LoadYAMLFile(cfg.Resources, state.ErrorKinds())
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, resources, Backends{}, logger)
}

// Backends overrides the stores opened from configuration. Nil fields are
// opened from cfg when configured.
type Backends struct {
	SQL      *sql.DB
	Mongo    odm.Store
	Search   search.Searcher
	Redis    redis.UniversalClient
	Verifier middleware.TokenVerifier
}

// New registers resources and builds the application.
func New(ctx context.Context, cfg *config.Config, resources []*metadata.Resource, backends Backends, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{Config: cfg, Logger: logger, Locator: state.NewLocator(), Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err := a.openBackends(ctx, &backends); err != nil {
		return nil, err
	}

	a.Registry = metadata.NewRegistry()
	fallback := defaultBackend(backends)
	for _, res := range resources {
		assignServices(res, fallback)
		if err := a.Registry.Register(res); err != nil {
			return nil, err
		}
	}
	if err := a.Registry.ValidateAll(); err != nil {
		return nil, err
	}

	pg := pagination.New(cfg.Pagination)
	a.Identifiers = identifier.NewConverter(a.Registry)
	dispatcher := state.NewCallableProvider(a.Locator)
	a.IRIs = iri.NewConverter(a.Registry, dispatcher, a.Identifiers)
	a.Serializer = serializer.New(a.Registry, a.IRIs)
	a.registerBackends(backends, pg)

	describe := func(def *metadata.FilterDefinition) (state.FilterDescriber, error) {
		return orm.NewFilter(def, a.Registry)
	}
	a.Docs = openapi.NewFactory(a.Registry, cfg.Docs.Info, describe, cfg.Pagination)

	checker := security.NewExpressionChecker(&security.RoleAuthorizer{
		Hierarchy: security.RoleHierarchyFromMap(cfg.Security.Roles),
	})

	publisher, hubURL, err := a.publisher(ctx, backends.Redis)
	if err != nil {
		return nil, err
	}

	a.Provider = a.providerChain(dispatcher, checker)
	a.Processor, a.GraphQLProcessor = a.processorChain(checker, publisher, backends.Redis, hubURL)

	verifier := backends.Verifier
	if verifier == nil && cfg.Security.JWTSecret != "" {
		a.Tokens = auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL)
		verifier = a.Tokens
	}
	if a.Hub != nil && verifier != nil {
		a.Hub.SetAuthHandler(func(_ context.Context, token string) (string, error) {
			identity, err := verifier.Verify(token)
			return identity.UserID, err
		})
	}

	errorProvider := apierror.NewErrorProvider(cfg.Debug, logger)
	a.Locator.RegisterProvider(apierror.ProviderName, errorProvider)

	a.Router, err = router.New(router.Options{
		Provider:      a.Provider,
		Processor:     a.Processor,
		ErrorProvider: errorProvider,
		Renderer:      a.Serializer,
		Identifiers:   a.Identifiers,
		IRIs:          a.IRIs,
		Logger:        logger,
		Debug:         cfg.Debug,
		PageParameter: cfg.Pagination.PageParameterName,
		DocsPath:      cfg.Docs.Path,
		MercureHub:    hubURL,
	})
	if err != nil {
		return nil, err
	}
	var api []middleware.Middleware
	if verifier != nil {
		api = append(api, middleware.Auth(verifier))
	}
	api = append(api, middleware.Timeout(cfg.Server.RequestTimeout))
	a.Router.Use(api...)
	a.Router.Mount(a.Registry)

	a.handler = a.mount(verifier)
	return a, nil
}

func (a *App) openBackends(ctx context.Context, b *Backends) error {
	cfg := a.Config
	if b.SQL == nil && cfg.Database.URL != "" {
		db, err := orm.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		b.SQL = db
	}
	if b.Mongo == nil && cfg.Mongo.URI != "" {
		db, err := odm.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(ctx context.Context) error { return db.Client().Disconnect(ctx) })
		b.Mongo = odm.NewDatabaseStore(db)
	}
	if b.Search == nil && len(cfg.Elasticsearch.Addresses) > 0 {
		client, err := search.NewClient(cfg.Elasticsearch.Addresses, cfg.Elasticsearch.Username, cfg.Elasticsearch.Password, a.Logger)
		if err != nil {
			return err
		}
		b.Search = client
	}
	if b.Redis == nil && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		b.Redis = client
	}
	return nil
}

func (a *App) registerBackends(b Backends, pg *pagination.Pagination) {
	if b.SQL != nil {
		manager := orm.NewManager(b.SQL, a.Registry, a.Logger)
		if a.Config.Database.MaxRetries > 0 {
			manager = manager.WithRetry(orm.RetryConfig{MaxRetries: a.Config.Database.MaxRetries, BaseBackoff: 100 * time.Millisecond})
		}
		a.Locator.RegisterProvider(ORMItemProvider, orm.NewItemProvider(manager))
		a.Locator.RegisterProvider(ORMCollectionProvider, orm.NewCollectionProvider(manager, orm.DefaultCollectionExtensions(a.Registry, pg)...))
		a.Locator.RegisterProcessor(ORMPersistProcessor, orm.NewPersistProcessor(manager))
		a.Locator.RegisterProcessor(ORMRemoveProcessor, orm.NewRemoveProcessor(manager))
	}
	if b.Mongo != nil {
		manager := odm.NewManager(b.Mongo, a.Registry, a.Logger)
		a.Locator.RegisterProvider(ODMItemProvider, odm.NewItemProvider(manager))
		a.Locator.RegisterProvider(ODMCollectionProvider, odm.NewCollectionProvider(manager, odm.DefaultCollectionExtensions(pg)...))
		a.Locator.RegisterProcessor(ODMPersistProcessor, odm.NewPersistProcessor(manager))
		a.Locator.RegisterProcessor(ODMRemoveProcessor, odm.NewRemoveProcessor(manager))
	}
	if b.Search != nil {
		a.Locator.RegisterProvider(SearchItemProvider, search.NewItemProvider(b.Search, a.Registry))
		a.Locator.RegisterProvider(SearchCollectionProvider, search.NewCollectionProvider(b.Search, a.Registry, pg))
	}
	a.Locator.RegisterProcessor(provider.DocumentationOperation().Processor(), state.ProcessorFunc(
		func(_ context.Context, data any, _ *metadata.Operation, _ *identifier.Values, _ *state.Context) (any, error) {
			return data, nil
		}))
}

// publisher returns the update transport and the hub URL advertised to
// clients. With Redis, updates go through a channel relayed to the local hub
// so that every instance delivers them.
func (a *App) publisher(ctx context.Context, client redis.UniversalClient) (subscription.Publisher, string, error) {
	cfg := a.Config.Mercure
	hubURL := cfg.HubURL

	var local subscription.Publisher
	if cfg.Enabled {
		a.Hub = subscription.NewHub(ctx, a.Logger)
		go a.Hub.Run()
		a.closers = append(a.closers, func(context.Context) error {
			a.Hub.Shutdown()
			return nil
		})
		if err := a.Metrics.WatchClients(a.Hub.ClientCount); err != nil {
			return nil, "", err
		}
		local = a.Hub
		if hubURL == "" {
			hubURL = MercurePath
		}
	}

	switch {
	case client != nil && local != nil:
		relayCtx, cancel := context.WithCancel(ctx)
		a.closers = append(a.closers, func(context.Context) error {
			cancel()
			return nil
		})
		if err := subscription.Relay(relayCtx, client, a.Config.Redis.Channel, local, a.Logger); err != nil {
			return nil, "", err
		}
		return a.Metrics.Publisher(subscription.NewRedisPublisher(client, a.Config.Redis.Channel)), hubURL, nil
	case client != nil:
		return a.Metrics.Publisher(subscription.NewRedisPublisher(client, a.Config.Redis.Channel)), hubURL, nil
	case local != nil:
		return a.Metrics.Publisher(local), hubURL, nil
	}
	return nil, hubURL, nil
}

// providerChain decorates the dispatcher, innermost first.
func (a *App) providerChain(dispatcher state.Provider, checker security.ResourceAccessChecker) state.Provider {
	var p state.Provider = dispatcher
	p = provider.NewReadProvider(p, a.IRIs).WithNestingSeparator(a.Config.GraphQL.NestingSeparator)
	p = provider.NewResolverProvider(p, a.Locator)
	p = provider.NewSplitProvider(provider.NewAccessCheckerProvider(p, checker, metadata.SecurityAfterResolver), p)
	p = provider.NewAccessCheckerProvider(p, checker, metadata.SecurityPreRead)
	p = provider.NewIsGrantedAccessCheckerProvider(p, checker)
	p = provider.NewLinkAccessCheckerProvider(p, checker)
	p = provider.NewLinkedReadProvider(p, dispatcher, a.Registry)
	p = provider.NewDenormalizeProvider(p, a.Serializer, request.NewDecoder())
	p = provider.NewAccessCheckerProvider(p, checker, metadata.SecurityPostDenormalize)
	p = provider.NewSwaggerUIProvider(p, a.Docs, a.Config.Docs.Enabled)
	return a.Metrics.Provider(p)
}

// processorChain decorates the dispatching processor, innermost first.
func (a *App) processorChain(checker security.ResourceAccessChecker, publisher subscription.Publisher, client redis.UniversalClient, hubURL string) (state.Processor, state.Processor) {
	urls := &subscription.URLGenerator{BaseURL: a.Config.Mercure.BaseURL, HubURL: hubURL}

	opts := []processor.MercureOption{processor.WithLogger(a.Logger)}
	// nil without Redis: subscriptions asking for Mercure then fail
	var subscriptions processor.SubscriptionManager
	if client != nil {
		store := subscription.NewRedisStore(client, subscription.RedisConfig{Prefix: a.Config.Redis.Prefix, TTL: a.Config.Redis.TTL})
		manager := subscription.NewManager(store, a.Serializer, a.Logger)
		opts = append(opts, processor.WithSubscriptions(manager, urls))
		subscriptions = manager
	}

	var p state.Processor = state.NewCallableProcessor(a.Locator)
	p = processor.NewMercureProcessor(p, a.IRIs, a.Serializer, publisher, opts...)
	p = processor.NewAccessCheckerProcessor(p, checker)
	p = processor.NewValidateProcessor(p, validation.NewEngine(a.Registry))
	p = a.Metrics.Processor(p)

	var graphql state.Processor = processor.NewGraphQLPayloadProcessor(p, a.Serializer, a.IRIs)
	graphql = processor.NewSubscriptionProcessor(graphql, subscriptions, urls)
	return p, graphql
}

// mount wraps the API router with the service endpoints and the outer
// middleware. The hub endpoint bypasses the request timeout.
func (a *App) mount(verifier middleware.TokenVerifier) http.Handler {
	cfg := a.Config
	mux := chi.NewRouter()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, a.Metrics.Handler())
	}
	if cfg.Docs.Enabled {
		mux.Handle(cfg.Docs.Path, a.Docs)
	}
	if a.Hub != nil {
		upgrader := subscription.DefaultUpgraderConfig()
		upgrader.AllowedOrigins = cfg.Mercure.AllowedOrigins
		mux.Handle(MercurePath, subscription.NewUpgrader(upgrader, a.Hub))
	}
	mux.Mount("/", a.Router)

	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Recovery(a.Logger),
		middleware.Logging(a.Logger, cfg.Metrics.Path),
		middleware.CORS(cfg.Server.CORS),
	)
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves the application until ctx is done, then closes the backends.
func (a *App) Run(ctx context.Context) error {
	srv, err := server.New(a.handler, a.Config.Server.Config, a.Logger)
	if err != nil {
		return err
	}
	srv.OnShutdown(a.Close)
	a.Logger.Info("serving API",
		zap.String("address", a.Config.Server.Address),
		zap.Int("resources", a.Registry.Count()),
		zap.Strings("providers", a.Locator.ProviderNames()))
	return srv.Run(ctx)
}

// Close releases the backends in reverse opening order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
