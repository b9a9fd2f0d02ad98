package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tradewinds/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// apiGroups fixes the mount order of the versioned route groups. Each name
// doubles as the path segment under the API prefix.
var apiGroups = []string{"cart", "orders", "payments", "reviews", "admin", "webhooks", "internal"}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (cfg *routerConfig) group(name string) *routeGroup {
	if cfg.groups == nil {
		cfg.groups = make(map[string]*routeGroup)
	}
	g, ok := cfg.groups[name]
	if !ok {
		g = &routeGroup{}
		cfg.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: health probes at the root, every API
// group mounted under the versioned prefix, and JSON error envelopes for
// unmatched routes. Groups without a registrar answer 501 so a partially
// wired deployment fails loudly instead of 404ing.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers(nil)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range apiGroups {
			group := cfg.groups[name]
			api.Route("/"+name, func(sub chi.Router) {
				if group == nil {
					mountNotImplemented(sub, name)
					return
				}
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.registrar == nil {
					mountNotImplemented(sub, name)
					return
				}
				group.registrar(sub)
			})
		}
	})

	return r
}

// WithMiddlewares appends global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCartRoutes sets the registrar for the /cart group.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("cart").registrar = reg }
}

// WithOrderRoutes sets the registrar for the /orders group.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("orders").registrar = reg }
}

// WithPaymentRoutes sets the registrar for the /payments group.
func WithPaymentRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("payments").registrar = reg }
}

// WithReviewRoutes sets the registrar for the /reviews group.
func WithReviewRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("reviews").registrar = reg }
}

// WithAdminRoutes sets the registrar for the /admin group.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("admin").registrar = reg }
}

// WithWebhookRoutes sets the registrar for the /webhooks group.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("webhooks").registrar = reg }
}

// WithWebhookMiddlewares adds middleware scoped to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("webhooks")
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithInternalRoutes sets the registrar for the /internal group.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("internal").registrar = reg }
}

// WithInternalMiddlewares adds middleware scoped to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("internal")
		g.middlewares = append(g.middlewares, mw...)
	}
}

func mountNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
