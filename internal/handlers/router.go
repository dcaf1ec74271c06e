package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/printhaus/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Middleware wraps an http.Handler.
type Middleware = func(http.Handler) http.Handler

// Group names a mounted route group.
type Group string

const (
	GroupPricing  Group = "pricing"
	GroupCheckout Group = "checkout"
	GroupAdmin    Group = "admin"
	GroupWebhooks Group = "webhooks"
	GroupInternal Group = "internal"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// groupMounts lists the groups in mount order. Unversioned groups hang off the root.
var groupMounts = []struct {
	group     Group
	versioned bool
}{
	{GroupPricing, true},
	{GroupCheckout, true},
	{GroupAdmin, true},
	{GroupWebhooks, false},
	{GroupInternal, false},
}

type routeGroup struct {
	routes      RouteRegistrar
	middlewares []Middleware
}

type routerConfig struct {
	middlewares []Middleware
	health      *HealthHandlers
	groups      map[Group]*routeGroup
}

func (c *routerConfig) group(g Group) *routeGroup {
	rg, ok := c.groups[g]
	if !ok {
		rg = &routeGroup{}
		c.groups[g] = rg
	}
	return rg
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: /healthz and /readyz, the versioned API groups and the
// root-level webhook and internal groups. A group without routes answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		middlewares: []Middleware{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		groups:      map[Group]*routeGroup{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.middlewares)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	api := chi.NewRouter()
	for _, m := range groupMounts {
		parent := chi.Router(r)
		if m.versioned {
			parent = api
		}
		rg := cfg.group(m.group)
		name := m.group
		parent.Route("/"+string(name), func(sub chi.Router) {
			use(sub, rg.middlewares)
			if rg.routes == nil {
				notImplemented(sub, name)
				return
			}
			rg.routes(sub)
		})
	}
	r.Mount(apiPrefix, api)
	return r
}

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithGroup registers the routes of g and the middleware applied in front of them.
// Repeated calls for the same group replace the routes and append the middleware.
func WithGroup(g Group, routes RouteRegistrar, mw ...Middleware) Option {
	return func(cfg *routerConfig) {
		rg := cfg.group(g)
		if routes != nil {
			rg.routes = routes
		}
		rg.middlewares = append(rg.middlewares, mw...)
	}
}

func use(r chi.Router, mws []Middleware) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func notImplemented(r chi.Router, g Group) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", g), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
