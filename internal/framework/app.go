package framework

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/panther-now/panther/kit/colorlog"
	"github.com/panther-now/panther/kit/middleware/cors"
	"github.com/panther-now/panther/kit/middleware/csrf"
	"github.com/panther-now/panther/kit/middleware/etag"
	"github.com/panther-now/panther/kit/middleware/healthcheck"
	"github.com/panther-now/panther/kit/middleware/monitor"
	"github.com/panther-now/panther/kit/middleware/secureheaders"
	"github.com/panther-now/panther/kit/middleware/throttle"
	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/securestring"
)

var (
	Log     = colorlog.New("panther")
	httpLog = colorlog.New("http")
)

/*
App owns the router of one application and everything wrapped around
it. Routes and middlewares are registered on the embedded Router during
startup; the first call to Handler (or Serve) seals it.
*/
type App struct {
	*mux.Router

	cfg       *Config
	csrf      *csrf.Protector
	monitor   *monitor.Monitor
	observers []mux.Observer

	handlerOnce sync.Once
	handler     http.Handler
	dispatcher  *mux.Dispatcher
}

// New builds an App and registers the framework's global middlewares
// according to cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Debug {
		colorlog.SetLevel(slog.LevelDebug)
	}

	a := &App{
		Router: mux.NewRouter(&mux.Options{
			TrailingSlash:   cfg.trailingSlashPolicy(),
			CoercionFailure: cfg.coercionPolicy(),
		}),
		cfg: cfg,
	}

	a.Use(secureheaders.New(&secureheaders.Options{HSTS: cfg.HSTS}))

	if cfg.Throttling.Rate > 0 {
		limiter := throttle.New(throttle.Options{Throttling: throttle.Throttling{
			Rate:     cfg.Throttling.Rate,
			Duration: cfg.Throttling.Duration.Duration,
		}})
		a.Use(limiter.Middleware())
	}

	if cfg.CSRF.Enabled {
		keys, err := securestring.DeriveKeys(csrf.KeyInfo, cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("error deriving csrf keys: %w", err)
		}
		a.csrf, err = csrf.New(csrf.Config{
			Keys:           keys,
			AllowedOrigins: cfg.CSRF.AllowedOrigins,
			TokenTTL:       cfg.CSRF.TokenTTL.Duration,
			Insecure:       cfg.Debug,
		})
		if err != nil {
			return nil, err
		}
		a.Use(a.csrf.Middleware())
	}

	a.Use(etag.Middleware)

	if cfg.Monitor.Enabled {
		a.monitor = monitor.New(monitor.Options{})
		a.observers = append(a.observers, a.monitor)
	}

	return a, nil
}

func MustNew(cfg *Config) *App {
	a, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *App) Config() *Config { return a.cfg }

// Monitor is nil unless monitoring is enabled.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// CSRF is nil unless CSRF protection is enabled.
func (a *App) CSRF() *csrf.Protector { return a.csrf }

// AddObserver must be called before Handler.
func (a *App) AddObserver(o mux.Observer) {
	if a.IsSealed() {
		panic("panther: AddObserver called after the app started serving")
	}
	a.observers = append(a.observers, o)
}

// Dispatcher is nil until Handler has been called.
func (a *App) Dispatcher() *mux.Dispatcher { return a.dispatcher }

// Handler seals the router and returns the complete request pipeline:
// request IDs, real IPs, request logging and optional compression, then
// the health check, CORS and monitor endpoints, then the dispatcher.
func (a *App) Handler() http.Handler {
	a.handlerOnce.Do(func() {
		a.dispatcher = mux.NewDispatcher(a.Router, mux.DispatcherOptions{
			Timeout:      a.cfg.RequestTimeout.Duration,
			MaxInFlight:  a.cfg.MaxInFlight,
			MaxBodyBytes: a.cfg.MaxBodyBytes,
			Debug:        a.cfg.Debug,
			Observers:    a.observers,
		})

		mws := chi.Middlewares{chimw.RequestID, chimw.RealIP, logRequests}
		if a.cfg.Compress {
			mws = append(mws, chimw.Compress(5))
		}
		if a.cfg.HealthcheckPath != "" {
			mws = append(mws, healthcheck.OK(a.cfg.HealthcheckPath))
		}
		if len(a.cfg.CORS.AllowedOrigins) > 0 {
			mws = append(mws, cors.New(cors.Config{
				AllowedOrigins:   a.cfg.CORS.AllowedOrigins,
				AllowedMethods:   a.cfg.CORS.AllowedMethods,
				AllowedHeaders:   a.cfg.CORS.AllowedHeaders,
				AllowCredentials: a.cfg.CORS.AllowCredentials,
				MaxAge:           a.cfg.CORS.MaxAge.Duration,
			}))
		}
		if a.monitor != nil {
			mws = append(mws, mount(a.cfg.Monitor.Path, a.monitor))
		}
		a.handler = mws.Handler(a.dispatcher)

		Log.Debug("Routes sealed", "count", len(a.AllRoutes()))
	})
	return a.handler
}

// mount answers requests for path with h and passes the rest on.
func mount(path string, h http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == path {
				h.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			httpLog.Info("Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).Round(time.Microsecond),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
