package mux

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/panther-now/panther/kit/response"
)

func serve(h http.Handler, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%q)", err, w.Body.String())
	}
	return body
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newTestApp() *Dispatcher {
	rt := NewRouter(nil)
	rt.GET("/", okHandler("Hello from Panther"))
	rt.GET("/info/", func(c *Ctx) (*response.Response, error) {
		return response.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return NewDispatcher(rt, DispatcherOptions{})
}

func TestDispatcherBasics(t *testing.T) {
	d := newTestApp()

	t.Run("Root", func(t *testing.T) {
		w := serve(d, http.MethodGet, "/", nil)
		if w.Code != http.StatusOK || w.Body.String() != "Hello from Panther" {
			t.Errorf("got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("Info", func(t *testing.T) {
		w := serve(d, http.MethodGet, "/info/", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if w.Body.String() != `{"status":"ok"}` {
			t.Errorf("body = %q", w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		w := serve(d, http.MethodGet, "/unknown", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d", w.Code)
		}
		body := decodeErrorBody(t, w)
		if body.Kind != "not_found" || body.Detail != "Not Found" {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		w := serve(d, http.MethodPost, "/", nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d", w.Code)
		}
		if allow := w.Header().Get("Allow"); allow != "GET" {
			t.Errorf("Allow = %q", allow)
		}
		if body := decodeErrorBody(t, w); body.Kind != "method_not_allowed" {
			t.Errorf("kind = %q", body.Kind)
		}
	})

	t.Run("RedirectKeepsQuery", func(t *testing.T) {
		w := serve(d, http.MethodGet, "/info?x=1", nil)
		if w.Code != http.StatusMovedPermanently {
			t.Fatalf("status = %d", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "/info/?x=1" {
			t.Errorf("Location = %q", loc)
		}
	})

	t.Run("HeadFallsBackToGetWithoutBody", func(t *testing.T) {
		w := serve(d, http.MethodHead, "/info/", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("HEAD body should be empty, got %q", w.Body.String())
		}
		if cl := w.Header().Get("Content-Length"); cl != "15" {
			t.Errorf("Content-Length = %q, want length of GET body", cl)
		}
	})
}

func TestMiddlewareOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(s string) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	}
	tracing := func(name string) Middleware {
		return MiddlewareFromFunc(func(c *Ctx, next Handler) (*response.Response, error) {
			record(name + " in")
			res, err := next.Handle(c)
			record(name + " out")
			return res, err
		})
	}

	rt := NewRouter(nil)
	rt.Use(tracing("global1"))
	rt.Use(tracing("global2"))
	api := rt.Group("/api", tracing("group"))
	api.GET("/x", func(c *Ctx) (*response.Response, error) {
		record("handler")
		return response.OK(), nil
	}, tracing("route"))
	// Registered after the route; still applies.
	api.Use(tracing("late group"))

	d := NewDispatcher(rt, DispatcherOptions{})
	if w := serve(d, http.MethodGet, "/api/x", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	want := []string{
		"global1 in", "global2 in", "group in", "late group in", "route in",
		"handler",
		"route out", "late group out", "group out", "global2 out", "global1 out",
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v\nwant    %v", calls, want)
	}
}

func TestMiddlewareBehavior(t *testing.T) {
	t.Run("ShortCircuitWithAPIError", func(t *testing.T) {
		rt := NewRouter(nil)
		handlerRan := make(chan struct{}, 1)
		rt.Use(MiddlewareFromFunc(func(c *Ctx, next Handler) (*response.Response, error) {
			if c.Header("Authorization") == "" {
				return nil, NewAPIError(http.StatusForbidden, "nope")
			}
			return next.Handle(c)
		}))
		rt.GET("/secret", func(c *Ctx) (*response.Response, error) {
			handlerRan <- struct{}{}
			return response.OK(), nil
		})
		d := NewDispatcher(rt, DispatcherOptions{})

		w := serve(d, http.MethodGet, "/secret", nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d", w.Code)
		}
		body := decodeErrorBody(t, w)
		if body.Kind != "api_error" || body.Detail != "nope" {
			t.Errorf("body = %+v", body)
		}
		select {
		case <-handlerRan:
			t.Error("handler should not run")
		default:
		}

		if w := serve(d, http.MethodGet, "/secret", nil, "Authorization", "x"); w.Code != http.StatusOK {
			t.Errorf("authorized status = %d", w.Code)
		}
	})

	t.Run("ConditionalMiddleware", func(t *testing.T) {
		rt := NewRouter(nil)
		tag := func(next Handler) Handler {
			return HandlerFunc(func(c *Ctx) (*response.Response, error) {
				res, err := next.Handle(c)
				if err != nil {
					return nil, err
				}
				return res.WithHeader("X-Tagged", "yes"), nil
			})
		}
		rt.Use(tag, &MiddlewareOptions{If: func(c *Ctx) bool { return c.QueryValue("tag") == "1" }})
		rt.GET("/", okHandler("x"))
		d := NewDispatcher(rt, DispatcherOptions{})

		if w := serve(d, http.MethodGet, "/?tag=1", nil); w.Header().Get("X-Tagged") != "yes" {
			t.Error("middleware should run when condition holds")
		}
		if w := serve(d, http.MethodGet, "/", nil); w.Header().Get("X-Tagged") != "" {
			t.Error("middleware should be skipped when condition fails")
		}
	})

	t.Run("HTTPMiddlewareAdapter", func(t *testing.T) {
		rt := NewRouter(nil)
		rt.Use(FromHTTPMiddleware(middleware.NoCache))
		rt.GET("/", okHandler("cached?"))
		rt.GET("/fail", func(c *Ctx) (*response.Response, error) {
			return nil, NewAPIError(http.StatusTeapot, nil)
		})
		d := NewDispatcher(rt, DispatcherOptions{})

		w := serve(d, http.MethodGet, "/", nil)
		if w.Code != http.StatusOK || w.Body.String() != "cached?" {
			t.Fatalf("got %d %q", w.Code, w.Body.String())
		}
		if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
			t.Errorf("Cache-Control = %q", cc)
		}

		w = serve(d, http.MethodGet, "/fail", nil)
		if w.Code != http.StatusTeapot {
			t.Fatalf("status = %d", w.Code)
		}
		if body := decodeErrorBody(t, w); body.Detail != "I'm a teapot" {
			t.Errorf("detail = %v", body.Detail)
		}
	})

	t.Run("HTTPHandlerSeesParams", func(t *testing.T) {
		rt := NewRouter(nil)
		rt.Handle(http.MethodGet, "/items/{id:int}", FromHTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := GetParams(r).Int("id")
			w.WriteHeader(http.StatusAccepted)
			io.WriteString(w, strings.Repeat("x", id))
		})))
		d := NewDispatcher(rt, DispatcherOptions{})

		w := serve(d, http.MethodGet, "/items/3", nil)
		if w.Code != http.StatusAccepted || w.Body.String() != "xxx" {
			t.Errorf("got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("CustomNotFoundHandlerRunsInsideGlobals", func(t *testing.T) {
		rt := NewRouter(nil)
		rt.Use(func(next Handler) Handler {
			return HandlerFunc(func(c *Ctx) (*response.Response, error) {
				res, err := next.Handle(c)
				if err != nil {
					return nil, err
				}
				return res.WithHeader("X-Global", "1"), nil
			})
		})
		rt.SetNotFoundHandler(HandlerFunc(func(c *Ctx) (*response.Response, error) {
			if c.Route() != nil {
				t.Error("not found handler should have no route")
			}
			return response.HTML(http.StatusNotFound, "<h1>gone</h1>"), nil
		}))
		d := NewDispatcher(rt, DispatcherOptions{})

		w := serve(d, http.MethodGet, "/nope", nil)
		if w.Code != http.StatusNotFound || w.Body.String() != "<h1>gone</h1>" {
			t.Errorf("got %d %q", w.Code, w.Body.String())
		}
		if w.Header().Get("X-Global") != "1" {
			t.Error("global middleware should wrap the not found handler")
		}
	})
}

func TestHandlerFailures(t *testing.T) {
	newRouter := func() *Router {
		rt := NewRouter(nil)
		rt.GET("/", okHandler("fine"))
		rt.GET("/panic", func(c *Ctx) (*response.Response, error) {
			panic("boom")
		})
		rt.GET("/error", func(c *Ctx) (*response.Response, error) {
			return nil, errors.New("database password is hunter2")
		})
		rt.GET("/nil", func(c *Ctx) (*response.Response, error) {
			return nil, nil
		})
		return rt
	}

	t.Run("PanicIsIsolated", func(t *testing.T) {
		d := NewDispatcher(newRouter(), DispatcherOptions{})

		var wg sync.WaitGroup
		codes := make([]int, 20)
		for i := range codes {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				path := "/"
				if i%2 == 0 {
					path = "/panic"
				}
				codes[i] = serve(d, http.MethodGet, path, nil).Code
			}(i)
		}
		wg.Wait()

		for i, code := range codes {
			want := http.StatusOK
			if i%2 == 0 {
				want = http.StatusInternalServerError
			}
			if code != want {
				t.Errorf("request %d: status = %d, want %d", i, code, want)
			}
		}
	})

	t.Run("ProductionHidesDetail", func(t *testing.T) {
		d := NewDispatcher(newRouter(), DispatcherOptions{})
		for _, path := range []string{"/panic", "/error", "/nil"} {
			w := serve(d, http.MethodGet, path, nil)
			if w.Code != http.StatusInternalServerError {
				t.Errorf("%s: status = %d", path, w.Code)
			}
			body := decodeErrorBody(t, w)
			if body.Kind != "internal_error" || body.Detail != "Internal Server Error" {
				t.Errorf("%s: body = %+v", path, body)
			}
		}
	})

	t.Run("DebugShowsDetail", func(t *testing.T) {
		d := NewDispatcher(newRouter(), DispatcherOptions{Debug: true})

		body := decodeErrorBody(t, serve(d, http.MethodGet, "/panic", nil))
		if detail, _ := body.Detail.(string); !strings.Contains(detail, "boom") {
			t.Errorf("detail = %v", body.Detail)
		}
		body = decodeErrorBody(t, serve(d, http.MethodGet, "/error", nil))
		if detail, _ := body.Detail.(string); !strings.Contains(detail, "hunter2") {
			t.Errorf("detail = %v", body.Detail)
		}
	})

	t.Run("CoercionFailureAsBadRequest", func(t *testing.T) {
		rt := NewRouter(&Options{CoercionFailure: CoercionBadRequest})
		rt.GET("/items/{id:int}", okHandler("item"))
		d := NewDispatcher(rt, DispatcherOptions{})

		w := serve(d, http.MethodGet, "/items/abc", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", w.Code)
		}
		body := decodeErrorBody(t, w)
		if detail, _ := body.Detail.(string); body.Kind != "invalid_parameter" || !strings.Contains(detail, `"id"`) {
			t.Errorf("body = %+v", body)
		}
	})
}

func TestTimeouts(t *testing.T) {
	t.Run("DispatcherTimeout", func(t *testing.T) {
		cleaned := make(chan struct{})
		rt := NewRouter(nil)
		rt.GET("/slow", func(c *Ctx) (*response.Response, error) {
			c.OnCleanup(func() { close(cleaned) })
			<-c.Context().Done()
			time.Sleep(10 * time.Millisecond)
			return response.OK(), nil
		})
		d := NewDispatcher(rt, DispatcherOptions{Timeout: 20 * time.Millisecond})

		w := serve(d, http.MethodGet, "/slow", nil)
		if w.Code != http.StatusGatewayTimeout {
			t.Fatalf("status = %d", w.Code)
		}
		if body := decodeErrorBody(t, w); body.Kind != "timeout" {
			t.Errorf("kind = %q", body.Kind)
		}
		waitFor(t, cleaned, "cleanup after timed out handler")
	})

	t.Run("RouteTimeout", func(t *testing.T) {
		rt := NewRouter(nil)
		rt.GET("/slow", func(c *Ctx) (*response.Response, error) {
			select {
			case <-c.Context().Done():
				return nil, c.Context().Err()
			case <-time.After(time.Second):
				return response.OK(), nil
			}
		}, Timeout(10*time.Millisecond))
		rt.GET("/fast", okHandler("fast"), Timeout(time.Second))
		d := NewDispatcher(rt, DispatcherOptions{})

		if w := serve(d, http.MethodGet, "/slow", nil); w.Code != http.StatusGatewayTimeout {
			t.Errorf("slow: status = %d", w.Code)
		}
		if w := serve(d, http.MethodGet, "/fast", nil); w.Code != http.StatusOK {
			t.Errorf("fast: status = %d", w.Code)
		}
	})

	t.Run("ClientGone", func(t *testing.T) {
		rt := NewRouter(nil)
		rt.GET("/", func(c *Ctx) (*response.Response, error) {
			<-c.Context().Done()
			return response.OK(), nil
		})
		var got *Outcome
		d := NewDispatcher(rt, DispatcherOptions{
			Observers: []Observer{ObserverFunc(func(o *Outcome) { got = o })},
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		res := d.Handle(req)
		if res.Status != StatusClientClosedRequest {
			t.Errorf("status = %d", res.Status)
		}
		var gone *ClientGoneError
		if !errors.As(got.Err, &gone) {
			t.Errorf("outcome error = %v", got.Err)
		}
	})

	t.Run("MaxInFlight", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		rt := NewRouter(nil)
		rt.GET("/block", func(c *Ctx) (*response.Response, error) {
			close(started)
			<-release
			return response.OK(), nil
		})
		rt.GET("/", okHandler("x"))
		d := NewDispatcher(rt, DispatcherOptions{MaxInFlight: 1, Timeout: 50 * time.Millisecond})

		done := make(chan struct{})
		go func() {
			defer close(done)
			serve(d, http.MethodGet, "/block", nil)
		}()
		waitFor(t, started, "blocking handler")

		w := serve(d, http.MethodGet, "/", nil)
		close(release)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", w.Code)
		}
		if ra := w.Header().Get("Retry-After"); ra != "1" {
			t.Errorf("Retry-After = %q", ra)
		}
		waitFor(t, done, "first request")
	})
}

func TestObservers(t *testing.T) {
	var mu sync.Mutex
	var outcomes []*Outcome
	obs := ObserverFunc(func(o *Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	rt := NewRouter(nil)
	rt.GET("/users/{id:int}", okHandler("user"))
	rt.GET("/fail", func(c *Ctx) (*response.Response, error) {
		return nil, NewAPIError(http.StatusConflict, "taken")
	})
	d := NewDispatcher(rt, DispatcherOptions{Observers: []Observer{obs}})

	serve(d, http.MethodGet, "/users/9", nil)
	serve(d, http.MethodGet, "/missing", nil)
	serve(d, http.MethodPost, "/fail", nil)
	serve(d, http.MethodGet, "/fail", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 4 {
		t.Fatalf("got %d outcomes", len(outcomes))
	}

	tests := []struct {
		pattern string
		status  int
		trace   string
	}{
		{"/users/{id:int}", 200, "Received → Resolving → Resolved → Dispatching → HandlerSuccess → Responding → Done"},
		{"", 404, "Received → Resolving → NotFound → Responding → Done"},
		{"", 405, "Received → Resolving → MethodNotAllowed → Responding → Done"},
		{"/fail", 409, "Received → Resolving → Resolved → Dispatching → HandlerFailure → Responding → Done"},
	}
	for i, tt := range tests {
		o := outcomes[i]
		if o.Pattern != tt.pattern || o.Status != tt.status || o.Trace() != tt.trace {
			t.Errorf("outcome %d: pattern=%q status=%d trace=%q", i, o.Pattern, o.Status, o.Trace())
		}
		if o.Start.IsZero() {
			t.Errorf("outcome %d: timing not recorded", i)
		}
	}
	if outcomes[0].Err != nil || outcomes[3].Err == nil {
		t.Error("errors not recorded on outcomes")
	}
}

func TestRedirectStaysOnOrigin(t *testing.T) {
	rt := NewRouter(nil)
	rt.GET("/{page}", okHandler("page"))
	rt.GET("/info", okHandler("info"))
	d := NewDispatcher(rt, DispatcherOptions{})

	tests := []struct {
		target string
		want   string
	}{
		{"//evil.example/", "/evil.example"},
		{"//info/", "/info"},
		{"///evil.example/", "/evil.example"},
		{"//evil.example/?next=1", "/evil.example?next=1"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := serve(d, http.MethodGet, tt.target, nil)
			if w.Code != http.StatusMovedPermanently {
				t.Fatalf("status = %d", w.Code)
			}
			loc := w.Header().Get("Location")
			if loc != tt.want {
				t.Errorf("Location = %q, want %q", loc, tt.want)
			}
			if strings.HasPrefix(loc, "//") {
				t.Errorf("Location %q leaves the origin", loc)
			}
		})
	}
}

func TestObserverPanicIsContained(t *testing.T) {
	var seen int
	rt := NewRouter(nil)
	rt.GET("/", okHandler("fine"))
	d := NewDispatcher(rt, DispatcherOptions{Observers: []Observer{
		ObserverFunc(func(*Outcome) { panic("observer broke") }),
		ObserverFunc(func(*Outcome) { seen++ }),
	}})

	w := serve(d, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK || w.Body.String() != "fine" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
	if seen != 1 {
		t.Errorf("later observer ran %d times, want 1", seen)
	}
}
