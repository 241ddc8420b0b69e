package etag

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/response"
)

func newDispatcher() *mux.Dispatcher {
	rt := mux.NewRouter(nil)
	rt.Use(New(&Options{MaxBytes: 64}))
	rt.GET("/", func(c *mux.Ctx) (*response.Response, error) {
		return response.Text(http.StatusOK, "hello").WithHeader("Cache-Control", "max-age=60"), nil
	})
	rt.GET("/big", func(c *mux.Ctx) (*response.Response, error) {
		return response.Bytes(http.StatusOK, "", make([]byte, 65)), nil
	})
	rt.GET("/created", func(c *mux.Ctx) (*response.Response, error) {
		return response.Text(http.StatusCreated, "new"), nil
	})
	rt.POST("/", func(c *mux.Ctx) (*response.Response, error) {
		return response.Text(http.StatusOK, "hello"), nil
	})
	return mux.NewDispatcher(rt, mux.DispatcherOptions{})
}

func request(h http.Handler, method, path, ifNoneMatch string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestETag(t *testing.T) {
	d := newDispatcher()
	want := Of([]byte("hello"))

	t.Run("TagsSuccessfulGet", func(t *testing.T) {
		w := request(d, http.MethodGet, "/", "")
		if got := w.Header().Get("ETag"); got != want {
			t.Errorf("ETag = %q, want %q", got, want)
		}
		if w.Body.String() != "hello" {
			t.Errorf("body = %q", w.Body.String())
		}
	})

	t.Run("NotModified", func(t *testing.T) {
		for _, inm := range []string{want, `"other", ` + want, "W/" + want, "*"} {
			w := request(d, http.MethodGet, "/", inm)
			if w.Code != http.StatusNotModified {
				t.Errorf("If-None-Match %s: status = %d", inm, w.Code)
			}
			if w.Body.Len() != 0 {
				t.Errorf("If-None-Match %s: 304 must have no body", inm)
			}
			if w.Header().Get("Cache-Control") != "max-age=60" {
				t.Errorf("If-None-Match %s: Cache-Control not kept", inm)
			}
		}
	})

	t.Run("StaleTag", func(t *testing.T) {
		if w := request(d, http.MethodGet, "/", `"stale"`); w.Code != http.StatusOK {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("Skips", func(t *testing.T) {
		for _, tt := range []struct{ method, path string }{
			{http.MethodGet, "/big"},
			{http.MethodGet, "/created"},
			{http.MethodPost, "/"},
		} {
			if w := request(d, tt.method, tt.path, ""); w.Header().Get("ETag") != "" {
				t.Errorf("%s %s should not be tagged", tt.method, tt.path)
			}
		}
	})

	t.Run("HeadIsTagged", func(t *testing.T) {
		w := request(d, http.MethodHead, "/", "")
		if w.Header().Get("ETag") != want || w.Body.Len() != 0 {
			t.Errorf("HEAD: ETag %q body %q", w.Header().Get("ETag"), w.Body.String())
		}
	})
}

func TestOfIsStable(t *testing.T) {
	if Of([]byte("a")) != Of([]byte("a")) {
		t.Error("same body must give the same tag")
	}
	if Of([]byte("a")) == Of([]byte("b")) {
		t.Error("different bodies should give different tags")
	}
	if tag := Of(nil); len(tag) != 34 {
		t.Errorf("tag %q should be 32 hex chars in quotes", tag)
	}
}
