package matcher

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		pattern       string
		wantKey       string
		wantNames     []string
		wantTrailing  bool
		wantErrSubstr string
	}{
		{name: "root", pattern: "/", wantKey: "/", wantNames: []string{}},
		{name: "static", pattern: "/info", wantKey: "/info", wantNames: []string{}},
		{name: "static trailing slash", pattern: "/info/", wantKey: "/info/", wantNames: []string{}, wantTrailing: true},
		{name: "string param", pattern: "/users/{id}", wantKey: "/users/{:string}", wantNames: []string{"id"}},
		{name: "typed params", pattern: "/items/{id:int}/{s:slug}", wantKey: "/items/{:int}/{:slug}", wantNames: []string{"id", "s"}},
		{name: "path param drops trailing slash", pattern: "/files/{rest:path}/", wantKey: "/files/{:path}", wantNames: []string{"rest"}},
		{name: "collapses repeated slashes", pattern: "//a///b", wantKey: "/a/b", wantNames: []string{}},
		{name: "no leading slash", pattern: "users", wantErrSubstr: "must start with '/'"},
		{name: "empty", pattern: "", wantErrSubstr: "must start with '/'"},
		{name: "duplicate names", pattern: "/{id}/x/{id:int}", wantErrSubstr: "declared more than once"},
		{name: "path not last", pattern: "/{rest:path}/tail", wantErrSubstr: "must be the last segment"},
		{name: "unknown type", pattern: "/{id:uuid}", wantErrSubstr: "unknown parameter type"},
		{name: "partial segment", pattern: "/file-{id}", wantErrSubstr: "entire segment"},
		{name: "unbalanced", pattern: "/{id", wantErrSubstr: "entire segment"},
		{name: "empty name", pattern: "/{:int}", wantErrSubstr: "name is empty"},
		{name: "bad name", pattern: "/{1d}", wantErrSubstr: "may only contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.pattern)
			if tt.wantErrSubstr != "" {
				var invalid *InvalidPatternError
				if !errors.As(err, &invalid) {
					t.Fatalf("expected *InvalidPatternError, got %v", err)
				}
				if !containsStr(err.Error(), tt.wantErrSubstr) {
					t.Errorf("expected error to contain %q, got %q", tt.wantErrSubstr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.Key(false); got != tt.wantKey {
				t.Errorf("Key() = %q, want %q", got, tt.wantKey)
			}
			if got := p.ParamNames(); !reflect.DeepEqual(got, tt.wantNames) {
				t.Errorf("ParamNames() = %v, want %v", got, tt.wantNames)
			}
			if got := p.HasTrailingSlash(); got != tt.wantTrailing {
				t.Errorf("HasTrailingSlash() = %v, want %v", got, tt.wantTrailing)
			}
		})
	}
}

func TestRegisterConflicts(t *testing.T) {
	m := New(nil)
	mustRegister(t, m, "/users/{id}")

	if err := m.Register(MustParse("/users/{uid}")); !errors.Is(err, ErrDuplicatePattern) {
		t.Errorf("expected ErrDuplicatePattern for renamed param, got %v", err)
	}
	if err := m.Register(MustParse("/users/{id:int}")); err != nil {
		t.Errorf("differently typed param should not conflict: %v", err)
	}
	if err := m.Register(MustParse("/users/{id}/")); err != nil {
		t.Errorf("trailing slash variant should not conflict under strict matching: %v", err)
	}

	ignoring := New(&Options{IgnoreTrailingSlash: true})
	mustRegister(t, ignoring, "/info/")
	if err := ignoring.Register(MustParse("/info")); !errors.Is(err, ErrDuplicatePattern) {
		t.Errorf("expected conflict when trailing slashes are ignored, got %v", err)
	}
}

func TestFindBestMatch(t *testing.T) {
	m := New(nil)
	for _, p := range []string{
		"/",
		"/info/",
		"/users/{id}",
		"/users/me",
		"/users/{id}/posts",
		"/items/{id:int}",
		"/items/{name:slug}",
		"/items/{any}",
		"/static/{rest:path}",
		"/static/special",
		"/a/{x}/c",
		"/a/b/{y:int}",
	} {
		mustRegister(t, m, p)
	}

	tests := []struct {
		path        string
		wantPattern string
		wantParams  Params
	}{
		{"/", "/", Params{}},
		{"", "/", Params{}},
		{"/info/", "/info/", Params{}},
		{"/users/me", "/users/me", Params{}},
		{"/users/42", "/users/{id}", Params{"id": "42"}},
		{"/users/42/posts", "/users/{id}/posts", Params{"id": "42"}},
		{"/users/me/posts", "/users/{id}/posts", Params{"id": "me"}},
		{"/items/42", "/items/{id:int}", Params{"id": 42}},
		{"/items/-7", "/items/{id:int}", Params{"id": -7}},
		{"/items/blue-shirt", "/items/{name:slug}", Params{"name": "blue-shirt"}},
		{"/items/a%20b", "/items/{any}", Params{"any": "a b"}},
		{"/static/special", "/static/special", Params{}},
		{"/static/css/site.css", "/static/{rest:path}", Params{"rest": "css/site.css"}},
		{"/static/dir/", "/static/{rest:path}", Params{"rest": "dir/"}},
		{"/a/b/c", "/a/{x}/c", Params{"x": "b"}},
		{"/a/b/3", "/a/b/{y:int}", Params{"y": 3}},
		{"/files/a%2Fb", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			match, ok := m.FindBestMatch(tt.path)
			if tt.wantPattern == "" {
				if ok {
					t.Fatalf("expected no match, got %q", match.Pattern)
				}
				return
			}
			if !ok {
				t.Fatalf("expected match for %q", tt.path)
			}
			if match.Pattern.String() != tt.wantPattern {
				t.Errorf("pattern = %q, want %q", match.Pattern, tt.wantPattern)
			}
			if !reflect.DeepEqual(match.Params, tt.wantParams) {
				t.Errorf("params = %#v, want %#v", match.Params, tt.wantParams)
			}
		})
	}
}

func TestTrailingSlashMatching(t *testing.T) {
	strict := New(nil)
	mustRegister(t, strict, "/info/")
	if _, ok := strict.FindBestMatch("/info"); ok {
		t.Error("strict matcher should not match /info against /info/")
	}
	if _, ok := strict.FindBestMatch("/info/"); !ok {
		t.Error("strict matcher should match /info/")
	}

	ignoring := New(&Options{IgnoreTrailingSlash: true})
	mustRegister(t, ignoring, "/info/")
	for _, path := range []string{"/info", "/info/"} {
		if _, ok := ignoring.FindBestMatch(path); !ok {
			t.Errorf("ignoring matcher should match %q", path)
		}
	}
}

func TestIntOverflowIsNotAnInt(t *testing.T) {
	m := New(nil)
	mustRegister(t, m, "/items/{id:int}")
	if _, ok := m.FindBestMatch("/items/99999999999999999999999"); ok {
		t.Error("overflowing integer should not satisfy an int param")
	}
	if _, ok := m.FindBestMatch("/items/+5"); ok {
		t.Error("leading '+' should not satisfy an int param")
	}
}

func TestFindCoercionFailure(t *testing.T) {
	m := New(nil)
	mustRegister(t, m, "/items/{id:int}")
	mustRegister(t, m, "/tags/{t:slug}/x")

	if _, ok := m.FindBestMatch("/items/abc"); ok {
		t.Fatal("expected /items/abc not to match")
	}

	miss := m.FindCoercionFailure("/items/abc")
	if miss == nil {
		t.Fatal("expected a coercion failure")
	}
	if miss.Param != "id" || miss.Type != ParamInt || miss.Value != "abc" || miss.Pattern != "/items/{id:int}" {
		t.Errorf("unexpected coercion failure: %+v", miss)
	}

	miss = m.FindCoercionFailure("/tags/not%20a%20slug/x")
	if miss == nil || miss.Param != "t" || miss.Type != ParamSlug {
		t.Errorf("unexpected coercion failure: %+v", miss)
	}

	if miss := m.FindCoercionFailure("/nothing/here"); miss != nil {
		t.Errorf("expected nil for a shape that matches nothing, got %+v", miss)
	}
}

func TestRegistrationOrderDoesNotMatter(t *testing.T) {
	patterns := []string{
		"/users/{id}", "/users/me", "/users/{id:int}", "/users/{s:slug}",
		"/{rest:path}", "/users/{id}/posts", "/users/me/{tab}", "/users/{id}/{tab}",
		"/x/{a}/{b}", "/x/y/{b:int}", "/x/{a:int}/z",
	}
	paths := []string{
		"/users/me", "/users/12", "/users/ab-c", "/users/a%20c", "/users/me/posts",
		"/users/me/likes", "/users/7/likes", "/x/y/z", "/x/y/1", "/x/1/z", "/x/q/z", "/other/deep/path",
	}

	resolve := func(order []string) map[string]string {
		m := New(nil)
		for _, p := range order {
			mustRegister(t, m, p)
		}
		out := make(map[string]string, len(paths))
		for _, path := range paths {
			if match, ok := m.FindBestMatch(path); ok {
				out[path] = match.Pattern.String()
			}
		}
		return out
	}

	want := resolve(patterns)
	rng := rand.New(rand.NewSource(7))
	for i := range 25 {
		shuffled := append([]string(nil), patterns...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := resolve(shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("shuffle %d: results differ\n got: %v\nwant: %v", i, got, want)
		}
	}

	if want["/users/me"] != "/users/me" {
		t.Errorf("literal should win, got %q", want["/users/me"])
	}
	if want["/users/12"] != "/users/{id:int}" {
		t.Errorf("int param should beat string param, got %q", want["/users/12"])
	}
	if want["/x/y/z"] != "/x/{a}/{b}" {
		t.Errorf("backtracking should fall back to /x/{a}/{b}, got %q", want["/x/y/z"])
	}
	if want["/other/deep/path"] != "/{rest:path}" {
		t.Errorf("path param should catch the rest, got %q", want["/other/deep/path"])
	}
}

func TestConcurrentMatching(t *testing.T) {
	m := New(nil)
	mustRegister(t, m, "/users/{id:int}")
	mustRegister(t, m, "/users/me")

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				match, ok := m.FindBestMatch("/users/me")
				if !ok || match.Pattern.String() != "/users/me" {
					t.Errorf("goroutine %d: unexpected match %v", i, match)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestJoin(t *testing.T) {
	tests := []struct{ prefix, child, want string }{
		{"", "/", "/"},
		{"/api", "/", "/api/"},
		{"/api/", "/users", "/api/users"},
		{"/api", "users", "/api/users"},
		{"/api", "", "/api/"},
	}
	for _, tt := range tests {
		if got := Join(tt.prefix, tt.child); got != tt.want {
			t.Errorf("Join(%q, %q) = %q, want %q", tt.prefix, tt.child, got, tt.want)
		}
	}
}

func TestToggleTrailingSlash(t *testing.T) {
	tests := map[string]string{"/": "/", "/info": "/info/", "/info/": "/info", "/a//": "/a"}
	for in, want := range tests {
		if got := ToggleTrailingSlash(in); got != want {
			t.Errorf("ToggleTrailingSlash(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":                "/",
		"/":               "/",
		"//":              "/",
		"/info":           "/info",
		"//info/":         "/info/",
		"//evil.example/": "/evil.example/",
		"/a//b///":        "/a/b/",
		"///a":            "/a",
	}
	for in, want := range tests {
		if got := CleanPath(in); got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func mustRegister(t *testing.T, m *Matcher, pattern string) {
	t.Helper()
	if err := m.Register(MustParse(pattern)); err != nil {
		t.Fatalf("register %q: %v", pattern, err)
	}
}

func containsStr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
