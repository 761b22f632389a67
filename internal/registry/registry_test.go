package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

// fakeIndex is a minimal index server. handler receives every request;
// requests are counted.
type fakeIndex struct {
	*httptest.Server
	requests atomic.Int32
}

func newFakeIndex(t *testing.T, handler http.HandlerFunc) *fakeIndex {
	t.Helper()
	f := &fakeIndex{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestClient(t *testing.T, url string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{URL: url, Index: "registry"}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresURLAndIndex(t *testing.T) {
	if _, err := New(Config{Index: "registry"}); err == nil {
		t.Error("expected error without url")
	}
	if _, err := New(Config{URL: "http://localhost:9200"}); err == nil {
		t.Error("expected error without index")
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"root cause", `{"error":{"root_cause":[{"reason":"no such index [x]"}],"reason":"outer"},"status":404}`, "no such index [x]"},
		{"reason only", `{"error":{"reason":"mapper_parsing_exception"}}`, "mapper_parsing_exception"},
		{"error string", `{"error":"Incorrect HTTP method"}`, "Incorrect HTTP method"},
		{"last line", "HTTP/1.1 400 Bad Request\n{\"error\":{\"reason\":\"bad bulk\"}}\n", "bad bulk"},
		{"not json", "gateway timeout", "gateway timeout"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reason([]byte(tt.body)); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseErrorNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusMethodNotAllowed} {
		err := error(&ResponseError{Status: status})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("status %d should match ErrNotFound", status)
		}
	}
	if errors.Is(&ResponseError{Status: 500}, ErrNotFound) {
		t.Error("status 500 must not match ErrNotFound")
	}
}

func TestLoadEmptyIsNoop(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	l := NewLoader(newTestClient(t, srv.URL), nil)

	n, err := l.Load(context.Background(), "registry", nil)
	if err != nil || n != 0 {
		t.Fatalf("Load(nil) = %d, %v", n, err)
	}
	if srv.requests.Load() != 0 {
		t.Errorf("expected no requests, got %d", srv.requests.Load())
	}
}

func TestLoadLinesOddFailsFast(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	l := NewLoader(newTestClient(t, srv.URL), nil)

	lines := [][]byte{[]byte(`{"index":{"_id":"a"}}`), []byte(`{"x":1}`), []byte(`{"index":{"_id":"b"}}`)}
	_, err := l.LoadLines(context.Background(), "registry", lines)
	if !errors.Is(err, ErrOddPairs) {
		t.Fatalf("expected ErrOddPairs, got %v", err)
	}
	if srv.requests.Load() != 0 {
		t.Errorf("expected no requests, got %d", srv.requests.Load())
	}
}

func TestLoadWireFormat(t *testing.T) {
	var body, contentType, path string
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body, contentType, path = string(data), r.Header.Get("Content-Type"), r.URL.Path
		_, _ = io.WriteString(w, `{"errors":false,"items":[{"index":{"_id":"a","status":201}},{"index":{"_id":"b","status":201}}]}`)
	})
	l := NewLoader(newTestClient(t, srv.URL), nil)

	p1, _ := IndexPair("a", map[string]string{"lid": "a"})
	p2, _ := IndexPair("b", map[string]string{"lid": "b"})
	n, err := l.Load(context.Background(), "registry", []Pair{p1, p2})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d, want 2", n)
	}

	want := `{"index":{"_id":"a"}}` + "\n" + `{"lid":"a"}` + "\n" + `{"index":{"_id":"b"}}` + "\n" + `{"lid":"b"}` + "\n"
	if body != want {
		t.Errorf("body:\n%s\nwant:\n%s", body, want)
	}
	if !strings.HasPrefix(contentType, "application/x-ndjson") {
		t.Errorf("content type %q", contentType)
	}
	if path != "/registry/_bulk" {
		t.Errorf("path %q", path)
	}
}

func TestLoadGzip(t *testing.T) {
	var decoded string
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("expected gzip encoding")
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip reader: %v", err)
			return
		}
		data, _ := io.ReadAll(zr)
		decoded = string(data)
		_, _ = io.WriteString(w, `{"errors":false,"items":[]}`)
	})
	l := NewLoader(newTestClient(t, srv.URL, func(c *Config) { c.Gzip = true }), nil)

	p, _ := IndexPair("a", map[string]int{"n": 1})
	if _, err := l.Load(context.Background(), "registry", []Pair{p}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if decoded != `{"index":{"_id":"a"}}`+"\n"+`{"n":1}`+"\n" {
		t.Errorf("decoded body %q", decoded)
	}
}

func TestLoadPartialFailure(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors": true, "items":[{"index":{}}, {"index":{"error":{"reason":"mapper_parsing_exception"}}}]}`)
	})
	l := NewLoader(newTestClient(t, srv.URL), nil)

	p1, _ := IndexPair("a", map[string]int{})
	p2, _ := IndexPair("b", map[string]int{})
	n, err := l.Load(context.Background(), "registry", []Pair{p1, p2})
	if n != 0 {
		t.Errorf("loaded %d, want 0", n)
	}
	var be *BulkError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BulkError, got %v", err)
	}
	if be.Reason != "mapper_parsing_exception" {
		t.Errorf("reason %q", be.Reason)
	}
	if len(be.Failed) != 1 || be.Failed[0] != "#1" {
		t.Errorf("failed %v", be.Failed)
	}
}

func TestLoadTransportErrorReason(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "line one\n{\"error\":{\"root_cause\":[{\"reason\":\"illegal_argument_exception\"}]}}")
	})
	l := NewLoader(newTestClient(t, srv.URL), nil)

	p, _ := IndexPair("a", map[string]int{})
	_, err := l.Load(context.Background(), "registry", []Pair{p})
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ResponseError, got %v", err)
	}
	if re.Status != http.StatusBadRequest || re.Reason != "illegal_argument_exception" {
		t.Errorf("got %d %q", re.Status, re.Reason)
	}
}

func TestCheckerUnregistered(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		var q struct {
			Query struct {
				IDs struct {
					Values []string `json:"values"`
				} `json:"ids"`
			} `json:"query"`
			Size int `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Errorf("decode query: %v", err)
		}
		if q.Size != len(q.Query.IDs.Values) {
			t.Errorf("size %d, ids %d", q.Size, len(q.Query.IDs.Values))
		}
		_, _ = io.WriteString(w, `{"hits":{"hits":[{"_id":"id1"}]}}`)
	})
	c := NewChecker(CheckerConfig{Client: newTestClient(t, srv.URL)})

	got, err := c.Unregistered(context.Background(), []string{"id1", "id2"})
	if err != nil {
		t.Fatalf("Unregistered: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %v, want only id2", got)
	}
	if _, ok := got["id2"]; !ok {
		t.Errorf("got %v, want id2", got)
	}
}

func TestCheckerRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"hits":{"hits":[]}}`)
	})
	c := NewChecker(CheckerConfig{Client: newTestClient(t, srv.URL), Delay: time.Millisecond})

	got, err := c.Unregistered(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Unregistered: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %v", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls %d, want 3", calls.Load())
	}
}

func TestCheckerExhaustion(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := NewChecker(CheckerConfig{Client: newTestClient(t, srv.URL), Attempts: 5, Delay: time.Millisecond})

	got, err := c.Unregistered(context.Background(), []string{"a"})
	if !errors.Is(err, ErrUndetermined) {
		t.Fatalf("expected ErrUndetermined, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil result, got %v", got)
	}
	if srv.requests.Load() != 5 {
		t.Errorf("requests %d, want 5", srv.requests.Load())
	}
}

func TestCheckerCancelled(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := NewChecker(CheckerConfig{Client: newTestClient(t, srv.URL), Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := c.Unregistered(ctx, []string{"a"})
	if !errors.Is(err, ErrUndetermined) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrUndetermined and context.Canceled, got %v", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusMethodNotAllowed} {
		srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"_id":"x","found":false}`)
		})
		c := newTestClient(t, srv.URL)
		if _, err := c.ProductClass(context.Background(), "urn:nasa:pds:x::1.0"); !errors.Is(err, ErrNotFound) {
			t.Errorf("status %d: expected ErrNotFound, got %v", status, err)
		}
	}
}

func TestProductClassAndArchiveStatus(t *testing.T) {
	var mu sync.Mutex
	var updates []string
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/registry/_doc/"):
			if r.URL.Query().Get("_source") != "product_class" {
				t.Errorf("unexpected _source %q", r.URL.Query().Get("_source"))
			}
			_, _ = io.WriteString(w, `{"_id":"urn:nasa:pds:b:c:p::1.0","found":true,"_source":{"product_class":"Product_Observational"}}`)
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/registry/_update/"):
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			updates = append(updates, string(data))
			mu.Unlock()
			_, _ = io.WriteString(w, `{"result":"updated"}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	class, err := c.ProductClass(ctx, "urn:nasa:pds:b:c:p::1.0")
	if err != nil {
		t.Fatalf("ProductClass: %v", err)
	}
	if class != "Product_Observational" {
		t.Errorf("class %q", class)
	}

	if err := c.SetArchiveStatus(ctx, "urn:nasa:pds:b:c:p::1.0", "bogus"); err == nil {
		t.Error("expected error for invalid status")
	}
	if err := c.SetArchiveStatus(ctx, "urn:nasa:pds:b:c:p::1.0", "archived"); err != nil {
		t.Fatalf("SetArchiveStatus: %v", err)
	}
	want := `{"doc":{"ops:Tracking_Meta/ops:archive_status":"archived"}}`
	if len(updates) != 1 || updates[0] != want {
		t.Errorf("updates %v, want [%s]", updates, want)
	}
}

func TestMappingAndPutMapping(t *testing.T) {
	var put string
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"registry-v2":{"mappings":{"properties":{"lid":{"type":"keyword"},"title":{"type":"text"}}}}}`)
		case http.MethodPut:
			if r.URL.Path != "/registry/_mapping" {
				t.Errorf("path %q", r.URL.Path)
			}
			data, _ := io.ReadAll(r.Body)
			put = string(data)
			_, _ = io.WriteString(w, `{"acknowledged":true}`)
		}
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	names, err := c.Mapping(ctx, "registry")
	if err != nil {
		t.Fatalf("Mapping: %v", err)
	}
	if strings.Join(names, ",") != "lid,title" {
		t.Errorf("names %v", names)
	}

	err = c.PutMapping(ctx, "registry", []FieldType{{Name: "geom:Body/geom:radius", Type: "double"}})
	if err != nil {
		t.Fatalf("PutMapping: %v", err)
	}
	if put != `{"properties":{"geom:Body/geom:radius":{"type":"double"}}}` {
		t.Errorf("mapping body %s", put)
	}
}

func TestBasicAuth(t *testing.T) {
	srv := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "harvest" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"hits":{"hits":[]}}`)
	})
	c := newTestClient(t, srv.URL, func(c *Config) { c.User, c.Password = "harvest", "pw" })
	if _, err := c.Search(context.Background(), "registry", map[string]any{}); err != nil {
		t.Fatalf("Search: %v", err)
	}
}
