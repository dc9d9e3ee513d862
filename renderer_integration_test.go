//go:build integration

package html2pdf

// Notes:
// - These tests launch real Chromium through go-rod. They share one pool
//   created in TestMain and run sequentially, because page counts are
//   compared before and after each render.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"
)

const testTimeout = 30 * time.Second

var testPool *BrowserPool

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	pool, err := NewBrowserPool(ctx, 1, RodLauncher(DefaultLaunchConfig()))
	cancel()
	if err != nil {
		_, _ = os.Stderr.WriteString("starting browser pool: " + err.Error() + "\n")
		os.Exit(1)
	}
	testPool = pool

	code := m.Run()
	_ = testPool.Close()
	os.Exit(code)
}

// openPages returns the number of page targets of the only pooled browser.
func openPages(t *testing.T) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	n, err := rodEngineOf(t).openPages(ctx)
	if err != nil {
		t.Fatalf("openPages: %v", err)
	}
	return n
}

// rodEngineOf returns the browser behind the only pooled instance.
func rodEngineOf(t *testing.T) *rodEngine {
	t.Helper()
	inst, err := testPool.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	engine, ok := inst.Engine().(*rodEngine)
	if !ok {
		t.Fatalf("engine is %T, want *rodEngine", inst.Engine())
	}
	return engine
}

// passThrough leaves markup untouched so that only the sandbox stands
// between the document and the network.
type passThrough struct{}

func (passThrough) Sanitize(s string) string { return s }

// hitCounter serves sub-resources and counts requests per path.
type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.hits[r.URL.Path]++
	h.mu.Unlock()

	switch r.URL.Path {
	case "/style.css":
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, "h1 { color: navy }")
	case "/logo.png":
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	default:
		_, _ = io.WriteString(w, "ok")
	}
}

func (h *hitCounter) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

// ---------------------------------------------------------------------------
// TestRodContext_Integration_Sandbox - Request allow-list in a real browser
// ---------------------------------------------------------------------------

func TestRodContext_Integration_Sandbox(t *testing.T) {
	hits := &hitCounter{hits: make(map[string]int)}
	srv := httptest.NewTLSServer(hits)
	defer srv.Close()

	// A permissive CSP leaves the allow-list as the only control.
	policy := DefaultSecurityPolicy()
	policy.CSP = "default-src * 'unsafe-inline' 'unsafe-eval'"

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	rc, err := rodEngineOf(t).NewContext(ctx)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer func() { _ = rc.Close(context.Background()) }()

	if err := rc.Secure(ctx, policy); err != nil {
		t.Fatalf("Secure: %v", err)
	}
	if err := rc.SetViewport(ctx, DefaultViewport()); err != nil {
		t.Fatalf("SetViewport: %v", err)
	}

	html := fmt.Sprintf(`<html><head><link rel="stylesheet" href="%[1]s/style.css"></head>
<body><h1>Sandbox</h1>
<img src="%[1]s/logo.png">
<script src="%[1]s/app.js"></script>
<script>fetch("%[1]s/api"); var x = new XMLHttpRequest(); x.open("GET", "%[1]s/xhr"); x.send();</script>
<iframe src="%[1]s/frame"></iframe>
</body></html>`, srv.URL)

	if err := rc.Load(ctx, html); err != nil {
		t.Fatalf("Load: %v", err)
	}

	allowed := func() bool { return hits.count("/style.css") > 0 && hits.count("/logo.png") > 0 }
	if !eventually(t, 10*time.Second, allowed) {
		t.Errorf("allowed resources not fetched: stylesheet=%d image=%d",
			hits.count("/style.css"), hits.count("/logo.png"))
	}

	pdf, err := rc.PDF(ctx, DefaultPDFOptions())
	if err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Errorf("output does not start with %%PDF-")
	}

	for _, path := range []string{"/app.js", "/api", "/xhr", "/frame"} {
		if n := hits.count(path); n != 0 {
			t.Errorf("%s requested %d times, want 0", path, n)
		}
	}

	// Only the first navigation to the document address is answered.
	if err := rc.Load(ctx, "<p>second</p>"); !errors.Is(err, ErrPageLoad) {
		t.Errorf("second navigation error = %v, want ErrPageLoad", err)
	}
}

// ---------------------------------------------------------------------------
// TestRenderer_Integration
// ---------------------------------------------------------------------------

func TestRenderer_Integration_PDF(t *testing.T) {
	r := NewRenderer(testPool)
	before := openPages(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	res, err := r.Render(ctx, Request{
		ClientID: "127.0.0.1",
		HTML: `<html><head><style>h1 { color: navy }</style></head>
<body><h1 onclick="x()">Activity report</h1>
<script>document.body.innerHTML = "pwned"</script>
<img src="https://example.invalid/logo.png"></body></html>`,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(res.PDF, []byte("%PDF-")) {
		t.Errorf("output does not start with %%PDF-: %q", res.PDF[:min(16, len(res.PDF))])
	}
	if after := openPages(t); after != before {
		t.Errorf("open pages = %d after render, want %d", after, before)
	}
}

func TestRenderer_Integration_TimeoutCleansUp(t *testing.T) {
	r := NewRenderer(testPool, WithTimeout(time.Millisecond), WithCloseTimeout(10*time.Second))
	before := openPages(t)

	_, err := r.Render(context.Background(), Request{HTML: "<p>never in time</p>"})
	if !errors.Is(err, ErrRenderingFailed) {
		t.Fatalf("error = %v, want ErrRenderingFailed", err)
	}
	if after := openPages(t); after != before {
		t.Errorf("open pages = %d after failed render, want %d", after, before)
	}

	// The browser stays usable.
	ok := NewRenderer(testPool)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if _, err := ok.Render(ctx, Request{HTML: "<p>fine</p>"}); err != nil {
		t.Errorf("render after failure: %v", err)
	}
}

func TestBrowserPool_Integration_HealthCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	for _, s := range testPool.HealthCheck(ctx) {
		if s.State != StateReady {
			t.Errorf("instance %d = %+v, want READY", s.ID, s)
		}
	}
}
