package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/resilience"
)

var fastRetry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

func newTestScraper(srv *httptest.Server, pages ...string) *SiteScraper {
	return NewSiteScraper(config.ScrapeConfig{
		TimeoutSecs: 2,
		MaxPages:    5,
		CommonPages: pages,
		UserAgent:   "sleuth-test",
	}, WithHTTPClient(srv.Client()), WithBaseURL(func(string) string { return srv.URL }), WithRetry(fastRetry))
}

func TestSiteScraper_CollectsFromCommonPages(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "sleuth-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`<html><body><a href="mailto:Info@Example.com?subject=Hi">Email us</a></body></html>`))
		case "/contact":
			_, _ = w.Write([]byte(`<html><body><p>Sales: sales@example.com</p>
<p>Again: INFO@example.com</p><script>var x = "tracker@analytics.io";</script></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newTestScraper(srv, "/contact", "/about", "/contact")
	set, err := s.Scrape(context.Background(), "example.com")
	require.NoError(t, err)

	assert.Equal(t, Tag, set.Tag)
	assert.Equal(t, []string{"info@example.com", "sales@example.com"}, set.Addresses)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/", "/contact", "/about"}, seen, "duplicate pages are fetched once")
}

func TestSiteScraper_SkipsBlockedAndNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Cf-Ray", "abc123")
			w.WriteHeader(http.StatusForbidden)
		case "/team.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("pdf bytes jane@example.com"))
		case "/team":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body>Jane Roe &lt;jane.roe&#64;example.com&gt;</body></html>`))
		}
	}))
	defer srv.Close()

	set, err := newTestScraper(srv, "/team.pdf", "/team").Scrape(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"jane.roe@example.com"}, set.Addresses)
}

func TestSiteScraper_RetriesTransientStatus(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<p>hello@example.com</p>`))
	}))
	defer srv.Close()

	set, err := newTestScraper(srv).Scrape(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello@example.com"}, set.Addresses)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestSiteScraper_NotFoundIsNotRetried(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestScraper(srv).Scrape(context.Background(), "example.com")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestSiteScraper_AllPagesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestScraper(srv, "/contact").Scrape(context.Background(), "example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pages fetched")
}

func TestSiteScraper_MaxPages(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	s := NewSiteScraper(config.ScrapeConfig{
		MaxPages:    2,
		CommonPages: []string{"/a", "/b", "/c"},
	}, WithHTTPClient(srv.Client()), WithBaseURL(func(string) string { return srv.URL }))

	_, err := s.Scrape(context.Background(), "example.com")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestSiteScraper_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScraper(srv).Scrape(ctx, "example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPageURLs_SameHostOnly(t *testing.T) {
	s := NewSiteScraper(config.ScrapeConfig{
		MaxPages:    10,
		CommonPages: []string{"/contact", "https://other.com/contact", "about", "/contact#form"},
	})
	pages, err := s.pageURLs("example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/contact",
		"https://example.com/about",
	}, pages)
}

func TestExtractAddresses(t *testing.T) {
	body := []byte(`<html><head><style>.x{background:url(logo@2x.png)}</style></head>
<body>
<a href="MAILTO:Press%40Example.com">press</a>
<a href="mailto:">empty</a>
<a href="mailto:a@b">short</a>
<p>Write to john.doe@example.com or john.doe@example.com.</p>
<img src="icon@2x.png">
</body></html>`)

	assert.Equal(t, []string{"press@example.com", "john.doe@example.com"}, extractAddresses(body))
}

func TestMailtoAddress(t *testing.T) {
	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{"mailto:info@example.com", "info@example.com", true},
		{"mailto:info@example.com?subject=Hello", "info@example.com", true},
		{"mailto:a@example.com,b@example.com", "a@example.com", true},
		{"Mailto:%20sales@example.com", "sales@example.com", true},
		{"https://example.com", "", false},
		{"mailto:", "", false},
	}
	for _, tt := range tests {
		got, ok := mailtoAddress(tt.href)
		assert.Equal(t, tt.ok, ok, tt.href)
		assert.Equal(t, tt.want, got, tt.href)
	}
}

func TestIsHTML(t *testing.T) {
	assert.True(t, isHTML(""))
	assert.True(t, isHTML("text/html; charset=utf-8"))
	assert.True(t, isHTML("application/xhtml+xml"))
	assert.False(t, isHTML("application/pdf"))
	assert.False(t, isHTML("image/png"))
}
