package scrape

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	largeContact := "<html><body><form><div class=\"g-recaptcha\"></div></form>" +
		strings.Repeat("<p>Reach our team at sales@acme.com.</p>", 300) + "</body></html>"

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cloudflare 403 ray", 403, http.Header{"Cf-Ray": {"abc123"}}, "", BlockCloudflare},
		{"cloudflare 503 server", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"cloudflare challenge body", 200, http.Header{}, "<html>Checking your browser before accessing</html>", BlockCloudflare},
		{"rate limited", 429, http.Header{}, "slow down", BlockRateLimit},
		{"captcha interstitial", 200, http.Header{}, "<html><body>Please complete the reCAPTCHA to continue</body></html>", BlockCaptcha},
		{"captcha widget on large page", 200, http.Header{}, largeContact, BlockNone},
		{"js shell", 200, http.Header{}, "<html><noscript>Enable JavaScript to continue</noscript></html>", BlockJSShell},
		{"meta refresh", 200, http.Header{}, `<html><meta http-equiv="refresh" content="0;url=/app"></html>`, BlockJSShell},
		{"clean page", 200, http.Header{}, "<html><body>Welcome to Acme Corp. Write to info@acme.com.</body></html>", BlockNone},
		{"plain 403", 403, http.Header{}, "<html><body>Forbidden area, nothing to see here at all today.</body></html>", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: tt.header}
			assert.Equal(t, tt.want, DetectBlock(resp, []byte(tt.body)))
		})
	}
}

func TestDetectBlock_NilResponse(t *testing.T) {
	assert.Equal(t, BlockNone, DetectBlock(nil, nil))
}
