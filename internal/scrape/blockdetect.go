package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot response a site served.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockRateLimit  BlockType = "rate_limit"
)

// challengeMaxBody is the body size above which captcha markers are assumed
// to belong to an embedded form rather than an interstitial.
const challengeMaxBody = 8 * 1024

// DetectBlock inspects a page response for anti-bot interstitials. Pages
// that are blocked carry no useful addresses and are skipped.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return BlockRateLimit
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge-platform") {
		return BlockCloudflare
	}

	// Contact pages often embed a reCAPTCHA widget on the form; only a
	// small page dominated by the challenge counts as blocked.
	if len(body) < challengeMaxBody &&
		(strings.Contains(lower, "captcha") || strings.Contains(lower, "are you a robot")) {
		return BlockCaptcha
	}

	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return BlockJSShell
		}
	}

	return BlockNone
}
