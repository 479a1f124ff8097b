package scrape

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/mcnijman/go-emailaddress"
	"golang.org/x/net/html"
)

// extractAddresses returns the lowercase addresses found in an HTML page,
// mailto links first, then addresses in visible text, in document order and
// without duplicates.
func extractAddresses(body []byte) []string {
	var (
		mailto []string
		text   bytes.Buffer
		skip   int
	)

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or malformed markup; keep what was tokenized so far.
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if tag != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					if addr, ok := mailtoAddress(string(val)); ok {
						mailto = append(mailto, addr)
					}
				}
				if !more {
					break
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				text.Write(z.Text())
				text.WriteByte(' ')
			}
		}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if !plausibleAddress(addr) || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	for _, a := range mailto {
		add(a)
	}
	for _, e := range emailaddress.FindWithIcannSuffix(text.Bytes(), false) {
		add(e.String())
	}
	return out
}

// mailtoAddress pulls the address out of a mailto: href, dropping any
// query (subject, cc) and percent-encoding.
func mailtoAddress(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if len(href) < len("mailto:") || !strings.EqualFold(href[:len("mailto:")], "mailto:") {
		return "", false
	}
	addr := href[len("mailto:"):]
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	if unescaped, err := url.PathUnescape(addr); err == nil {
		addr = unescaped
	}
	// mailto:a@x.com,b@x.com keeps only the first recipient.
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = addr[:i]
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", false
	}
	return addr, true
}

// plausibleAddress drops matches whose domain part cannot be a real mail
// domain, such as image names caught by the text scan.
func plausibleAddress(addr string) bool {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	domain := addr[at+1:]
	return strings.Contains(domain, ".") && len(domain) > 3
}
