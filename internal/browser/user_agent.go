package browser

import "strings"

const defaultDesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

func DefaultUserAgent() string {
	return defaultDesktopUserAgent
}

// NormalizeUserAgent keeps a configured desktop UA and falls back to the
// default for empty, mobile or headless ones; the lottery pages are desktop
// layouts and the selectors depend on it.
func NormalizeUserAgent(ua string) string {
	v := strings.TrimSpace(ua)
	if v == "" || looksLikeMobileUA(v) || strings.Contains(strings.ToLower(v), "headless") {
		return defaultDesktopUserAgent
	}
	return v
}

func looksLikeMobileUA(ua string) bool {
	s := strings.ToLower(ua)
	if strings.Contains(s, "mobile") {
		return true
	}
	if strings.Contains(s, "iphone") || strings.Contains(s, "android") || strings.Contains(s, "ipad") {
		return true
	}
	return false
}
