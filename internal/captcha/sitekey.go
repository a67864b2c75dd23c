package captcha

import (
	"regexp"
	"strings"
)

var (
	renderParamRe = regexp.MustCompile(`recaptcha/(?:enterprise|api)\.js\?[^"'\s>]*render=([^&"'\s>]+)`)
	dataSiteKeyRe = regexp.MustCompile(`data-sitekey\s*=\s*["']([^"']+)["']`)
	bareSiteKeyRe = regexp.MustCompile(`6Le[a-zA-Z0-9_-]{38,}`)

	siteKeyTagRe    = regexp.MustCompile(`<[^>]*data-sitekey[^>]*>`)
	dataActionRe    = regexp.MustCompile(`data-action\s*=\s*["']([^"']+)["']`)
	executeActionRe = []*regexp.Regexp{
		regexp.MustCompile(`grecaptcha\.(?:enterprise\.)?execute\s*\([^,]+,\s*\{[^}]*['"]?action['"]?\s*:\s*['"]([^'"]+)['"]`),
		regexp.MustCompile(`\.execute\s*\([^)]*\{[^}]*['"]?action['"]?\s*:\s*['"]([^'"]+)['"]`),
	}
)

// FindSiteKey looks for a reCAPTCHA site key in page HTML. A known key wins
// when present; then the script's render= parameter, a data-sitekey
// attribute, and finally any 6Le... token. Empty means no challenge.
func FindSiteKey(html, known string) string {
	if known != "" && strings.Contains(html, known) {
		return known
	}
	if m := renderParamRe.FindStringSubmatch(html); m != nil && m[1] != "explicit" {
		return m[1]
	}
	if m := dataSiteKeyRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return bareSiteKeyRe.FindString(html)
}

// FindPageAction returns the action the page passes to reCAPTCHA, or "".
func FindPageAction(html string) string {
	if tag := siteKeyTagRe.FindString(html); tag != "" {
		if m := dataActionRe.FindStringSubmatch(tag); m != nil {
			return m[1]
		}
	}
	if m := dataActionRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	for _, re := range executeActionRe {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}
