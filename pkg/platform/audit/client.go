package audit

import (
	"cmp"
	"strings"

	"github.com/mssola/useragent"
)

// ClientLabel turns a User-Agent header into the short label stored on audit records,
// for example "Firefox 121.0 on Linux x86_64".
func ClientLabel(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		name, _ := ua.Browser()
		return strings.TrimSpace("Bot " + name)
	}

	browser, version := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	} else if version != "" {
		browser += " " + version
	}
	os := ua.OS()
	if os == "" {
		os = cmp.Or(ua.Platform(), "Unknown OS")
	}
	return strings.Join(strings.Fields(browser+" on "+os), " ")
}

