// Package privacy scrubs credentials out of URLs and messages before they
// reach logs, notifications or error reports.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

// urlPattern finds scheme://... tokens in free text. Service URLs such as
// telegram:// or discord:// carry their tokens in the userinfo or path.
var urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)

// redacted replaces secrets.
const redacted = "***"

// ScrubMessage replaces every URL in message with RedactURL.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, RedactURL)
}

// RedactURL keeps the scheme, host and port of rawURL and masks the
// userinfo, path and query. Strings that do not parse are fully masked.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return redacted
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(redacted)
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		b.WriteString("/")
		b.WriteString(redacted)
	}
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(redacted)
	}
	return b.String()
}

// RedactDSN masks the password of a user:password@tcp(host:port)/db
// MySQL DSN.
func RedactDSN(dsn string) string {
	at := strings.LastIndexByte(dsn, '@')
	if at < 0 {
		return dsn
	}
	creds := dsn[:at]
	user, _, found := strings.Cut(creds, ":")
	if !found {
		return dsn
	}
	return user + ":" + redacted + dsn[at:]
}
