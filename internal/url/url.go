package url

import (
	"net/url"
	"strings"
)

func ResolveReference(base string, rel string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u, err := b.Parse(rel)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Guess prepends a scheme to URLs given without one.
// Hosts starting with "ftp." are assumed to be FTP servers, everything else HTTP.
func Guess(u string) string {
	if strings.Contains(u, "://") {
		return u
	}
	if strings.HasPrefix(strings.ToLower(u), "ftp.") {
		return "ftp://" + u
	}
	return "http://" + u
}

func Scheme(u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Scheme), nil
}

// HostPort returns host and port of the URL, using defaultPort when the URL has none.
func HostPort(u *url.URL, defaultPort string) (string, string) {
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return u.Hostname(), port
}
