// Package urlnorm produces canonical string forms of URLs used for equality
// comparisons across the crawler.
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	schemePrefix    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*:`)
	repeatedSlashes = regexp.MustCompile(`/{2,}`)
)

// Options controls the normalization rules applied by Normalize.
type Options struct {
	RemoveTrailingSlash bool // strip trailing slashes from non-root paths
	ForceHTTPS          bool // rewrite http to https
	StripWWW            bool // drop a leading "www." label from the host
}

// DefaultOptions returns the default normalization options.
func DefaultOptions() Options {
	return Options{StripWWW: true}
}

// IdentityOptions returns the options used for every "same resource" check.
func IdentityOptions() Options {
	return Options{ForceHTTPS: true, StripWWW: true}
}

// Identity returns the form under which two URLs are considered the same
// resource. It is the only normalization used for equality checks.
func Identity(input string) string {
	return Normalize(input, IdentityOptions())
}

// Normalize returns the canonical form of input. It is a pure function of its
// arguments and never fails: input that cannot be parsed is returned unchanged.
func Normalize(input string, opts Options) string {
	if input == "" {
		return input
	}

	href := input
	switch {
	case strings.HasPrefix(href, "//"):
		href = "http:" + href
	case !schemePrefix.MatchString(href):
		href = "http://" + href
	}

	u, err := url.Parse(href)
	if err != nil {
		return input
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Opaque != "" {
		if opts.ForceHTTPS && u.Scheme == "http" {
			u.Scheme = "https"
		}
		return u.String()
	}

	host := strings.ToLower(u.Hostname())
	port := dropDefaultPort(u.Scheme, u.Port())
	if opts.ForceHTTPS && u.Scheme == "http" {
		u.Scheme = "https"
		port = dropDefaultPort(u.Scheme, port)
	}
	u.Host = normalizeHost(host, port, opts.StripWWW)

	path := u.EscapedPath()
	if opts.RemoveTrailingSlash && path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	path = repeatedSlashes.ReplaceAllString(path, "/")
	if path == "" && u.Host != "" {
		path = "/"
	}
	setEscapedPath(u, path)

	return u.String()
}

// dropDefaultPort returns "" when port is the default for scheme.
func dropDefaultPort(scheme, port string) string {
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return ""
	}
	return port
}

func normalizeHost(host, port string, stripWWW bool) string {
	if stripWWW {
		// Repeated so the result is stable under re-normalization.
		for strings.HasPrefix(host, "www.") && strings.Contains(host[len("www."):], ".") {
			host = host[len("www."):]
		}
	}

	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return host
}

func setEscapedPath(u *url.URL, escaped string) {
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return
	}
	u.Path = unescaped
	u.RawPath = escaped
}
