// ABOUTME: SecureTransport RoundTripper implementing the CSRF double-submit contract
// ABOUTME: Scope is same-origin plus path-nested under the configured API base

package transport

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

// Defaults for the CSRF contract.
const (
	DefaultCSRFCookieName = "sanctum_csrf"
	CSRFHeaderName        = "X-CSRF-Token"
)

// safeMethods never receive a CSRF token.
var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// SecureTransport decorates a base RoundTripper. For requests whose URL is
// same-origin with the API base and whose path sits at or under the base
// path, it attaches the cookie jar's cookies and, for unsafe methods, copies
// the CSRF cookie into the X-CSRF-Token header unless the caller already set
// one. All other requests are forwarded untouched.
type SecureTransport struct {
	base       http.RoundTripper
	jar        http.CookieJar
	origin     *url.URL
	basePath   string
	cookieName string
}

// Option customizes a SecureTransport.
type Option func(*SecureTransport)

// WithCookieName overrides the CSRF cookie name.
func WithCookieName(name string) Option {
	return func(t *SecureTransport) { t.cookieName = name }
}

// WithBase overrides the underlying RoundTripper (default http.DefaultTransport).
func WithBase(rt http.RoundTripper) Option {
	return func(t *SecureTransport) { t.base = rt }
}

// WithJar overrides the cookie jar.
func WithJar(jar http.CookieJar) Option {
	return func(t *SecureTransport) { t.jar = jar }
}

// New builds a SecureTransport scoped to apiBase, e.g.
// "https://console.example.com/api". The returned transport owns an in-memory
// cookie jar unless one is supplied.
func New(apiBase string, opts ...Option) (*SecureTransport, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("parsing api base: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base %q must be absolute", apiBase)
	}

	t := &SecureTransport{
		base:       http.DefaultTransport,
		origin:     u,
		basePath:   strings.TrimRight(u.Path, "/"),
		cookieName: DefaultCSRFCookieName,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		t.jar = jar
	}
	return t, nil
}

// Client returns an http.Client using this transport. The client's own Jar is
// left nil; the transport scopes credentials itself.
func (t *SecureTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Jar exposes the cookie jar, e.g. for seeding a session cookie.
func (t *SecureTransport) Jar() http.CookieJar { return t.jar }

// RoundTrip implements http.RoundTripper.
func (t *SecureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.inScope(req.URL) {
		return t.base.RoundTrip(req)
	}

	// Per RoundTripper contract the original request is not mutated.
	out := req.Clone(req.Context())

	// credentials: attach jar cookies unless the caller supplied its own.
	if out.Header.Get("Cookie") == "" {
		for _, c := range t.jar.Cookies(out.URL) {
			out.AddCookie(c)
		}
	}

	if !safeMethods[out.Method] && out.Header.Get(CSRFHeaderName) == "" {
		if token := t.csrfToken(out); token != "" {
			out.Header.Set(CSRFHeaderName, token)
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if cookies := resp.Cookies(); len(cookies) > 0 {
		t.jar.SetCookies(out.URL, cookies)
	}
	return resp, nil
}

// csrfToken finds the named cookie among the request's cookies, which at this
// point include anything attached from the jar.
func (t *SecureTransport) csrfToken(req *http.Request) string {
	if c, err := req.Cookie(t.cookieName); err == nil {
		return c.Value
	}
	return ""
}

// inScope reports whether the URL shares the API base's origin and sits at or
// under its path.
func (t *SecureTransport) inScope(u *url.URL) bool {
	if !strings.EqualFold(u.Scheme, t.origin.Scheme) {
		return false
	}
	if !strings.EqualFold(canonicalHost(u), canonicalHost(t.origin)) {
		return false
	}
	if t.basePath == "" {
		return true
	}
	return u.Path == t.basePath || strings.HasPrefix(u.Path, t.basePath+"/")
}

// canonicalHost lowercases the host and strips a default port.
func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Host)
	switch u.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}
