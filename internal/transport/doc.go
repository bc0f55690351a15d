// ABOUTME: Package transport wraps the HTTP client with CSRF and credential handling
// ABOUTME: In-scope API requests get the anti-CSRF header and session cookies

// Package transport provides SecureTransport, an http.RoundTripper that adds
// CSRF protection and credentials to requests aimed at the console API.
// Requests outside the configured API base, and safe-method requests, pass
// through unmodified. The transport is an explicit, injected object; nothing
// is installed globally.
package transport
