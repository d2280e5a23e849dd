// Package auth identifies the caller of an HTTP request, either from a
// configured bearer token or from the X-User-ID header when auth is disabled.
package auth
