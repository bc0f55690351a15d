// ABOUTME: Package server implements the console HTTP service
// ABOUTME: Session auth, CSRF protection, key-migration and settings endpoints

// Package server exposes the admin console API over HTTP: login with session
// and CSRF cookies, the key-migration prepare and execute endpoints, and the
// settings CRUD the rest of the console uses. Every mutating route requires a
// valid session and the CSRF double-submit token.
package server
