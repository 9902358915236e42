// Package session maps live connections to authenticated users and verifies
// the identity tokens presented on connect.
package session
