// Package websocket is the spectator transport: it authenticates and upgrades
// connections, runs one bounded writer per connection, and turns inbound frames
// into commands for the application service.
package websocket
