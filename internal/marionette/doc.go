// Package marionette implements the client side of Firefox's Marionette
// remote protocol: the "<length>:<json>" framing, the server greeting, and
// command/response exchange over a TCP connection.
package marionette
