// Package transport supplies the byte streams rcp frames ride on: plain TCP,
// TLS over TCP, or a single bidirectional QUIC stream per connection. Every
// variant is exposed as net.Listener / net.Conn so the session driver stays
// transport agnostic.
package transport
