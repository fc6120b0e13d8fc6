// Package client is the initiating side of an rcp connection: it dials,
// authenticates, reads frames on one background goroutine and exposes
// service handles plus an event stream to the embedding application.
package client
