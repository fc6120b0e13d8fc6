// Package tools provides host process helpers for the application service.
//
// Ownership boundary:
// - detached process launch with working dir and environment
// - platform default application lookup
package tools
