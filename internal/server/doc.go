// Package server accepts rcp connections, authenticates each one and runs a
// dispatch loop that multiplexes frames onto per-session services.
package server
