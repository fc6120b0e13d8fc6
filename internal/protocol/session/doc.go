// Package session owns the per-connection rcp driver.
//
// Ownership boundary:
// - whole-frame reads over a byte stream with an incremental buffer
// - serialized frame writes with write deadlines
// - connection timeouts, transport security policy and retry backoff
package session
