// Package protocol owns the rcp wire contract.
//
// Ownership boundary:
// - command identifier table and protocol constants
// - frame/header codec (frame)
// - typed payload codecs (schema)
// - connection driver and transport policy (session)
package protocol
