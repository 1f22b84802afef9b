// Package pipeline defines the wire messages exchanged between the tiers of
// the lending pipeline and their JSON codec.
//
// Every hop carries JSON-object frames: the client request into the load
// manager, the actor replies, and the storage tier's request/reply pairs.
// Each message is a tagged variant with its required fields validated once at
// decode time, so a malformed frame is rejected at the tier boundary and
// never reaches field access further down.
package pipeline
