// Package stream turns the byte stream of a long-running generation request
// into answer text and optional trailing metadata.
//
// The remote service writes the answer first and may follow it with the
// literal sentinel "---METADATA---" and a JSON document. The sentinel is
// matched as a plain substring, so an answer that itself contains the
// sentinel text is split at its first occurrence. This is a known limitation
// of the wire contract; a length-prefixed trailer would remove it.
package stream
