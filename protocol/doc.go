// Package protocol defines the data model and wire formats of the
// k-anonymity sign/join protocol.
//
// # Messages
//
// A Message is one candidate k-anonymity set membership. Its status moves
// forward only:
//
//	NOT_PROCESSED -> SIGNED | FAILED
//	SIGNED        -> JOINED | FAILED
//
// FAILED ends the current attempt. A later cycle may pick the message up
// again and start over from the sign phase.
//
// # Parameters
//
// Client and server parameters are versioned opaque blobs produced by the
// ACT engine and the issuing server. At most one active record of each kind
// exists, and the two are always replaced together. ResolvedParameters is
// the immutable pair a single sign/join call works with.
//
// # Wire Formats
//
// The sign endpoints speak protobuf (see wire.go), encoded with protowire so
// no generated code is required. The join endpoint receives a JSON body (see
// join.go) wrapped in Binary HTTP and Oblivious HTTP.
//
// # Interfaces
//
// MessageStore, ParameterStore, SignTransport, JoinTransport and
// ObliviousEncryptor are the seams between the protocol engine in package
// client and the concrete implementations in package services.
package protocol
