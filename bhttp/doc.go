// Package bhttp implements the Binary HTTP message format (RFC 9292).
//
// Binary HTTP is the plaintext carried inside Oblivious HTTP: the join call
// builds a Request, encodes it with Marshal, encrypts the bytes, and later
// decodes the decrypted answer with ParseResponse.
//
// Encoding always produces known-length messages. Decoding accepts both the
// known-length and indeterminate-length framings, truncated trailing
// sections and zero padding. Informational (1xx) responses are preserved in
// Response.Informational while Response.StatusCode always holds the final
// status. Malformed input yields an error wrapping ErrDecode.
package bhttp
