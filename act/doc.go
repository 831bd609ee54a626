// Package act defines the boundary to the Anonymous Counting Tokens (ACT)
// cryptographic library used by the k-anonymity sign/join client.
//
// The client never implements ACT itself. It only needs four operations,
// all of which exchange opaque serialized blobs:
//
//   - GenerateClientParameters: derive client key material against the
//     server's public parameters.
//   - GenerateTokensRequest: blind a batch of messages into a single request.
//   - VerifyTokensResponse: check the issuer's response for that request.
//   - RecoverTokens: unblind the response into one token per message.
//
// Every operation also takes the process-wide SchemeParameters returned by
// DefaultSchemeParameters. Their serialized form is byte-for-byte stable so
// that parameters generated by earlier processes stay compatible.
//
// MockEngine is a deterministic stand-in used by tests and local demos. It
// offers no security whatsoever.
package act
