// Package crypto implements the Oblivious HTTP encapsulation (RFC 9458)
// used to hide the client from the join endpoint.
//
// Requests are sealed with HPKE base mode (RFC 9180) from
// github.com/cloudflare/circl/hpke using the DHKEM(X25519, HKDF-SHA256),
// HKDF-SHA256 and AES-128-GCM suite, the only combination this package
// accepts. This package adds the OHTTP framing and the response key
// derivation on top. EncapsulateRequest returns a
// ClientContext that is the sole holder of the secrets needed to read the
// matching response; each context decrypts exactly one response.
//
// # Key Configuration
//
// Gateways publish a KeyConfig. ParseKeyConfig decodes a single
// configuration while ParseKeyConfigs decodes the length-prefixed
// application/ohttp-keys list and picks the first usable entry.
//
// # Gateway
//
// Gateway implements the decrypting side. Production clients never run it;
// it exists so tests and the local fake server can terminate requests.
package crypto
