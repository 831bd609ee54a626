package act

import (
	"errors"
)

// ErrCryptoFormat reports a malformed ACT blob or a response that failed
// verification during recovery.
var ErrCryptoFormat = errors.New("act: malformed or unverifiable cryptographic input")

// ClientParameters is the client key material produced by GenerateClientParameters.
type ClientParameters struct {
	PublicParams  []byte
	PrivateParams []byte
}

// Parameters bundles every parameter set an ACT call depends on.
type Parameters struct {
	Scheme        *SchemeParameters
	ClientPublic  []byte
	ClientPrivate []byte
	ServerPublic  []byte
}

// TokensRequest is the blinded request for one batch of messages together
// with the state needed to verify and unblind the issuer's response.
type TokensRequest struct {
	Request            []byte
	ClientFingerprints []byte
	PrivateState       []byte
}

// Token is an unblinded ACT token for a single message.
type Token struct {
	NonceBytes  []byte
	BBSignature []byte
}

// TokensSet holds recovered tokens, index-aligned with the request's messages.
type TokensSet struct {
	Tokens []Token
}

// Engine is the ACT library boundary. Implementations must be safe for
// concurrent use; the client calls them from parallel batch goroutines.
type Engine interface {
	// GenerateClientParameters creates client parameters bound to the server's public parameters.
	GenerateClientParameters(scheme *SchemeParameters, serverPublic []byte) (*ClientParameters, error)

	// GenerateTokensRequest blinds messages into a single tokens request.
	GenerateTokensRequest(messages []string, params *Parameters) (*TokensRequest, error)

	// VerifyTokensResponse returns false for a well-formed response that does
	// not verify. An error is returned only when an input cannot be parsed.
	VerifyTokensResponse(messages []string, request *TokensRequest, response []byte, params *Parameters) (bool, error)

	// RecoverTokens returns one token per message in request order.
	RecoverTokens(messages []string, request *TokensRequest, response []byte, params *Parameters) (*TokensSet, error)
}
