package act

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const mockDigestSize = sha256.Size

// MockEngine implements Engine with SHA-256 commitments instead of real ACT
// cryptography. Each behaviour can be replaced through its function field,
// which lets tests inject verification or recovery failures for chosen batches.
type MockEngine struct {
	GenerateClientParametersFunc func(scheme *SchemeParameters, serverPublic []byte) (*ClientParameters, error)
	GenerateTokensRequestFunc    func(messages []string, params *Parameters) (*TokensRequest, error)
	VerifyTokensResponseFunc     func(messages []string, request *TokensRequest, response []byte, params *Parameters) (bool, error)
	RecoverTokensFunc            func(messages []string, request *TokensRequest, response []byte, params *Parameters) (*TokensSet, error)
}

// NewMockEngine creates a mock engine with default implementations.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		GenerateClientParametersFunc: MockGenerateClientParameters,
		GenerateTokensRequestFunc:    MockGenerateTokensRequest,
		VerifyTokensResponseFunc:     MockVerifyTokensResponse,
		RecoverTokensFunc:            MockRecoverTokens,
	}
}

func (m *MockEngine) GenerateClientParameters(scheme *SchemeParameters, serverPublic []byte) (*ClientParameters, error) {
	return m.GenerateClientParametersFunc(scheme, serverPublic)
}

func (m *MockEngine) GenerateTokensRequest(messages []string, params *Parameters) (*TokensRequest, error) {
	return m.GenerateTokensRequestFunc(messages, params)
}

func (m *MockEngine) VerifyTokensResponse(messages []string, request *TokensRequest, response []byte, params *Parameters) (bool, error) {
	return m.VerifyTokensResponseFunc(messages, request, response, params)
}

func (m *MockEngine) RecoverTokens(messages []string, request *TokensRequest, response []byte, params *Parameters) (*TokensSet, error) {
	return m.RecoverTokensFunc(messages, request, response, params)
}

// MockGenerateClientParameters derives fresh client parameters from the
// server public parameters and a random seed.
func MockGenerateClientParameters(scheme *SchemeParameters, serverPublic []byte) (*ClientParameters, error) {
	if scheme == nil || len(serverPublic) == 0 {
		return nil, fmt.Errorf("%w: empty scheme or server parameters", ErrCryptoFormat)
	}
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	public := digest([]byte("mock-client-public"), serverPublic, seed)
	private := digest([]byte("mock-client-private"), public)
	return &ClientParameters{PublicParams: public, PrivateParams: private}, nil
}

// MockGenerateTokensRequest commits to every message under the client public parameters.
func MockGenerateTokensRequest(messages []string, params *Parameters) (*TokensRequest, error) {
	if err := checkParameters(params); err != nil {
		return nil, err
	}
	request := make([]byte, 0, len(messages)*mockDigestSize)
	for _, msg := range messages {
		request = append(request, digest(params.ClientPublic, []byte(msg))...)
	}
	return &TokensRequest{
		Request:            request,
		ClientFingerprints: digest([]byte("mock-fingerprint"), params.ClientPublic),
		PrivateState:       digest(params.ClientPrivate, request),
	}, nil
}

// MockIssueTokens is the issuer side of the mock scheme: it signs every
// message commitment of a tokens request with the server public parameters.
func MockIssueTokens(request []byte, serverPublic []byte) ([]byte, error) {
	if len(request)%mockDigestSize != 0 {
		return nil, fmt.Errorf("%w: tokens request length %d", ErrCryptoFormat, len(request))
	}
	response := make([]byte, 0, len(request))
	for i := 0; i < len(request); i += mockDigestSize {
		response = append(response, digest(serverPublic, request[i:i+mockDigestSize])...)
	}
	return response, nil
}

// MockVerifyTokensResponse recomputes the issuer signatures and compares them.
func MockVerifyTokensResponse(messages []string, request *TokensRequest, response []byte, params *Parameters) (bool, error) {
	if err := checkParameters(params); err != nil {
		return false, err
	}
	if request == nil || len(request.Request) != len(messages)*mockDigestSize {
		return false, fmt.Errorf("%w: tokens request does not cover %d messages", ErrCryptoFormat, len(messages))
	}
	if len(response) != len(request.Request) {
		return false, fmt.Errorf("%w: tokens response length %d", ErrCryptoFormat, len(response))
	}
	expected, err := MockIssueTokens(request.Request, params.ServerPublic)
	if err != nil {
		return false, err
	}
	return bytes.Equal(expected, response), nil
}

// MockRecoverTokens verifies the response and splits it into per-message tokens.
func MockRecoverTokens(messages []string, request *TokensRequest, response []byte, params *Parameters) (*TokensSet, error) {
	ok, err := MockVerifyTokensResponse(messages, request, response, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: tokens response does not verify", ErrCryptoFormat)
	}

	tokens := make([]Token, len(messages))
	for i, msg := range messages {
		tokens[i] = Token{
			NonceBytes:  digest([]byte("mock-nonce"), []byte(msg))[:16],
			BBSignature: bytes.Clone(response[i*mockDigestSize : (i+1)*mockDigestSize]),
		}
	}
	return &TokensSet{Tokens: tokens}, nil
}

func checkParameters(params *Parameters) error {
	if params == nil || params.Scheme == nil {
		return fmt.Errorf("%w: missing parameters", ErrCryptoFormat)
	}
	if len(params.ClientPublic) == 0 || len(params.ClientPrivate) == 0 || len(params.ServerPublic) == 0 {
		return fmt.Errorf("%w: empty parameter blob", ErrCryptoFormat)
	}
	return nil
}

func digest(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
