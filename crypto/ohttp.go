package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrUnsupportedKeyConfig is returned when a key configuration offers no
	// algorithm combination this package implements.
	ErrUnsupportedKeyConfig = errors.New("ohttp: unsupported key configuration")
	// ErrMalformed is returned for encapsulated messages that cannot be parsed.
	ErrMalformed = errors.New("ohttp: malformed message")
	// ErrDecrypt is returned when authenticated decryption fails.
	ErrDecrypt = errors.New("ohttp: decryption failed")
)

const (
	requestLabel  = "message/bhttp request"
	responseLabel = "message/bhttp response"

	requestHeaderLen = 7
	// max(Nn, Nk) for AES-128-GCM.
	responseNonceLen = 16
)

// SymmetricSuite is a KDF/AEAD pair advertised by a gateway.
type SymmetricSuite struct {
	KDFID  uint16
	AEADID uint16
}

// KeyConfig is an Oblivious HTTP gateway key configuration (RFC 9458 §3).
type KeyConfig struct {
	KeyID     uint8
	KEMID     uint16
	PublicKey []byte
	Suites    []SymmetricSuite
}

// Marshal encodes the key configuration in its wire format.
func (k *KeyConfig) Marshal() []byte {
	b := []byte{k.KeyID}
	b = binary.BigEndian.AppendUint16(b, k.KEMID)
	b = append(b, k.PublicKey...)
	b = binary.BigEndian.AppendUint16(b, uint16(4*len(k.Suites)))
	for _, s := range k.Suites {
		b = binary.BigEndian.AppendUint16(b, s.KDFID)
		b = binary.BigEndian.AppendUint16(b, s.AEADID)
	}
	return b
}

func (k *KeyConfig) supported() bool {
	if k.KEMID != KEMX25519HKDFSHA256 || len(k.PublicKey) != nPk {
		return false
	}
	for _, s := range k.Suites {
		if s.KDFID == KDFHKDFSHA256 && s.AEADID == AEADAES128GCM {
			return true
		}
	}
	return false
}

// ParseKeyConfig decodes a single key configuration. Only the
// X25519/HKDF-SHA256 KEM is understood, since its public key length must be
// known to parse the rest of the structure.
func ParseKeyConfig(data []byte) (*KeyConfig, error) {
	cfg, rest, err := parseKeyConfig(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after key config", ErrMalformed, len(rest))
	}
	if !cfg.supported() {
		return nil, ErrUnsupportedKeyConfig
	}
	return cfg, nil
}

// MarshalKeyConfigs encodes configs as an application/ohttp-keys body.
func MarshalKeyConfigs(configs ...*KeyConfig) []byte {
	var b []byte
	for _, c := range configs {
		encoded := c.Marshal()
		b = binary.BigEndian.AppendUint16(b, uint16(len(encoded)))
		b = append(b, encoded...)
	}
	return b
}

// ParseKeyConfigs decodes an application/ohttp-keys body, a sequence of
// 2-byte length prefixed key configurations, and returns the first one
// this package can use.
func ParseKeyConfigs(data []byte) (*KeyConfig, error) {
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("%w: truncated key config length", ErrMalformed)
		}
		n := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if n > len(data) {
			return nil, fmt.Errorf("%w: key config length %d exceeds body", ErrMalformed, n)
		}
		cfg, rest, err := parseKeyConfig(data[:n])
		data = data[n:]
		if err != nil || len(rest) != 0 {
			continue
		}
		if cfg.supported() {
			return cfg, nil
		}
	}
	return nil, ErrUnsupportedKeyConfig
}

func parseKeyConfig(data []byte) (*KeyConfig, []byte, error) {
	if len(data) < 3 {
		return nil, nil, fmt.Errorf("%w: key config too short", ErrMalformed)
	}
	cfg := &KeyConfig{
		KeyID: data[0],
		KEMID: binary.BigEndian.Uint16(data[1:3]),
	}
	if cfg.KEMID != KEMX25519HKDFSHA256 {
		return nil, nil, fmt.Errorf("%w: KEM 0x%04x", ErrUnsupportedKeyConfig, cfg.KEMID)
	}
	data = data[3:]
	if len(data) < nPk+2 {
		return nil, nil, fmt.Errorf("%w: truncated public key", ErrMalformed)
	}
	cfg.PublicKey = append([]byte{}, data[:nPk]...)
	data = data[nPk:]

	suitesLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if suitesLen%4 != 0 || suitesLen == 0 || suitesLen > len(data) {
		return nil, nil, fmt.Errorf("%w: symmetric algorithms length %d", ErrMalformed, suitesLen)
	}
	for i := 0; i < suitesLen; i += 4 {
		cfg.Suites = append(cfg.Suites, SymmetricSuite{
			KDFID:  binary.BigEndian.Uint16(data[i:]),
			AEADID: binary.BigEndian.Uint16(data[i+2:]),
		})
	}
	return cfg, data[suitesLen:], nil
}

func requestHeader(keyID uint8) []byte {
	hdr := make([]byte, 0, requestHeaderLen)
	hdr = append(hdr, keyID)
	hdr = binary.BigEndian.AppendUint16(hdr, KEMX25519HKDFSHA256)
	hdr = binary.BigEndian.AppendUint16(hdr, KDFHKDFSHA256)
	hdr = binary.BigEndian.AppendUint16(hdr, AEADAES128GCM)
	return hdr
}

func requestInfo(hdr []byte) []byte {
	info := append([]byte(requestLabel), 0x00)
	return append(info, hdr...)
}

// ClientContext holds the state needed to decrypt the response that
// belongs to one encapsulated request. It must not be reused.
type ClientContext struct {
	enc    []byte
	sealer hpke.Sealer
}

// EncapsulateRequest encrypts a Binary HTTP request to the gateway
// described by cfg. The returned context decrypts the matching response.
func EncapsulateRequest(cfg *KeyConfig, request []byte) ([]byte, *ClientContext, error) {
	if cfg == nil || !cfg.supported() {
		return nil, nil, ErrUnsupportedKeyConfig
	}

	hdr := requestHeader(cfg.KeyID)
	enc, sealer, err := setupSender(cfg.PublicKey, requestInfo(hdr))
	if err != nil {
		return nil, nil, fmt.Errorf("hpke setup: %w", err)
	}
	ct, err := sealer.Seal(request, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke seal: %w", err)
	}

	out := make([]byte, 0, len(hdr)+len(enc)+len(ct))
	out = append(out, hdr...)
	out = append(out, enc...)
	out = append(out, ct...)
	return out, &ClientContext{enc: enc, sealer: sealer}, nil
}

// DecapsulateResponse decrypts an encapsulated response.
func (c *ClientContext) DecapsulateResponse(encResponse []byte) ([]byte, error) {
	if len(encResponse) < responseNonceLen+1 {
		return nil, fmt.Errorf("%w: response of %d bytes", ErrMalformed, len(encResponse))
	}
	responseNonce := encResponse[:responseNonceLen]
	aead, nonce, err := responseKeys(c.sealer, c.enc, responseNonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, encResponse[responseNonceLen:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func responseKeys(ctx hpke.Context, enc, responseNonce []byte) (cipher.AEAD, []byte, error) {
	secret := ctx.Export([]byte(responseLabel), responseNonceLen)
	salt := append(append([]byte{}, enc...), responseNonce...)
	prk := hkdf.Extract(sha256.New, secret, salt)

	key := make([]byte, nK)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("key")), key); err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, nN)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("nonce")), nonce); err != nil {
		return nil, nil, err
	}
	aead, err := newAESGCM(key)
	if err != nil {
		return nil, nil, err
	}
	return aead, nonce, nil
}

// Gateway is the decrypting side of Oblivious HTTP. The client never runs
// one; it backs local test servers and the demo relay.
type Gateway struct {
	config     *KeyConfig
	privateKey kem.PrivateKey
}

// NewGateway creates a gateway with a fresh X25519 key under keyID.
func NewGateway(keyID uint8) (*Gateway, error) {
	sk, pk, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Gateway{
		config: &KeyConfig{
			KeyID:     keyID,
			KEMID:     KEMX25519HKDFSHA256,
			PublicKey: pk,
			Suites:    []SymmetricSuite{{KDFID: KDFHKDFSHA256, AEADID: AEADAES128GCM}},
		},
		privateKey: sk,
	}, nil
}

// KeyConfig returns the configuration clients encrypt to.
func (g *Gateway) KeyConfig() *KeyConfig {
	return g.config
}

// ServerContext encrypts the response to one decapsulated request.
type ServerContext struct {
	enc    []byte
	opener hpke.Opener
}

// DecapsulateRequest decrypts an encapsulated request addressed to g.
func (g *Gateway) DecapsulateRequest(encRequest []byte) ([]byte, *ServerContext, error) {
	if len(encRequest) < requestHeaderLen+nEnc {
		return nil, nil, fmt.Errorf("%w: request of %d bytes", ErrMalformed, len(encRequest))
	}
	hdr := encRequest[:requestHeaderLen]
	if hdr[0] != g.config.KeyID {
		return nil, nil, fmt.Errorf("%w: unknown key id %d", ErrUnsupportedKeyConfig, hdr[0])
	}
	if binary.BigEndian.Uint16(hdr[1:]) != KEMX25519HKDFSHA256 ||
		binary.BigEndian.Uint16(hdr[3:]) != KDFHKDFSHA256 ||
		binary.BigEndian.Uint16(hdr[5:]) != AEADAES128GCM {
		return nil, nil, ErrUnsupportedKeyConfig
	}

	enc := encRequest[requestHeaderLen : requestHeaderLen+nEnc]
	opener, err := setupReceiver(enc, g.privateKey, requestInfo(hdr))
	if err != nil {
		return nil, nil, fmt.Errorf("hpke setup: %w", err)
	}
	plaintext, err := opener.Open(encRequest[requestHeaderLen+nEnc:], nil)
	if err != nil {
		return nil, nil, ErrDecrypt
	}
	return plaintext, &ServerContext{enc: append([]byte{}, enc...), opener: opener}, nil
}

// EncapsulateResponse encrypts a Binary HTTP response for the client that
// sent the matching request.
func (s *ServerContext) EncapsulateResponse(response []byte) ([]byte, error) {
	responseNonce := make([]byte, responseNonceLen)
	if _, err := rand.Read(responseNonce); err != nil {
		return nil, fmt.Errorf("generate response nonce: %w", err)
	}
	aead, nonce, err := responseKeys(s.opener, s.enc, responseNonce)
	if err != nil {
		return nil, err
	}
	return append(responseNonce, aead.Seal(nil, nonce, response, nil)...), nil
}
