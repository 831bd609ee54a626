package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

// HPKE algorithm identifiers (RFC 9180 §7). Only the suite below is supported.
const (
	KEMX25519HKDFSHA256 = uint16(hpke.KEM_X25519_HKDF_SHA256)
	KDFHKDFSHA256       = uint16(hpke.KDF_HKDF_SHA256)
	AEADAES128GCM       = uint16(hpke.AEAD_AES128GCM)
)

const (
	nEnc = 32
	nPk  = 32
	nK   = 16
	nN   = 12
)

var (
	suite     = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES128GCM)
	kemScheme = hpke.KEM_X25519_HKDF_SHA256.Scheme()
)

// generateKeyPair returns a fresh X25519 key pair for a gateway.
func generateKeyPair() (kem.PrivateKey, []byte, error) {
	pk, sk, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate key pair: %w", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}
	return sk, pkBytes, nil
}

// setupSender runs SetupBaseS against the encoded public key pkR and
// returns the encapsulated key with the sealing context.
func setupSender(pkR, info []byte) ([]byte, hpke.Sealer, error) {
	pk, err := kemScheme.UnmarshalBinaryPublicKey(pkR)
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	sender, err := suite.NewSender(pk, info)
	if err != nil {
		return nil, nil, err
	}
	return sender.Setup(rand.Reader)
}

// setupReceiver runs SetupBaseR for the encapsulated key enc.
func setupReceiver(enc []byte, skR kem.PrivateKey, info []byte) (hpke.Opener, error) {
	receiver, err := suite.NewReceiver(skR, info)
	if err != nil {
		return nil, err
	}
	return receiver.Setup(enc)
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	aead, err := hpke.AEAD_AES128GCM.New(key)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}
