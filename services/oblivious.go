package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flashbots/kanon/crypto"
	"github.com/flashbots/kanon/protocol"
)

// ObliviousEncryptor implements protocol.ObliviousEncryptor on top of a
// KeyConfigSource.
type ObliviousEncryptor struct {
	keys KeyConfigSource
	log  *slog.Logger
}

// NewObliviousEncryptor creates an encryptor using keys from source.
func NewObliviousEncryptor(source KeyConfigSource, log *slog.Logger) *ObliviousEncryptor {
	return &ObliviousEncryptor{keys: source, log: log}
}

// EncapsulateRequest encrypts request under a fresh context. contextID is
// only used for logging.
func (e *ObliviousEncryptor) EncapsulateRequest(ctx context.Context, contextID uint64, request []byte) ([]byte, protocol.ObliviousContext, error) {
	cfg, err := e.keys.KeyConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading key config: %w", err)
	}

	encapsulated, clientCtx, err := crypto.EncapsulateRequest(cfg, request)
	if err != nil {
		return nil, nil, fmt.Errorf("encapsulating request %d: %w", contextID, err)
	}

	e.log.Debug("encapsulated join request", "context", contextID, "key_id", cfg.KeyID, "size", len(encapsulated))
	return encapsulated, clientCtx, nil
}
