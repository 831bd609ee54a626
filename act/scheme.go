package act

import (
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	SecurityParameter      = 128
	ChallengeLengthBits    = 128
	CamenischShoupS        = 1
	VectorEncryptionLength = 2
	PedersenBatchSize      = 32
	ModulusLengthBits      = 2048
	CurveID                = 415 // NID_X9_62_prime256v1
	RandomOraclePrefix     = "ActV0SchemeParametersPedersenBatchSize32ModulusLengthBits2048"
)

const schemeParametersVersionV0 = "ActV0"

// SchemeParameters holds the fixed ACT scheme constants.
type SchemeParameters struct {
	Version                string
	SecurityParameter      uint32
	ChallengeLengthBits    uint32
	CamenischShoupS        uint32
	VectorEncryptionLength uint32
	PedersenBatchSize      uint32
	ModulusLengthBits      uint32
	CurveID                uint32
	RandomOraclePrefix     string
}

// DefaultSchemeParameters returns a fresh copy of the version 0 scheme parameters.
func DefaultSchemeParameters() *SchemeParameters {
	return &SchemeParameters{
		Version:                schemeParametersVersionV0,
		SecurityParameter:      SecurityParameter,
		ChallengeLengthBits:    ChallengeLengthBits,
		CamenischShoupS:        CamenischShoupS,
		VectorEncryptionLength: VectorEncryptionLength,
		PedersenBatchSize:      PedersenBatchSize,
		ModulusLengthBits:      ModulusLengthBits,
		CurveID:                CurveID,
		RandomOraclePrefix:     RandomOraclePrefix,
	}
}

// Bytes serializes the parameters in protobuf wire format with fields in
// ascending order, which keeps the encoding deterministic.
func (p *SchemeParameters) Bytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.SecurityParameter))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.ChallengeLengthBits))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.CamenischShoupS))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.VectorEncryptionLength))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.PedersenBatchSize))
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.ModulusLengthBits))
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendString(b, p.RandomOraclePrefix)
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.CurveID))
	return b
}
