package protocol

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// AuthType tells the issuing server how the request is authenticated.
type AuthType int32

const (
	AuthTypeUnspecified AuthType = 0
	AuthTypeAttestation AuthType = 1
)

// GetServerPublicParamsResponse is returned by the server parameters endpoint.
type GetServerPublicParamsResponse struct {
	ServerPublicParams  []byte
	ServerParamsVersion string
	CreationTimestamp   time.Time
	JoinExpiryTimestamp time.Time
	SignExpiryTimestamp time.Time
}

// RequestMetadata identifies and authenticates the client on sign requests.
type RequestMetadata struct {
	AuthType    AuthType
	ClientID    string
	Attestation []byte
}

// RegisterClientRequest registers freshly generated client parameters.
type RegisterClientRequest struct {
	ClientPublicParams  []byte
	ServerParamsVersion string
	RequestMetadata     *RequestMetadata
}

// RegisterClientResponse carries the server-assigned client parameters version.
type RegisterClientResponse struct {
	ClientParamsVersion string
	ClientParamsExpiry  time.Time
}

// GetTokensRequest asks the server to sign one batch of messages.
type GetTokensRequest struct {
	ClientFingerprintsBytes []byte
	TokensRequest           []byte
	ClientParamsVersion     string
	RequestMetadata         *RequestMetadata
}

// GetTokensResponse carries the server's blinded signatures.
type GetTokensResponse struct {
	TokensResponse []byte
}

func (m *GetServerPublicParamsResponse) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	b = appendBytesField(b, 1, m.ServerPublicParams)
	b = appendStringField(b, 2, m.ServerParamsVersion)
	if b, err = appendTimestampField(b, 3, m.CreationTimestamp); err != nil {
		return nil, err
	}
	if b, err = appendTimestampField(b, 4, m.JoinExpiryTimestamp); err != nil {
		return nil, err
	}
	if b, err = appendTimestampField(b, 5, m.SignExpiryTimestamp); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *GetServerPublicParamsResponse) Unmarshal(data []byte) error {
	*m = GetServerPublicParamsResponse{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case 1:
			m.ServerPublicParams, n, err = consumeBytesField(typ, b)
		case 2:
			m.ServerParamsVersion, n, err = consumeStringField(typ, b)
		case 3:
			m.CreationTimestamp, n, err = consumeTimestampField(typ, b)
		case 4:
			m.JoinExpiryTimestamp, n, err = consumeTimestampField(typ, b)
		case 5:
			m.SignExpiryTimestamp, n, err = consumeTimestampField(typ, b)
		}
		return n, err
	})
}

func (m *RequestMetadata) Marshal() ([]byte, error) {
	var b []byte
	if m.AuthType != AuthTypeUnspecified {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.AuthType))
	}
	b = appendStringField(b, 2, m.ClientID)
	b = appendBytesField(b, 3, m.Attestation)
	return b, nil
}

func (m *RequestMetadata) Unmarshal(data []byte) error {
	*m = RequestMetadata{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case 1:
			var v uint64
			v, n, err = consumeVarintField(typ, b)
			m.AuthType = AuthType(int32(v))
		case 2:
			m.ClientID, n, err = consumeStringField(typ, b)
		case 3:
			m.Attestation, n, err = consumeBytesField(typ, b)
		}
		return n, err
	})
}

func (m *RegisterClientRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytesField(b, 1, m.ClientPublicParams)
	b = appendStringField(b, 2, m.ServerParamsVersion)
	return appendMetadataField(b, 3, m.RequestMetadata)
}

func (m *RegisterClientRequest) Unmarshal(data []byte) error {
	*m = RegisterClientRequest{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case 1:
			m.ClientPublicParams, n, err = consumeBytesField(typ, b)
		case 2:
			m.ServerParamsVersion, n, err = consumeStringField(typ, b)
		case 3:
			m.RequestMetadata, n, err = consumeMetadataField(typ, b)
		}
		return n, err
	})
}

func (m *RegisterClientResponse) Marshal() ([]byte, error) {
	b := appendStringField(nil, 1, m.ClientParamsVersion)
	return appendTimestampField(b, 2, m.ClientParamsExpiry)
}

func (m *RegisterClientResponse) Unmarshal(data []byte) error {
	*m = RegisterClientResponse{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case 1:
			m.ClientParamsVersion, n, err = consumeStringField(typ, b)
		case 2:
			m.ClientParamsExpiry, n, err = consumeTimestampField(typ, b)
		}
		return n, err
	})
}

func (m *GetTokensRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytesField(b, 1, m.ClientFingerprintsBytes)
	b = appendBytesField(b, 2, m.TokensRequest)
	b = appendStringField(b, 3, m.ClientParamsVersion)
	return appendMetadataField(b, 4, m.RequestMetadata)
}

func (m *GetTokensRequest) Unmarshal(data []byte) error {
	*m = GetTokensRequest{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case 1:
			m.ClientFingerprintsBytes, n, err = consumeBytesField(typ, b)
		case 2:
			m.TokensRequest, n, err = consumeBytesField(typ, b)
		case 3:
			m.ClientParamsVersion, n, err = consumeStringField(typ, b)
		case 4:
			m.RequestMetadata, n, err = consumeMetadataField(typ, b)
		}
		return n, err
	})
}

func (m *GetTokensResponse) Marshal() ([]byte, error) {
	return appendBytesField(nil, 1, m.TokensResponse), nil
}

func (m *GetTokensResponse) Unmarshal(data []byte) error {
	*m = GetTokensResponse{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		var n int
		var err error
		m.TokensResponse, n, err = consumeBytesField(typ, b)
		return n, err
	})
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendTimestampField(b []byte, num protowire.Number, t time.Time) ([]byte, error) {
	if t.IsZero() {
		return b, nil
	}
	ts, err := proto.Marshal(timestamppb.New(t))
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts), nil
}

func appendMetadataField(b []byte, num protowire.Number, m *RequestMetadata) ([]byte, error) {
	if m == nil {
		return b, nil
	}
	encoded, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, encoded), nil
}

// consumeFields walks the fields of an encoded message. fn returns how many
// bytes of the field value it consumed; zero leaves unknown fields to be
// skipped.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return wireError(n)
		}
		data = data[n:]

		n, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return wireError(n)
			}
		}
		data = data[n:]
	}
	return nil
}

func wireError(n int) error {
	return fmt.Errorf("%w: %v", ErrCryptoFormat, protowire.ParseError(n))
}

func expectType(got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("%w: wire type %d, expected %d", ErrCryptoFormat, got, want)
	}
	return nil
}

func consumeBytesField(typ protowire.Type, b []byte) ([]byte, int, error) {
	if err := expectType(typ, protowire.BytesType); err != nil {
		return nil, 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(n)
	}
	return append([]byte{}, v...), n, nil
}

func consumeStringField(typ protowire.Type, b []byte) (string, int, error) {
	v, n, err := consumeBytesField(typ, b)
	return string(v), n, err
}

func consumeVarintField(typ protowire.Type, b []byte) (uint64, int, error) {
	if err := expectType(typ, protowire.VarintType); err != nil {
		return 0, 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireError(n)
	}
	return v, n, nil
}

func consumeTimestampField(typ protowire.Type, b []byte) (time.Time, int, error) {
	v, n, err := consumeBytesField(typ, b)
	if err != nil {
		return time.Time{}, 0, err
	}
	ts := &timestamppb.Timestamp{}
	if err := proto.Unmarshal(v, ts); err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: timestamp: %v", ErrCryptoFormat, err)
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: timestamp: %v", ErrCryptoFormat, err)
	}
	return ts.AsTime(), n, nil
}

func consumeMetadataField(typ protowire.Type, b []byte) (*RequestMetadata, int, error) {
	v, n, err := consumeBytesField(typ, b)
	if err != nil {
		return nil, 0, err
	}
	m := &RequestMetadata{}
	if err := m.Unmarshal(v); err != nil {
		return nil, 0, err
	}
	return m, n, nil
}
