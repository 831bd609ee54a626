package protocol

import (
	"encoding/json"

	"github.com/flashbots/kanon/act"
)

const (
	ContentTypeProtobuf      = "application/x-protobuf"
	ContentTypeJSON          = "application/json"
	ContentTypeOHTTPRequest  = "message/ohttp-req"
	ContentTypeOHTTPResponse = "message/ohttp-res"
	ContentTypeOHTTPKeys     = "application/ohttp-keys"
)

// JoinScheme is the scheme of the Binary HTTP join request.
const JoinScheme = "https"

// JoinPath returns the join target path for a hash set.
func JoinPath(hashSet string) string {
	return "/v2/" + hashSet + ":join"
}

// JoinRequestBody is the JSON body of a join request. Byte fields are
// encoded as standard base64 by encoding/json.
type JoinRequestBody struct {
	ACT JoinACT `json:"act"`
}

type JoinACT struct {
	NonceBytes []byte  `json:"nonce_bytes"`
	TokenV0    TokenV0 `json:"token_v0"`
}

type TokenV0 struct {
	BBSignature []byte `json:"bb_signature"`
}

// NewJoinRequestBody wraps a recovered token.
func NewJoinRequestBody(token act.Token) *JoinRequestBody {
	return &JoinRequestBody{
		ACT: JoinACT{
			NonceBytes: token.NonceBytes,
			TokenV0:    TokenV0{BBSignature: token.BBSignature},
		},
	}
}

// Marshal encodes the body as JSON.
func (j *JoinRequestBody) Marshal() ([]byte, error) {
	return json.Marshal(j)
}
