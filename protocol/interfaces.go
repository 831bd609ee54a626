package protocol

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageStore persists messages and their processing status. Implementations
// must be safe for concurrent use.
type MessageStore interface {
	// InsertNew stores messages, assigning ID and CreatedAt on each.
	InsertNew(ctx context.Context, messages []*Message) error

	// FetchByHash returns every stored message with the given hash set.
	FetchByHash(ctx context.Context, hashSet string) ([]*Message, error)

	// FetchNWithStatus returns at most n messages in the given status,
	// most recently created first.
	FetchNWithStatus(ctx context.Context, n int, status MessageStatus) ([]*Message, error)

	// UpdateStatus sets status on the given messages, identified by ID. The
	// messages' CorrespondingClientParamsExpiry is persisted when set.
	UpdateStatus(ctx context.Context, messages []*Message, status MessageStatus) error
}

// ParameterStore persists the active client and server parameters.
type ParameterStore interface {
	// ActiveClientParameters returns the client parameters expiring after
	// now, or nil if there are none.
	ActiveClientParameters(ctx context.Context, now time.Time) (*ClientParameters, error)

	// ActiveServerParameters returns all server parameters whose sign
	// expiry is after now.
	ActiveServerParameters(ctx context.Context, now time.Time) ([]*ServerParameters, error)

	DeleteAllClientParameters(ctx context.Context) error
	DeleteAllServerParameters(ctx context.Context) error
	InsertClientParameters(ctx context.Context, params *ClientParameters) error
	InsertServerParameters(ctx context.Context, params *ServerParameters) error

	// ReplaceParameters deletes all client and server parameters and inserts
	// the given pair as one unit.
	ReplaceParameters(ctx context.Context, client *ClientParameters, server *ServerParameters) error
}

// SignTransport talks to the token issuing server.
type SignTransport interface {
	FetchServerParameters(ctx context.Context) (*GetServerPublicParamsResponse, error)
	RegisterClient(ctx context.Context, req *RegisterClientRequest) (*RegisterClientResponse, error)
	GetTokens(ctx context.Context, req *GetTokensRequest) (*GetTokensResponse, error)
}

// JoinTransport posts an encapsulated join request and returns the
// encapsulated response bytes.
type JoinTransport interface {
	Join(ctx context.Context, encapsulatedRequest []byte) ([]byte, error)
}

// ObliviousContext decrypts the response that belongs to one encapsulated
// request.
type ObliviousContext interface {
	DecapsulateResponse(encapsulatedResponse []byte) ([]byte, error)
}

// ObliviousEncryptor encapsulates join requests. Every call returns a fresh
// context; contextID only labels it.
type ObliviousEncryptor interface {
	EncapsulateRequest(ctx context.Context, contextID uint64, request []byte) ([]byte, ObliviousContext, error)
}

// ProfileIDSource supplies the stable client identifier client parameters
// are bound to.
type ProfileIDSource interface {
	ProfileID(ctx context.Context) (uuid.UUID, error)
}
