package protocol

import (
	"time"

	"github.com/flashbots/kanon/act"
	"github.com/google/uuid"
)

// MessageStatus is the processing state of a Message.
type MessageStatus string

const (
	StatusNotProcessed MessageStatus = "NOT_PROCESSED"
	StatusSigned       MessageStatus = "SIGNED"
	StatusJoined       MessageStatus = "JOINED"
	StatusFailed       MessageStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusNotProcessed, StatusSigned, StatusJoined, StatusFailed:
		return true
	}
	return false
}

// Processed reports whether a message in this state already holds a token.
func (s MessageStatus) Processed() bool {
	return s == StatusSigned || s == StatusJoined
}

// CanTransition reports whether a message in state s may move to next.
// Re-applying the current status is always allowed. FAILED may restart the
// sign phase, which only happens when a later cycle retries the message.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusNotProcessed, StatusFailed:
		return next == StatusSigned || next == StatusFailed
	case StatusSigned:
		return next == StatusJoined || next == StatusFailed
	}
	return false
}

// Message is a single k-anonymity set membership to be signed and joined.
type Message struct {
	// ID is assigned by the MessageStore on insertion.
	ID *int64 `json:"id,omitempty"`

	// AdSelectionID identifies the ad selection that produced the message.
	// Several messages may share one.
	AdSelectionID uint64 `json:"ad_selection_id"`

	// HashSet is the anonymity set identifier.
	HashSet string `json:"hash_set"`

	Status MessageStatus `json:"status"`

	// CorrespondingClientParamsExpiry is the expiry of the client parameters
	// the message was signed with. Once it passes the membership has to be
	// proven again.
	CorrespondingClientParamsExpiry *time.Time `json:"corresponding_client_params_expiry,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NeedsProcessing reports whether a message with the same hash set as m
// should be signed and joined again at time now. Only SIGNED or JOINED
// records whose client parameters have expired qualify. FAILED records are
// retried by the background worker instead.
func (m *Message) NeedsProcessing(now time.Time) bool {
	if !m.Status.Processed() {
		return false
	}
	return m.CorrespondingClientParamsExpiry != nil && !m.CorrespondingClientParamsExpiry.After(now)
}

// ClientParameters are the client's ACT parameters as registered with the
// issuing server.
type ClientParameters struct {
	ClientID      uuid.UUID
	Version       string
	PrivateParams []byte
	PublicParams  []byte
	Expiry        time.Time
}

// Active reports whether the parameters are still usable at now.
func (c *ClientParameters) Active(now time.Time) bool {
	return c.Expiry.After(now)
}

// ServerParameters are the issuing server's published ACT parameters.
type ServerParameters struct {
	Version      string
	PublicParams []byte
	Creation     time.Time
	JoinExpiry   time.Time
	SignExpiry   time.Time
}

// Active reports whether new tokens may still be signed against the
// parameters at now.
func (s *ServerParameters) Active(now time.Time) bool {
	return s.SignExpiry.After(now)
}

// ResolvedParameters is the parameter pair one sign/join call operates on.
// It is produced once per call and never mutated.
type ResolvedParameters struct {
	Client ClientParameters
	Server ServerParameters
}

// ACT returns the engine view of the parameters.
func (r *ResolvedParameters) ACT(scheme *act.SchemeParameters) *act.Parameters {
	return &act.Parameters{
		Scheme:        scheme,
		ClientPublic:  r.Client.PublicParams,
		ClientPrivate: r.Client.PrivateParams,
		ServerPublic:  r.Server.PublicParams,
	}
}
