package client

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/protocol"
)

// SignAndJoiner runs a sign/join cycle over a set of messages.
type SignAndJoiner interface {
	SignAndJoinMessages(ctx context.Context, msgs []*protocol.Message) error
}

// Manager decides which messages need signing and joining and when.
type Manager struct {
	config   *protocol.Config
	caller   SignAndJoiner
	messages protocol.MessageStore
	clock    clock.Clock
	log      *slog.Logger

	// randIntN returns a uniform integer in [0, n).
	randIntN func(n int) int

	// immediate tracks cycles started by ProcessNewMessages.
	immediate sync.WaitGroup
}

// NewManager creates a Manager. clk and log may be nil.
func NewManager(config *protocol.Config, caller SignAndJoiner, messages protocol.MessageStore, clk clock.Clock, log *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		config:   config,
		caller:   caller,
		messages: messages,
		clock:    clk,
		log:      log,
		randIntN: rand.IntN,
	}
}

// ProcessNewMessages stores the messages that need a (new) membership proof
// as NOT_PROCESSED and, with probability ImmediateJoinPercentage/100, starts
// a sign/join cycle for them in the background. Otherwise they wait for the
// background worker. The cycle outlives ctx; Wait blocks until it is done.
// Errors are only returned for the lookup and store steps.
//
// A message is kept when no record with its hash set exists, or when every
// existing record is SIGNED or JOINED with expired client parameters.
// Pending and FAILED records keep their hash set out; the worker retries
// FAILED ones.
// Duplicate hash sets within msgs are kept once. The kept messages are
// returned.
func (m *Manager) ProcessNewMessages(ctx context.Context, msgs []*protocol.Message) ([]*protocol.Message, error) {
	eligible, err := m.filterNew(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	if err := m.messages.InsertNew(ctx, eligible); err != nil {
		return nil, fmt.Errorf("storing new messages: %w", err)
	}

	if m.randIntN(100) < m.config.ImmediateJoinPercentage {
		m.log.Debug("processing new messages immediately", "messages", len(eligible))
		m.dispatch(context.WithoutCancel(ctx), eligible)
		return eligible, nil
	}

	m.log.Debug("deferred new messages to background worker", "messages", len(eligible))
	return eligible, nil
}

func (m *Manager) dispatch(ctx context.Context, msgs []*protocol.Message) {
	m.immediate.Add(1)
	go func() {
		defer m.immediate.Done()
		if err := m.caller.SignAndJoinMessages(ctx, msgs); err != nil {
			// stored as NOT_PROCESSED, the worker picks them up
			m.log.Warn("immediate processing failed", "messages", len(msgs), "err", err)
		}
	}()
}

// Wait blocks until every cycle started by ProcessNewMessages has returned.
func (m *Manager) Wait() {
	m.immediate.Wait()
}

func (m *Manager) filterNew(ctx context.Context, msgs []*protocol.Message) ([]*protocol.Message, error) {
	now := m.clock.Now()
	seen := make(map[string]struct{}, len(msgs))

	var eligible []*protocol.Message
	for _, msg := range msgs {
		if _, ok := seen[msg.HashSet]; ok {
			continue
		}
		seen[msg.HashSet] = struct{}{}

		existing, err := m.messages.FetchByHash(ctx, msg.HashSet)
		if err != nil {
			return nil, fmt.Errorf("looking up %q: %w", msg.HashSet, err)
		}
		if !needsProcessing(existing, now) {
			continue
		}

		eligible = append(eligible, &protocol.Message{
			AdSelectionID: msg.AdSelectionID,
			HashSet:       msg.HashSet,
			Status:        protocol.StatusNotProcessed,
		})
	}
	return eligible, nil
}

func needsProcessing(existing []*protocol.Message, now time.Time) bool {
	for _, record := range existing {
		if !record.NeedsProcessing(now) {
			return false
		}
	}
	return true
}

// ProcessMessagesFromDatabase signs and joins up to limit stored
// NOT_PROCESSED messages, most recent first. With RetryFailedMessages the
// remainder of limit is filled with FAILED messages. It returns how many
// messages were handed to the Caller.
func (m *Manager) ProcessMessagesFromDatabase(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	msgs, err := m.messages.FetchNWithStatus(ctx, limit, protocol.StatusNotProcessed)
	if err != nil {
		return 0, fmt.Errorf("fetching unprocessed messages: %w", err)
	}

	if m.config.RetryFailedMessages && len(msgs) < limit {
		failed, err := m.messages.FetchNWithStatus(ctx, limit-len(msgs), protocol.StatusFailed)
		if err != nil {
			return 0, fmt.Errorf("fetching failed messages: %w", err)
		}
		msgs = append(msgs, failed...)
	}

	if len(msgs) == 0 {
		return 0, nil
	}
	return len(msgs), m.caller.SignAndJoinMessages(ctx, msgs)
}
