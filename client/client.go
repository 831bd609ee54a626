package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/act"
	"github.com/flashbots/kanon/bhttp"
	"github.com/flashbots/kanon/common"
	"github.com/flashbots/kanon/metrics"
	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/tdx"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators a Caller is built from. Clock,
// Attestation, Metrics and Log are optional.
type Dependencies struct {
	Engine      act.Engine
	Messages    protocol.MessageStore
	Parameters  protocol.ParameterStore
	Sign        protocol.SignTransport
	Join        protocol.JoinTransport
	Oblivious   protocol.ObliviousEncryptor
	Profile     protocol.ProfileIDSource
	Attestation tdx.AttestationProvider
	Clock       clock.Clock
	Metrics     *metrics.Collectors
	Log         *slog.Logger
}

// Caller signs batches of messages with the issuing server and joins each
// signed message through the oblivious gateway. Progress is recorded only in
// the message store.
type Caller struct {
	config      *protocol.Config
	scheme      *act.SchemeParameters
	engine      act.Engine
	messages    protocol.MessageStore
	parameters  protocol.ParameterStore
	sign        protocol.SignTransport
	join        protocol.JoinTransport
	oblivious   protocol.ObliviousEncryptor
	profile     protocol.ProfileIDSource
	attestation tdx.AttestationProvider
	clock       clock.Clock
	metrics     *metrics.Collectors
	log         *slog.Logger
}

// NewCaller creates a Caller. The scheme parameters are computed once here.
func NewCaller(config *protocol.Config, deps Dependencies) (*Caller, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Engine == nil {
		return nil, errors.New("ACT engine cannot be nil")
	}
	if deps.Messages == nil || deps.Parameters == nil {
		return nil, errors.New("message and parameter stores cannot be nil")
	}
	if deps.Sign == nil || deps.Join == nil {
		return nil, errors.New("sign and join transports cannot be nil")
	}
	if deps.Oblivious == nil {
		return nil, errors.New("oblivious encryptor cannot be nil")
	}
	if deps.Profile == nil {
		return nil, errors.New("profile id source cannot be nil")
	}

	c := &Caller{
		config:      config,
		scheme:      act.DefaultSchemeParameters(),
		engine:      deps.Engine,
		messages:    deps.Messages,
		parameters:  deps.Parameters,
		sign:        deps.Sign,
		join:        deps.Join,
		oblivious:   deps.Oblivious,
		profile:     deps.Profile,
		attestation: deps.Attestation,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		log:         deps.Log,
	}
	if c.attestation == nil {
		c.attestation = &tdx.DummyProvider{}
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewCollectors(common.PackageName, nil)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// SignAndJoinMessages runs one sign/join cycle over msgs. Messages without an
// ID are stored as NOT_PROCESSED first.
//
// Only parameter resolution failures are returned: no message has been
// attempted at that point. Batch and join failures are recorded as FAILED
// and logged. Cancelling ctx stops further batches from starting; requests
// already sent are allowed to finish and their outcome is recorded.
func (c *Caller) SignAndJoinMessages(ctx context.Context, msgs []*protocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.storeUnsaved(ctx, msgs); err != nil {
		return err
	}

	params, err := c.resolveParameters(ctx)
	if err != nil {
		c.log.Error("could not resolve ACT parameters", "messages", len(msgs), "err", err)
		return fmt.Errorf("resolving parameters: %w", err)
	}

	batches := splitBatches(msgs, c.config.MessagesPerBatch)
	c.log.Info("processing messages", "messages", len(msgs), "batches", len(batches),
		"client_params_version", params.Client.Version, "server_params_version", params.Server.Version)

	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrentBatches)
	for i, batch := range batches {
		if ctx.Err() != nil {
			c.log.Info("stopping before remaining batches", "started", i, "batches", len(batches))
			break
		}
		g.Go(func() error {
			c.processBatch(ctx, i, batch, params)
			return nil
		})
	}
	return g.Wait()
}

func (c *Caller) storeUnsaved(ctx context.Context, msgs []*protocol.Message) error {
	var unsaved []*protocol.Message
	for _, m := range msgs {
		if m.ID == nil {
			m.Status = protocol.StatusNotProcessed
			unsaved = append(unsaved, m)
		}
	}
	if len(unsaved) == 0 {
		return nil
	}
	if err := c.messages.InsertNew(ctx, unsaved); err != nil {
		return fmt.Errorf("storing messages: %w", err)
	}
	return nil
}

// splitBatches partitions msgs into consecutive batches of at most size
// messages, preserving order.
func splitBatches(msgs []*protocol.Message, size int) [][]*protocol.Message {
	batches := make([][]*protocol.Message, 0, (len(msgs)+size-1)/size)
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		batches = append(batches, msgs[start:end])
	}
	return batches
}

// resolveParameters adopts the stored parameters when they are active and
// belong to this profile, and bootstraps new ones otherwise.
func (c *Caller) resolveParameters(ctx context.Context) (*protocol.ResolvedParameters, error) {
	clientID, err := c.profile.ProfileID(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading profile id: %w", err)
	}

	now := c.clock.Now()
	client, err := c.parameters.ActiveClientParameters(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("loading client parameters: %w", err)
	}
	servers, err := c.parameters.ActiveServerParameters(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("loading server parameters: %w", err)
	}

	if client != nil && client.ClientID == clientID && len(servers) > 0 {
		return &protocol.ResolvedParameters{Client: *client, Server: *servers[0]}, nil
	}

	params, err := c.bootstrap(ctx, clientID)
	if err != nil {
		c.metrics.Bootstraps.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}
	c.metrics.Bootstraps.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return params, nil
}

func (c *Caller) bootstrap(ctx context.Context, clientID uuid.UUID) (*protocol.ResolvedParameters, error) {
	callCtx := context.WithoutCancel(ctx)

	serverResp, err := c.sign.FetchServerParameters(callCtx)
	if err != nil {
		return nil, err
	}
	if len(serverResp.ServerPublicParams) == 0 {
		return nil, fmt.Errorf("%w: empty server public parameters", protocol.ErrCryptoFormat)
	}
	server := protocol.ServerParameters{
		Version:      serverResp.ServerParamsVersion,
		PublicParams: serverResp.ServerPublicParams,
		Creation:     serverResp.CreationTimestamp,
		JoinExpiry:   serverResp.JoinExpiryTimestamp,
		SignExpiry:   serverResp.SignExpiryTimestamp,
	}
	if !server.Active(c.clock.Now()) {
		return nil, fmt.Errorf("server parameters %q stopped signing at %s", server.Version, server.SignExpiry)
	}

	generated, err := c.engine.GenerateClientParameters(c.scheme, server.PublicParams)
	if err != nil {
		return nil, fmt.Errorf("generating client parameters: %w", err)
	}

	metadata, err := c.requestMetadata(clientID, generated.PublicParams)
	if err != nil {
		return nil, err
	}
	registered, err := c.sign.RegisterClient(callCtx, &protocol.RegisterClientRequest{
		ClientPublicParams:  generated.PublicParams,
		ServerParamsVersion: server.Version,
		RequestMetadata:     metadata,
	})
	if err != nil {
		return nil, err
	}

	client := protocol.ClientParameters{
		ClientID:      clientID,
		Version:       registered.ClientParamsVersion,
		PrivateParams: generated.PrivateParams,
		PublicParams:  generated.PublicParams,
		Expiry:        registered.ClientParamsExpiry,
	}
	if err := c.parameters.ReplaceParameters(callCtx, &client, &server); err != nil {
		return nil, fmt.Errorf("storing parameters: %w", err)
	}

	c.log.Info("registered new client parameters",
		"client_params_version", client.Version,
		"client_params_expiry", client.Expiry,
		"server_params_version", server.Version,
		"sign_expiry", server.SignExpiry)
	return &protocol.ResolvedParameters{Client: client, Server: server}, nil
}

func (c *Caller) requestMetadata(clientID uuid.UUID, payload []byte) (*protocol.RequestMetadata, error) {
	id := clientID.String()
	attestation, err := c.attestation.Attest(tdx.ReportData(id, payload))
	if err != nil {
		return nil, fmt.Errorf("attesting %s request: %w", c.attestation.AttestationType(), err)
	}
	return &protocol.RequestMetadata{
		AuthType:    protocol.AuthTypeAttestation,
		ClientID:    id,
		Attestation: attestation,
	}, nil
}

// signResult is the outcome of a batch's sign phase: tokens index-aligned
// with the batch, or the reason the batch failed.
type signResult struct {
	tokens []act.Token
	err    error
}

func (c *Caller) processBatch(ctx context.Context, index int, batch []*protocol.Message, params *protocol.ResolvedParameters) {
	start := c.clock.Now()
	defer func() {
		c.metrics.BatchDuration.Observe(c.clock.Since(start).Seconds())
	}()

	log := c.log.With("batch", index, "messages", len(batch))

	result := c.signBatch(ctx, batch, params)
	if result.err != nil {
		log.Warn("sign phase failed", "err", result.err)
		c.metrics.SignBatches.WithLabelValues(metrics.OutcomeFailure).Inc()
		c.transition(ctx, batch, protocol.StatusFailed)
		return
	}
	c.metrics.SignBatches.WithLabelValues(metrics.OutcomeSuccess).Inc()

	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrentJoins)
	for i, msg := range batch {
		token := result.tokens[i]
		g.Go(func() error {
			c.joinAndRecord(ctx, msg, token)
			return nil
		})
	}
	g.Wait()
	log.Debug("batch done", "duration", c.clock.Since(start))
}

// signBatch requests tokens for the whole batch with a single call. The
// batch is marked SIGNED once the response verifies, before recovery.
func (c *Caller) signBatch(ctx context.Context, batch []*protocol.Message, params *protocol.ResolvedParameters) signResult {
	hashes := make([]string, len(batch))
	for i, m := range batch {
		hashes[i] = m.HashSet
	}
	actParams := params.ACT(c.scheme)

	request, err := c.engine.GenerateTokensRequest(hashes, actParams)
	if err != nil {
		return signResult{err: fmt.Errorf("generating tokens request: %w", err)}
	}

	metadata, err := c.requestMetadata(params.Client.ClientID, request.Request)
	if err != nil {
		return signResult{err: err}
	}

	resp, err := c.sign.GetTokens(context.WithoutCancel(ctx), &protocol.GetTokensRequest{
		ClientFingerprintsBytes: request.ClientFingerprints,
		TokensRequest:           request.Request,
		ClientParamsVersion:     params.Client.Version,
		RequestMetadata:         metadata,
	})
	if err != nil {
		return signResult{err: err}
	}

	ok, err := c.engine.VerifyTokensResponse(hashes, request, resp.TokensResponse, actParams)
	if err != nil {
		return signResult{err: fmt.Errorf("verifying tokens response: %w", err)}
	}
	if !ok {
		return signResult{err: fmt.Errorf("%w: tokens response did not verify", protocol.ErrCryptoFormat)}
	}

	expiry := params.Client.Expiry
	for _, m := range batch {
		m.CorrespondingClientParamsExpiry = &expiry
	}
	c.transition(ctx, batch, protocol.StatusSigned)

	tokens, err := c.engine.RecoverTokens(hashes, request, resp.TokensResponse, actParams)
	if err != nil {
		return signResult{err: fmt.Errorf("recovering tokens: %w", err)}
	}
	if len(tokens.Tokens) != len(batch) {
		return signResult{err: fmt.Errorf("%w: recovered %d tokens for %d messages", protocol.ErrCryptoFormat, len(tokens.Tokens), len(batch))}
	}
	return signResult{tokens: tokens.Tokens}
}

func (c *Caller) joinAndRecord(ctx context.Context, msg *protocol.Message, token act.Token) {
	start := c.clock.Now()
	err := c.joinMessage(ctx, msg, token)
	c.metrics.JoinDuration.Observe(c.clock.Since(start).Seconds())

	switch {
	case err == nil:
		c.metrics.Joins.WithLabelValues(metrics.OutcomeSuccess).Inc()
		c.transition(ctx, []*protocol.Message{msg}, protocol.StatusJoined)
	case errors.Is(err, protocol.ErrJoinRejected):
		c.metrics.Joins.WithLabelValues(metrics.OutcomeRejected).Inc()
		c.log.Info("join rejected", "ad_selection_id", msg.AdSelectionID, "hash_set", msg.HashSet, "err", err)
		c.transition(ctx, []*protocol.Message{msg}, protocol.StatusFailed)
	default:
		c.metrics.Joins.WithLabelValues(metrics.OutcomeFailure).Inc()
		c.log.Warn("join failed", "ad_selection_id", msg.AdSelectionID, "hash_set", msg.HashSet, "err", err)
		c.transition(ctx, []*protocol.Message{msg}, protocol.StatusFailed)
	}
}

// joinMessage submits one token to the join target through the oblivious
// gateway. A nil error means the target answered 200.
func (c *Caller) joinMessage(ctx context.Context, msg *protocol.Message, token act.Token) error {
	body, err := protocol.NewJoinRequestBody(token).Marshal()
	if err != nil {
		return fmt.Errorf("encoding join body: %w", err)
	}

	header := bhttp.Fields{{Name: bhttp.HeaderContentType, Value: protocol.ContentTypeJSON}}
	request := bhttp.NewRequest(http.MethodPost, protocol.JoinScheme, c.config.JoinAuthority,
		protocol.JoinPath(msg.HashSet), header, body, c.clock.Now())
	plaintext, err := request.Marshal()
	if err != nil {
		return fmt.Errorf("encoding join request: %w", err)
	}

	callCtx := context.WithoutCancel(ctx)
	encapsulated, oblivious, err := c.oblivious.EncapsulateRequest(callCtx, msg.AdSelectionID, plaintext)
	if err != nil {
		return err
	}

	encResponse, err := c.join.Join(callCtx, encapsulated)
	if err != nil {
		return err
	}

	plainResponse, err := oblivious.DecapsulateResponse(encResponse)
	if err != nil {
		return fmt.Errorf("%w: decrypting join response: %v", protocol.ErrDecode, err)
	}

	response, err := bhttp.ParseResponse(plainResponse)
	if err != nil {
		return fmt.Errorf("decoding join response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", protocol.ErrJoinRejected, response.StatusCode)
	}
	return nil
}

// transition persists status for the messages allowed to move there.
// Status writes are not cancelled with ctx so that finished work is
// always recorded.
func (c *Caller) transition(ctx context.Context, msgs []*protocol.Message, status protocol.MessageStatus) {
	eligible := make([]*protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Status.CanTransition(status) {
			eligible = append(eligible, m)
		} else {
			c.log.Warn("skipping status transition", "id", m.ID, "from", m.Status, "to", status)
		}
	}
	if len(eligible) == 0 {
		return
	}

	if err := c.messages.UpdateStatus(context.WithoutCancel(ctx), eligible, status); err != nil {
		c.log.Error("could not update message status", "messages", len(eligible), "status", status, "err", err)
		return
	}
	for _, m := range eligible {
		m.Status = status
	}
	c.metrics.MessageTransitions.WithLabelValues(string(status)).Add(float64(len(eligible)))
}
