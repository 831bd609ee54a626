package tdx

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/go-tdx-guest/abi"
	"github.com/google/go-tdx-guest/client"
	proto_checkconfig "github.com/google/go-tdx-guest/proto/checkconfig"
	proto "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/validate"
	"github.com/google/go-tdx-guest/verify"
)

// Attestation types reported by the providers.
const (
	TypeDCAP  = "dcap-tdx"
	TypeDummy = "dummy-tdx"
)

// Register indices of the measurements a verifier returns.
const (
	RegisterMRTD = iota
	RegisterRTMR0
	RegisterRTMR1
	RegisterRTMR2
	RegisterRTMR3
)

// AttestationProvider produces attestations for sign requests.
type AttestationProvider interface {
	AttestationType() string
	Attest(reportData [64]byte) ([]byte, error)
}

// Verifier checks attestations produced by the matching provider and
// returns the attested measurements keyed by register index.
type Verifier interface {
	Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error)
}

// ReportData binds an attestation to a client id and the request payload it
// accompanies.
func ReportData(clientID string, payload []byte) [64]byte {
	h := sha512.New()
	h.Write([]byte(clientID))
	h.Write([]byte{0})
	h.Write(payload)

	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TDXProvider attests with the local TDX device and verifies DCAP quotes.
// A nil Policy means DefaultPolicy.
type TDXProvider struct {
	Policy *DCAPPolicy
}

func (p *TDXProvider) AttestationType() string {
	return TypeDCAP
}

// Attest reads a quote over reportData from configfs.
func (p *TDXProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &client.LinuxConfigFsQuoteProvider{}
	quote, err := qp.GetRawQuote(reportData)
	if err != nil {
		return nil, fmt.Errorf("reading quote from configfs: %w", err)
	}
	return quote, nil
}

func (p *TDXProvider) Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error) {
	return p.Policy.Verify(attestationReport, expectedReportData[:])
}

// RemoteDCAPProvider obtains quotes from a quote service reachable over
// HTTP, for clients running in a TD without direct configfs access.
type RemoteDCAPProvider struct {
	URL     string
	Timeout time.Duration
	Policy  *DCAPPolicy

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (p *RemoteDCAPProvider) AttestationType() string {
	return TypeDCAP
}

// Attest fetches a quote for reportData from GET {URL}/attest/{hex}.
func (p *RemoteDCAPProvider) Attest(reportData [64]byte) ([]byte, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := fmt.Sprintf("%s/attest/%s", p.URL, hex.EncodeToString(reportData[:]))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating quote request: %w", err)
	}

	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote: %w", err)
	}
	switch {
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	case len(body) == 0:
		return nil, errors.New("remote quote provider returned an empty quote")
	}
	return body, nil
}

func (p *RemoteDCAPProvider) Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error) {
	return p.Policy.Verify(attestationReport, expectedReportData[:])
}

// DCAPPolicy is what a DCAP quote must satisfy besides carrying the
// expected report data.
type DCAPPolicy struct {
	// QEVendorID is the expected quoting enclave vendor.
	QEVendorID []byte
	// TDAttributes are the expected TD attributes.
	TDAttributes  []byte
	MinimumQESVN  uint32
	MinimumPCESVN uint32
	// CheckCRL enables certificate revocation checks. Collateral is always
	// fetched.
	CheckCRL bool
}

// DefaultPolicy accepts Intel's quoting enclave with the SEPT_VE_DISABLE
// attribute set and checks revocation.
func DefaultPolicy() *DCAPPolicy {
	return &DCAPPolicy{
		QEVendorID:   mustDecodeHex("939a7233f79c4ca9940a0db3957f0607"),
		TDAttributes: mustDecodeHex("0000001000000000"),
		CheckCRL:     true,
	}
}

func mustDecodeHex(data string) []byte {
	decoded, err := hex.DecodeString(data)
	if err != nil {
		panic(err.Error())
	}
	return decoded
}

// VerifyDCAP checks a quote against DefaultPolicy.
func VerifyDCAP(attestationReport []byte, expectedReportData []byte) (map[int][]byte, error) {
	return DefaultPolicy().Verify(attestationReport, expectedReportData)
}

// Verify checks the quote signature chain and the policy, then returns the
// MRTD and RTMR registers. A nil policy is DefaultPolicy.
func (p *DCAPPolicy) Verify(attestationReport []byte, expectedReportData []byte) (map[int][]byte, error) {
	if p == nil {
		p = DefaultPolicy()
	}

	anyQuote, err := abi.QuoteToProto(attestationReport)
	if err != nil {
		return nil, fmt.Errorf("parsing quote: %w", err)
	}
	quote, ok := anyQuote.(*proto.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type %T", anyQuote)
	}

	rootOfTrust := &proto_checkconfig.RootOfTrust{
		CheckCrl:      p.CheckCRL,
		GetCollateral: true,
	}
	verifyOpts, err := verify.RootOfTrustToOptions(rootOfTrust)
	if err != nil {
		return nil, fmt.Errorf("converting root of trust to options: %w", err)
	}
	if err := verify.TdxQuote(quote, verifyOpts); err != nil {
		return nil, fmt.Errorf("verifying quote: %w", err)
	}

	policy := &proto_checkconfig.Policy{
		HeaderPolicy: &proto_checkconfig.HeaderPolicy{
			MinimumQeSvn:  p.MinimumQESVN,
			MinimumPceSvn: p.MinimumPCESVN,
			QeVendorId:    p.QEVendorID,
		},
		TdQuoteBodyPolicy: &proto_checkconfig.TDQuoteBodyPolicy{
			TdAttributes: p.TDAttributes,
			ReportData:   expectedReportData,
		},
	}
	validateOpts, err := validate.PolicyToOptions(policy)
	if err != nil {
		return nil, fmt.Errorf("converting policy to options: %w", err)
	}
	if err := validate.TdxQuote(quote, validateOpts); err != nil {
		return nil, fmt.Errorf("validating quote: %w", err)
	}

	body := quote.GetTdQuoteBody()
	rtmrs := body.GetRtmrs()
	if len(rtmrs) < 4 {
		return nil, fmt.Errorf("quote has %d RTMRs, want 4", len(rtmrs))
	}
	return map[int][]byte{
		RegisterMRTD:  body.GetMrTd(),
		RegisterRTMR0: rtmrs[0],
		RegisterRTMR1: rtmrs[1],
		RegisterRTMR2: rtmrs[2],
		RegisterRTMR3: rtmrs[3],
	}, nil
}

// DummyProvider echoes the report data as its attestation, for tests and
// development without TEE hardware.
type DummyProvider struct{}

func (p *DummyProvider) AttestationType() string {
	return TypeDummy
}

func (p *DummyProvider) Attest(reportData [64]byte) ([]byte, error) {
	return bytes.Clone(reportData[:]), nil
}

// Verify checks that the attestation equals the expected report data and
// reports register i as the single byte i.
func (p *DummyProvider) Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error) {
	if !bytes.Equal(attestationReport, expectedReportData[:]) {
		return nil, errors.New("attestation does not match report data")
	}

	registers := make(map[int][]byte, RegisterRTMR3+1)
	for i := RegisterMRTD; i <= RegisterRTMR3; i++ {
		registers[i] = []byte{byte(i)}
	}
	return registers, nil
}
