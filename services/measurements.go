package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/tdx"
)

// Measurements maps a TDX register index to its value.
type Measurements map[int][]byte

// PublishedMeasurements lists the client builds whose sign requests are
// accepted.
//
// JSON format:
//
//	[
//	  {
//	    "measurement_id": "kanon-client-v0.1.0-tdx",
//	    "measurements": {
//	      "0": {"expected": "hex-encoded-mrtd..."},
//	      "1": {"expected": "hex-encoded-rtmr0..."}
//	    }
//	  }
//	]
//
// Keys in "measurements" are register indices. An attestation is accepted
// if it matches every register of any entry.
type PublishedMeasurements []MeasurementEntry

// MeasurementEntry is one acceptable build.
type MeasurementEntry struct {
	MeasurementID string                   `json:"measurement_id"`
	Measurements  map[int]MeasurementValue `json:"measurements"`
}

// MeasurementValue holds an expected measurement value.
type MeasurementValue struct {
	Expected string `json:"expected"`
}

// ToMeasurements decodes the expected values.
func (e *MeasurementEntry) ToMeasurements() (Measurements, error) {
	result := make(Measurements)
	for idx, mv := range e.Measurements {
		val, err := hex.DecodeString(mv.Expected)
		if err != nil {
			return nil, fmt.Errorf("invalid hex for index %d: %w", idx, err)
		}
		result[idx] = val
	}
	return result, nil
}

// MeasurementSource provides the allowed measurement sets.
type MeasurementSource interface {
	AllowedMeasurements(ctx context.Context) (PublishedMeasurements, error)
}

// StaticMeasurementSource serves a fixed list.
type StaticMeasurementSource struct {
	Measurements PublishedMeasurements
}

// NewStaticMeasurementSource creates a source with predefined measurements.
func NewStaticMeasurementSource(measurements PublishedMeasurements) *StaticMeasurementSource {
	return &StaticMeasurementSource{Measurements: measurements}
}

// DemoMeasurementSource accepts the measurements tdx.DummyProvider reports.
// Only use in development.
func DemoMeasurementSource() *StaticMeasurementSource {
	return NewStaticMeasurementSource(PublishedMeasurements{
		{
			MeasurementID: "demo-dummy-attestation",
			Measurements: map[int]MeasurementValue{
				0: {Expected: "00"},
				1: {Expected: "01"},
				2: {Expected: "02"},
				3: {Expected: "03"},
				4: {Expected: "04"},
			},
		},
	})
}

func (s *StaticMeasurementSource) AllowedMeasurements(context.Context) (PublishedMeasurements, error) {
	return s.Measurements, nil
}

// RemoteMeasurementSource fetches the list from a URL and caches it for TTL.
type RemoteMeasurementSource struct {
	URL        string
	TTL        time.Duration
	HTTPClient *http.Client

	clock clock.Clock

	mu           sync.Mutex
	cacheTimeout time.Time
	cached       PublishedMeasurements
}

// NewRemoteMeasurementSource creates a source that fetches from url.
func NewRemoteMeasurementSource(url string, clk clock.Clock) *RemoteMeasurementSource {
	if clk == nil {
		clk = clock.New()
	}
	return &RemoteMeasurementSource{
		URL:        url,
		TTL:        time.Hour,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		clock:      clk,
	}
}

func (r *RemoteMeasurementSource) AllowedMeasurements(ctx context.Context) (PublishedMeasurements, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.clock.Now().Before(r.cacheTimeout) {
		return r.cached, nil
	}

	published, err := r.fetchMeasurements(ctx)
	if err != nil {
		return nil, err
	}

	r.cached = published
	r.cacheTimeout = r.clock.Now().Add(r.TTL)
	return published, nil
}

func (r *RemoteMeasurementSource) fetchMeasurements(ctx context.Context) (PublishedMeasurements, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating measurements request: %w", err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching measurements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("measurements returned %d: %s", resp.StatusCode, body)
	}

	var pub PublishedMeasurements
	if err := json.NewDecoder(resp.Body).Decode(&pub); err != nil {
		return nil, fmt.Errorf("decoding measurements: %w", err)
	}
	return pub, nil
}

// VerifyMeasurementsMatch returns the first allowed entry actual matches.
func VerifyMeasurementsMatch(allowed PublishedMeasurements, actual Measurements) (MeasurementEntry, error) {
	for _, entry := range allowed {
		matches := true
		for idx, expectedVal := range entry.Measurements {
			actualVal, ok := actual[idx]
			if !ok || expectedVal.Expected != hex.EncodeToString(actualVal) {
				matches = false
				break
			}
		}
		if matches {
			return entry, nil
		}
	}

	return MeasurementEntry{}, errors.New("measurements do not match any allowed set")
}

// MeasuredVerifier checks an attestation with Verifier and then requires
// the attested registers to match an allowed build.
type MeasuredVerifier struct {
	Verifier tdx.Verifier
	Source   MeasurementSource
	Timeout  time.Duration
}

// Verify implements tdx.Verifier.
func (m *MeasuredVerifier) Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error) {
	measured, err := m.Verifier.Verify(attestationReport, expectedReportData)
	if err != nil {
		return nil, err
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	allowed, err := m.Source.AllowedMeasurements(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading allowed measurements: %w", err)
	}
	if _, err := VerifyMeasurementsMatch(allowed, measured); err != nil {
		return nil, err
	}
	return measured, nil
}
