package bhttp

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	now := time.Date(2024, time.March, 4, 15, 16, 17, 0, time.FixedZone("CET", 3600))
	body := []byte(`{"act":{"nonce_bytes":"AQI="}}`)

	req := NewRequest(http.MethodPost, "https", "join.example.com", "/v2/abc:join",
		Fields{{Name: "content-type", Value: "application/json"}}, body, now)

	length, ok := req.Header.Get(HeaderContentLength)
	require.True(t, ok)
	require.Equal(t, strconv.Itoa(len(body)), length)

	date, ok := req.Header.Get(HeaderDate)
	require.True(t, ok)
	require.Equal(t, "Mon, 04 Mar 2024 14:16:17 GMT", date)

	encoded, err := req.Marshal()
	require.NoError(t, err)
	require.EqualValues(t, framingKnownLengthRequest, encoded[0])

	decoded, err := ParseRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, req.RequestControlData, decoded.RequestControlData)
	require.Equal(t, req.Header, decoded.Header)
	require.Equal(t, body, decoded.Content)
	require.Empty(t, decoded.Trailer)
}

func TestNewRequestOverridesSuppliedLength(t *testing.T) {
	req := NewRequest(http.MethodPost, "https", "a", "/", Fields{{Name: "Content-Length", Value: "999"}}, []byte("four"), time.Unix(0, 0))

	require.Len(t, req.Header, 2)
	require.Equal(t, "Content-Length", req.Header[0].Name)
	require.Equal(t, "4", req.Header[0].Value)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{
		Informational: []InformationalResponse{{StatusCode: http.StatusProcessing, Header: Fields{{Name: "running", Value: "\"sleep 15\""}}}},
		StatusCode:    http.StatusOK,
		Header:        Fields{{Name: "content-type", Value: "text/plain"}},
		Content:       []byte("joined"),
		Trailer:       Fields{{Name: "trailer", Value: "text"}},
	}

	encoded, err := resp.Marshal()
	require.NoError(t, err)

	decoded, err := ParseResponse(encoded)
	require.NoError(t, err)
	require.Equal(t, resp, decoded)
}

func TestParseResponseKnownLength(t *testing.T) {
	// framing=1, status=200 (two byte varint), empty headers, content "ok", empty trailer.
	data := []byte{0x01, 0x40, 0xc8, 0x00, 0x02, 'o', 'k', 0x00}

	resp, err := ParseResponse(data)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("ok"), resp.Content)
}

func TestParseResponseSkipsInformational(t *testing.T) {
	// 102 Processing with empty headers, then 404 with no further sections.
	data := []byte{0x01, 0x40, 0x66, 0x00, 0x41, 0x94}

	resp, err := ParseResponse(data)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Len(t, resp.Informational, 1)
	require.Equal(t, http.StatusProcessing, resp.Informational[0].StatusCode)
	require.Empty(t, resp.Content)
}

func TestParseResponseIndeterminateLength(t *testing.T) {
	data := []byte{
		0x03,       // indeterminate-length response
		0x40, 0xc8, // 200
		0x01, 'a', 0x01, 'b', 0x00, // a: b, end of headers
		0x02, 'o', 'k', 0x01, '!', 0x00, // two content chunks
		0x00,       // empty trailers
		0x00, 0x00, // padding
	}

	resp, err := ParseResponse(data)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, Fields{{Name: "a", Value: "b"}}, resp.Header)
	require.Equal(t, []byte("ok!"), resp.Content)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"request framing", []byte{0x00, 0x40, 0xc8}},
		{"truncated content", []byte{0x01, 0x40, 0xc8, 0x00, 0x05, 'o'}},
		{"bad status", []byte{0x01, 0x32}},
		{"non-zero padding", []byte{0x01, 0x40, 0xc8, 0x00, 0x00, 0x00, 0x07}},
		{"informational only", []byte{0x01, 0x40, 0x64, 0x00}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseResponse(tc.data)
			require.ErrorIs(t, err, ErrDecode)
		})
	}

	_, err := ParseRequest([]byte{0x01})
	require.ErrorIs(t, err, ErrDecode)
}

func TestMarshalRejectsInvalidStatus(t *testing.T) {
	_, err := (&Response{StatusCode: 99}).Marshal()
	require.Error(t, err)

	_, err = (&Response{StatusCode: 200, Informational: []InformationalResponse{{StatusCode: 204}}}).Marshal()
	require.Error(t, err)
}
