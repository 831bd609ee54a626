package bhttp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrDecode reports a Binary HTTP message that could not be parsed.
var ErrDecode = errors.New("bhttp: malformed message")

const (
	framingKnownLengthRequest    = 0
	framingKnownLengthResponse   = 1
	framingIndeterminateRequest  = 2
	framingIndeterminateResponse = 3
)

const (
	HeaderContentLength = "content-length"
	HeaderDate          = "date"
	HeaderContentType   = "content-type"
)

// Field is a single header or trailer line.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered field section. Order is preserved on the wire.
type Fields []Field

// Get returns the value of the first field matching name case-insensitively.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if strings.EqualFold(field.Name, name) {
			return field.Value, true
		}
	}
	return "", false
}

// Set replaces the first field matching name or appends a new one.
func (f *Fields) Set(name, value string) {
	for i, field := range *f {
		if strings.EqualFold(field.Name, name) {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, Field{Name: name, Value: value})
}

// RequestControlData carries the request pseudo-header values.
type RequestControlData struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
}

// Request is a Binary HTTP request.
type Request struct {
	RequestControlData
	Header  Fields
	Content []byte
	Trailer Fields
}

// InformationalResponse is an interim 1xx response preceding the final one.
type InformationalResponse struct {
	StatusCode int
	Header     Fields
}

// Response is a Binary HTTP response.
type Response struct {
	Informational []InformationalResponse
	StatusCode    int
	Header        Fields
	Content       []byte
	Trailer       Fields
}

// NewRequest builds a request whose content-length matches body and whose
// date header is now, formatted as RFC 1123 in GMT.
func NewRequest(method, scheme, authority, path string, header Fields, body []byte, now time.Time) *Request {
	fields := make(Fields, len(header), len(header)+2)
	copy(fields, header)
	fields.Set(HeaderContentLength, strconv.Itoa(len(body)))
	fields.Set(HeaderDate, now.UTC().Format(http.TimeFormat))

	return &Request{
		RequestControlData: RequestControlData{
			Method:    method,
			Scheme:    scheme,
			Authority: authority,
			Path:      path,
		},
		Header:  fields,
		Content: body,
	}
}

// Marshal encodes the request using the known-length framing.
func (r *Request) Marshal() ([]byte, error) {
	if r.Method == "" {
		return nil, errors.New("bhttp: request method is empty")
	}

	var b []byte
	b = appendVarint(b, framingKnownLengthRequest)
	b = appendLengthPrefixed(b, []byte(r.Method))
	b = appendLengthPrefixed(b, []byte(r.Scheme))
	b = appendLengthPrefixed(b, []byte(r.Authority))
	b = appendLengthPrefixed(b, []byte(r.Path))
	b = appendFieldSection(b, r.Header)
	b = appendLengthPrefixed(b, r.Content)
	b = appendFieldSection(b, r.Trailer)
	return b, nil
}

// Marshal encodes the response using the known-length framing.
func (r *Response) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, framingKnownLengthResponse)
	for _, info := range r.Informational {
		if !isInformational(info.StatusCode) {
			return nil, fmt.Errorf("bhttp: invalid informational status %d", info.StatusCode)
		}
		b = appendVarint(b, uint64(info.StatusCode))
		b = appendFieldSection(b, info.Header)
	}
	if !isFinal(r.StatusCode) {
		return nil, fmt.Errorf("bhttp: invalid final status %d", r.StatusCode)
	}
	b = appendVarint(b, uint64(r.StatusCode))
	b = appendFieldSection(b, r.Header)
	b = appendLengthPrefixed(b, r.Content)
	b = appendFieldSection(b, r.Trailer)
	return b, nil
}

func isInformational(status int) bool {
	return status >= 100 && status < 200
}

func isFinal(status int) bool {
	return status >= 200 && status < 600
}
