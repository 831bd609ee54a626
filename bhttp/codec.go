package bhttp

import (
	"bytes"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

func appendVarint(b []byte, v uint64) []byte {
	return quicvarint.Append(b, v)
}

func appendLengthPrefixed(b []byte, data []byte) []byte {
	b = appendVarint(b, uint64(len(data)))
	return append(b, data...)
}

func appendFieldSection(b []byte, fields Fields) []byte {
	var section []byte
	for _, f := range fields {
		section = appendLengthPrefixed(section, []byte(f.Name))
		section = appendLengthPrefixed(section, []byte(f.Value))
	}
	return appendLengthPrefixed(b, section)
}

// ParseRequest decodes a known-length or indeterminate-length request.
func ParseRequest(data []byte) (*Request, error) {
	d := newDecoder(data)

	framing, err := d.varint()
	if err != nil {
		return nil, err
	}
	var indeterminate bool
	switch framing {
	case framingKnownLengthRequest:
	case framingIndeterminateRequest:
		indeterminate = true
	default:
		return nil, fmt.Errorf("%w: framing indicator %d is not a request", ErrDecode, framing)
	}

	req := &Request{}
	for _, dst := range []*string{&req.Method, &req.Scheme, &req.Authority, &req.Path} {
		v, err := d.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		*dst = string(v)
	}

	if req.Header, req.Content, req.Trailer, err = d.body(indeterminate); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseResponse decodes a known-length or indeterminate-length response.
// Informational responses are skipped over and kept in Informational.
func ParseResponse(data []byte) (*Response, error) {
	d := newDecoder(data)

	framing, err := d.varint()
	if err != nil {
		return nil, err
	}
	var indeterminate bool
	switch framing {
	case framingKnownLengthResponse:
	case framingIndeterminateResponse:
		indeterminate = true
	default:
		return nil, fmt.Errorf("%w: framing indicator %d is not a response", ErrDecode, framing)
	}

	resp := &Response{}
	for {
		status, err := d.varint()
		if err != nil {
			return nil, err
		}
		code := int(status)
		if isInformational(code) {
			fields, err := d.fieldSection(indeterminate)
			if err != nil {
				return nil, err
			}
			resp.Informational = append(resp.Informational, InformationalResponse{StatusCode: code, Header: fields})
			continue
		}
		if !isFinal(code) {
			return nil, fmt.Errorf("%w: invalid status code %d", ErrDecode, status)
		}
		resp.StatusCode = code
		break
	}

	if resp.Header, resp.Content, resp.Trailer, err = d.body(indeterminate); err != nil {
		return nil, err
	}
	return resp, nil
}

type decoder struct {
	r *bytes.Reader
}

func newDecoder(data []byte) *decoder {
	return &decoder{r: bytes.NewReader(data)}
}

func (d *decoder) atEnd() bool {
	return d.r.Len() == 0
}

func (d *decoder) varint() (uint64, error) {
	v, err := quicvarint.Read(d.r)
	if err != nil {
		return 0, fmt.Errorf("%w: reading integer: %v", ErrDecode, err)
	}
	return v, nil
}

func (d *decoder) lengthPrefixed() ([]byte, error) {
	n, err := d.varint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.r.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrDecode, n, d.r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return buf, nil
}

// body reads header, content and trailer sections. Sections missing at the
// end of the input are treated as empty; anything left afterwards must be
// zero padding.
func (d *decoder) body(indeterminate bool) (header Fields, content []byte, trailer Fields, err error) {
	if d.atEnd() {
		return nil, nil, nil, nil
	}
	if header, err = d.fieldSection(indeterminate); err != nil {
		return nil, nil, nil, err
	}
	if d.atEnd() {
		return header, nil, nil, nil
	}
	if content, err = d.content(indeterminate); err != nil {
		return nil, nil, nil, err
	}
	if d.atEnd() {
		return header, content, nil, nil
	}
	if trailer, err = d.fieldSection(indeterminate); err != nil {
		return nil, nil, nil, err
	}
	if err = d.padding(); err != nil {
		return nil, nil, nil, err
	}
	return header, content, trailer, nil
}

func (d *decoder) fieldSection(indeterminate bool) (Fields, error) {
	if indeterminate {
		return d.indeterminateFields()
	}
	section, err := d.lengthPrefixed()
	if err != nil {
		return nil, err
	}
	sd := newDecoder(section)
	var fields Fields
	for !sd.atEnd() {
		name, err := sd.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		value, err := sd.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: string(name), Value: string(value)})
	}
	return fields, nil
}

func (d *decoder) indeterminateFields() (Fields, error) {
	var fields Fields
	for {
		name, err := d.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		if len(name) == 0 {
			return fields, nil
		}
		value, err := d.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: string(name), Value: string(value)})
	}
}

func (d *decoder) content(indeterminate bool) ([]byte, error) {
	if !indeterminate {
		return d.lengthPrefixed()
	}
	var content []byte
	for {
		chunk, err := d.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return content, nil
		}
		content = append(content, chunk...)
	}
}

func (d *decoder) padding() error {
	for !d.atEnd() {
		b, _ := d.r.ReadByte()
		if b != 0 {
			return fmt.Errorf("%w: non-zero padding", ErrDecode)
		}
	}
	return nil
}
