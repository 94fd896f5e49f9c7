package chainbridge

import (
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// DataBool returns the response data as a bool.
func (r *Response) DataBool() (bool, error) {
	if r.Data == nil {
		return false, ErrNoData
	}
	b, ok := r.Data.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected data type %T, expected bool", r.Data)
	}
	return b, nil
}

// DataBytes returns the response data as a byte slice. Binary payloads
// arrive as a tagged CBOR value; the tag content carries the bytes.
func (r *Response) DataBytes() ([]byte, error) {
	if r.Data == nil {
		return nil, ErrNoData
	}
	if raw, ok := r.Data.([]byte); ok {
		return raw, nil
	}
	tag, ok := r.Data.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("unexpected data type %T, expected bytes", r.Data)
	}
	raw, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected tag content type %T (tag %d), expected bytes", tag.Content, tag.Number)
	}
	return raw, nil
}

// DataUint returns the response data as a uint64. Numeric state travels as
// a decimal string so values survive any float-based transport unscathed.
func (r *Response) DataUint() (uint64, error) {
	if r.Data == nil {
		return 0, ErrNoData
	}
	str, ok := r.Data.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected data type %T, expected string", r.Data)
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse uint64 from %q: %w", str, err)
	}
	return n, nil
}

// DataString returns the response data as a string.
func (r *Response) DataString() (string, error) {
	if r.Data == nil {
		return "", ErrNoData
	}
	str, ok := r.Data.(string)
	if !ok {
		return "", fmt.Errorf("unexpected data type %T, expected string", r.Data)
	}
	return str, nil
}

// DataUnmarshal decodes CBOR-encoded response data into v.
func (r *Response) DataUnmarshal(v interface{}) error {
	raw, err := r.DataBytes()
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("cbor unmarshal data: %w", err)
	}
	return nil
}
