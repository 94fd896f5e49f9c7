package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Format selects the wire format for a connection or process.
type Format string

const (
	// FormatText frames requests as newline-terminated UTF-8 command lines
	// and responses as newline-terminated JSON objects. Text mode has no
	// payload and no caller correlation id; the endpoint assigns a
	// per-connection sequence number for response correlation.
	FormatText Format = "text"
	// FormatCBOR frames requests and responses as self-delimiting CBOR maps
	// concatenated back-to-back on the stream, with no length prefix.
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a format name from configuration or flags.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText:
		return FormatText, nil
	case FormatCBOR:
		return FormatCBOR, nil
	}
	return "", fmt.Errorf("unknown socket format %q (want %q or %q)", s, FormatText, FormatCBOR)
}

// StreamBuffer accumulates raw socket reads and yields complete CBOR
// messages. CBOR maps are self-delimiting, so message boundaries are
// recovered from the encoding itself: each Next attempt decodes one value
// from the buffer head and trims exactly the consumed bytes on success.
//
// Any decode failure is treated as "need more data". There is no hard
// parse-error path: a structurally invalid message stalls the stream until
// the connection is closed, so producers must only emit well-formed maps.
type StreamBuffer struct {
	buf []byte
}

// Append adds a raw read to the tail of the accumulation buffer.
func (b *StreamBuffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// Len reports the number of buffered, not yet consumed bytes.
func (b *StreamBuffer) Len() int {
	return len(b.buf)
}

// Next decodes one complete CBOR message from the buffer head into v.
// It returns true and trims the consumed bytes if a complete message was
// available, and false with the buffer untouched otherwise. A single
// Append may make several messages available; callers drain with
// `for b.Next(&v) { ... }`.
func (b *StreamBuffer) Next(v interface{}) bool {
	if len(b.buf) == 0 {
		return false
	}
	dec := cbor.NewDecoder(bytes.NewReader(b.buf))
	if err := dec.Decode(v); err != nil {
		// Incomplete or malformed: keep the buffer and wait for more bytes.
		return false
	}
	b.buf = b.buf[dec.NumBytesRead():]
	return true
}

// EncodeRequest encodes a request in the given format. In text mode the
// request is its command line; payload and id are not representable.
func EncodeRequest(format Format, req *CommandRequest) ([]byte, error) {
	switch format {
	case FormatText:
		return append([]byte(req.Command), '\n'), nil
	case FormatCBOR:
		data, err := cbor.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("cbor marshal request: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unknown socket format %q", format)
}

// EncodeResponse encodes a response in the given format. Text mode emits one
// newline-terminated JSON line.
func EncodeResponse(format Format, resp *CommandResponse) ([]byte, error) {
	switch format {
	case FormatText:
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("json marshal response: %w", err)
		}
		return append(data, '\n'), nil
	case FormatCBOR:
		data, err := cbor.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("cbor marshal response: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unknown socket format %q", format)
}
