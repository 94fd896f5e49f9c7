package protocol

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func encodeRequests(t *testing.T, reqs []CommandRequest) []byte {
	t.Helper()
	var stream []byte
	for i := range reqs {
		data, err := EncodeRequest(FormatCBOR, &reqs[i])
		if err != nil {
			t.Fatalf("encode request %d: %v", i, err)
		}
		stream = append(stream, data...)
	}
	return stream
}

func TestStreamBufferSingleMessage(t *testing.T) {
	stream := encodeRequests(t, []CommandRequest{{Command: "token getBalance", ID: 1}})

	var b StreamBuffer
	b.Append(stream)

	var req CommandRequest
	if !b.Next(&req) {
		t.Fatal("expected a complete message")
	}
	if req.Command != "token getBalance" || req.ID != 1 {
		t.Fatalf("decoded %+v", req)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, %d bytes left", b.Len())
	}
	if b.Next(&req) {
		t.Fatal("expected no further message")
	}
}

func TestStreamBufferMultipleMessagesInOneRead(t *testing.T) {
	want := []CommandRequest{
		{Command: "faucet getEnabled", ID: 1},
		{Command: "faucet setEnabled 1", ID: 2},
		{Command: "nodes register n1 1 0", ID: 3, Payload: []byte{0xde, 0xad}},
	}
	var b StreamBuffer
	b.Append(encodeRequests(t, want))

	var got []CommandRequest
	var req CommandRequest
	for b.Next(&req) {
		got = append(got, req)
		req = CommandRequest{}
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Command != want[i].Command || got[i].ID != want[i].ID {
			t.Fatalf("message %d: got %+v want %+v", i, got[i], want[i])
		}
	}
	if !bytes.Equal(got[2].Payload, want[2].Payload) {
		t.Fatalf("payload mismatch: %x", got[2].Payload)
	}
}

// Chunking the stream at every possible byte offset must not change what is
// decoded, including offsets that split one message across two reads.
func TestStreamBufferChunkingIndependence(t *testing.T) {
	want := []CommandRequest{
		{Command: "networks getNetwork testnet", ID: 7},
		{Command: "pki setDocument 42", ID: 8, Payload: bytes.Repeat([]byte{0xab}, 64)},
	}
	stream := encodeRequests(t, want)

	for split := 0; split <= len(stream); split++ {
		var b StreamBuffer
		var got []CommandRequest
		drain := func() {
			var req CommandRequest
			for b.Next(&req) {
				got = append(got, req)
				req = CommandRequest{}
			}
		}
		b.Append(stream[:split])
		drain()
		b.Append(stream[split:])
		drain()

		if len(got) != len(want) {
			t.Fatalf("split %d: decoded %d messages, want %d", split, len(got), len(want))
		}
		for i := range want {
			if got[i].Command != want[i].Command || got[i].ID != want[i].ID {
				t.Fatalf("split %d message %d: got %+v want %+v", split, i, got[i], want[i])
			}
		}
	}
}

func TestStreamBufferIncompleteMessageWaits(t *testing.T) {
	stream := encodeRequests(t, []CommandRequest{{Command: "token getBalance", ID: 9}})

	var b StreamBuffer
	b.Append(stream[:len(stream)-1])

	var req CommandRequest
	if b.Next(&req) {
		t.Fatal("decoded a message from an incomplete buffer")
	}
	if b.Len() != len(stream)-1 {
		t.Fatalf("buffer modified on incomplete decode: %d bytes", b.Len())
	}
	b.Append(stream[len(stream)-1:])
	if !b.Next(&req) {
		t.Fatal("expected message after final byte arrived")
	}
	if req.ID != 9 {
		t.Fatalf("decoded %+v", req)
	}
}

func TestEncodeResponseCBORRoundTrip(t *testing.T) {
	in := CommandResponse{Status: StatusSuccess, Data: "1000", ID: 3, TX: "abc123"}
	data, err := EncodeResponse(FormatCBOR, &in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out CommandResponse
	if err := cbor.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != StatusSuccess || out.Data != "1000" || out.ID != 3 || out.TX != "abc123" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestEncodeResponseTextIsOneLine(t *testing.T) {
	data, err := EncodeResponse(FormatText, &CommandResponse{Status: StatusFailure, Error: "unknown command", ID: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatal("text response not newline terminated")
	}
	if bytes.Count(data, []byte{'\n'}) != 1 {
		t.Fatalf("text response spans multiple lines: %q", data)
	}
}

func TestParseFormat(t *testing.T) {
	if _, err := ParseFormat("cbor"); err != nil {
		t.Fatalf("cbor: %v", err)
	}
	if _, err := ParseFormat("text"); err != nil {
		t.Fatalf("text: %v", err)
	}
	if _, err := ParseFormat("msgpack"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
