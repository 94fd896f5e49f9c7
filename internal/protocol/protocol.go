// Package protocol defines the command request/response types exchanged over
// the agent socket and the codecs that frame them on the wire.
package protocol

import "fmt"

// Status is the outcome of a dispatched command.
type Status string

const (
	// StatusSuccess indicates the command completed and Data holds its result.
	StatusSuccess Status = "SUCCESS"
	// StatusFailure indicates the command failed and Error holds the reason.
	StatusFailure Status = "FAILURE"
	// StatusPending indicates a transaction was broadcast but not confirmed
	// within the polling budget. TX holds the transaction id for later lookup.
	StatusPending Status = "PENDING"
)

// CommandRequest is one decoded request frame. Command carries the verb path
// and inline arguments as a single string. Payload carries binary data that
// does not fit inline (only available in CBOR mode). ID is the caller's
// correlation token, unique per connection while the request is in flight.
type CommandRequest struct {
	Command string `cbor:"command" json:"command"`
	Payload []byte `cbor:"payload,omitempty" json:"payload,omitempty"`
	ID      int    `cbor:"id,omitempty" json:"id,omitempty"`
}

// CommandResponse is one encoded response frame. ID echoes the request's id
// when the request carried one. TX is set when the command caused a
// transaction to be broadcast.
type CommandResponse struct {
	Status Status      `cbor:"status" json:"status"`
	Data   interface{} `cbor:"data,omitempty" json:"data,omitempty"`
	Error  string      `cbor:"error,omitempty" json:"error,omitempty"`
	ID     int         `cbor:"id,omitempty" json:"id,omitempty"`
	TX     string      `cbor:"tx,omitempty" json:"tx,omitempty"`
}

// Success builds a SUCCESS response carrying data.
func Success(data interface{}) *CommandResponse {
	return &CommandResponse{Status: StatusSuccess, Data: data}
}

// Failure builds a FAILURE response carrying a human-readable error.
func Failure(err error) *CommandResponse {
	return &CommandResponse{Status: StatusFailure, Error: err.Error()}
}

// Failuref builds a FAILURE response from a format string.
func Failuref(format string, args ...interface{}) *CommandResponse {
	return &CommandResponse{Status: StatusFailure, Error: fmt.Sprintf(format, args...)}
}

// Pending builds a PENDING response for an unconfirmed transaction.
func Pending(txID string) *CommandResponse {
	return &CommandResponse{Status: StatusPending, TX: txID}
}
