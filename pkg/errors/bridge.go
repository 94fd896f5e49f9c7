// pkg/errors/bridge.go
package errors

// Bridge error codes
const (
	// BridgeErrDialFailed indicates the dial retry budget was exhausted
	BridgeErrDialFailed = "BRIDGE_DIAL_FAILED"
	// BridgeErrNotConnected indicates a call was made without a connection
	BridgeErrNotConnected = "BRIDGE_NOT_CONNECTED"
	// BridgeErrTimeout indicates a call received no response in time
	BridgeErrTimeout = "BRIDGE_COMMAND_TIMEOUT"
	// BridgeErrSocketDiscovery indicates the spawned backend never announced its socket
	BridgeErrSocketDiscovery = "BRIDGE_SOCKET_DISCOVERY"
	// BridgeErrEncode indicates a request failed to encode
	BridgeErrEncode = "BRIDGE_ENCODE"
	// BridgeErrWrite indicates a request failed to reach the socket
	BridgeErrWrite = "BRIDGE_WRITE"
)

// Bridge domain name
const BridgeDomain = "bridge"

// Bridge operations
const (
	OpStart   = "Start"
	OpStop    = "Stop"
	OpDial    = "Dial"
	OpCommand = "Command"
)

// NewBridgeError creates a new bridge error
func NewBridgeError(code string, message string, err error) error {
	return &Error{
		Domain:   BridgeDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// BridgeErrorf creates a new bridge error with formatted message
func BridgeErrorf(code string, format string, args ...interface{}) error {
	return &Error{
		Domain:  BridgeDomain,
		Code:    code,
		Message: Sprintf(format, args...),
	}
}

// BridgeWrap wraps an error with the bridge domain
func BridgeWrap(err error, operation string, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Domain:    BridgeDomain,
		Operation: operation,
		Message:   message,
		Original:  err,
	}
}

// IsBridgeError checks if an error is a bridge error with the given code
func IsBridgeError(err error, code string) bool {
	var domainErr *Error
	if As(err, &domainErr) {
		return domainErr.Domain == BridgeDomain && domainErr.Code == code
	}
	return false
}
