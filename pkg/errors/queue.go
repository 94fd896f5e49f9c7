// pkg/errors/queue.go
package errors

// Transaction queue error codes
const (
	// QueueErrBuildFailed indicates the transaction could not be built or signed
	QueueErrBuildFailed = "QUEUE_BUILD_FAILED"
	// QueueErrBroadcastFailed indicates the runtime rejected the broadcast
	QueueErrBroadcastFailed = "QUEUE_BROADCAST_FAILED"
	// QueueErrFull indicates the queue depth cap was reached
	QueueErrFull = "QUEUE_FULL"
	// QueueErrClosed indicates a submission after shutdown
	QueueErrClosed = "QUEUE_CLOSED"
)

// Transaction queue domain name
const QueueDomain = "txqueue"

// Transaction queue operations
const (
	OpSubmit    = "Submit"
	OpBroadcast = "Broadcast"
	OpPoll      = "PollStatus"
)

// NewQueueError creates a new transaction queue error
func NewQueueError(code string, message string, err error) error {
	return &Error{
		Domain:   QueueDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// QueueWrap wraps an error with the transaction queue domain
func QueueWrap(err error, operation string, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Domain:    QueueDomain,
		Operation: operation,
		Message:   message,
		Original:  err,
	}
}

// IsQueueError checks if an error is a queue error with the given code
func IsQueueError(err error, code string) bool {
	var domainErr *Error
	if As(err, &domainErr) {
		return domainErr.Domain == QueueDomain && domainErr.Code == code
	}
	return false
}
