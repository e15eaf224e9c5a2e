package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/segmentio/kafka-go"
)

var (
	// ErrQueueConflict: queue sudah ada dengan durability yang lebih lemah dari konfigurasi.
	ErrQueueConflict = errors.New("queue declaration conflict")
	ErrNoBrokers     = errors.New("no kafka brokers configured")
)

// BrokerError wraps a failed broker operation with the queue it targeted.
type BrokerError struct {
	Operation string
	Queue     string
	Err       error
}

func (e *BrokerError) Error() string {
	if e.Queue == "" {
		return fmt.Sprintf("kafka %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("kafka %s on queue %s failed: %v", e.Operation, e.Queue, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

func newBrokerError(op, queue string, err error) error {
	if err == nil {
		return nil
	}
	return &BrokerError{Operation: op, Queue: queue, Err: err}
}

// IsConnectionError reports whether err means the broker could not be reached.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "network is unreachable")
}

// IsFatalError reports whether retrying err can never succeed without operator
// action: bad credentials, missing permissions, incompatible queue declaration.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQueueConflict) || errors.Is(err, ErrNoBrokers) {
		return true
	}
	if errors.Is(err, kafka.SASLAuthenticationFailed) ||
		errors.Is(err, kafka.UnsupportedSASLMechanism) ||
		errors.Is(err, kafka.TopicAuthorizationFailed) ||
		errors.Is(err, kafka.GroupAuthorizationFailed) ||
		errors.Is(err, kafka.ClusterAuthorizationFailed) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "authentication failed") ||
		strings.Contains(errStr, "authorization failed") ||
		strings.Contains(errStr, "permission denied")
}

// IsTemporaryError reports whether err is worth retrying as-is.
func IsTemporaryError(err error) bool {
	if err == nil || IsFatalError(err) {
		return false
	}
	if IsConnectionError(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	return true
}

// IsRecordRejected reports whether the broker refused one record for reasons
// tied to that record, so resending it unchanged can never succeed while the
// records behind it still can.
func IsRecordRejected(err error) bool {
	if err == nil || IsFatalError(err) {
		return false
	}
	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		return true
	}
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		if werrs.Count() == 0 {
			return false
		}
		for _, e := range werrs {
			if e != nil && !IsRecordRejected(e) {
				return false
			}
		}
		return true
	}
	return isRecordError(err)
}

func isRecordError(err error) bool {
	var kerr kafka.Error
	if !errors.As(err, &kerr) || IsTemporaryError(err) {
		return false
	}
	switch kerr {
	case kafka.MessageSizeTooLarge, kafka.InvalidMessageSize, kafka.RecordListTooLarge,
		kafka.InvalidRecord, kafka.InvalidTimestamp, kafka.InvalidTopic:
		return true
	}
	return false
}
