package notifier

import (
	"errors"

	"firebase.google.com/go/v4/messaging"
)

// ErrNoDeviceToken is returned when the provider has no registered device.
var ErrNoDeviceToken = errors.New("provider has no registered device")

// isStaleToken reports whether FCM rejected the registration token itself.
// The cached token is dropped so the next send looks it up again.
func isStaleToken(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
}

// isTransient reports whether a send failure may succeed later.
// Only transient failures count against the push circuit breaker.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNoDeviceToken) {
		return false
	}
	return !isStaleToken(err) && !messaging.IsSenderIDMismatch(err)
}
