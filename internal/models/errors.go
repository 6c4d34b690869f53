package models

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation needs an established session.
var ErrNotConnected = errors.New("mailbox not connected")

// ConnectionError indicates that a mailbox session could not be established.
type ConnectionError struct {
	Account string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Account, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FetchError indicates that listing or fetching unseen messages failed.
type FetchError struct {
	Account string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error (%s): %v", e.Account, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MarkProcessedError indicates that the remote seen flag could not be set.
type MarkProcessedError struct {
	Account   string
	MessageID string
	Err       error
}

func (e *MarkProcessedError) Error() string {
	return fmt.Sprintf("mark processed error (%s, %s): %v", e.Account, e.MessageID, e.Err)
}

func (e *MarkProcessedError) Unwrap() error { return e.Err }

// ConfigurationError indicates that a destination could not be resolved.
type ConfigurationError struct {
	Account     string
	Destination string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s, destination %q): %s", e.Account, e.Destination, e.Reason)
}

// DeliveryError indicates that a notification could not be delivered after
// every attempt was used.
type DeliveryError struct {
	Destination string
	Attempts    int
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %q failed after %d attempts: %v", e.Destination, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsFetchError reports whether err (or any error in its chain) is a FetchError.
func IsFetchError(err error) bool {
	var target *FetchError
	return errors.As(err, &target)
}

// IsMarkProcessedError reports whether err (or any error in its chain) is a MarkProcessedError.
func IsMarkProcessedError(err error) bool {
	var target *MarkProcessedError
	return errors.As(err, &target)
}

// IsConfigurationError reports whether err (or any error in its chain) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsDeliveryError reports whether err (or any error in its chain) is a DeliveryError.
func IsDeliveryError(err error) bool {
	var target *DeliveryError
	return errors.As(err, &target)
}
