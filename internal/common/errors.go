// Package common defines shared constants and sentinel errors used across
// the tracker and collector layers. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Envelope errors. A decode failure is recoverable: the caller keeps the
	// raw value and continues with the rest of the batch.
	ErrDecodeFailure     = errors.New("envelope could not be decoded")
	ErrUnsupportedFormat = errors.New("unsupported envelope format")

	// Payload / batch errors.
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMalformedBatch   = errors.New("malformed batch")

	// Storage errors. Nothing from the failed call is committed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Device access token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Credential store.
	ErrNoCredential = errors.New("credential not set")
)
