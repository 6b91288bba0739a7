package domain

import "errors"

var (
	// ErrInvalidFeatureValue reports caller input that cannot be scored.
	// It is surfaced to the boundary layer and never recovered.
	ErrInvalidFeatureValue = errors.New("invalid feature value")

	// ErrRemoteUnavailable covers transport failures, timeouts and non-2xx
	// replies from the remote scorer.
	ErrRemoteUnavailable = errors.New("remote scorer unavailable")

	// ErrMalformedResponse covers empty or unusable remote payloads.
	ErrMalformedResponse = errors.New("malformed remote scorer response")
)
