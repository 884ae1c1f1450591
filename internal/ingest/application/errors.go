package application

import "errors"

var (
	// ErrMalformedTopic indicates a topic outside {root}/{tenant}/{device}/{suffix}.
	ErrMalformedTopic = errors.New("ingest: malformed topic")
	// ErrMalformedPayload indicates a payload that is not a metrics object.
	ErrMalformedPayload = errors.New("ingest: malformed payload")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("ingest: pool closed")
)
