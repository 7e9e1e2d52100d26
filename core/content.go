package core

import "context"

type (
	// GenerationRequest is what a content source needs to produce a card.
	GenerationRequest struct {
		Prompt string `json:"prompt"`
		// PreviousResponse primes a follow-up on an earlier card.
		PreviousResponse string `json:"previousResponse,omitempty"`
		// Context is the content of the cards selected when the request was
		// made.
		Context string `json:"context,omitempty"`
	}

	// StreamCallbacks is the lifecycle a content source reports through.
	// OnStreamStart fires once, OnResponseUpdate once per fragment with the
	// content accumulated so far, and exactly one of OnStreamEnd or OnError
	// closes the stream.
	StreamCallbacks struct {
		OnStreamStart    func()
		OnResponseUpdate func(accumulated string)
		OnStreamEnd      func()
		OnError          func(err error)
	}

	// ContentSource produces card content as a stream. Stream blocks until
	// the stream is closed and returns the error it reported through
	// OnError, if any. Cancelling ctx is best-effort.
	ContentSource interface {
		Stream(ctx context.Context, req GenerationRequest, cb StreamCallbacks) error
	}
)
