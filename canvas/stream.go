package canvas

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"genui-canvas/core"

	"github.com/sirupsen/logrus"
)

// SessionState is the phase of one card's content stream.
type SessionState string

const (
	StateCreated   SessionState = "created"
	StateStreaming SessionState = "streaming"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ErrSessionCancelled is what Err reports after Cancel.
var ErrSessionCancelled = errors.New("stream session cancelled")

// SessionOptions tunes how a session drives its card.
type SessionOptions struct {
	// OriginID, when set, is linked to the card once the stream completes.
	OriginID core.EntityID
	// Connector styles the origin link.
	Connector BindOptions

	Measurer        Measurer
	MinHeight       float64
	HeightThreshold float64

	// NoCameraFollow stops height changes from moving the camera.
	NoCameraFollow bool
	CameraDuration time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Measurer == nil {
		o.Measurer = DefaultMeasurer
	}
	if o.MinHeight == 0 {
		o.MinHeight = MinCardHeight
	}
	if o.HeightThreshold == 0 {
		o.HeightThreshold = DefaultHeightThreshold
	}
	if o.CameraDuration == 0 {
		o.CameraDuration = DefaultCameraDuration
	}
	return o
}

// Session keeps one card in step with one content stream. All methods are
// safe for concurrent use; calls are applied in the order they acquire the
// session, and once a terminal state is reached every later call is
// discarded without touching the card.
type Session struct {
	mu      sync.Mutex
	store   core.EntityStore
	cardID  core.EntityID
	opts    SessionOptions
	state   SessionState
	content string
	err     error

	connectorID core.EntityID

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	onTerminal func(*Session)
	log        *logrus.Entry
}

// NewSession attaches to an existing, empty card and marks it streaming if
// it is not already.
func NewSession(ctx context.Context, store core.EntityStore, cardID core.EntityID, opts SessionOptions) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		store:  store,
		cardID: cardID,
		opts:   opts.withDefaults(),
		state:  StateCreated,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logrus.WithField("card_id", cardID),
	}

	streaming := true
	if err := store.Run(func(tx core.Tx) error {
		ent, ok := tx.GetEntity(cardID)
		if !ok {
			return core.ErrEntityNotFound
		}
		if card := ent.Card(); card != nil && card.Streaming {
			return nil
		}
		return tx.UpdateEntity(cardID, core.CardPatch{Streaming: &streaming})
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("attaching session to card %s: %w", cardID, err)
	}

	s.log.WithField("session_state", s.state).Debug("Stream session created")
	return s, nil
}

func (s *Session) CardID() core.EntityID { return s.cardID }

// Context is cancelled when the session reaches a terminal state.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Content is the buffer accumulated so far.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Err is the upstream error after failure, ErrSessionCancelled after
// cancellation, and nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ConnectorID is the origin link drawn on completion, if any.
func (s *Session) ConnectorID() core.EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectorID
}

// Done is closed once the session is terminal.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session is terminal or ctx ends.
func (s *Session) Wait(ctx context.Context) (SessionState, error) {
	select {
	case <-s.done:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Append adds a fragment to the buffer and writes the whole buffer to the
// card.
func (s *Session) Append(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.write(s.content + delta)
}

// Update replaces the buffer with the content accumulated upstream.
func (s *Session) Update(accumulated string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.write(accumulated)
}

// End completes the stream: the final buffer is written once more, the card
// stops streaming, and the origin card, if any, is linked to it.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}

	streaming := false
	patch := core.CardPatch{Streaming: &streaming}
	hadContent := s.state == StateStreaming
	if hadContent {
		content := s.content
		patch.Content = &content
	}
	err := s.store.Run(func(tx core.Tx) error {
		ent, ok := tx.GetEntity(s.cardID)
		if !ok {
			return fmt.Errorf("card %s: %w", s.cardID, core.ErrEntityNotFound)
		}
		if hadContent {
			if h, resize := s.resize(ent.Card(), s.content); resize {
				patch.H = &h
			}
		}
		return tx.UpdateEntity(s.cardID, patch)
	})
	if err != nil {
		s.finish(StateFailed, err)
		return
	}

	if s.opts.OriginID != "" {
		id, err := Bind(s.store, s.opts.OriginID, s.cardID, s.opts.Connector)
		if err != nil {
			s.log.WithError(err).Warn("Failed to link card to its origin")
		}
		s.connectorID = id
	}
	s.finish(StateCompleted, nil)
}

// Fail ends the stream on an upstream error. Content already written stays.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	if err == nil {
		err = errors.New("content stream failed")
	}
	s.stopStreaming()
	s.finish(StateFailed, err)
}

// Cancel aborts the stream. Upstream transfer is asked to stop through the
// session context but may still deliver chunks, which are discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.stopStreaming()
	s.finish(StateCancelled, ErrSessionCancelled)
}

// Callbacks adapts the session to a content source.
func (s *Session) Callbacks() core.StreamCallbacks {
	return core.StreamCallbacks{
		OnStreamStart: func() {
			s.log.Debug("Content stream started")
		},
		OnResponseUpdate: s.Update,
		OnStreamEnd:      s.End,
		OnError:          s.Fail,
	}
}

// Run drives the session from source until the stream closes. A source that
// returns without reporting an end or an error is treated as having ended
// or failed according to its return value; a stream interrupted by the
// session context ending counts as cancelled.
func (s *Session) Run(source core.ContentSource, req core.GenerationRequest) {
	err := source.Stream(s.ctx, req, s.Callbacks())
	switch {
	case s.State().Terminal():
	case s.ctx.Err() != nil:
		s.Cancel()
	case err != nil:
		s.Fail(err)
	default:
		s.End()
	}
}

// write must be called with s.mu held and the session not terminal.
func (s *Session) write(content string) {
	if s.state == StateCreated {
		s.state = StateStreaming
		s.log.WithField("session_state", s.state).Debug("First content received")
	}
	s.content = content

	streaming := true
	err := s.store.Run(func(tx core.Tx) error {
		ent, ok := tx.GetEntity(s.cardID)
		if !ok {
			return fmt.Errorf("card %s: %w", s.cardID, core.ErrEntityNotFound)
		}
		patch := core.CardPatch{Content: &content, Streaming: &streaming}
		h, resize := s.resize(ent.Card(), content)
		if resize {
			patch.H = &h
		}
		if err := tx.UpdateEntity(s.cardID, patch); err != nil {
			return err
		}
		if resize && !s.opts.NoCameraFollow {
			centerInTx(tx, s.cardID, s.opts.CameraDuration)
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to write streamed content")
		s.stopStreaming()
		s.finish(StateFailed, err)
	}
}

// resize reports the height card needs for content, and whether it differs
// from the current height by more than the threshold.
func (s *Session) resize(card *core.CardProps, content string) (float64, bool) {
	if card == nil {
		return 0, false
	}
	measured := *card
	measured.Content = &content
	h := requiredHeight(s.opts.Measurer, &measured, s.opts.MinHeight)
	return h, math.Abs(h-card.H) > s.opts.HeightThreshold
}

// stopStreaming clears the streaming flag, ignoring a card that is gone.
func (s *Session) stopStreaming() {
	streaming := false
	err := s.store.Run(func(tx core.Tx) error {
		if _, ok := tx.GetEntity(s.cardID); !ok {
			return nil
		}
		return tx.UpdateEntity(s.cardID, core.CardPatch{Streaming: &streaming})
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to clear streaming flag")
	}
}

// finish must be called with s.mu held.
func (s *Session) finish(state SessionState, err error) {
	s.state = state
	s.err = err
	s.cancel()
	close(s.done)

	entry := s.log.WithField("session_state", state)
	switch state {
	case StateCompleted:
		entry.WithField("content_length", len(s.content)).Info("Content stream completed")
	case StateCancelled:
		entry.Info("Content stream cancelled")
	default:
		entry.WithError(err).Warn("Content stream failed")
	}

	if s.onTerminal != nil {
		s.onTerminal(s)
	}
}
