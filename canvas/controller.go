package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"genui-canvas/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCardWidth  = 600
	DefaultCardHeight = 300
	// DefaultFinishedHistory is how many ended streams a controller remembers.
	DefaultFinishedHistory = 256
)

type (
	// Config holds the controller-wide defaults. Zero fields take the
	// package defaults.
	Config struct {
		Padding         float64
		MaxAttempts     int
		Measurer        Measurer
		MinHeight       float64
		HeightThreshold float64
		CameraDuration  time.Duration
		// FinishedHistory bounds the outcomes kept for ended streams.
		FinishedHistory int
	}

	// Outcome is how a card's stream ended.
	Outcome struct {
		CardID      core.EntityID
		State       SessionState
		Content     string
		ConnectorID core.EntityID
		Err         error
	}

	// CreateOptions describes one card to generate.
	CreateOptions struct {
		Prompt string
		// PreviousResponse primes a follow-up. When empty and OriginID is
		// set, the origin card's content is used.
		PreviousResponse string
		Width            float64
		Height           float64
		// OriginID links the new card to the card it was generated from once
		// its stream completes.
		OriginID core.EntityID
		// KeepCamera leaves the view where it is when the card is created.
		KeepCamera bool
		// AnimationDuration overrides Config.CameraDuration for this card.
		AnimationDuration time.Duration
	}

	// Controller creates cards and runs one Session per card. Sessions are
	// independent of each other; they only share the host store.
	Controller struct {
		store  core.EntityStore
		source core.ContentSource
		cfg    Config

		mu       sync.Mutex
		sessions map[core.EntityID]*Session
		finished map[core.EntityID]Outcome
		// order is finished's keys, oldest first.
		order []core.EntityID
		wg    sync.WaitGroup
	}
)

func NewController(store core.EntityStore, source core.ContentSource, cfg Config) *Controller {
	if cfg.Measurer == nil {
		cfg.Measurer = DefaultMeasurer
	}
	if cfg.CameraDuration == 0 {
		cfg.CameraDuration = DefaultCameraDuration
	}
	if cfg.FinishedHistory <= 0 {
		cfg.FinishedHistory = DefaultFinishedHistory
	}
	return &Controller{
		store:    store,
		source:   source,
		cfg:      cfg,
		sessions: make(map[core.EntityID]*Session),
		finished: make(map[core.EntityID]Outcome),
	}
}

// Create places a new empty card, optionally centres the camera on it, and
// starts streaming its content in the background. The returned session
// outlives the call; cancel ctx or the session to stop it.
func (c *Controller) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if opts.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultCardWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultCardHeight
	}
	duration := opts.AnimationDuration
	if duration == 0 {
		duration = c.cfg.CameraDuration
	}

	req := core.GenerationRequest{
		Prompt:           opts.Prompt,
		PreviousResponse: opts.PreviousResponse,
		Context:          ExtractContext(c.store),
	}
	if req.PreviousResponse == "" && opts.OriginID != "" {
		if origin, ok := c.store.GetEntity(opts.OriginID); ok {
			req.PreviousResponse = origin.Card().ContentString()
		}
	}

	id := core.EntityID(ulid.Make().String())
	var pos core.Vec
	err := c.store.Run(func(tx core.Tx) error {
		pos = PlaceCard(tx, PlacementRequest{
			Width:       opts.Width,
			Height:      opts.Height,
			Padding:     c.cfg.Padding,
			MaxAttempts: c.cfg.MaxAttempts,
		})
		return tx.CreateEntity(core.Entity{
			ID:   id,
			Kind: core.KindCard,
			X:    pos.X,
			Y:    pos.Y,
			Props: &core.CardProps{
				W:         opts.Width,
				H:         opts.Height,
				Prompt:    opts.Prompt,
				Streaming: true,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating card: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"card_id":   id,
		"origin_id": opts.OriginID,
		"x":         pos.X,
		"y":         pos.Y,
	})
	log.Info("Card placed")

	if !opts.KeepCamera {
		CenterCamera(c.store, id, duration)
	}

	session, err := NewSession(ctx, c.store, id, SessionOptions{
		OriginID:        opts.OriginID,
		Measurer:        c.cfg.Measurer,
		MinHeight:       c.cfg.MinHeight,
		HeightThreshold: c.cfg.HeightThreshold,
		CameraDuration:  duration,
	})
	if err != nil {
		return nil, err
	}
	session.onTerminal = c.forget

	c.mu.Lock()
	c.sessions[id] = session
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		session.Run(c.source, req)
	}()
	return session, nil
}

// Session returns the in-flight session for a card.
func (c *Controller) Session(cardID core.EntityID) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[cardID]
	return s, ok
}

// Outcome returns how the stream of a card ended. Only the most recent
// Config.FinishedHistory outcomes are kept.
func (c *Controller) Outcome(cardID core.EntityID) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.finished[cardID]
	return o, ok
}

// Active lists cards whose streams are still open.
func (c *Controller) Active() []core.EntityID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]core.EntityID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Cancel aborts the stream for a card. It reports false when no stream is
// open for it.
func (c *Controller) Cancel(cardID core.EntityID) bool {
	s, ok := c.Session(cardID)
	if !ok {
		return false
	}
	s.Cancel()
	return true
}

// CancelAll aborts every open stream, for teardown.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	open := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		open = append(open, s)
	}
	c.mu.Unlock()

	for _, s := range open {
		s.Cancel()
	}
}

// Wait blocks until every stream goroutine has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// forget moves a terminal session into the finished outcomes. It runs with
// s.mu held, so it reads the session's fields directly.
func (c *Controller) forget(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.cardID] == s {
		delete(c.sessions, s.cardID)
	}

	if _, seen := c.finished[s.cardID]; !seen {
		c.order = append(c.order, s.cardID)
	}
	c.finished[s.cardID] = Outcome{
		CardID:      s.cardID,
		State:       s.state,
		Content:     s.content,
		ConnectorID: s.connectorID,
		Err:         s.err,
	}
	for len(c.order) > c.cfg.FinishedHistory {
		delete(c.finished, c.order[0])
		c.order = c.order[1:]
	}
}
