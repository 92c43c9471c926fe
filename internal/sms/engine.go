package sms

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/metrics"
)

// Engine is the composition root of the core: it owns the stream channel,
// the poll channel, and the store, and is the single consumer of stream
// events. All normalization happens here so frame handling is testable
// without a live socket.
type Engine struct {
	store  *Store
	stream *StreamChannel
	poll   *PollChannel
	logger zerolog.Logger

	credentialConfigured bool

	events    chan StreamEvent
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

type EngineOptions struct {
	Store                *Store
	Stream               *StreamChannel
	Poll                 *PollChannel
	Logger               zerolog.Logger
	CredentialConfigured bool
}

func NewEngine(opts EngineOptions) *Engine {
	return &Engine{
		store:                opts.Store,
		stream:               opts.Stream,
		poll:                 opts.Poll,
		logger:               opts.Logger,
		credentialConfigured: opts.CredentialConfigured,
		events:               make(chan StreamEvent, 16),
	}
}

// Status is the read-through snapshot exposed to callers.
type Status struct {
	Connected            bool    `json:"connected"`
	StoredCount          int     `json:"storedCount"`
	MostRecentTimestamp  *string `json:"mostRecentTimestamp"`
	CredentialConfigured bool    `json:"credentialConfigured"`
}

// Start opens the stream connection and performs one immediate reconcile so
// the store is seeded before the first stream frame arrives. Safe to call
// once; subsequent calls are no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		e.wg.Add(3)
		go func() {
			defer e.wg.Done()
			e.stream.Run(runCtx, e.events)
		}()
		go func() {
			defer e.wg.Done()
			e.dispatchLoop(runCtx)
		}()
		go func() {
			defer e.wg.Done()
			e.poll.FetchAndReconcile(runCtx, DefaultReconcileLimit)
		}()
	})
}

// Stop cancels the channels and waits for them to drain. Buffered messages
// survive until process exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
	})
}

func (e *Engine) Store() *Store { return e.store }

func (e *Engine) Poll() *PollChannel { return e.poll }

// BounceStream drops the live stream connection so the next dial picks up a
// rotated credential.
func (e *Engine) BounceStream() { e.stream.Bounce() }

func (e *Engine) Status() Status {
	status := Status{
		Connected:            e.stream.Connected(),
		StoredCount:          e.store.Size(),
		CredentialConfigured: e.credentialConfigured,
	}
	if msg, ok := e.store.MostRecent(); ok {
		ts := msg.ISOTimestamp()
		status.MostRecentTimestamp = &ts
	}
	return status
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	for {
		select {
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev StreamEvent) {
	switch ev.Kind {
	case StreamOpened:
		e.logger.Info().Msg("stream connected")
	case StreamClosed:
		e.logger.Warn().AnErr("cause", ev.Err).Msg("stream disconnected, reconnect scheduled")
	case StreamErrored:
		e.logger.Warn().AnErr("cause", ev.Err).Msg("stream connect failed, reconnect scheduled")
	case StreamFrame:
		e.handleFrame(ctx, ev.Frame, time.Now())
	}
}

// handleFrame decodes one relay frame. Heartbeats and unknown shapes are
// ignored; malformed frames are logged and dropped, never fatal.
func (e *Engine) handleFrame(ctx context.Context, data []byte, receivedAt time.Time) {
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		e.logger.Warn().Err(err).Msg("dropping malformed stream frame")
		return
	}
	switch frame.Type {
	case "tickle":
		if frame.Subtype == "push" {
			e.poll.FetchAndReconcile(ctx, DefaultReconcileLimit)
		}
	case "push":
		e.handlePush(frame.Push, receivedAt)
	}
}

func (e *Engine) handlePush(push *pushPayload, receivedAt time.Time) {
	if push == nil {
		return
	}
	switch push.Type {
	case "sms_changed":
		for _, notif := range push.Notifications {
			if e.store.Insert(messageFromStream(notif, receivedAt)) {
				metrics.MessagesIngested.WithLabelValues("stream").Inc()
			}
		}
	case "mirror":
		if push.PackageName != defaultMessagingPackage {
			return
		}
		if e.store.Insert(messageFromMirror(push, receivedAt)) {
			metrics.MessagesIngested.WithLabelValues("mirror").Inc()
		}
	}
}
