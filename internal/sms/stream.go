package sms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/metrics"
)

const (
	DefaultStreamURL      = "wss://stream.pushbullet.com/websocket"
	DefaultReconnectDelay = 5 * time.Second

	streamDialTimeout  = 30 * time.Second
	streamMaxFrameSize = 1 << 20
)

type StreamEventKind int

const (
	StreamOpened StreamEventKind = iota
	StreamClosed
	StreamErrored
	StreamFrame
)

type StreamEvent struct {
	Kind  StreamEventKind
	Frame []byte
	Err   error
}

// StreamChannel maintains the long-lived WebSocket connection to the relay.
// It is purely about the connection: frames reach the engine undecoded. The
// dial URL embeds the bearer credential, so it is never logged and errors
// that might quote it are redacted before they leave this type.
type StreamChannel struct {
	baseURL        string
	token          func() string
	reconnectDelay time.Duration
	logger         zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// NewStreamChannel builds a stream channel. token is consulted on every
// dial, so a rotated credential takes effect on the next (re)connect.
func NewStreamChannel(baseURL string, token func() string, reconnectDelay time.Duration, logger zerolog.Logger) *StreamChannel {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &StreamChannel{
		baseURL:        baseURL,
		token:          token,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}
}

func (s *StreamChannel) Connected() bool {
	return s.connected.Load()
}

// Bounce closes the active connection so the run loop redials, picking up a
// rotated credential. No-op while disconnected.
func (s *StreamChannel) Bounce() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "credential rotated")
	}
}

// Run dials the relay stream and reads frames until ctx is cancelled,
// emitting connection lifecycle events and raw frames on events.
// Reconnection is unconditional with a fixed delay and no attempt limit;
// availability is favored over backoff sophistication. Only one reconnect
// wait is ever pending because the loop is strictly sequential.
func (s *StreamChannel) Run(ctx context.Context, events chan<- StreamEvent) {
	for ctx.Err() == nil {
		s.logger.Debug().Msg("dialing relay stream")
		dialCtx, cancel := context.WithTimeout(ctx, streamDialTimeout)
		conn, _, err := websocket.Dial(dialCtx, s.baseURL+"/"+s.token(), nil)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.emit(ctx, events, StreamEvent{Kind: StreamErrored, Err: s.redact(err)})
			metrics.StreamReconnects.Inc()
			if !s.sleep(ctx) {
				return
			}
			continue
		}
		conn.SetReadLimit(streamMaxFrameSize)
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.connected.Store(true)
		s.emit(ctx, events, StreamEvent{Kind: StreamOpened})

		readErr := s.readLoop(ctx, conn, events)

		s.connected.Store(false)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		s.emit(ctx, events, StreamEvent{Kind: StreamClosed, Err: s.redact(readErr)})
		metrics.StreamReconnects.Inc()
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *StreamChannel) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- StreamEvent) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.emit(ctx, events, StreamEvent{Kind: StreamFrame, Frame: data})
	}
}

func (s *StreamChannel) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (s *StreamChannel) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// redact strips the credential from error text; dial failures quote the
// full URL.
func (s *StreamChannel) redact(err error) error {
	if err == nil {
		return nil
	}
	token := s.token()
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "[redacted]"))
}
