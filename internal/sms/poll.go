package sms

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/metrics"
)

const (
	DefaultReconcileLimit = 10
	DefaultThreadsLimit   = 20
)

// PollChannel is the request/response fallback path: it pulls the relay's
// recent activity and reconciles it into the store. Every failure here is
// soft; the stream channel remains the primary delivery path and the caller
// only ever sees an empty result.
type PollChannel struct {
	client *Client
	store  *Store
	logger zerolog.Logger
}

func NewPollChannel(client *Client, store *Store, logger zerolog.Logger) *PollChannel {
	return &PollChannel{client: client, store: store, logger: logger}
}

// FetchAndReconcile pulls the most recent pushes and inserts every SMS
// notification found. Duplicates already delivered over the stream collapse
// on id equality when both channels agree on the timestamp. Returns the
// number of newly stored messages; errors are logged, never propagated.
func (p *PollChannel) FetchAndReconcile(ctx context.Context, limit int) int {
	if limit <= 0 {
		limit = DefaultReconcileLimit
	}
	pushes, err := p.client.RecentPushes(ctx, limit)
	if err != nil {
		metrics.PollRequests.WithLabelValues("error").Inc()
		p.logger.Warn().Err(err).Msg("poll: fetching recent pushes failed")
		return 0
	}
	metrics.PollRequests.WithLabelValues("ok").Inc()
	inserted := 0
	for _, push := range pushes {
		if push.Type != "sms_changed" {
			continue
		}
		for _, notif := range push.Notifications {
			if p.store.Insert(messageFromPoll(notif, push.Modified)) {
				metrics.MessagesIngested.WithLabelValues("poll").Inc()
				inserted++
			}
		}
	}
	return inserted
}

// FetchThreadsSnapshot resolves the first active SMS-capable device and
// merges the latest message of each of its threads into the store, returning
// the merged messages. A missing device, an upstream error, or an empty
// thread list all surface as an empty slice.
func (p *PollChannel) FetchThreadsSnapshot(ctx context.Context, limit int) []Message {
	if limit <= 0 {
		limit = DefaultThreadsLimit
	}
	devices, err := p.client.Devices(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("poll: listing devices failed")
		return nil
	}
	var deviceIden string
	for _, d := range devices {
		if d.Active && d.HasSMS {
			deviceIden = d.Iden
			break
		}
	}
	if deviceIden == "" {
		p.logger.Info().Msg("poll: no active SMS-capable Device found")
		return nil
	}
	threads, err := p.client.DeviceThreads(ctx, deviceIden)
	if err != nil {
		p.logger.Warn().Err(err).Msg("poll: fetching threads failed")
		return nil
	}
	merged := make([]Message, 0, limit)
	for _, t := range threads {
		if len(merged) >= limit {
			break
		}
		if t.Latest == nil {
			continue
		}
		msg := messageFromThread(t)
		if p.store.Insert(msg) {
			metrics.MessagesIngested.WithLabelValues("threads").Inc()
		}
		merged = append(merged, msg)
	}
	return merged
}
