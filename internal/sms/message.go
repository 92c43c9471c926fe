package sms

import (
	"fmt"
	"strings"
	"time"
)

// UnknownSender is the display name used when the relay provides no sender
// information for a notification.
const UnknownSender = "Unknown"

// Message is the canonical, immutable form of a relay notification once it
// has been normalized by the ingestion engine. Two representations of the
// same upstream notification collapse on ID equality; stream-synthesized
// ids use the local receipt instant, so cross-channel duplicates can
// survive dedup when the relay supplies no stable timestamp.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	ThreadID  string    `json:"threadId,omitempty"`
	App       string    `json:"app,omitempty"`
}

const isoMillis = "2006-01-02T15:04:05.000Z"

// ISOTimestamp renders the message instant as a millisecond-precision
// ISO-8601 string in UTC.
func (m Message) ISOTimestamp() string {
	return m.Timestamp.UTC().Format(isoMillis)
}

// epochToTime converts a relay timestamp to an instant. The relay delivers
// whole-second Unix epochs (occasionally with a fractional part); every
// normalization path goes through this conversion.
func epochToTime(seconds float64) time.Time {
	return time.UnixMilli(int64(seconds * 1000)).UTC()
}

func senderOrUnknown(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownSender
	}
	return raw
}

// messageFromPoll builds the poll-path message. The id combines the thread
// id with the push's server-assigned modification timestamp, so repeated
// polls of the same notification collapse to one entry.
func messageFromPoll(notif Notification, modified float64) Message {
	ts := notif.Timestamp
	if ts == 0 {
		ts = modified
	}
	return Message{
		ID:        fmt.Sprintf("%s_%d", notif.ThreadID, int64(modified*1000)),
		Sender:    senderOrUnknown(notif.Title),
		Body:      notif.Body,
		Timestamp: epochToTime(ts),
		ThreadID:  notif.ThreadID,
	}
}

// messageFromStream builds the stream-path message. Stream frames carry no
// server-assigned per-notification timestamp, so the id is synthesized from
// the local receipt instant.
func messageFromStream(notif Notification, receivedAt time.Time) Message {
	timestamp := receivedAt.UTC()
	if notif.Timestamp != 0 {
		timestamp = epochToTime(notif.Timestamp)
	}
	return Message{
		ID:        fmt.Sprintf("%s_%d", notif.ThreadID, receivedAt.UnixMilli()),
		Sender:    senderOrUnknown(notif.Title),
		Body:      notif.Body,
		Timestamp: timestamp,
		ThreadID:  notif.ThreadID,
	}
}

// messageFromMirror builds the app-mirror variant used when the default
// messaging app forwards a notification instead of an sms_changed push.
func messageFromMirror(push *pushPayload, receivedAt time.Time) Message {
	return Message{
		ID:        fmt.Sprintf("mirror_%d", receivedAt.UnixMilli()),
		Sender:    senderOrUnknown(push.Title),
		Body:      push.Body,
		Timestamp: receivedAt.UTC(),
		App:       push.ApplicationName,
	}
}

// messageFromThread normalizes a thread's latest message for the manual
// catch-up path. The thread's own identifier serves as the message id, so
// repeated snapshots of an unchanged thread are no-ops.
func messageFromThread(t Thread) Message {
	sender := UnknownSender
	if len(t.Recipients) > 0 {
		if name := strings.TrimSpace(t.Recipients[0].Name); name != "" {
			sender = name
		} else if addr := strings.TrimSpace(t.Recipients[0].Address); addr != "" {
			sender = addr
		}
	}
	return Message{
		ID:        t.ID,
		Sender:    sender,
		Body:      t.Latest.Body,
		Timestamp: epochToTime(t.Latest.Timestamp),
		ThreadID:  t.ID,
	}
}
