// Package webhook receives Instagram webhook deliveries, decodes them into
// typed events, and routes them through call admission.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventKind string

const (
	EventKindComment  EventKind = "comment"
	EventKindMessage  EventKind = "message"
	EventKindPostback EventKind = "postback"
)

var (
	ErrMalformedPayload = errors.New("webhook: malformed payload")
	ErrWrongObject      = errors.New("webhook: not an instagram delivery")
)

// CommentEvent is a new comment on one of the account's posts.
type CommentEvent struct {
	AccountID    string    `json:"account_id"`
	CommentID    string    `json:"comment_id"`
	MediaID      string    `json:"media_id"`
	Text         string    `json:"text"`
	FromID       string    `json:"from_id"`
	FromUsername string    `json:"from_username"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessageEvent is a direct message in an ongoing conversation.
type MessageEvent struct {
	AccountID   string    `json:"account_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	MessageID   string    `json:"message_id"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// PostbackEvent is a button tap inside a structured message.
type PostbackEvent struct {
	AccountID string    `json:"account_id"`
	SenderID  string    `json:"sender_id"`
	Title     string    `json:"title"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the tagged union carried through dispatch and the deferred queue.
// Exactly one of the pointers is set, matching Kind.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Comment  *CommentEvent  `json:"comment,omitempty"`
	Message  *MessageEvent  `json:"message,omitempty"`
	Postback *PostbackEvent `json:"postback,omitempty"`
}

// AccountID returns the connected account the event belongs to.
func (e Event) AccountID() string {
	switch e.Kind {
	case EventKindComment:
		return e.Comment.AccountID
	case EventKindMessage:
		return e.Message.AccountID
	case EventKindPostback:
		return e.Postback.AccountID
	}
	return ""
}

// Wire shapes, see the Instagram webhooks reference.
type payload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string          `json:"id"`
	Time      int64           `json:"time"`
	Changes   []change        `json:"changes"`
	Messaging []messagingItem `json:"messaging"`
}

type change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type commentValue struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}

type messagingItem struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
	Postback *struct {
		MID     string `json:"mid"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

// ParsePayload decodes a webhook delivery into typed events. unknown counts
// the shapes that matched no known kind; those never reach admission.
func ParsePayload(raw []byte) (events []Event, unknown int, err error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Object != "instagram" {
		return nil, 0, fmt.Errorf("%w: object %q", ErrWrongObject, p.Object)
	}
	if len(p.Entry) == 0 {
		return nil, 0, fmt.Errorf("%w: no entries", ErrMalformedPayload)
	}

	for _, e := range p.Entry {
		entryTime := time.Unix(e.Time, 0).UTC()

		for _, ch := range e.Changes {
			if ch.Field != "comments" {
				unknown++
				continue
			}
			var v commentValue
			if err := json.Unmarshal(ch.Value, &v); err != nil || v.ID == "" {
				unknown++
				continue
			}
			events = append(events, Event{
				Kind: EventKindComment,
				Comment: &CommentEvent{
					AccountID:    e.ID,
					CommentID:    v.ID,
					MediaID:      v.Media.ID,
					Text:         v.Text,
					FromID:       v.From.ID,
					FromUsername: v.From.Username,
					Timestamp:    entryTime,
				},
			})
		}

		for _, m := range e.Messaging {
			ts := time.UnixMilli(m.Timestamp).UTC()
			switch {
			case m.Message != nil:
				if m.Message.IsEcho {
					// Echoes of our own sends are not inbound traffic.
					continue
				}
				events = append(events, Event{
					Kind: EventKindMessage,
					Message: &MessageEvent{
						AccountID:   e.ID,
						SenderID:    m.Sender.ID,
						RecipientID: m.Recipient.ID,
						MessageID:   m.Message.MID,
						Text:        m.Message.Text,
						Timestamp:   ts,
					},
				})
			case m.Postback != nil:
				events = append(events, Event{
					Kind: EventKindPostback,
					Postback: &PostbackEvent{
						AccountID: e.ID,
						SenderID:  m.Sender.ID,
						Title:     m.Postback.Title,
						Payload:   m.Postback.Payload,
						Timestamp: ts,
					},
				})
			default:
				unknown++
			}
		}
	}
	return events, unknown, nil
}
