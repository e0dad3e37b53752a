package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

/*
WIRE FORMAT

Every WebSocket text frame carries exactly one envelope:

	{"type": "addComment", "ack": 7, "payload": {"comment": {...}}}

"type" selects the payload struct, "ack" is set only on requests that expect
an Ack reply and is echoed back on that reply.
*/

var (
	// ErrUnknownEvent is returned for an envelope type outside the protocol.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrMalformedPayload is returned when the payload does not decode or validate.
	ErrMalformedPayload = errors.New("malformed event payload")
)

// Envelope is the frame shape on the wire.
type Envelope struct {
	Type    EventType       `json:"type"`
	Ack     uint64          `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type decodeFunc func(json.RawMessage) (Event, error)

var registry = map[EventType]decodeFunc{
	EventJoinSession:         decodeAs[JoinSession],
	EventLeaveSession:        decodeAs[LeaveSession],
	EventMoveCursor:          decodeAs[MoveCursor],
	EventSetTyping:           decodeAs[SetTyping],
	EventAddComment:          decodeAs[AddComment],
	EventUpdateComment:       decodeAs[UpdateComment],
	EventDeleteComment:       decodeAs[DeleteComment],
	EventStartAnnotation:     decodeAs[StartAnnotation],
	EventUpdateAnnotation:    decodeAs[UpdateAnnotation],
	EventCompleteAnnotation:  decodeAs[CompleteAnnotation],
	EventDeleteAnnotation:    decodeAs[DeleteAnnotation],
	EventSeekVideo:           decodeAs[SeekVideo],
	EventPlayPauseVideo:      decodeAs[PlayPauseVideo],
	EventRequestInitialState: decodeAs[RequestInitialState],
	EventAuthenticate:        decodeAs[Authenticate],
	EventPing:                decodeAs[Ping],

	EventUserJoined:          decodeAs[UserJoined],
	EventUserLeft:            decodeAs[UserLeft],
	EventUserCursorMoved:     decodeAs[UserCursorMoved],
	EventUserIsTyping:        decodeAs[UserIsTyping],
	EventCommentAdded:        decodeAs[CommentAdded],
	EventCommentUpdated:      decodeAs[CommentUpdated],
	EventCommentDeleted:      decodeAs[CommentDeleted],
	EventAnnotationStarted:   decodeAs[AnnotationStarted],
	EventAnnotationUpdated:   decodeAs[AnnotationUpdated],
	EventAnnotationCompleted: decodeAs[AnnotationCompleted],
	EventAnnotationDeleted:   decodeAs[AnnotationDeleted],
	EventVideoSeeked:         decodeAs[VideoSeeked],
	EventVideoPlayPause:      decodeAs[VideoPlayPause],
	EventInitialState:        decodeAs[InitialState],
	EventAck:                 decodeAs[Ack],
	EventError:               decodeAs[ErrorEvent],
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var ev T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
	}
	if v, ok := any(ev).(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// Known reports whether t is part of the protocol.
func Known(t EventType) bool {
	_, ok := registry[t]
	return ok
}

// Encode serialises ev into an envelope. ack is 0 for fire-and-forget events.
func Encode(ev Event, ack uint64) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", ev.EventType(), err)
	}
	data, err := json.Marshal(Envelope{
		Type:    ev.EventType(),
		Ack:     ack,
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", ev.EventType(), err)
	}
	return data, nil
}

// Decode parses a frame into its typed event and ack id.
func Decode(data []byte) (Event, uint64, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	decode, ok := registry[env.Type]
	if !ok {
		return nil, env.Ack, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	ev, err := decode(env.Payload)
	if err != nil {
		return nil, env.Ack, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	return ev, env.Ack, nil
}
