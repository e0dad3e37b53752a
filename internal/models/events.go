package models

import (
	"errors"
	"math"
)

// EventType names a message on the collaboration wire.
type EventType string

// Client -> server events.
const (
	EventJoinSession         EventType = "joinSession"
	EventLeaveSession        EventType = "leaveSession"
	EventMoveCursor          EventType = "moveCursor"
	EventSetTyping           EventType = "setTyping"
	EventAddComment          EventType = "addComment"
	EventUpdateComment       EventType = "updateComment"
	EventDeleteComment       EventType = "deleteComment"
	EventStartAnnotation     EventType = "startAnnotation"
	EventUpdateAnnotation    EventType = "updateAnnotation"
	EventCompleteAnnotation  EventType = "completeAnnotation"
	EventDeleteAnnotation    EventType = "deleteAnnotation"
	EventSeekVideo           EventType = "seekVideo"
	EventPlayPauseVideo      EventType = "playPauseVideo"
	EventRequestInitialState EventType = "requestInitialState"
	EventAuthenticate        EventType = "authenticate"
	EventPing                EventType = "ping"
)

// Server -> client events.
const (
	EventUserJoined          EventType = "userJoined"
	EventUserLeft            EventType = "userLeft"
	EventUserCursorMoved     EventType = "userCursorMoved"
	EventUserIsTyping        EventType = "userIsTyping"
	EventCommentAdded        EventType = "commentAdded"
	EventCommentUpdated      EventType = "commentUpdated"
	EventCommentDeleted      EventType = "commentDeleted"
	EventAnnotationStarted   EventType = "annotationStarted"
	EventAnnotationUpdated   EventType = "annotationUpdated"
	EventAnnotationCompleted EventType = "annotationCompleted"
	EventAnnotationDeleted   EventType = "annotationDeleted"
	EventVideoSeeked         EventType = "videoSeeked"
	EventVideoPlayPause      EventType = "videoPlayPause"
	EventInitialState        EventType = "initialState"
	EventAck                 EventType = "ack"
	EventError               EventType = "error"
)

// Event is one message of the collaboration protocol. The set of
// implementations is closed: every EventType above has exactly one struct.
type Event interface {
	EventType() EventType
}

type validator interface {
	validate() error
}

var (
	errMissingSession = errors.New("sessionId is required")
	errMissingUser    = errors.New("user id is required")
	errMissingID      = errors.New("id is required")
	errBadTime        = errors.New("time must be a finite value >= 0")
)

// Client -> server payloads.

type JoinSession struct {
	SessionID string            `json:"sessionId"`
	User      CollaborationUser `json:"user"`
}

type LeaveSession struct{}

type MoveCursor struct {
	Position CursorPosition `json:"position"`
}

type SetTyping struct {
	IsTyping bool `json:"isTyping"`
}

type AddComment struct {
	Comment Comment `json:"comment"`
}

type UpdateComment struct {
	Comment Comment `json:"comment"`
}

type DeleteComment struct {
	CommentID string `json:"commentId"`
}

type StartAnnotation struct {
	Annotation Annotation `json:"annotation"`
}

type UpdateAnnotation struct {
	Annotation Annotation `json:"annotation"`
}

type CompleteAnnotation struct {
	Annotation Annotation `json:"annotation"`
}

type DeleteAnnotation struct {
	AnnotationID string `json:"annotationId"`
}

type SeekVideo struct {
	Time float64 `json:"time"`
}

type PlayPauseVideo struct {
	IsPlaying bool `json:"isPlaying"`
}

type RequestInitialState struct{}

// Authenticate carries token = hex(HMAC-SHA256(secret, "{sessionId}:{userId}")).
type Authenticate struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Token     string `json:"token"`
}

// Ping carries the sender's clock in unix milliseconds.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Server -> client payloads.

type UserJoined struct {
	User CollaborationUser `json:"user"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type UserCursorMoved struct {
	UserID   string         `json:"userId"`
	Position CursorPosition `json:"position"`
}

type UserIsTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type CommentAdded struct {
	Comment Comment `json:"comment"`
}

type CommentUpdated struct {
	Comment Comment `json:"comment"`
}

type CommentDeleted struct {
	CommentID string `json:"commentId"`
}

type AnnotationStarted struct {
	UserID     string     `json:"userId"`
	Annotation Annotation `json:"annotation"`
}

type AnnotationUpdated struct {
	UserID     string     `json:"userId"`
	Annotation Annotation `json:"annotation"`
}

type AnnotationCompleted struct {
	Annotation Annotation `json:"annotation"`
}

type AnnotationDeleted struct {
	AnnotationID string `json:"annotationId"`
}

type VideoSeeked struct {
	UserID string  `json:"userId"`
	Time   float64 `json:"time"`
}

type VideoPlayPause struct {
	UserID    string `json:"userId"`
	IsPlaying bool   `json:"isPlaying"`
}

type InitialState struct {
	State CollaborationState `json:"state"`
}

// Ack answers a request envelope that carried an ack id.
type Ack struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	ServerTime int64  `json:"serverTime,omitempty"`
}

// ErrorEvent reports a rejected event back to its sender.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (JoinSession) EventType() EventType         { return EventJoinSession }
func (LeaveSession) EventType() EventType        { return EventLeaveSession }
func (MoveCursor) EventType() EventType          { return EventMoveCursor }
func (SetTyping) EventType() EventType           { return EventSetTyping }
func (AddComment) EventType() EventType          { return EventAddComment }
func (UpdateComment) EventType() EventType       { return EventUpdateComment }
func (DeleteComment) EventType() EventType       { return EventDeleteComment }
func (StartAnnotation) EventType() EventType     { return EventStartAnnotation }
func (UpdateAnnotation) EventType() EventType    { return EventUpdateAnnotation }
func (CompleteAnnotation) EventType() EventType  { return EventCompleteAnnotation }
func (DeleteAnnotation) EventType() EventType    { return EventDeleteAnnotation }
func (SeekVideo) EventType() EventType           { return EventSeekVideo }
func (PlayPauseVideo) EventType() EventType      { return EventPlayPauseVideo }
func (RequestInitialState) EventType() EventType { return EventRequestInitialState }
func (Authenticate) EventType() EventType        { return EventAuthenticate }
func (Ping) EventType() EventType                { return EventPing }

func (UserJoined) EventType() EventType          { return EventUserJoined }
func (UserLeft) EventType() EventType            { return EventUserLeft }
func (UserCursorMoved) EventType() EventType     { return EventUserCursorMoved }
func (UserIsTyping) EventType() EventType        { return EventUserIsTyping }
func (CommentAdded) EventType() EventType        { return EventCommentAdded }
func (CommentUpdated) EventType() EventType      { return EventCommentUpdated }
func (CommentDeleted) EventType() EventType      { return EventCommentDeleted }
func (AnnotationStarted) EventType() EventType   { return EventAnnotationStarted }
func (AnnotationUpdated) EventType() EventType   { return EventAnnotationUpdated }
func (AnnotationCompleted) EventType() EventType { return EventAnnotationCompleted }
func (AnnotationDeleted) EventType() EventType   { return EventAnnotationDeleted }
func (VideoSeeked) EventType() EventType         { return EventVideoSeeked }
func (VideoPlayPause) EventType() EventType      { return EventVideoPlayPause }
func (InitialState) EventType() EventType        { return EventInitialState }
func (Ack) EventType() EventType                 { return EventAck }
func (ErrorEvent) EventType() EventType          { return EventError }

func (e JoinSession) validate() error {
	if e.SessionID == "" {
		return errMissingSession
	}
	if e.User.ID == "" {
		return errMissingUser
	}
	return nil
}

func (e AddComment) validate() error         { return validateComment(e.Comment) }
func (e UpdateComment) validate() error      { return validateComment(e.Comment) }
func (e DeleteComment) validate() error      { return requireID(e.CommentID) }
func (e StartAnnotation) validate() error    { return requireID(e.Annotation.ID) }
func (e UpdateAnnotation) validate() error   { return requireID(e.Annotation.ID) }
func (e CompleteAnnotation) validate() error { return requireID(e.Annotation.ID) }
func (e DeleteAnnotation) validate() error   { return requireID(e.AnnotationID) }
func (e SeekVideo) validate() error          { return validateTime(e.Time) }
func (e CommentAdded) validate() error       { return validateComment(e.Comment) }
func (e CommentUpdated) validate() error     { return validateComment(e.Comment) }
func (e CommentDeleted) validate() error     { return requireID(e.CommentID) }
func (e AnnotationDeleted) validate() error  { return requireID(e.AnnotationID) }

func validateComment(c Comment) error {
	if err := requireID(c.ID); err != nil {
		return err
	}
	return validateTime(c.Time)
}

func validateTime(t float64) error {
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return errBadTime
	}
	return nil
}

func requireID(id string) error {
	if id == "" {
		return errMissingID
	}
	return nil
}
