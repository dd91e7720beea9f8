package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Inbound frame discriminators.
const (
	FrameLogin        = "login"
	FramePing         = "ping"
	FrameNotification = "notification"
)

// Outbound frame discriminators.
const (
	FrameConnectionEstablished = "connection_established"
	FrameLoginConfirmed        = "login_confirmed"
	FramePong                  = "pong"
	FrameNotificationDelivered = "notification_delivered"
	FrameNotificationPending   = "notification_pending"
	FrameAcknowledgment        = "acknowledgment"
	FrameError                 = "error"
)

// ErrMalformedFrame is returned by DecodeInbound when the payload is not a
// JSON object with a string "type" field.
var ErrMalformedFrame = errors.New("malformed frame")

// InboundFrame is the closed set of frames a client may send. The concrete
// types are LoginFrame, PingFrame, NotificationFrame and UnknownFrame.
type InboundFrame interface {
	FrameType() string
	inbound()
}

// LoginFrame attaches an identity to the session. UserID is empty when the
// client omitted it.
type LoginFrame struct {
	UserID string
}

// PingFrame is a liveness probe.
type PingFrame struct{}

// NotificationFrame asks the server to relay Data to RecipientID.
type NotificationFrame struct {
	RecipientID string
	Data        json.RawMessage
}

// UnknownFrame carries any type the server does not recognise.
type UnknownFrame struct {
	Type string
}

func (LoginFrame) FrameType() string        { return FrameLogin }
func (PingFrame) FrameType() string         { return FramePing }
func (NotificationFrame) FrameType() string { return FrameNotification }
func (f UnknownFrame) FrameType() string    { return f.Type }

func (LoginFrame) inbound()        {}
func (PingFrame) inbound()         {}
func (NotificationFrame) inbound() {}
func (UnknownFrame) inbound()      {}

// looseID accepts identifiers sent either as JSON strings or JSON numbers.
type looseID string

func (id *looseID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = looseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = looseID(n.String())
	return nil
}

type inboundWire struct {
	Type             string          `json:"type"`
	UserID           looseID         `json:"user_id"`
	RecipientID      looseID         `json:"recipient_id"`
	NotificationData json.RawMessage `json:"notification_data"`
}

// DecodeInbound parses a raw client payload into one of the InboundFrame
// variants.
func DecodeInbound(raw []byte) (InboundFrame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedFrame
	}
	var w inboundWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, errors.Join(ErrMalformedFrame, err)
	}

	switch w.Type {
	case FrameLogin:
		return LoginFrame{UserID: string(w.UserID)}, nil
	case FramePing:
		return PingFrame{}, nil
	case FrameNotification:
		data := w.NotificationData
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			data = nil
		}
		return NotificationFrame{RecipientID: string(w.RecipientID), Data: data}, nil
	default:
		return UnknownFrame{Type: w.Type}, nil
	}
}

// --- Outbound frames ---

type connectionEstablishedFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type loginConfirmedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type notificationFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type notificationDeliveredFrame struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipient_id"`
}

type notificationPendingFrame struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	RecipientID string `json:"recipient_id"`
}

type acknowledgmentFrame struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	ReceivedType string `json:"received_type"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Fixed reply texts.
const (
	msgConnectionEstablished = "WebSocket connection established"
	msgLoginConfirmed        = "Login connection successful"
	msgMissingUserID         = "Missing user_id in login message"
	msgMissingRelayFields    = "Missing recipient_id or notification_data in notification message"
	msgNotificationPending   = "User not connected, notification will be delivered when they reconnect"
	msgAcknowledgment        = "Message received"
	msgInvalidJSON           = "Invalid JSON format"
	msgInternalError         = "Internal error processing message"
)

func timestamp(clock Clock) string {
	return clock().Format(timestampLayout)
}

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"
