// Package realtime contains the public domain models and interfaces for the
// real-time notification service. It defines the contract between the
// connection layer and the request-driven code that produces notifications.
package realtime

import (
	"encoding/json"
	"time"
)

// ConnectionInfo holds details about a user's real-time connection.
// This is stored in the presence cache.
type ConnectionInfo struct {
	ServerInstanceID string `json:"serverInstanceId"`
	ConnectionID     string `json:"connectionId"`
	ConnectedAt      int64  `json:"connectedAt"`
}

// NotificationType classifies a durable notification record.
type NotificationType string

const (
	TypeComment      NotificationType = "comment"
	TypeEnrollment   NotificationType = "enrollment"
	TypeCourseViewed NotificationType = "course_viewed"
	TypeQuestion     NotificationType = "question"
	TypeReply        NotificationType = "reply"
	TypeOther        NotificationType = "other"
)

// IsValid reports whether t is one of the known notification types.
func (t NotificationType) IsValid() bool {
	switch t {
	case TypeComment, TypeEnrollment, TypeCourseViewed, TypeQuestion, TypeReply, TypeOther:
		return true
	default:
		return false
	}
}

// Notification is the durable record kept for every domain event, whether or
// not it reached a live connection. Clients poll these on reconnect.
type Notification struct {
	ID              string           `json:"id" firestore:"id"`
	RecipientID     string           `json:"recipient_id" firestore:"recipient_id"`
	SenderID        string           `json:"sender_id,omitempty" firestore:"sender_id"`
	SenderName      string           `json:"sender_name" firestore:"sender_name"`
	Type            NotificationType `json:"type" firestore:"type"`
	Title           string           `json:"title" firestore:"title"`
	Message         string           `json:"message" firestore:"message"`
	CourseID        string           `json:"course_id,omitempty" firestore:"course_id"`
	CourseTitle     string           `json:"course_title,omitempty" firestore:"course_title"`
	RelatedItemID   string           `json:"related_item_id,omitempty" firestore:"related_item_id"`
	RelatedItemType string           `json:"related_item_type,omitempty" firestore:"related_item_type"`
	IsRead          bool             `json:"is_read" firestore:"is_read"`
	CreatedAt       time.Time        `json:"created_at" firestore:"created_at"`
}

// DomainEvent is what request handlers (comments, enrollments, course views)
// emit. It is turned into a Notification and, if the recipient is connected,
// pushed over their live connection.
type DomainEvent struct {
	ID              string           `json:"id,omitempty"`
	Type            NotificationType `json:"type"`
	RecipientID     string           `json:"recipient_id"`
	SenderID        string           `json:"sender_id,omitempty"`
	SenderName      string           `json:"sender_name,omitempty"`
	Title           string           `json:"title"`
	Message         string           `json:"message"`
	CourseID        string           `json:"course_id,omitempty"`
	CourseTitle     string           `json:"course_title,omitempty"`
	RelatedItemID   string           `json:"related_item_id,omitempty"`
	RelatedItemType string           `json:"related_item_type,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at,omitempty"`
}

// Payload is the immutable record handed to the delivery bridge. It is
// forwarded verbatim as the "data" field of a notification frame.
type Payload = json.RawMessage
