package notify

import (
	"fmt"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const commentPreviewRunes = 50

// CommentPosted describes a new comment on a course.
type CommentPosted struct {
	CommentID    string
	Content      string
	CourseID     string
	CourseTitle  string
	InstructorID string
	SenderID     string
	SenderName   string
}

// Event builds the notification event sent to the course instructor.
func (c CommentPosted) Event() *realtime.DomainEvent {
	course := c.CourseTitle
	if course == "" {
		course = "content"
	}
	return &realtime.DomainEvent{
		Type:            realtime.TypeComment,
		RecipientID:     c.InstructorID,
		SenderID:        c.SenderID,
		SenderName:      c.SenderName,
		Title:           "New Comment",
		Message:         fmt.Sprintf("New comment on %s: %s", course, preview(c.Content)),
		CourseID:        c.CourseID,
		CourseTitle:     c.CourseTitle,
		RelatedItemID:   c.CommentID,
		RelatedItemType: "comment",
	}
}

// CourseViewed describes a student's first view of a course lesson.
type CourseViewed struct {
	CourseID     string
	CourseTitle  string
	InstructorID string
	StudentID    string
	StudentName  string
}

// Event builds the notification event sent to the course instructor.
func (c CourseViewed) Event() *realtime.DomainEvent {
	return &realtime.DomainEvent{
		Type:            realtime.TypeCourseViewed,
		RecipientID:     c.InstructorID,
		SenderID:        c.StudentID,
		SenderName:      c.StudentName,
		Title:           "Course Viewed",
		Message:         fmt.Sprintf("%s has viewed your course: %s", c.StudentName, c.CourseTitle),
		CourseID:        c.CourseID,
		CourseTitle:     c.CourseTitle,
		RelatedItemID:   c.CourseID,
		RelatedItemType: "course",
	}
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= commentPreviewRunes {
		return content
	}
	return string(r[:commentPreviewRunes]) + "..."
}
