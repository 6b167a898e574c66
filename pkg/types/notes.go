package types

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied when a notes field is missing.
const (
	DefaultSubject = "Unknown Subject"
	DefaultUrgency = "low"
)

const notesSeparator = " | "

// Notes is the structured form of the free-text notes column.
type Notes struct {
	Subject     string `json:"subject"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
	Urgency     string `json:"urgency"`
}

// FormattedRequest is a request decorated with parsed notes and derived
// display fields.
type FormattedRequest struct {
	SessionRequest
	Notes
	WaitTime string `json:"waitTime"`
	Priority string `json:"priority"`
}

// ParseNotes extracts the four logical fields from a notes string of the
// form "Subject: X | Topic: Y | Description: Z | Urgency: W". It never
// fails: missing fields take their documented defaults.
func ParseNotes(notes string) Notes {
	return Notes{
		Subject:     notesField(notes, "Subject", DefaultSubject),
		Topic:       notesField(notes, "Topic", ""),
		Description: notesField(notes, "Description", ""),
		Urgency:     notesField(notes, "Urgency", DefaultUrgency),
	}
}

func notesField(notes, label, fallback string) string {
	marker := label + ": "
	rest := notes
	for {
		i := strings.Index(rest, marker)
		if i < 0 {
			return fallback
		}
		rest = rest[i+len(marker):]
		value := rest
		if end := strings.IndexByte(rest, '|'); end >= 0 {
			value = rest[:end]
		}
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
}

// BuildNotes renders input in the notes grammar understood by ParseNotes.
func BuildNotes(input CreateRequestInput) string {
	parts := []string{"Subject: " + input.Subject}
	if input.Topic != "" {
		parts = append(parts, "Topic: "+input.Topic)
	}
	if input.Description != "" {
		parts = append(parts, "Description: "+input.Description)
	}
	urgency := input.Urgency
	if urgency == "" {
		urgency = DefaultUrgency
	}
	parts = append(parts, "Urgency: "+urgency)
	return strings.Join(parts, notesSeparator)
}

// FormatWaitTime renders the elapsed time since createdAt relative to now.
// Whole minutes are floored, so anything under 60000ms is "Just now".
func FormatWaitTime(createdAt, now time.Time) string {
	minutes := int64(now.Sub(createdAt) / time.Minute)
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes < 1440:
		return fmt.Sprintf("%dh ago", minutes/60)
	default:
		return fmt.Sprintf("%dd ago", minutes/1440)
	}
}

// PriorityOf maps an urgency value onto a display priority.
func PriorityOf(urgency string) string {
	switch urgency {
	case "high", "medium":
		return urgency
	default:
		return "low"
	}
}

// FormatRequest derives the display form of req at instant now. The result
// depends on now and must not be cached.
func FormatRequest(req SessionRequest, now time.Time) FormattedRequest {
	notes := ParseNotes(req.Notes)
	return FormattedRequest{
		SessionRequest: req,
		Notes:          notes,
		WaitTime:       FormatWaitTime(req.CreatedAt, now),
		Priority:       PriorityOf(notes.Urgency),
	}
}
