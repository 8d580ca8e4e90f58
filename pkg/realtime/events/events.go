// Package events decodes the payloads the dashboard backend pushes for each
// category and renders the notification text the dashboard shows for them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickb777/date"
)

// Actions carried in the action field of category payloads.
const (
	ActionNew    = "new"
	ActionUpdate = "update"
	ActionEnd    = "end"
	ActionDelete = "delete"
)

// Message urgencies.
const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

type Call struct {
	CallID       string     `json:"call_id"`
	CallerName   string     `json:"caller_name,omitempty"`
	CallerNumber string     `json:"caller_number,omitempty"`
	Status       string     `json:"status,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
}

// CallEvent is the payload of a call event. An end action carries only
// CallID.
type CallEvent struct {
	Action string `json:"action"`
	Call   *Call  `json:"call,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

// ID returns the id of the call the event is about.
func (e CallEvent) ID() string {
	if e.CallID != "" {
		return e.CallID
	}
	if e.Call != nil {
		return e.Call.CallID
	}
	return ""
}

// Caller returns the best available caller label.
func (c *Call) Caller() string {
	switch {
	case c == nil:
		return "Unknown"
	case c.CallerName != "":
		return c.CallerName
	case c.CallerNumber != "":
		return c.CallerNumber
	default:
		return "Unknown"
	}
}

type Message struct {
	MessageID  string `json:"message_id"`
	Subject    string `json:"subject,omitempty"`
	Urgency    string `json:"urgency,omitempty"`
	CallerName string `json:"caller_name,omitempty"`
	Content    string `json:"content,omitempty"`
}

// MessageEvent is the payload of a message event.
type MessageEvent struct {
	Action  string   `json:"action"`
	Message *Message `json:"message,omitempty"`
}

// SubjectOrDefault returns the subject or "No subject".
func (m *Message) SubjectOrDefault() string {
	if m == nil || m.Subject == "" {
		return "No subject"
	}
	return m.Subject
}

type Appointment struct {
	AppointmentID string     `json:"appointment_id"`
	Title         string     `json:"title,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
}

// AppointmentEvent is the payload of an appointment event. A delete action
// carries only AppointmentID.
type AppointmentEvent struct {
	Action        string       `json:"action"`
	Appointment   *Appointment `json:"appointment,omitempty"`
	AppointmentID string       `json:"appointment_id,omitempty"`
}

// ID returns the id of the appointment the event is about.
func (e AppointmentEvent) ID() string {
	if e.AppointmentID != "" {
		return e.AppointmentID
	}
	if e.Appointment != nil {
		return e.Appointment.AppointmentID
	}
	return ""
}

// Day returns the calendar day the appointment starts on, in the
// location of its start time.
func (a *Appointment) Day() (date.Date, bool) {
	if a == nil || a.StartTime == nil {
		return date.Date{}, false
	}
	return date.NewAt(*a.StartTime), true
}

// When describes the start day relative to now: "today", "tomorrow",
// "yesterday", or the ISO date. It is empty when the start is unknown.
func (a *Appointment) When(now time.Time) string {
	day, ok := a.Day()
	if !ok {
		return ""
	}

	switch day.Sub(date.NewAt(now.In(a.StartTime.Location()))) {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	case -1:
		return "yesterday"
	default:
		return day.String()
	}
}

// ServerNotice is a system frame pushed by the server rather than
// generated by the client.
type ServerNotice struct {
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

func DecodeCall(payload json.RawMessage) (CallEvent, error) {
	var ev CallEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode call event: %w", err)
	}
	return ev, nil
}

func DecodeMessage(payload json.RawMessage) (MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode message event: %w", err)
	}
	return ev, nil
}

func DecodeAppointment(payload json.RawMessage) (AppointmentEvent, error) {
	var ev AppointmentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode appointment event: %w", err)
	}
	return ev, nil
}
