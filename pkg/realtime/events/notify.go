package events

import (
	"encoding/json"
	"fmt"

	"github.com/tsarna/callsec/pkg/realtime"
)

// Level is the severity a notification is shown with.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a toast shown to the user.
type Notification struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Notify returns the toast for an event. Only new calls, ended calls, new
// messages and new appointments produce one.
func Notify(category realtime.Category, payload json.RawMessage) (Notification, bool, error) {
	switch category {
	case realtime.CategoryCall:
		ev, err := DecodeCall(payload)
		if err != nil {
			return Notification{}, false, err
		}
		switch ev.Action {
		case ActionNew:
			return Notification{Level: LevelInfo, Text: "New call from " + ev.Call.Caller()}, true, nil
		case ActionEnd:
			return Notification{Level: LevelInfo, Text: "Call ended"}, true, nil
		}

	case realtime.CategoryMessage:
		ev, err := DecodeMessage(payload)
		if err != nil {
			return Notification{}, false, err
		}
		if ev.Action == ActionNew {
			return Notification{
				Level: UrgencyLevel(urgencyOf(ev.Message)),
				Text:  "New message: " + ev.Message.SubjectOrDefault(),
			}, true, nil
		}

	case realtime.CategoryAppointment:
		ev, err := DecodeAppointment(payload)
		if err != nil {
			return Notification{}, false, err
		}
		if ev.Action == ActionNew && ev.Appointment != nil {
			return Notification{Level: LevelInfo, Text: "New appointment: " + ev.Appointment.Title}, true, nil
		}
	}

	return Notification{}, false, nil
}

// UrgencyLevel maps a message urgency to the level its toast uses.
func UrgencyLevel(urgency string) Level {
	switch urgency {
	case UrgencyCritical:
		return LevelError
	case UrgencyHigh:
		return LevelWarning
	default:
		return LevelInfo
	}
}

func urgencyOf(m *Message) string {
	if m == nil {
		return ""
	}
	return m.Urgency
}

// Summarize returns the one-line activity feed entry for any event,
// including updates and deletes that produce no toast.
func Summarize(category realtime.Category, payload json.RawMessage) (string, error) {
	switch category {
	case realtime.CategoryCall:
		ev, err := DecodeCall(payload)
		if err != nil {
			return "", err
		}
		switch ev.Action {
		case ActionNew:
			return "New call from " + ev.Call.Caller(), nil
		case ActionUpdate:
			return fmt.Sprintf("Call %s updated", ev.ID()), nil
		case ActionEnd:
			return "Call ended", nil
		}

	case realtime.CategoryMessage:
		ev, err := DecodeMessage(payload)
		if err != nil {
			return "", err
		}
		switch ev.Action {
		case ActionNew:
			return "New message: " + ev.Message.SubjectOrDefault(), nil
		case ActionUpdate:
			return "Message updated: " + ev.Message.SubjectOrDefault(), nil
		}

	case realtime.CategoryAppointment:
		ev, err := DecodeAppointment(payload)
		if err != nil {
			return "", err
		}
		title := ""
		if ev.Appointment != nil {
			title = ev.Appointment.Title
		}
		switch ev.Action {
		case ActionNew:
			return "New appointment: " + title, nil
		case ActionUpdate:
			return "Appointment updated: " + title, nil
		case ActionDelete:
			return "Appointment deleted", nil
		}

	case realtime.CategorySystem:
		var notice ServerNotice
		if err := json.Unmarshal(payload, &notice); err != nil {
			return "", fmt.Errorf("failed to decode system event: %w", err)
		}
		if notice.Message != "" {
			return notice.Message, nil
		}
		return "System update", nil
	}

	return "", fmt.Errorf("unhandled %s event", category)
}

// Indicator is the colour of the connection status light.
type Indicator string

const (
	IndicatorOnline  Indicator = "online"
	IndicatorOffline Indicator = "offline"
	IndicatorWarning Indicator = "warning"
	IndicatorError   Indicator = "error"
)

// ConnectionStatus is what the status bar shows for a client system event.
type ConnectionStatus struct {
	Indicator Indicator
	Text      string
}

// StatusOf renders a client system event for the status bar.
func StatusOf(ev realtime.SystemEvent) ConnectionStatus {
	switch ev.Status {
	case realtime.StatusConnected, realtime.StatusAuthenticated:
		return ConnectionStatus{Indicator: IndicatorOnline, Text: "Connected"}
	case realtime.StatusDisconnected, realtime.StatusAuthFailed, realtime.StatusReconnectFailed:
		return ConnectionStatus{Indicator: IndicatorOffline, Text: orDefault(ev.Error, "Disconnected")}
	case realtime.StatusError:
		return ConnectionStatus{Indicator: IndicatorError, Text: orDefault(ev.Error, "Error")}
	case realtime.StatusReconnecting:
		return ConnectionStatus{Indicator: IndicatorWarning, Text: fmt.Sprintf("Attempt %d/%d", ev.Attempt, ev.MaxAttempts)}
	default:
		return ConnectionStatus{Indicator: IndicatorOffline, Text: ev.Status}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
