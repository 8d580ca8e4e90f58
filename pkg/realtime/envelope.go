package realtime

import (
	"encoding/json"
	"fmt"
)

// Category is one of the fixed event classes subscribers register against.
type Category string

const (
	CategoryCall        Category = "call"
	CategoryMessage     Category = "message"
	CategoryAppointment Category = "appointment"
	CategorySystem      Category = "system"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategoryCall, CategoryMessage, CategoryAppointment, CategorySystem}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCall, CategoryMessage, CategoryAppointment, CategorySystem:
		return true
	}
	return false
}

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Envelope type values that are not subscriber categories.
const (
	TypeAuth         = "auth"
	TypeAuthResponse = "auth_response"
)

// AuthStatusSuccess is the auth_response status of an accepted credential.
const AuthStatusSuccess = "success"

// InboundEnvelope is a frame received from the server.
//
//	{"type":"call","data":{...}}
//	{"type":"auth_response","status":"success"}
//	{"type":"auth_response","status":"failure","message":"bad token"}
type InboundEnvelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OutboundEnvelope is a frame sent to the server. The auth envelope is the
// only shape the client itself produces.
type OutboundEnvelope struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// AuthEnvelope builds the envelope that presents a credential.
func AuthEnvelope(token string) OutboundEnvelope {
	return OutboundEnvelope{Type: TypeAuth, Token: token}
}

// EventEnvelope is the frame a server pushes for a category event.
type EventEnvelope struct {
	Type Category `json:"type"`
	Data any      `json:"data,omitempty"`
}

// AuthResponse is the frame a server sends in reply to an auth envelope.
type AuthResponse struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ParseInbound decodes a text frame. An empty type is an error.
func ParseInbound(data []byte) (InboundEnvelope, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("envelope has no type")
	}
	return env, nil
}

// Payload returns what subscribers of the envelope's category receive: the
// data field, or for a system frame without one the whole frame.
func (e InboundEnvelope) Payload(raw []byte) json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	if e.Type == string(CategorySystem) {
		return json.RawMessage(raw)
	}
	return nil
}
