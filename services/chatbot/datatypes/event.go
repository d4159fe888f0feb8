package datatypes

import "strings"

// WebhookEvent is the inbound event posted by the messaging provider.
// Field names follow the provider's JSON exactly.
type WebhookEvent struct {
	App       string       `json:"app,omitempty"`
	Timestamp int64        `json:"timestamp,omitempty"`
	Type      string       `json:"type"`
	Payload   EventPayload `json:"payload"`
}

// EventPayload is the provider's outer payload envelope.
type EventPayload struct {
	ID      string       `json:"id,omitempty"`
	Type    string       `json:"type"` // text, image, file, quick_reply, list_reply
	Sender  Sender       `json:"sender"`
	Payload InnerPayload `json:"payload"`
}

// Sender identifies the contact that produced the event.
type Sender struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// InnerPayload carries the message content. Which fields are set depends
// on the outer payload type: plain text fills Text, a quick-reply tap
// fills Title, a list selection fills Title and PostbackText, and media
// fills URL and ContentType.
type InnerPayload struct {
	Text         string `json:"text,omitempty"`
	Title        string `json:"title,omitempty"`
	PostbackText string `json:"postbackText,omitempty"`
	URL          string `json:"url,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
}

// InputKind classifies an inbound event after ingress resolution.
type InputKind int

const (
	// KindText is free text typed by the contact.
	KindText InputKind = iota
	// KindChoice is a selection from a previously presented option list,
	// carrying a machine-readable reference.
	KindChoice
	// KindMedia is an attachment-bearing message.
	KindMedia
)

// InboundInput is the typed result of resolving a WebhookEvent once at
// ingress. Step handlers consume this instead of probing the optional
// provider fields themselves.
type InboundInput struct {
	Kind      InputKind
	Text      string
	Reference string
	MediaURL  string
	MediaType string
}

// mediaTypes are the provider payload types that carry an attachment.
var mediaTypes = map[string]bool{
	"image": true,
	"file":  true,
	"video": true,
	"audio": true,
}

// Input resolves the event into an InboundInput. Text and Title are
// treated as equivalent sources of display text; PostbackText is the
// machine reference for list and quick-reply selections.
func (e *WebhookEvent) Input() InboundInput {
	p := e.Payload.Payload

	if mediaTypes[e.Payload.Type] {
		return InboundInput{
			Kind:      KindMedia,
			MediaURL:  p.URL,
			MediaType: p.ContentType,
		}
	}

	text := p.Text
	if text == "" {
		text = p.Title
	}
	text = strings.TrimSpace(text)

	if p.PostbackText != "" {
		return InboundInput{
			Kind:      KindChoice,
			Text:      text,
			Reference: strings.TrimSpace(p.PostbackText),
		}
	}
	return InboundInput{Kind: KindText, Text: text}
}

// SenderPhone returns the raw sender number, empty when absent.
func (e *WebhookEvent) SenderPhone() string {
	return e.Payload.Sender.Phone
}
