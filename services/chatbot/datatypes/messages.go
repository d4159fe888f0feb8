package datatypes

import "encoding/json"

// Message is an outbound message shape. Encode produces the string the
// provider expects in its "message" form field: raw text for plain
// messages, a JSON object for structured ones.
type Message interface {
	Encode() (string, error)
}

// TextMessage is a plain text reply.
type TextMessage struct {
	Text string
}

func (m TextMessage) Encode() (string, error) {
	return m.Text, nil
}

// ReplyOption is one button of a quick-reply message.
type ReplyOption struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Postback string `json:"postback,omitempty"`
}

// QuickReplyMessage presents a fixed set of titled options.
type QuickReplyMessage struct {
	Type    string `json:"type"`
	Content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Options []ReplyOption `json:"options"`
}

// NewQuickReply builds a quick-reply message with text options.
func NewQuickReply(text string, titles ...string) QuickReplyMessage {
	m := QuickReplyMessage{Type: "quick_reply"}
	m.Content.Type = "text"
	m.Content.Text = text
	for _, title := range titles {
		m.Options = append(m.Options, ReplyOption{Type: "text", Title: title})
	}
	return m
}

func (m QuickReplyMessage) Encode() (string, error) {
	b, err := json.Marshal(m)
	return string(b), err
}

// ListOption is one selectable row of a list message. PostbackText is the
// machine reference echoed back in the selection event.
type ListOption struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	ID           string `json:"id"`
	PostbackText string `json:"postbackText"`
	Description  string `json:"description,omitempty"`
}

// ListSection is a titled group of list options.
type ListSection struct {
	Title   string       `json:"title"`
	Options []ListOption `json:"options"`
}

// GlobalButton opens the list on the contact's device.
type GlobalButton struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// ListMessage presents titled sections of selectable items.
type ListMessage struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	GlobalButtons []GlobalButton `json:"globalButtons"`
	Items         []ListSection  `json:"items"`
}

// NewList builds a single-section list message.
func NewList(title, body, button, section string, options []ListOption) ListMessage {
	return ListMessage{
		Type:          "list",
		Title:         title,
		Body:          body,
		GlobalButtons: []GlobalButton{{Type: "text", Title: button}},
		Items:         []ListSection{{Title: section, Options: options}},
	}
}

func (m ListMessage) Encode() (string, error) {
	b, err := json.Marshal(m)
	return string(b), err
}

// CTAMessage carries a body plus a call-to-action link.
type CTAMessage struct {
	Type        string `json:"type"`
	Body        string `json:"body"`
	URL         string `json:"url"`
	DisplayText string `json:"display_text"`
}

func (m CTAMessage) Encode() (string, error) {
	b, err := json.Marshal(m)
	return string(b), err
}
