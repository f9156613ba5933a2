// Package whatsapp talks to the WhatsApp Cloud API: parsing inbound webhook
// envelopes and sending outbound text, buttons, and media downloads.
package whatsapp

// Envelope is the nested webhook delivery shape. Only the first message of
// the first change of the first entry is ever consumed.
type Envelope struct {
	Entry []Entry `json:"entry"`
}

type Entry struct {
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value `json:"value"`
}

// Value carries the messages array. Status-only deliveries (sent/delivered/
// read receipts) omit it entirely.
type Value struct {
	Messages []Message `json:"messages"`
}

// Message kinds the bot consumes.
const (
	TypeText        = "text"
	TypeDocument    = "document"
	TypeImage       = "image"
	TypeInteractive = "interactive"
)

type Message struct {
	From        string       `json:"from"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Document    *Media       `json:"document,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
}

type Interactive struct {
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FirstMessage digs the message out of the envelope. Nil means a status-only
// delivery to be acknowledged and discarded.
func (e *Envelope) FirstMessage() *Message {
	if len(e.Entry) == 0 {
		return nil
	}
	if len(e.Entry[0].Changes) == 0 {
		return nil
	}
	value := e.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil
	}
	return &value.Messages[0]
}

// MediaRef returns the media attachment for document/image messages.
func (m *Message) MediaRef() *Media {
	switch m.Type {
	case TypeDocument:
		return m.Document
	case TypeImage:
		return m.Image
	default:
		return nil
	}
}

// Body returns the text body, empty for non-text messages.
func (m *Message) Body() string {
	if m.Type != TypeText || m.Text == nil {
		return ""
	}
	return m.Text.Body
}

// ButtonID returns the tapped button id, empty for non-interactive messages.
func (m *Message) ButtonID() string {
	if m.Type != TypeInteractive || m.Interactive == nil || m.Interactive.ButtonReply == nil {
		return ""
	}
	return m.Interactive.ButtonReply.ID
}

// Button is one reply button in an interactive send.
type Button struct {
	ID    string
	Title string
}
