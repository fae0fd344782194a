package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message types exchanged between peers
const (
	TestRequestType  = "TestRequest"
	TestResultsType  = "TestResults"
	QueryType        = "Query"
	QueryResultsType = "QueryResults"
)

// QuitBody is the reserved body asking a peer to stop processing
const QuitBody = "quit"

// Message is the unit exchanged between peers.
// ID is unique per message; a reply carries the ID of its request in ReplyTo.
type Message struct {
	ID         string
	ReplyTo    string
	Type       string
	To         string
	From       string
	Author     string
	Time       time.Time
	Body       string
	ClientName string
	ToName     string
	Files      []string
}

// NewMessage creates a test request message carrying body
func NewMessage(body string) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Type: TestRequestType,
		Time: time.Now(),
		Body: body,
	}
}

// MakeTestRequest creates a test request routed from one endpoint to another
func MakeTestRequest(author, from, to, body string) *Message {
	msg := NewMessage(body)
	msg.Author = author
	msg.From = from
	msg.To = to
	return msg
}

// MakeQueryMessage creates a log query addressed to the repository
func MakeQueryMessage(author, clientName, from, to, text string) *Message {
	msg := NewMessage(text)
	msg.Type = QueryType
	msg.Author = author
	msg.ClientName = clientName
	msg.ToName = "Repository"
	msg.From = from
	msg.To = to
	return msg
}

// MakeQuitMessage creates the shutdown sentinel addressed to to
func MakeQuitMessage(from, to string) *Message {
	msg := NewMessage(QuitBody)
	msg.From = from
	msg.To = to
	return msg
}

// IsQuit reports whether the message is the shutdown sentinel
func (m *Message) IsQuit() bool {
	return m.Body == QuitBody
}

// Copy returns a deep copy of the message with a fresh timestamp
func (m *Message) Copy() *Message {
	c := *m
	if m.Files != nil {
		c.Files = append([]string(nil), m.Files...)
	}
	c.Time = time.Now()
	if c.Time.Before(m.Time) {
		c.Time = m.Time
	}
	return &c
}

// String returns a single line rendering of the message
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "type: %s, to: %s, from: %s, ", m.Type, m.To, m.From)
	if m.Author != "" {
		fmt.Fprintf(&b, "author: %s, ", m.Author)
	}
	fmt.Fprintf(&b, "time: %s, ", m.Time.Format(time.DateTime))
	fmt.Fprintf(&b, "body:\n%s", m.Body)
	return b.String()
}

// Show returns the message split into labeled, indented lines
func (m *Message) Show() string {
	parts := strings.Split(m.String(), ",")
	var b strings.Builder
	b.WriteString("\n  ")
	for i, part := range parts {
		b.WriteString(strings.TrimSpace(part))
		if i < len(parts)-1 {
			b.WriteString("\n  ")
		}
	}
	if len(m.Files) > 0 {
		b.WriteString("\n  files: ")
		b.WriteString(strings.Join(m.Files, ", "))
	}
	b.WriteString("\n")
	return b.String()
}

// ToStruct converts the message into its wire form
func (m *Message) ToStruct() (*structpb.Struct, error) {
	files := make([]any, len(m.Files))
	for i, f := range m.Files {
		files[i] = f
	}
	s, err := structpb.NewStruct(map[string]any{
		"id":         m.ID,
		"replyTo":    m.ReplyTo,
		"type":       m.Type,
		"to":         m.To,
		"from":       m.From,
		"author":     m.Author,
		"time":       m.Time.Format(time.RFC3339Nano),
		"body":       m.Body,
		"clientName": m.ClientName,
		"toName":     m.ToName,
		"files":      files,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return s, nil
}

// MessageFromStruct decodes a message from its wire form
func MessageFromStruct(s *structpb.Struct) (*Message, error) {
	if s == nil {
		return nil, errors.New("nil message")
	}
	fields := s.GetFields()
	str := func(key string) string {
		return fields[key].GetStringValue()
	}

	msg := &Message{
		ID:         str("id"),
		ReplyTo:    str("replyTo"),
		Type:       str("type"),
		To:         str("to"),
		From:       str("from"),
		Author:     str("author"),
		Body:       str("body"),
		ClientName: str("clientName"),
		ToName:     str("toName"),
	}
	if ts := str("time"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid message time %q", ts)
		}
		msg.Time = t
	}
	if list := fields["files"].GetListValue(); list != nil && len(list.GetValues()) > 0 {
		msg.Files = make([]string, 0, len(list.GetValues()))
		for _, v := range list.GetValues() {
			msg.Files = append(msg.Files, v.GetStringValue())
		}
	}
	return msg, nil
}
