// Package envelope implements the §3 data model: Message (headers and
// body), Envelope (routing metadata plus Message), and ForeignEnvelope
// (the relay-bound variant with ForeignPath recipients).
package envelope

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mademast/sail/framework/address"
)

// rfc2822DateLayout renders a Go time.Time in the Date: header form
// used by RFC 2822 (and, before it, RFC 822).
const rfc2822DateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// Header is one field-name/field-body pair of a Message.
type Header struct {
	Name string
	Body string
}

// Message is an ordered list of headers plus a body. Headers preserve
// insertion order; duplicates are permitted.
type Message struct {
	Headers []Header
	Body    string
}

// NewMessageNow stamps a From: header from the given reverse-path, a
// Date: header with the current time in RFC 2822 form, and a freshly
// generated Message-Id.
func NewMessageNow(sender address.ReversePath, body string) Message {
	headers := []Header{
		{Name: "From", Body: sender.String()},
		{Name: "Date", Body: time.Now().Format(rfc2822DateLayout)},
	}
	if id, err := uuid.NewRandom(); err == nil {
		headers = append(headers, Header{Name: "Message-Id", Body: "<" + id.String() + "@" + messageIDHost(sender) + ">"})
	}
	return Message{Headers: headers, Body: body}
}

// messageIDHost supplies the right-hand side of a generated Message-Id:
// the sender's own domain, or "localhost" for a null (bounce) sender.
func messageIDHost(sender address.ReversePath) string {
	if sender.IsNull() {
		return "localhost"
	}
	return sender.Path().Domain.String()
}

// Header looks up the first header with the given name, case-sensitively.
func (m Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if h.Name == name {
			return h.Body, true
		}
	}
	return "", false
}

// String renders the message as "field:body\r\n...\r\n\r\nbody".
func (m Message) String() string {
	var b strings.Builder
	for _, h := range m.Headers {
		b.WriteString(h.Name)
		b.WriteByte(':')
		b.WriteString(h.Body)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return b.String()
}
