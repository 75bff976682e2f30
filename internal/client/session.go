// Package client implements the outbound session state machine (§4.E):
// a pure function of accumulated reply bytes that drives a relay
// attempt against one destination MX host, from the initial greeting
// through EHLO/MAIL/RCPT/DATA/QUIT. Like internal/server, it knows
// nothing about sockets; internal/dispatch's relay task owns the
// connection and feeds it bytes.
package client

import (
	"strings"

	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/internal/envelope"
	"github.com/mademast/sail/internal/smtp"
)

// State is one node of the client session FSM.
type State int

const (
	Initiated State = iota
	Greeted
	SentReversePath
	SendingForwardPaths
	SentForwardPaths
	SentData
	SentQuit
	ShouldExit
)

func (s State) String() string {
	switch s {
	case Initiated:
		return "Initiated"
	case Greeted:
		return "Greeted"
	case SentReversePath:
		return "SentReversePath"
	case SendingForwardPaths:
		return "SendingForwardPaths"
	case SentForwardPaths:
		return "SentForwardPaths"
	case SentData:
		return "SentData"
	case SentQuit:
		return "SentQuit"
	case ShouldExit:
		return "ShouldExit"
	default:
		return "?"
	}
}

// OutputKind distinguishes a command line from the DATA payload among
// the values a Session emits.
type OutputKind int

const (
	OutputCommand OutputKind = iota
	OutputData
)

// Output is one thing the session wants written to the connection.
type Output struct {
	Kind    OutputKind
	Command smtp.Command // set when Kind == OutputCommand
	Data    string       // the message text, set when Kind == OutputData
	Wire    []byte       // exact bytes to write
}

// Session drives one relay attempt against a single destination host
// for one ForeignEnvelope. It is owned exclusively by its relay task.
type Session struct {
	state State

	ourHost     address.Domain
	reverse     address.ReversePath
	messageText string

	pending  []address.ForeignPath
	lastSent address.ForeignPath
	rejected []address.ForeignPath
	original []address.ForeignPath

	buf string

	// QuitReplyCode is the code of the reply to QUIT, recorded so the
	// driving task can log a warning if it wasn't 221.
	QuitReplyCode uint16
}

// NewSession constructs a client session for one ForeignEnvelope. No
// output is produced until the first reply (the peer's greeting)
// arrives via Push.
func NewSession(env envelope.ForeignEnvelope, ourHost address.Domain) *Session {
	return &Session{
		state:       Initiated,
		ourHost:     ourHost,
		reverse:     env.ReversePath,
		messageText: env.Data.String(),
		pending:     append([]address.ForeignPath(nil), env.ForwardPaths...),
		original:    append([]address.ForeignPath(nil), env.ForwardPaths...),
	}
}

// ShouldExit reports whether the session has run to completion (either
// the normal QUIT exchange or a fatal abort) and the connection should
// be closed.
func (s *Session) ShouldExit() bool { return s.state == ShouldExit }

// Rejected returns the recipients that were not accepted, either at
// RCPT time or because the whole attempt failed after they were
// accepted.
func (s *Session) Rejected() []address.ForeignPath { return s.rejected }

// Undeliverable builds the bounce envelope described in §4.E, or nil
// if there is nothing to report: no recipient was rejected, or the
// original reverse-path was itself null (a bounce never bounces).
func (s *Session) Undeliverable() *envelope.Envelope {
	if len(s.rejected) == 0 || s.reverse.IsNull() {
		return nil
	}
	env := envelope.Undeliverable(s.reverse, s.rejected)
	return &env
}

// Push appends newly read reply bytes and advances the FSM once per
// complete reply found in the buffer, returning every Output produced
// along the way in order.
func (s *Session) Push(data []byte) []Output {
	s.buf += string(data)

	var out []Output
	for {
		end := findReplyEnd(s.buf)
		if end == -1 {
			break
		}
		raw := s.buf[:end]
		s.buf = s.buf[end:]

		resp, err := smtp.ParseResponse(raw)
		if err != nil {
			s.fatal(smtp.Response{})
			break
		}
		out = append(out, s.advance(resp)...)
		if s.state == ShouldExit {
			break
		}
	}
	return out
}

// findReplyEnd returns the index just past the first complete reply in
// buf (one or more CRLF-terminated lines ending in a "CCC<SP>" final
// line), or -1 if none is buffered yet.
func findReplyEnd(buf string) int {
	idx := 0
	for {
		nl := strings.Index(buf[idx:], "\r\n")
		if nl == -1 {
			return -1
		}
		lineEnd := idx + nl
		line := buf[idx:lineEnd]
		next := lineEnd + 2
		if len(line) >= 4 && line[3] == ' ' {
			return next
		}
		if len(line) >= 4 && line[3] == '-' {
			idx = next
			continue
		}
		return next
	}
}

func (s *Session) advance(resp smtp.Response) []Output {
	switch s.state {
	case Initiated:
		if resp.Code != smtp.CodeServiceReady {
			return s.fatal(resp)
		}
		s.state = Greeted
		return []Output{s.commandOutput(smtp.Command{Verb: smtp.EHLO, Domain: s.ourHost})}

	case Greeted:
		if resp.Code != smtp.CodeOK {
			return s.fatal(resp)
		}
		s.state = SentReversePath
		return []Output{s.commandOutput(smtp.Command{Verb: smtp.MAIL, ReversePath: s.reverse})}

	case SentReversePath:
		if resp.Code != smtp.CodeOK {
			return s.fatal(resp)
		}
		s.state = SendingForwardPaths
		return s.sendNextRecipient()

	case SendingForwardPaths:
		if resp.IsNegative() {
			s.rejected = append(s.rejected, s.lastSent)
		}
		if len(s.pending) > 0 {
			return s.sendNextRecipient()
		}
		s.state = SentForwardPaths
		return []Output{s.commandOutput(smtp.Command{Verb: smtp.DATA})}

	case SentForwardPaths:
		if resp.Code != smtp.CodeStartMailInput {
			return s.fatal(resp)
		}
		s.state = SentData
		return []Output{s.dataOutput()}

	case SentData:
		if resp.Code != smtp.CodeOK {
			return s.fatal(resp)
		}
		s.state = SentQuit
		return []Output{s.commandOutput(smtp.Command{Verb: smtp.QUIT})}

	case SentQuit:
		s.QuitReplyCode = resp.Code
		s.state = ShouldExit
		return nil

	default:
		return nil
	}
}

func (s *Session) sendNextRecipient() []Output {
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.lastSent = next
	return []Output{s.commandOutput(smtp.Command{Verb: smtp.RCPT, ForwardPath: next.ToForwardPath()})}
}

// fatal handles an unexpected reply at any point where §4.E calls for
// the whole attempt to be abandoned: every recipient in the envelope
// becomes undeliverable, not just whichever one was pending.
func (s *Session) fatal(smtp.Response) []Output {
	s.rejected = append([]address.ForeignPath(nil), s.original...)
	s.state = ShouldExit
	return nil
}

func (s *Session) commandOutput(cmd smtp.Command) Output {
	return Output{Kind: OutputCommand, Command: cmd, Wire: []byte(cmd.String() + "\r\n")}
}

func (s *Session) dataOutput() Output {
	stuffed := envelope.Stuff(s.messageText)
	return Output{Kind: OutputData, Data: s.messageText, Wire: []byte(stuffed + ".\r\n")}
}
