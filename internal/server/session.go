// Package server implements the inbound session state machine (§4.D):
// a pure function of accumulated input bytes that drives a submitting
// peer through HELO/EHLO, MAIL, RCPT, DATA, and QUIT, committing a
// completed envelope to a policy.Policy. It knows nothing about
// sockets; internal/dispatch owns the connection and feeds it bytes.
package server

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/internal/envelope"
	"github.com/mademast/sail/internal/policy"
	"github.com/mademast/sail/internal/smtp"
)

// State is one node of the server session FSM.
type State int

const (
	Initiated State = iota
	Greeted
	GotReversePath
	GotForwardPath
	LoadingData
	Exit
)

func (s State) String() string {
	switch s {
	case Initiated:
		return "Initiated"
	case Greeted:
		return "Greeted"
	case GotReversePath:
		return "GotReversePath"
	case GotForwardPath:
		return "GotForwardPath"
	case LoadingData:
		return "LoadingData"
	case Exit:
		return "Exit"
	default:
		return "?"
	}
}

// dataTerminator is the DATA-phase sentinel. The terminator is "CRLF
// '.' CRLF"; an empty body never contributes the leading CRLF, so it
// has to be matched separately (see findDataEnd).
const dataTerminator = "\r\n.\r\n"

// Session is one inbound SMTP conversation. It is owned exclusively by
// whatever task is driving the connection; it is never shared between
// goroutines.
type Session struct {
	state  State
	policy policy.Policy

	buf []byte

	peer     address.Domain
	reverse  address.ReversePath
	forwards []address.ForwardPath

	quitAnswered bool
}

// NewSession constructs a session and returns the initial greeting.
func NewSession(p policy.Policy) (*Session, smtp.Response) {
	s := &Session{state: Initiated, policy: p}
	greeting := fmt.Sprintf("%s ESMTP sail ready", p.PrimaryHost().String())
	return s, smtp.NewResponse(smtp.CodeServiceReady, greeting)
}

// ShouldExit reports whether QUIT has been answered and the driving
// task should close the connection after writing any pending replies.
func (s *Session) ShouldExit() bool { return s.state == Exit && s.quitAnswered }

// Push appends newly read bytes and processes as many complete
// commands (or, in LoadingData, complete DATA blocks) as the buffer
// now contains. It returns one Response per fully-processed unit, in
// the order they were produced; pipelined input never gets reordered.
func (s *Session) Push(data []byte) []smtp.Response {
	s.buf = append(s.buf, data...)

	var out []smtp.Response
	for {
		if s.state == LoadingData {
			end := findDataEnd(s.buf)
			if end == -1 {
				break
			}
			block := s.buf[:end]
			s.buf = s.buf[end:]
			out = append(out, s.commitData(block))
			continue
		}

		idx := bytes.Index(s.buf, []byte("\r\n"))
		if idx == -1 {
			break
		}
		line := string(s.buf[:idx])
		s.buf = s.buf[idx+2:]
		out = append(out, s.runLine(line))
	}
	return out
}

// findDataEnd returns the index just past the DATA terminator in buf,
// or -1 if the buffer does not yet contain one. An empty DATA body
// arrives as the bare ".\r\n" sentinel with no preceding CRLF.
func findDataEnd(buf []byte) int {
	if idx := bytes.Index(buf, []byte(dataTerminator)); idx != -1 {
		return idx + len(dataTerminator)
	}
	if bytes.HasPrefix(buf, []byte(".\r\n")) {
		return len(".\r\n")
	}
	return -1
}

func (s *Session) runLine(line string) smtp.Response {
	cmd, err := smtp.ParseCommand(line)
	if err != nil {
		return invalidCommandResponse(err)
	}
	return s.runCommand(cmd)
}

func (s *Session) runCommand(cmd smtp.Command) smtp.Response {
	switch cmd.Verb {
	case smtp.HELO:
		return s.handleHELO(cmd)
	case smtp.EHLO:
		return s.handleEHLO(cmd)
	case smtp.MAIL:
		return s.handleMAIL(cmd)
	case smtp.RCPT:
		return s.handleRCPT(cmd)
	case smtp.DATA:
		return s.handleDATA()
	case smtp.RSET:
		return s.handleRSET()
	case smtp.NOOP:
		return smtp.NewResponse(smtp.CodeOK, "OK")
	case smtp.QUIT:
		return s.handleQUIT()
	case smtp.VRFY:
		return smtp.NewResponse(smtp.CodeCannotVerify, "cannot VRFY user, but will accept message and attempt delivery")
	case smtp.EXPN:
		return smtp.NewResponse(smtp.CodeCommandNotImplemented, "EXPN not supported")
	case smtp.HELP:
		return smtp.NewResponse(smtp.CodeHelpMessage, "see RFC 5321")
	default:
		return smtp.NewResponse(smtp.CodeSyntaxError, "unrecognised command")
	}
}

func (s *Session) handleHELO(cmd smtp.Command) smtp.Response {
	if s.state != Initiated {
		return badSequence()
	}
	s.peer = cmd.Domain
	s.state = Greeted
	return smtp.NewResponse(smtp.CodeOK, fmt.Sprintf("%s greets %s", s.policy.PrimaryHost().String(), s.peer.String()))
}

func (s *Session) handleEHLO(cmd smtp.Command) smtp.Response {
	s.resetEnvelope()
	s.peer = cmd.Domain
	s.state = Greeted
	return smtp.NewResponse(smtp.CodeOK,
		fmt.Sprintf("%s greets %s", s.policy.PrimaryHost().String(), s.peer.String()),
		"HELP",
	)
}

func (s *Session) handleMAIL(cmd smtp.Command) smtp.Response {
	if s.state != Greeted {
		return badSequence()
	}
	s.reverse = cmd.ReversePath
	s.state = GotReversePath
	return smtp.NewResponse(smtp.CodeOK, "OK")
}

func (s *Session) handleRCPT(cmd smtp.Command) smtp.Response {
	if s.state != GotReversePath && s.state != GotForwardPath {
		return badSequence()
	}

	if !cmd.ForwardPath.IsPostmaster() && !s.policy.PathIsValid(cmd.ForwardPath.Path()) {
		return smtp.NewResponse(smtp.CodeMailboxUnavailable, "recipient not accepted")
	}

	s.forwards = append(s.forwards, cmd.ForwardPath)
	s.state = GotForwardPath
	return smtp.NewResponse(smtp.CodeOK, "OK")
}

func (s *Session) handleDATA() smtp.Response {
	if s.state != GotForwardPath {
		return badSequence()
	}
	s.state = LoadingData
	return smtp.NewResponse(smtp.CodeStartMailInput, "Start mail input; end with <CRLF>.<CRLF>")
}

func (s *Session) commitData(block []byte) smtp.Response {
	body := envelope.Unstuff(string(block))
	env := envelope.Envelope{
		ReversePath:  s.reverse,
		ForwardPaths: s.forwards,
		Data:         envelope.NewMessageNow(s.reverse, body),
	}

	resp := s.policy.MessageReceived(env)
	s.resetEnvelope()
	s.state = Greeted
	return resp
}

func (s *Session) handleRSET() smtp.Response {
	s.resetEnvelope()
	if s.state != Initiated {
		s.state = Greeted
	}
	return smtp.NewResponse(smtp.CodeOK, "OK")
}

func (s *Session) handleQUIT() smtp.Response {
	s.state = Exit
	s.quitAnswered = true
	return smtp.NewResponse(smtp.CodeServiceClosing, fmt.Sprintf("%s closing connection", s.policy.PrimaryHost().String()))
}

func (s *Session) resetEnvelope() {
	s.reverse = address.Null
	s.forwards = nil
}

func badSequence() smtp.Response {
	return smtp.NewResponse(smtp.CodeBadSequence, "command out of sequence")
}

func invalidCommandResponse(err error) smtp.Response {
	if errors.Is(err, smtp.ErrInvalidCommand) {
		return smtp.NewResponse(smtp.CodeSyntaxError, "syntax error, command unrecognised")
	}
	return smtp.NewResponse(smtp.CodeArgSyntaxError, err.Error())
}
