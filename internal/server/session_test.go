package server

import (
	"testing"

	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/internal/envelope"
	"github.com/mademast/sail/internal/smtp"
)

type fakePolicy struct {
	primary  address.Domain
	reject   func(address.Path) bool
	received []envelope.Envelope
}

func (f *fakePolicy) PrimaryHost() address.Domain { return f.primary }

func (f *fakePolicy) PathIsValid(p address.Path) bool {
	if f.reject == nil {
		return true
	}
	return !f.reject(p)
}

func (f *fakePolicy) ForwardPathIsLocal(fp address.ForwardPath) bool { return true }

func (f *fakePolicy) MessageReceived(env envelope.Envelope) smtp.Response {
	f.received = append(f.received, env)
	return smtp.NewResponse(smtp.CodeOK, "queued")
}

func mustDomain(t *testing.T, s string) address.Domain {
	t.Helper()
	d, err := address.NewFQDNDomain(s)
	if err != nil {
		t.Fatalf("NewFQDNDomain(%q): %v", s, err)
	}
	return d
}

// pushAll feeds a whole transcript in a single Push and returns every
// response it produced, one per completed command.
func pushAll(s *Session, raw string) []smtp.Response {
	return s.Push([]byte(raw))
}

func TestSessionS1HappyPath(t *testing.T) {
	pol := &fakePolicy{primary: mustDomain(t, "primary.example")}
	sess, greet := NewSession(pol)
	if greet.Code != smtp.CodeServiceReady {
		t.Fatalf("greeting code = %d, want 220", greet.Code)
	}

	resp := pushAll(sess, "EHLO client.example\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeOK {
		t.Fatalf("EHLO: got %+v", resp)
	}
	if len(resp[0].Messages) != 2 || resp[0].Messages[1] != "HELP" {
		t.Fatalf("EHLO reply not multi-line with HELP: %+v", resp[0])
	}

	resp = pushAll(sess, "MAIL FROM:<alice@client.example>\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeOK {
		t.Fatalf("MAIL: got %+v", resp)
	}
	if sess.state != GotReversePath {
		t.Fatalf("state after MAIL = %v, want GotReversePath", sess.state)
	}

	resp = pushAll(sess, "RCPT TO:<bob@primary.example>\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeOK {
		t.Fatalf("RCPT: got %+v", resp)
	}

	resp = pushAll(sess, "DATA\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeStartMailInput {
		t.Fatalf("DATA: got %+v", resp)
	}
	if sess.state != LoadingData {
		t.Fatalf("state after DATA = %v, want LoadingData", sess.state)
	}

	resp = pushAll(sess, "Subject: hi\r\n\r\nhello\r\n.\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeOK {
		t.Fatalf("data commit: got %+v", resp)
	}
	if sess.state != Greeted {
		t.Fatalf("state after commit = %v, want Greeted", sess.state)
	}

	resp = pushAll(sess, "QUIT\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeServiceClosing {
		t.Fatalf("QUIT: got %+v", resp)
	}
	if !sess.ShouldExit() {
		t.Fatal("ShouldExit() false after QUIT answered")
	}

	if len(pol.received) != 1 {
		t.Fatalf("policy received %d envelopes, want 1", len(pol.received))
	}
	env := pol.received[0]
	if env.ReversePath.String() != "<alice@client.example>" {
		t.Errorf("reverse-path = %s", env.ReversePath.String())
	}
	if len(env.ForwardPaths) != 1 || env.ForwardPaths[0].String() != "<bob@primary.example>" {
		t.Errorf("forward-paths = %v", env.ForwardPaths)
	}
	if env.Data.Body != "Subject: hi\r\n\r\nhello\r\n" {
		t.Errorf("body = %q", env.Data.Body)
	}
}

func TestSessionS2DotStuffedBody(t *testing.T) {
	pol := &fakePolicy{primary: mustDomain(t, "primary.example")}
	sess, _ := NewSession(pol)
	pushAll(sess, "EHLO client.example\r\n")
	pushAll(sess, "MAIL FROM:<alice@client.example>\r\n")
	pushAll(sess, "RCPT TO:<bob@primary.example>\r\n")
	pushAll(sess, "DATA\r\n")

	resp := pushAll(sess, "..hidden\r\nnot-terminator\r\n.\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeOK {
		t.Fatalf("data commit: got %+v", resp)
	}

	want := ".hidden\r\nnot-terminator\r\n"
	if pol.received[0].Data.Body != want {
		t.Errorf("body = %q, want %q", pol.received[0].Data.Body, want)
	}
}

func TestSessionS3RejectedRecipient(t *testing.T) {
	pol := &fakePolicy{
		primary: mustDomain(t, "primary.example"),
		reject: func(p address.Path) bool {
			return p.Domain.EqualFold(mustDomain(t, "elsewhere.tld"))
		},
	}
	sess, _ := NewSession(pol)
	pushAll(sess, "EHLO client.example\r\n")
	pushAll(sess, "MAIL FROM:<alice@client.example>\r\n")

	resp := pushAll(sess, "RCPT TO:<nobody@elsewhere.tld>\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeMailboxUnavailable {
		t.Fatalf("rejected RCPT: got %+v", resp)
	}
	if sess.state != GotReversePath {
		t.Fatalf("state after rejected RCPT = %v, want GotReversePath", sess.state)
	}

	resp = pushAll(sess, "RCPT TO:<bob@primary.example>\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeOK {
		t.Fatalf("accepted RCPT: got %+v", resp)
	}
	if sess.state != GotForwardPath {
		t.Fatalf("state after accepted RCPT = %v, want GotForwardPath", sess.state)
	}

	resp = pushAll(sess, "DATA\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeStartMailInput {
		t.Fatalf("DATA after mixed RCPTs: got %+v", resp)
	}
}

func TestSessionS4OutOfOrder(t *testing.T) {
	pol := &fakePolicy{primary: mustDomain(t, "primary.example")}
	sess, _ := NewSession(pol)
	pushAll(sess, "EHLO client.example\r\n")

	resp := pushAll(sess, "RCPT TO:<bob@primary.example>\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeBadSequence {
		t.Fatalf("RCPT without MAIL: got %+v", resp)
	}
	if sess.state != Greeted {
		t.Fatalf("state after rejected RCPT = %v, want Greeted", sess.state)
	}
}

func TestSessionHELOOnlyFromInitiated(t *testing.T) {
	pol := &fakePolicy{primary: mustDomain(t, "primary.example")}
	sess, _ := NewSession(pol)
	pushAll(sess, "EHLO client.example\r\n")

	resp := pushAll(sess, "HELO client.example\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeBadSequence {
		t.Fatalf("HELO from Greeted: got %+v", resp)
	}
}

func TestSessionPipelinedCommandsYieldOrderedResponses(t *testing.T) {
	pol := &fakePolicy{primary: mustDomain(t, "primary.example")}
	sess, _ := NewSession(pol)

	resp := sess.Push([]byte("EHLO client.example\r\nMAIL FROM:<alice@client.example>\r\n"))
	if len(resp) != 2 {
		t.Fatalf("expected 2 responses for 2 pipelined commands, got %d", len(resp))
	}
	if resp[0].Code != smtp.CodeOK || resp[1].Code != smtp.CodeOK {
		t.Fatalf("unexpected codes: %+v", resp)
	}
}

func TestSessionInvalidCommandIs500(t *testing.T) {
	pol := &fakePolicy{primary: mustDomain(t, "primary.example")}
	sess, _ := NewSession(pol)
	resp := pushAll(sess, "BOGUS\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeSyntaxError {
		t.Fatalf("unknown verb: got %+v", resp)
	}
}

func TestSessionMalformedMailArgIs501(t *testing.T) {
	pol := &fakePolicy{primary: mustDomain(t, "primary.example")}
	sess, _ := NewSession(pol)
	pushAll(sess, "EHLO client.example\r\n")
	resp := pushAll(sess, "MAIL FROM:alice@client.example\r\n")
	if len(resp) != 1 || resp[0].Code != smtp.CodeArgSyntaxError {
		t.Fatalf("unbracketed MAIL arg: got %+v", resp)
	}
}
