// Package policy declares the seam between the core session FSMs and
// whatever local-delivery/relay-authorisation rules an operator plugs
// in (§6 "Policy interface"). It is its own package so that both
// internal/server and internal/dispatch can depend on the interface
// without depending on each other.
package policy

import (
	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/internal/envelope"
	"github.com/mademast/sail/internal/smtp"
)

// Policy is consumed by the server session FSM at RCPT and DATA commit
// time, and by the dispatcher when partitioning a committed envelope.
type Policy interface {
	// PrimaryHost is what this MTA advertises in greetings.
	PrimaryHost() address.Domain

	// PathIsValid reports whether a recipient should be accepted at
	// RCPT time. Covers both local-user existence and relay
	// authorisation; Postmaster is never passed here since it is
	// always accepted.
	PathIsValid(p address.Path) bool

	// ForwardPathIsLocal classifies a recipient at dispatch time, after
	// commit.
	ForwardPathIsLocal(fp address.ForwardPath) bool

	// MessageReceived is the terminal commit sink for a completed DATA
	// transaction. The policy may reject with a non-250 response.
	MessageReceived(env envelope.Envelope) smtp.Response
}

// Storage is the local-delivery sink, called once per local recipient
// after a commit (§6 "Storage sink").
type Storage interface {
	Save(local address.ForwardPath, msg envelope.Message) error
}
