package envelope

import "github.com/mademast/sail/framework/address"

// Envelope is produced by the server session FSM and owned by the
// dispatcher once committed. Invariant on emission: Data has already
// been dot-unstuffed, and ForwardPaths is non-empty.
type Envelope struct {
	ReversePath  address.ReversePath
	ForwardPaths []address.ForwardPath
	Data         Message
}

// ForeignEnvelope is the relay-bound counterpart produced by the
// dispatcher when it partitions an Envelope: every recipient here is
// confirmed non-local. It is consumed exactly once by a relay task.
type ForeignEnvelope struct {
	ReversePath  address.ReversePath
	ForwardPaths []address.ForeignPath
	Data         Message
}

// Undeliverable builds a bounce Envelope addressed back to sender,
// listing one "The host rejected <path>" line per rejected recipient.
// Per §4.E, this MUST NOT be called when sender is itself null: a null
// reverse-path signals a bounce and must not itself produce a further
// bounce. Callers are expected to have already checked that.
func Undeliverable(sender address.ReversePath, rejected []address.ForeignPath) Envelope {
	lines := make([]string, 0, len(rejected))
	for _, r := range rejected {
		lines = append(lines, "The host rejected "+r.String())
	}

	body := ""
	for _, l := range lines {
		body += l + "\r\n"
	}

	return Envelope{
		ReversePath:  address.Null,
		ForwardPaths: []address.ForwardPath{address.RegularForwardPath(sender.Path())},
		Data:         NewMessageNow(address.Null, body),
	}
}
