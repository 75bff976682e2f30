// Package smtp implements the command and response codecs shared by the
// server and client session state machines (§4.B).
package smtp

import (
	"errors"
	"strings"

	"github.com/mademast/sail/framework/address"
)

// Verb is an SMTP command verb, recognised case-insensitively on the
// wire and rendered back in canonical uppercase form.
type Verb int

const (
	HELO Verb = iota
	EHLO
	MAIL
	RCPT
	DATA
	RSET
	VRFY
	EXPN
	HELP
	NOOP
	QUIT
)

func (v Verb) String() string {
	switch v {
	case HELO:
		return "HELO"
	case EHLO:
		return "EHLO"
	case MAIL:
		return "MAIL"
	case RCPT:
		return "RCPT"
	case DATA:
		return "DATA"
	case RSET:
		return "RSET"
	case VRFY:
		return "VRFY"
	case EXPN:
		return "EXPN"
	case HELP:
		return "HELP"
	case NOOP:
		return "NOOP"
	case QUIT:
		return "QUIT"
	default:
		return "?"
	}
}

// Command is a parsed SMTP command line. Only the fields relevant to
// Verb are populated.
type Command struct {
	Verb Verb

	Domain      address.Domain      // HELO, EHLO
	ReversePath address.ReversePath // MAIL FROM
	ForwardPath address.ForwardPath // RCPT TO
	Arg         string              // VRFY, EXPN, HELP (unvalidated)
}

// ErrInvalidCommand is returned for unrecognised verbs, malformed
// MAIL/RCPT prefixes, and any non-ASCII byte in the line (§6: non-ASCII
// commands reply 500 regardless of which field it is in).
var ErrInvalidCommand = errors.New("smtp: invalid command")

func (c Command) String() string {
	switch c.Verb {
	case HELO, EHLO:
		return c.Verb.String() + " " + c.Domain.String()
	case MAIL:
		return "MAIL FROM:" + c.ReversePath.String()
	case RCPT:
		return "RCPT TO:" + c.ForwardPath.String()
	case VRFY, EXPN, HELP:
		if c.Arg == "" {
			return c.Verb.String()
		}
		return c.Verb.String() + " " + c.Arg
	default:
		return c.Verb.String()
	}
}

// ParseCommand parses one command line, with the trailing CRLF already
// stripped by the caller.
func ParseCommand(line string) (Command, error) {
	for i := 0; i < len(line); i++ {
		if line[i] > 127 {
			return Command{}, ErrInvalidCommand
		}
	}

	verb, rest := splitVerb(line)
	switch strings.ToUpper(verb) {
	case "HELO":
		d, err := address.ParseDomain(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Verb: HELO, Domain: d}, nil
	case "EHLO":
		d, err := address.ParseDomain(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Verb: EHLO, Domain: d}, nil
	case "MAIL":
		rp, err := parseMailArg(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Verb: MAIL, ReversePath: rp}, nil
	case "RCPT":
		fp, err := parseRcptArg(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Verb: RCPT, ForwardPath: fp}, nil
	case "DATA":
		return Command{Verb: DATA}, nil
	case "RSET":
		return Command{Verb: RSET}, nil
	case "VRFY":
		return Command{Verb: VRFY, Arg: rest}, nil
	case "EXPN":
		return Command{Verb: EXPN, Arg: rest}, nil
	case "HELP":
		return Command{Verb: HELP, Arg: rest}, nil
	case "NOOP":
		return Command{Verb: NOOP}, nil
	case "QUIT":
		return Command{Verb: QUIT}, nil
	default:
		return Command{}, ErrInvalidCommand
	}
}

// splitVerb separates the verb from its argument on the first space;
// commands without an argument get an empty rest.
func splitVerb(line string) (verb, rest string) {
	idx := strings.IndexByte(line, ' ')
	if idx == -1 {
		return line, ""
	}
	return line[:idx], line[idx+1:]
}

func parseMailArg(rest string) (address.ReversePath, error) {
	if len(rest) < 5 || !strings.EqualFold(rest[:5], "FROM:") {
		return address.ReversePath{}, ErrInvalidCommand
	}
	return address.ParseReversePath(rest[5:])
}

func parseRcptArg(rest string) (address.ForwardPath, error) {
	if len(rest) < 3 || !strings.EqualFold(rest[:3], "TO:") {
		return address.ForwardPath{}, ErrInvalidCommand
	}
	return address.ParseForwardPath(rest[3:])
}
