package address

import (
	"fmt"
	"strings"
)

// Path is a mailbox: a LocalPart at a Domain. Any leading source-route
// (the deprecated A-d-l syntax, RFC 5321 §3.3) is parsed and discarded;
// Path never carries it forward.
type Path struct {
	Local  LocalPart
	Domain Domain
}

func (p Path) String() string {
	return p.Local.String() + "@" + p.Domain.String()
}

// ParsePath parses a bare mailbox, including an optional leading
// source-route which is validated for shape and then dropped.
func ParsePath(s string) (Path, error) {
	s, err := stripSourceRoute(s)
	if err != nil {
		return Path{}, err
	}

	localRaw, domainRaw, err := splitMailbox(s)
	if err != nil {
		return Path{}, err
	}

	local, err := ParseLocalPart(localRaw)
	if err != nil {
		return Path{}, err
	}
	domain, err := ParseDomain(domainRaw)
	if err != nil {
		return Path{}, err
	}
	return Path{Local: local, Domain: domain}, nil
}

// stripSourceRoute removes a leading "@domain[,@domain]*:" A-d-l prefix
// if present, validating its shape without retaining it.
func stripSourceRoute(s string) (string, error) {
	if !strings.HasPrefix(s, "@") {
		return s, nil
	}

	idx := strings.IndexByte(s, ':')
	if idx == -1 {
		return "", fmt.Errorf("%w", ErrAdlWithoutColon)
	}
	adl, rest := s[:idx], s[idx+1:]

	for _, hop := range strings.Split(adl, ",") {
		if !strings.HasPrefix(hop, "@") {
			return "", fmt.Errorf("%w: hop missing '@'", ErrInvalidAdlSyntax)
		}
		if _, err := ParseDomain(hop[1:]); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAdlSyntax, err)
		}
	}

	return rest, nil
}

// splitMailbox splits "local@domain" into its two halves, accounting
// for a quoted local-part that may itself contain '@'.
func splitMailbox(s string) (local, domain string, err error) {
	if strings.HasPrefix(s, `"`) {
		end, ferr := findClosingQuote(s)
		if ferr != nil {
			return "", "", ferr
		}
		if end+1 >= len(s) || s[end+1] != '@' {
			return "", "", fmt.Errorf("%w", ErrNoAtSign)
		}
		return s[:end+1], s[end+2:], nil
	}

	idx := strings.IndexByte(s, '@')
	if idx == -1 {
		return "", "", fmt.Errorf("%w", ErrNoAtSign)
	}
	return s[:idx], s[idx+1:], nil
}

func findClosingQuote(s string) (int, error) {
	escaped := false
	for i := 1; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unterminated quoted-string", ErrInvalidLocalPart)
}

// ForwardPath is an RCPT TO argument: either the literal postmaster
// mailbox (matched case-insensitively) or a regular Path.
type ForwardPath struct {
	postmaster bool
	path       Path
}

// Postmaster is the default ForwardPath value.
var Postmaster = ForwardPath{postmaster: true}

func RegularForwardPath(p Path) ForwardPath { return ForwardPath{path: p} }

func (f ForwardPath) IsPostmaster() bool { return f.postmaster }
func (f ForwardPath) Path() Path         { return f.path }

func (f ForwardPath) String() string {
	if f.postmaster {
		return "<postmaster>"
	}
	return "<" + f.path.String() + ">"
}

// ParseForwardPath parses a bracketed RCPT TO argument.
func ParseForwardPath(s string) (ForwardPath, error) {
	inner, err := unwrapAngleBrackets(s)
	if err != nil {
		return ForwardPath{}, err
	}

	if strings.EqualFold(inner, "postmaster") {
		return Postmaster, nil
	}
	// <@domain,...:postmaster> also names the postmaster mailbox.
	if stripped, serr := stripSourceRoute(inner); serr == nil && strings.EqualFold(stripped, "postmaster") {
		return Postmaster, nil
	}

	p, err := ParsePath(inner)
	if err != nil {
		return ForwardPath{}, err
	}
	return RegularForwardPath(p), nil
}

// ReversePath is a MAIL FROM argument: either null (a bounce/notification
// sender) or a regular Path. A Null reverse-path signals a bounce and
// MUST NOT itself produce a further bounce.
type ReversePath struct {
	null bool
	path Path
}

// Null is the default ReversePath value.
var Null = ReversePath{null: true}

func RegularReversePath(p Path) ReversePath { return ReversePath{path: p} }

func (r ReversePath) IsNull() bool { return r.null }
func (r ReversePath) Path() Path   { return r.path }

func (r ReversePath) String() string {
	if r.null {
		return "<>"
	}
	return "<" + r.path.String() + ">"
}

// ParseReversePath parses a bracketed MAIL FROM argument, accepting the
// null reverse-path "<>".
func ParseReversePath(s string) (ReversePath, error) {
	inner, err := unwrapAngleBrackets(s)
	if err != nil {
		return ReversePath{}, err
	}
	if inner == "" {
		return Null, nil
	}
	p, err := ParsePath(inner)
	if err != nil {
		return ReversePath{}, err
	}
	return RegularReversePath(p), nil
}

func unwrapAngleBrackets(s string) (string, error) {
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") || len(s) < 2 {
		return "", fmt.Errorf("%w", ErrBrackets)
	}
	return s[1 : len(s)-1], nil
}

// ForeignPath is an opaque wrapper over Path used to distinguish
// recipients destined for remote relay from local ones at the type
// level: the relay task's input type is ForeignPath, so a local
// recipient can never be handed to it by accident.
type ForeignPath struct {
	path Path
}

func NewForeignPath(p Path) ForeignPath { return ForeignPath{path: p} }

func (f ForeignPath) Path() Path { return f.path }

// ToForwardPath converts back into a regular ForwardPath, e.g. for
// rendering into the RCPT TO of a freshly opened relay session.
func (f ForeignPath) ToForwardPath() ForwardPath { return RegularForwardPath(f.path) }

func (f ForeignPath) String() string { return f.path.String() }
