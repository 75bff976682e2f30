// Package maildir implements the external storage sink (§6 "Storage
// sink"): a path template grammar for where a local recipient's
// message lands, and the classic tmp/new/cur Maildir write sequence.
package maildir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mademast/sail/framework/address"
)

// Token is one recognised template variable.
type Token int

const (
	DestinationUser Token = iota
	DestinationDomain
)

func parseToken(s string) (Token, error) {
	switch s {
	case "destination user":
		return DestinationUser, nil
	case "destination domain":
		return DestinationDomain, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnrecognizedVariable, s)
	}
}

// Modifier transforms a rendered variable's text.
type Modifier int

const (
	Lowercase Modifier = iota
	Uppercase
	Strip
)

func parseModifier(s string) (Modifier, error) {
	switch s {
	case "lowercase":
		return Lowercase, nil
	case "uppercase":
		return Uppercase, nil
	case "strip":
		return Strip, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnrecognizedModifier, s)
	}
}

var (
	ErrUnclosedVariable     = errors.New("maildir: unclosed template variable")
	ErrUnrecognizedVariable = errors.New("maildir: unrecognized template variable")
	ErrUnrecognizedModifier = errors.New("maildir: unrecognized template modifier")
	ErrUnbalancedAnd        = errors.New("maildir: modifier list starts or ends with 'and'")
)

type templateToken struct {
	text      string // set when this is a literal text span
	isVar     bool
	name      Token
	modifiers []Modifier
}

// Template is a parsed Maildir path template: literal text interleaved
// with `{destination user[:modifier[ and modifier]]}` variables.
type Template struct {
	tokens []templateToken
}

// ParseTemplate parses the `{...}`-delimited path template grammar.
func ParseTemplate(s string) (Template, error) {
	var tokens []templateToken

	curr := s
	for {
		before, after, found := strings.Cut(curr, "{")
		if !found {
			if before != "" {
				tokens = append(tokens, templateToken{text: before})
			}
			break
		}
		if before != "" {
			tokens = append(tokens, templateToken{text: before})
		}

		variable, rest, ok := strings.Cut(after, "}")
		if !ok {
			return Template{}, ErrUnclosedVariable
		}
		curr = rest

		tok, err := parseVariable(variable)
		if err != nil {
			return Template{}, err
		}
		tokens = append(tokens, tok)
	}

	return Template{tokens: tokens}, nil
}

func parseVariable(s string) (templateToken, error) {
	name, rawModifiers, hasModifiers := strings.Cut(s, ":")
	if !hasModifiers {
		tok, err := parseToken(strings.TrimSpace(name))
		if err != nil {
			return templateToken{}, err
		}
		return templateToken{isVar: true, name: tok}, nil
	}

	if strings.HasPrefix(rawModifiers, "and ") || strings.HasSuffix(rawModifiers, " and") {
		return templateToken{}, ErrUnbalancedAnd
	}

	var modifiers []Modifier
	for _, part := range strings.Split(rawModifiers, " and ") {
		m, err := parseModifier(part)
		if err != nil {
			return templateToken{}, err
		}
		modifiers = append(modifiers, m)
	}

	tok, err := parseToken(strings.TrimSpace(name))
	if err != nil {
		return templateToken{}, err
	}
	return templateToken{isVar: true, name: tok, modifiers: modifiers}, nil
}

// Render expands the template for the given recipient into a
// filesystem path.
func (t Template) Render(forward address.ForwardPath) string {
	var b strings.Builder
	for _, tok := range t.tokens {
		if !tok.isVar {
			b.WriteString(tok.text)
			continue
		}

		value := renderVariable(tok.name, forward)
		for _, m := range tok.modifiers {
			value = applyModifier(m, value)
		}
		b.WriteString(value)
	}
	return b.String()
}

func renderVariable(tok Token, forward address.ForwardPath) string {
	switch tok {
	case DestinationUser:
		if forward.IsPostmaster() {
			return "postmaster"
		}
		return forward.Path().Local.String()
	case DestinationDomain:
		if forward.IsPostmaster() {
			return "postmaster"
		}
		return forward.Path().Domain.String()
	default:
		return ""
	}
}

func applyModifier(m Modifier, s string) string {
	switch m {
	case Lowercase:
		return strings.ToLower(s)
	case Uppercase:
		return strings.ToUpper(s)
	case Strip:
		before, _, _ := strings.Cut(s, "+")
		return before
	default:
		return s
	}
}
