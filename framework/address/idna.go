package address

import (
	"fmt"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// ParseDomainIDNA accepts a possibly-Unicode hostname — the kind an
// operator might type into a CLI flag or config file — and converts it
// to its ASCII-compatible encoding before parsing. The wire protocol
// itself never carries Unicode domains (SMTPUTF8 is out of scope);
// this exists only for human-facing configuration surfaces, pairing
// NFC normalisation with IDNA conversion so equivalent Unicode forms
// of the same hostname always parse to the same Domain.
func ParseDomainIDNA(s string) (Domain, error) {
	ascii, err := idna.ToASCII(norm.NFC.String(s))
	if err != nil {
		return Domain{}, fmt.Errorf("%w: idna: %v", ErrInvalidDomain, err)
	}
	return ParseDomain(ascii)
}
