/*
sail - an RFC 5321 mail transfer agent core.
*/

package address

import "errors"

// Sentinel errors returned by the grammar validators/parsers in this
// package. Wrap with fmt.Errorf("%w: ...") for additional context where
// useful; callers should use errors.Is against these values.
var (
	ErrAddrParse        = errors.New("address: parse error")
	ErrInvalidDomain    = errors.New("address: invalid domain")
	ErrBrackets         = errors.New("address: mismatched brackets")
	ErrNoAtSign         = errors.New("address: missing at-sign")
	ErrAdlWithoutColon  = errors.New("address: source-route without closing colon")
	ErrInvalidAdlSyntax = errors.New("address: invalid source-route syntax")
	ErrInvalidLocalPart = errors.New("address: invalid local-part")
)
