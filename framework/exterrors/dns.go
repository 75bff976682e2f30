package exterrors

import "net"

// UnwrapDNSErr extracts a log-friendly reason from a *net.DNSError
// (returned by both net.Resolver and the miekg/dns exchange path via
// internal/resolver), or an empty reason if err isn't one.
func UnwrapDNSErr(err error) (reason string, misc map[string]interface{}) {
	dnsErr, ok := err.(*net.DNSError)
	if !ok {
		return "", map[string]interface{}{}
	}
	return dnsErr.Err, map[string]interface{}{}
}
