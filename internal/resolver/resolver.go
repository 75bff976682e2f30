// Package resolver implements the MX-aware destination lookup (§4.F):
// resolve a domain's mail exchangers, try them most-preferred first,
// and fall back to the domain's own A/AAAA records (RFC 5321 §5.1
// implicit MX) when it advertises none.
package resolver

import (
	"context"
	"errors"
	"net"
	"sort"

	"github.com/miekg/dns"
)

// ErrNoMoreRecords is returned by DnsLookup.NextAddress once every MX
// host (or the implicit-MX fallback) has been tried.
var ErrNoMoreRecords = errors.New("resolver: no more records")

// Lookup is the seam between DnsLookup and the actual network: a fake
// implementation drives the unit tests, miekgLookup drives production.
type Lookup interface {
	LookupMX(ctx context.Context, fqdn string) ([]*net.MX, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// DnsLookup resolves one destination domain and then hands out its
// mail-exchanger IP addresses one at a time, most preferred first.
type DnsLookup struct {
	lookup Lookup

	// mxHosts is stored least-preferred-first so a pop from the end
	// yields the next most-preferred host.
	mxHosts []string
	ips     []net.IP
}

// NewDnsLookup queries MX records for fqdn (which must end with "."
// for absolute resolution). With no MX records present it falls back
// to resolving fqdn itself (implicit MX); any other resolution error
// is surfaced to the caller.
func NewDnsLookup(ctx context.Context, lookup Lookup, fqdn string) (*DnsLookup, error) {
	mxs, err := lookup.LookupMX(ctx, fqdn)
	if err != nil {
		return nil, err
	}

	if len(mxs) == 0 {
		return &DnsLookup{lookup: lookup, mxHosts: []string{fqdn}}, nil
	}

	sort.Slice(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })
	hosts := make([]string, len(mxs))
	for i, mx := range mxs {
		hosts[len(mxs)-1-i] = mx.Host
	}
	return &DnsLookup{lookup: lookup, mxHosts: hosts}, nil
}

// NextAddress yields one address at a time: every unresolved IP of the
// last-popped host first, then resolves the next most-preferred host
// and continues. Returns ErrNoMoreRecords once exhausted.
func (d *DnsLookup) NextAddress(ctx context.Context) (net.IP, error) {
	if len(d.ips) > 0 {
		ip := d.ips[len(d.ips)-1]
		d.ips = d.ips[:len(d.ips)-1]
		return ip, nil
	}

	if len(d.mxHosts) == 0 {
		return nil, ErrNoMoreRecords
	}

	host := d.mxHosts[len(d.mxHosts)-1]
	d.mxHosts = d.mxHosts[:len(d.mxHosts)-1]

	addrs, err := d.lookup.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	d.ips = make([]net.IP, len(addrs))
	for i, a := range addrs {
		d.ips[i] = a.IP
	}
	return d.NextAddress(ctx)
}

// miekgLookup implements Lookup against a real recursive resolver
// using github.com/miekg/dns directly, rather than net.Resolver, so
// MX preference ordering and NXDOMAIN-vs-error distinctions are ours
// to interpret per §4.F.
type miekgLookup struct {
	client *dns.Client
	server string
}

// DefaultLookup builds a Lookup reading nameservers from the system
// resolver configuration (/etc/resolv.conf).
func DefaultLookup() (Lookup, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("resolver: no nameservers configured")
	}
	return &miekgLookup{
		client: &dns.Client{},
		server: net.JoinHostPort(cfg.Servers[0], cfg.Port),
	}, nil
}

func (m *miekgLookup) LookupMX(ctx context.Context, fqdn string) ([]*net.MX, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeMX)

	reply, _, err := m.client.ExchangeContext(ctx, msg, m.server)
	if err != nil {
		return nil, err
	}
	if reply.Rcode == dns.RcodeNameError {
		// NXDOMAIN: no MX records, not a resolution failure.
		return nil, nil
	}
	if reply.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{Err: dns.RcodeToString[reply.Rcode], Name: fqdn}
	}

	var out []*net.MX
	for _, rr := range reply.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	return out, nil
}

func (m *miekgLookup) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	var out []net.IPAddr

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		reply, _, err := m.client.ExchangeContext(ctx, msg, m.server)
		if err != nil {
			return nil, err
		}
		if reply.Rcode != dns.RcodeSuccess && reply.Rcode != dns.RcodeNameError {
			return nil, &net.DNSError{Err: dns.RcodeToString[reply.Rcode], Name: host}
		}

		for _, rr := range reply.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				out = append(out, net.IPAddr{IP: rec.A})
			case *dns.AAAA:
				out = append(out, net.IPAddr{IP: rec.AAAA})
			}
		}
	}

	if len(out) == 0 {
		return nil, &net.DNSError{Err: "no A/AAAA records", Name: host, IsNotFound: true}
	}
	return out, nil
}
