// Package dispatch implements the runtime that owns a running sail
// instance (§4.G): the connection listener, the commit path that
// partitions a completed envelope into local and foreign deliveries,
// and the relay tasks that carry foreign deliveries to their
// destination. Dispatcher also serves as the default policy.Policy
// implementation, following the reference server's ServerPolicy.
package dispatch

import (
	"sync"
	"time"

	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/framework/log"
	"github.com/mademast/sail/internal/envelope"
	"github.com/mademast/sail/internal/maildir"
	"github.com/mademast/sail/internal/metrics"
	"github.com/mademast/sail/internal/resolver"
	"github.com/mademast/sail/internal/smtp"
)

// Config is the static, immutable-after-start configuration a
// Dispatcher is built from.
type Config struct {
	// Hostnames are the domains this instance accepts local mail for.
	// The first entry is advertised as the primary host in greetings.
	Hostnames []address.Domain
	// Relays are destination domains this instance is willing to
	// relay outbound mail to. A recipient whose domain is in neither
	// Hostnames nor Relays is rejected at RCPT time: sail is never an
	// open relay by default.
	Relays []address.Domain
	// Maildir is the path template used to place each local delivery.
	Maildir maildir.Template
}

// NewLookupFunc builds a fresh resolver.Lookup for one relay attempt.
type NewLookupFunc func() (resolver.Lookup, error)

// Dispatcher is shared read-only across every session and relay task
// once constructed; Config is never mutated after New.
type Dispatcher struct {
	cfg       Config
	newLookup NewLookupFunc
	logger    log.Logger

	// hostnameSet and relaySet hold cfg.Hostnames/cfg.Relays keyed by
	// Domain.ForLookup, so path matching is a map lookup rather than a
	// linear EqualFold scan.
	hostnameSet map[string]bool
	relaySet    map[string]bool

	relayWG sync.WaitGroup
}

// New builds a Dispatcher. newLookup is called once per relay attempt
// so each attempt gets an independent resolver.Lookup; pass
// resolver.DefaultLookup for production use.
func New(cfg Config, newLookup NewLookupFunc, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		newLookup:   newLookup,
		logger:      logger,
		hostnameSet: domainSet(cfg.Hostnames),
		relaySet:    domainSet(cfg.Relays),
	}
}

func domainSet(domains []address.Domain) map[string]bool {
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		set[d.ForLookup()] = true
	}
	return set
}

// PrimaryHost implements policy.Policy.
func (d *Dispatcher) PrimaryHost() address.Domain {
	if len(d.cfg.Hostnames) == 0 {
		fallback, _ := address.NewFQDNDomain("localhost")
		return fallback
	}
	return d.cfg.Hostnames[0]
}

// PathIsValid implements policy.Policy: accept a recipient if its
// domain is ours to deliver locally, or one we're configured to relay
// to.
func (d *Dispatcher) PathIsValid(p address.Path) bool {
	return d.pathIsLocal(p) || d.pathIsRelayAllowed(p)
}

// ForwardPathIsLocal implements policy.Policy.
func (d *Dispatcher) ForwardPathIsLocal(fp address.ForwardPath) bool {
	if fp.IsPostmaster() {
		return true
	}
	return d.pathIsLocal(fp.Path())
}

func (d *Dispatcher) pathIsLocal(p address.Path) bool {
	return d.hostnameSet[p.Domain.ForLookup()]
}

func (d *Dispatcher) pathIsRelayAllowed(p address.Path) bool {
	return d.relaySet[p.Domain.ForLookup()]
}

// MessageReceived implements policy.Policy: the commit path. Locals
// are saved synchronously; each distinct foreign destination domain
// gets its own relay task.
func (d *Dispatcher) MessageReceived(env envelope.Envelope) smtp.Response {
	locals, foreigns := partition(env.ForwardPaths, d.ForwardPathIsLocal)

	for _, local := range locals {
		if err := d.saveLocal(local, env.Data); err != nil {
			d.logger.Error("local delivery failed", err, "recipient", local.String())
			return smtp.NewResponse(smtp.CodeLocalError, "could not save message locally")
		}
	}

	for _, group := range foreigns {
		fe := envelope.ForeignEnvelope{
			ReversePath:  env.ReversePath,
			ForwardPaths: group.forwards,
			Data:         env.Data,
		}
		d.spawnRelay(group.domain, fe)
	}

	return smtp.NewResponse(smtp.CodeOK, "message accepted")
}

func (d *Dispatcher) saveLocal(fp address.ForwardPath, msg envelope.Message) error {
	path := d.cfg.Maildir.Render(fp)
	md := maildir.New(path)
	if err := md.CreateDirectories(); err != nil {
		return err
	}
	if err := md.Save(msg); err != nil {
		return err
	}
	metrics.LocalDeliveriesTotal.Inc()
	return nil
}

type foreignGroup struct {
	domain   address.Domain
	forwards []address.ForeignPath
}

// partition splits forwards into the local ones (left as-is) and the
// foreign ones, grouped by destination domain in first-appearance
// order. address.Domain embeds a net.IP and so is not map-keyable
// directly; grouping keys on the domain's rendered text instead.
func partition(forwards []address.ForwardPath, isLocal func(address.ForwardPath) bool) ([]address.ForwardPath, []foreignGroup) {
	var locals []address.ForwardPath
	index := make(map[string]int)
	var groups []foreignGroup

	for _, fwd := range forwards {
		if isLocal(fwd) {
			locals = append(locals, fwd)
			continue
		}
		domain := fwd.Path().Domain
		key := domain.String()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, foreignGroup{domain: domain})
		}
		groups[i].forwards = append(groups[i].forwards, address.NewForeignPath(fwd.Path()))
	}

	return locals, groups
}

// Wait blocks until every in-flight relay task finishes, or timeout
// elapses first.
func (d *Dispatcher) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.relayWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.logger.Printf("dispatch: relay tasks still running after %s, exiting anyway", timeout)
	}
}
