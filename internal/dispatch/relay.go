package dispatch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/framework/exterrors"
	"github.com/mademast/sail/internal/client"
	"github.com/mademast/sail/internal/envelope"
	"github.com/mademast/sail/internal/metrics"
	"github.com/mademast/sail/internal/resolver"
	"github.com/mademast/sail/internal/smtp"
)

// ErrMismatchedDomains guards against a dispatcher bug: every recipient
// handed to one relay task must share the task's destination domain.
var ErrMismatchedDomains = errors.New("dispatch: forward-paths do not all match destination domain")

// resolveTimeout and connectTimeout bound the network half of one relay
// attempt; writeTimeout bounds each write to the connection once open.
const (
	resolveTimeout = 2500 * time.Millisecond
	connectTimeout = 2500 * time.Millisecond
	writeTimeout   = 500 * time.Millisecond
)

func (d *Dispatcher) spawnRelay(domain address.Domain, fe envelope.ForeignEnvelope) {
	d.relayWG.Add(1)
	go func() {
		defer d.relayWG.Done()
		d.relay(domain, fe)
	}()
}

// relay drives one full outbound session against domain's best-reachable
// mail exchanger, per §4.G. A resolution or connect failure bounces the
// whole envelope, and recipients the client session reports as rejected
// are bounced once it ends, both back through the commit path and only
// when the original sender is reachable (non-null reverse-path). An
// envelope whose forward-paths do not all match domain is logged and
// dropped without a bounce.
func (d *Dispatcher) relay(domain address.Domain, fe envelope.ForeignEnvelope) {
	for _, fp := range fe.ForwardPaths {
		if !fp.Path().Domain.Equal(domain) {
			d.logger.Printf("relay: %v for %s", ErrMismatchedDomains, domain.String())
			metrics.RelayAttemptsTotal.WithLabelValues("mismatched_domains").Inc()
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	ip, err := d.resolveOne(ctx, domain)
	cancel()
	if err != nil {
		fields := map[string]interface{}{"domain": domain.String()}
		if reason, misc := exterrors.UnwrapDNSErr(err); reason != "" {
			fields["dns_reason"] = reason
			for k, v := range misc {
				fields[k] = v
			}
		}
		err = exterrors.WithFields(err, fields)
		d.logger.Error("relay: resolution failed", err, "temporary", exterrors.IsTemporaryOrUnspec(err))
		metrics.RelayAttemptsTotal.WithLabelValues("resolution_failed").Inc()
		d.bounceWhole(fe)
		return
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), connectTimeout)
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", net.JoinHostPort(ip.String(), "25"))
	dialCancel()
	if err != nil {
		err = exterrors.WithFields(err, map[string]interface{}{"domain": domain.String(), "ip": ip.String()})
		d.logger.Error("relay: connect failed", err, "temporary", exterrors.IsTemporaryOrUnspec(err))
		metrics.RelayAttemptsTotal.WithLabelValues("connect_failed").Inc()
		d.bounceWhole(fe)
		return
	}
	defer conn.Close()

	sess := client.NewSession(fe, d.PrimaryHost())
	d.driveClient(conn, sess)

	if sess.QuitReplyCode != 0 && sess.QuitReplyCode != smtp.CodeServiceClosing {
		d.logger.Msg("relay: unexpected QUIT reply", "domain", domain.String(),
			"code", sess.QuitReplyCode, "temporary", exterrors.IsTemporaryCode(sess.QuitReplyCode))
	}

	if bounce := sess.Undeliverable(); bounce != nil {
		metrics.BouncesTotal.Inc()
		metrics.RelayAttemptsTotal.WithLabelValues("partial_bounce").Inc()
		d.MessageReceived(*bounce)
		return
	}
	metrics.RelayAttemptsTotal.WithLabelValues("delivered").Inc()
}

// resolveOne resolves domain to a single address to connect to. Literal
// domains short-circuit DNS entirely.
func (d *Dispatcher) resolveOne(ctx context.Context, domain address.Domain) (net.IP, error) {
	if domain.IsLiteral() {
		return domain.IP(), nil
	}
	lookup, err := d.newLookup()
	if err != nil {
		return nil, err
	}
	dl, err := resolver.NewDnsLookup(ctx, lookup, domain.LookupName())
	if err != nil {
		return nil, err
	}
	return dl.NextAddress(ctx)
}

// driveClient reads replies from conn and feeds them to sess until the
// FSM says to exit or the connection closes, writing every output it
// produces back out under a bounded per-write deadline.
func (d *Dispatcher) driveClient(conn net.Conn, sess *client.Session) {
	buf := make([]byte, 1024)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			for _, out := range sess.Push(buf[:n]) {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if _, werr := conn.Write(out.Wire); werr != nil {
					return
				}
			}
		}
		if readErr != nil || sess.ShouldExit() {
			return
		}
	}
}

// bounceWhole treats every recipient of fe as rejected, as if the whole
// relay attempt had failed at RCPT time, and re-enters the commit path
// so the bounce can be delivered (or silently dropped, if the original
// sender was itself a bounce).
func (d *Dispatcher) bounceWhole(fe envelope.ForeignEnvelope) {
	if fe.ReversePath.IsNull() {
		return
	}
	rejected := append([]address.ForeignPath(nil), fe.ForwardPaths...)
	bounce := envelope.Undeliverable(fe.ReversePath, rejected)
	metrics.BouncesTotal.Inc()
	d.MessageReceived(bounce)
}
