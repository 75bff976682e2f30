package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/framework/log"
	"github.com/mademast/sail/internal/envelope"
	"github.com/mademast/sail/internal/maildir"
	"github.com/mademast/sail/internal/resolver"
	"github.com/mademast/sail/internal/smtp"
)

func discardLogger() log.Logger {
	return log.Logger{Out: log.NopOutput{}}
}

func mustDomain(t *testing.T, s string) address.Domain {
	t.Helper()
	d, err := address.ParseDomain(s)
	if err != nil {
		t.Fatalf("ParseDomain(%q): %v", s, err)
	}
	return d
}

func mustForwardPath(t *testing.T, s string) address.ForwardPath {
	t.Helper()
	fp, err := address.ParseForwardPath(s)
	if err != nil {
		t.Fatalf("ParseForwardPath(%q): %v", s, err)
	}
	return fp
}

func mustForeignPath(t *testing.T, s string) address.ForeignPath {
	t.Helper()
	return address.NewForeignPath(mustForwardPath(t, s).Path())
}

func noLookup() (resolver.Lookup, error) {
	return nil, nil
}

// TestPartitionGroupsForeignByDomain covers scenario S5: locals are
// pulled out, foreign recipients are grouped by destination domain in
// first-appearance order.
func TestPartitionGroupsForeignByDomain(t *testing.T) {
	forwards := []address.ForwardPath{
		mustForwardPath(t, "<bob@primary.example>"),
		mustForwardPath(t, "<eve@remote.tld>"),
		mustForwardPath(t, "<fay@remote.tld>"),
		mustForwardPath(t, "<gil@other.tld>"),
	}

	isLocal := func(fp address.ForwardPath) bool {
		return fp.Path().Domain.EqualFold(mustDomain(t, "primary.example"))
	}

	locals, groups := partition(forwards, isLocal)

	if len(locals) != 1 || locals[0].String() != "<bob@primary.example>" {
		t.Fatalf("locals = %v, want [bob@primary.example]", locals)
	}
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[0].domain.String() != "remote.tld" || len(groups[0].forwards) != 2 {
		t.Errorf("groups[0] = %+v, want remote.tld with 2 recipients", groups[0])
	}
	if groups[1].domain.String() != "other.tld" || len(groups[1].forwards) != 1 {
		t.Errorf("groups[1] = %+v, want other.tld with 1 recipient", groups[1])
	}
}

func TestDispatcherPathIsValid(t *testing.T) {
	d := New(Config{
		Hostnames: []address.Domain{mustDomain(t, "primary.example")},
		Relays:    []address.Domain{mustDomain(t, "downstream.tld")},
	}, noLookup, discardLogger())

	local := mustForwardPath(t, "<anyone@primary.example>").Path()
	relay := mustForwardPath(t, "<anyone@downstream.tld>").Path()
	other := mustForwardPath(t, "<anyone@elsewhere.tld>").Path()

	if !d.PathIsValid(local) {
		t.Error("local recipient rejected")
	}
	if !d.PathIsValid(relay) {
		t.Error("allow-listed relay destination rejected")
	}
	if d.PathIsValid(other) {
		t.Error("unrelated domain should not be accepted")
	}
}

func TestDispatcherForwardPathIsLocalPostmaster(t *testing.T) {
	d := New(Config{Hostnames: []address.Domain{mustDomain(t, "primary.example")}}, noLookup, discardLogger())
	if !d.ForwardPathIsLocal(address.Postmaster) {
		t.Error("postmaster must always be treated as local")
	}
}

func TestDispatcherMessageReceivedSavesAllLocalRecipients(t *testing.T) {
	root := t.TempDir()
	tpl, err := maildir.ParseTemplate(root + "/{destination user}")
	if err != nil {
		t.Fatal(err)
	}

	d := New(Config{
		Hostnames: []address.Domain{mustDomain(t, "primary.example")},
		Maildir:   tpl,
	}, noLookup, discardLogger())

	env := envelope.Envelope{
		ReversePath: address.RegularReversePath(mustForwardPath(t, "<alice@primary.example>").Path()),
		ForwardPaths: []address.ForwardPath{
			mustForwardPath(t, "<bob@primary.example>"),
			mustForwardPath(t, "<carol@primary.example>"),
		},
		Data: envelope.Message{Body: "hello"},
	}

	resp := d.MessageReceived(env)
	if resp.Code != smtp.CodeOK {
		t.Fatalf("MessageReceived response = %+v, want 250", resp)
	}

	for _, user := range []string{"bob", "carol"} {
		entries, err := os.ReadDir(filepath.Join(root, user, "new"))
		if err != nil {
			t.Fatalf("ReadDir(%s/new): %v", user, err)
		}
		if len(entries) != 1 {
			t.Errorf("%s: got %d delivered messages, want 1", user, len(entries))
		}
	}
}

func TestDispatcherMessageReceivedLocalSaveFailureReturns451(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o600); err != nil {
		t.Fatal(err)
	}

	tpl, err := maildir.ParseTemplate(blocker + "/{destination user}")
	if err != nil {
		t.Fatal(err)
	}

	d := New(Config{
		Hostnames: []address.Domain{mustDomain(t, "primary.example")},
		Maildir:   tpl,
	}, noLookup, discardLogger())

	env := envelope.Envelope{
		ReversePath:  address.RegularReversePath(mustForwardPath(t, "<alice@primary.example>").Path()),
		ForwardPaths: []address.ForwardPath{mustForwardPath(t, "<bob@primary.example>")},
		Data:         envelope.Message{Body: "hello"},
	}

	resp := d.MessageReceived(env)
	if resp.Code != smtp.CodeLocalError {
		t.Errorf("response = %+v, want 451", resp)
	}
}

func TestBounceWholeNoOpOnNullReversePath(t *testing.T) {
	d := New(Config{Hostnames: []address.Domain{mustDomain(t, "primary.example")}}, noLookup, discardLogger())

	fe := envelope.ForeignEnvelope{
		ReversePath:  address.Null,
		ForwardPaths: []address.ForeignPath{mustForeignPath(t, "<eve@remote.tld>")},
		Data:         envelope.Message{Body: "hello"},
	}

	// Must not panic or block; a null reverse-path produces no bounce
	// and bounceWhole returns immediately without touching MessageReceived.
	d.bounceWhole(fe)
}
