package address

import "testing"

func TestParsePathRoundTrip(t *testing.T) {
	valid := []string{
		`alice@example.com`,
		`first.last@example.com`,
		`""@example.com`,
		`"with space"@example.com`,
		`"quote\"inside"@example.com`,
	}
	for _, s := range valid {
		p, err := ParsePath(s)
		if err != nil {
			t.Errorf("ParsePath(%q): unexpected error: %v", s, err)
			continue
		}
		if p.String() != s {
			t.Errorf("round-trip mismatch: ParsePath(%q).String() = %q", s, p.String())
		}
	}
}

func TestParsePathSourceRouteDropped(t *testing.T) {
	p, err := ParsePath("@hosta.example,@hostb.example:bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.String() != "bob@example.com" {
		t.Errorf("source-route was not dropped: got %q", p.String())
	}
}

func TestParsePathInvalid(t *testing.T) {
	invalid := []string{
		"",
		"noatsign",
		"@missingcolon",
		"@hosta,bob@example.com", // adl with no closing ':'
	}
	for _, s := range invalid {
		if _, err := ParsePath(s); err == nil {
			t.Errorf("ParsePath(%q): expected error, got none", s)
		}
	}
}

func TestReversePathNull(t *testing.T) {
	variants := []string{"<>"}
	for _, s := range variants {
		rp, err := ParseReversePath(s)
		if err != nil {
			t.Fatalf("ParseReversePath(%q): %v", s, err)
		}
		if !rp.IsNull() {
			t.Errorf("expected null reverse-path for %q", s)
		}
		if rp.String() != "<>" {
			t.Errorf("Null reverse-path did not render as <>, got %q", rp.String())
		}
	}

	def := Null
	if !def.IsNull() {
		t.Errorf("default ReversePath value must be Null")
	}
}

func TestForwardPathPostmaster(t *testing.T) {
	variants := []string{"<POSTMASTER>", "<postmaster>", "<PoStMaStEr>", "<@a.example:postmaster>"}
	for _, s := range variants {
		fp, err := ParseForwardPath(s)
		if err != nil {
			t.Fatalf("ParseForwardPath(%q): %v", s, err)
		}
		if !fp.IsPostmaster() {
			t.Errorf("expected Postmaster for %q", s)
		}
	}

	def := Postmaster
	if !def.IsPostmaster() {
		t.Errorf("default ForwardPath value must be Postmaster")
	}
}

func TestForeignPathRoundTrip(t *testing.T) {
	p, err := ParsePath("bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	fp := NewForeignPath(p)
	fwd := fp.ToForwardPath()
	if fwd.IsPostmaster() {
		t.Fatal("ForeignPath must never convert into Postmaster")
	}
	if fwd.Path().String() != p.String() {
		t.Errorf("ForeignPath round-trip mismatch: %q != %q", fwd.Path().String(), p.String())
	}
}

func TestEmptyQuotedLocalPart(t *testing.T) {
	lp, err := ParseLocalPart(`""`)
	if err != nil {
		t.Fatalf(`ParseLocalPart(""""): unexpected error: %v`, err)
	}
	if lp.Value() != "" {
		t.Errorf("expected empty value, got %q", lp.Value())
	}
}
