package logging

import "testing"

func TestMaskFieldHonoursAllowlist(t *testing.T) {
	if attr := MaskField("pool", "main"); attr.Value.String() != "main" {
		t.Fatalf("allowlisted key masked: %v", attr)
	}
	if attr := MaskField("sub", "0xdeadbeef"); attr.Value.String() != RedactedValue {
		t.Fatalf("sensitive key not masked: %v", attr)
	}
	if attr := MaskField("sub", ""); attr.Value.String() != "" {
		t.Fatalf("empty value rewritten: %v", attr)
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("secret"); got != RedactedValue {
		t.Fatalf("value not masked: %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatalf("blank value rewritten: %q", got)
	}
}
