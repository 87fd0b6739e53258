package label

import "testing"

func TestParseKnownLabels(t *testing.T) {
	for _, l := range All() {
		got, err := Parse(string(l))
		if err != nil {
			t.Errorf("Parse(%q) returned error: %v", l, err)
		}
		if got != l {
			t.Errorf("Parse(%q) = %q", l, got)
		}
		if got.DisplayName() == "" {
			t.Errorf("label %q has no display name", l)
		}
	}
}

func TestParseEmptyClearsLabel(t *testing.T) {
	got, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if got != None {
		t.Errorf("Parse(\"\") = %q, want None", got)
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	if _, err := Parse("vip"); err == nil {
		t.Error("Parse(\"vip\") should fail, labels are a closed set")
	}
}
