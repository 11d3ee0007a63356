package fingerprint

import "testing"

func TestBytes_Deterministic(t *testing.T) {
	a := Bytes([]byte("hello"))
	b := Bytes([]byte("hello"))
	if a != b {
		t.Errorf("same input produced different digests: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(a))
	}
}

func TestBytes_KnownDigest(t *testing.T) {
	// SHA-256 of the empty input
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Bytes(nil); got != want {
		t.Errorf("Bytes(nil) = %s, want %s", got, want)
	}
}

func TestText_MatchesBytes(t *testing.T) {
	if Text("report") != Bytes([]byte("report")) {
		t.Error("Text and Bytes disagree on identical content")
	}
}

func TestCase_DistinguishesPairs(t *testing.T) {
	img := Text("image-a")
	rep := Text("report-a")

	if Case(img, rep) != Case(img, rep) {
		t.Error("Case is not deterministic")
	}
	if Case(img, rep) == Case(rep, img) {
		t.Error("Case must not be symmetric in its arguments")
	}
	if Case(img, rep) == Case(img, Text("report-b")) {
		t.Error("different reports must yield different case keys")
	}
}
