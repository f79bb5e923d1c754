package catalog

import "testing"

func TestDecodeDtcCodeP0420(t *testing.T) {
	// hi=0x04 -> type P (00), char2=0, char3=4; lo=0x20 -> char4=2, char5=0.
	if got := DecodeDtcCode(0x04, 0x20); got != "P0420" {
		t.Fatalf("got %q, want P0420", got)
	}
}

func TestDecodeDtcCodeU0100(t *testing.T) {
	// hi=0xC1 -> type U (11), char2=0, char3=1; lo=0x00 -> char4=0, char5=0.
	if got := DecodeDtcCode(0xC1, 0x00); got != "U0100" {
		t.Fatalf("got %q, want U0100", got)
	}
}

func TestDtcDescriptionKnownAndUnknown(t *testing.T) {
	if got := DtcDescription("P0420"); got == "Unknown DTC" {
		t.Fatal("expected P0420 to have a description")
	}
	if got := DtcDescription("P9999"); got != "Unknown DTC" {
		t.Fatalf("got %q, want Unknown DTC", got)
	}
}
