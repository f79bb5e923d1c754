package catalog

import "testing"

func TestDidByIDEngineSpeedDecode(t *testing.T) {
	d, ok := DidByID(0xD41F)
	if !ok {
		t.Fatal("expected 0xD41F to be catalogued")
	}
	v, err := d.Decode([]byte{0x0B, 0xB8})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != 750.0 {
		t.Fatalf("got %v, want 750.0", v)
	}
}

func TestDidByIDUnknown(t *testing.T) {
	if _, ok := DidByID(0x1234); ok {
		t.Fatal("expected unknown DID to miss")
	}
}

func TestAllDidsReturnsACopy(t *testing.T) {
	all := AllDids()
	all[0].Name = "MUTATED"
	if dids[0].Name == "MUTATED" {
		t.Fatal("AllDids() must return a copy, not the live table")
	}
}

func TestSootLoadingDecode(t *testing.T) {
	d, ok := DidByID(0xD546)
	if !ok {
		t.Fatal("expected 0xD546 to be catalogued")
	}
	v, err := d.Decode([]byte{0x10, 0x94}) // 4244 * 0.01 = 42.44
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != 42.44 {
		t.Fatalf("got %v, want 42.44", v)
	}
}

func TestDecodeShortPayloadErrors(t *testing.T) {
	d, _ := DidByID(0xD41F)
	if _, err := d.Decode([]byte{0x01}); err == nil {
		t.Fatal("expected an error decoding a short payload")
	}
}

func TestRegenStatusTextKnownAndUnknown(t *testing.T) {
	if got := RegenStatusText(0x02); got != "In Progress" {
		t.Fatalf("got %q, want In Progress", got)
	}
	if got := RegenStatusText(0xFF); got != "Unknown" {
		t.Fatalf("got %q, want Unknown", got)
	}
}

func TestDecodeASCIITrimsNonPrintable(t *testing.T) {
	data := []byte{0x00, 'A', 'B', 'C', 0x00, ' ', ' '}
	if got := DecodeASCII(data); got != "ABC" {
		t.Fatalf("got %q, want ABC", got)
	}
}
