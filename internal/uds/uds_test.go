package uds

import (
	"errors"
	"testing"

	"github.com/mlow-diag/elmcore/internal/diagerr"
)

func TestEncodeRequests(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"session default", EncodeSessionControl(false), "1001"},
		{"session extended", EncodeSessionControl(true), "1003"},
		{"read did", EncodeReadDid(0xD41F), "22D41F"},
		{"read dtc info", EncodeReadDtcInformation(), "1902FF"},
		{"clear dtc", EncodeClearDiagnosticInformation(), "14FFFFFF"},
		{"tester present", EncodeTesterPresent(), "3E00"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, c.got, c.want)
		}
	}
}

func TestReadDidReplyStripsEchoedDid(t *testing.T) {
	resp := []byte{0x62, 0xD4, 0x1F, 0x0B, 0xB8}
	data, err := ReadDidReply(resp, 0xD41F)
	if err != nil {
		t.Fatalf("ReadDidReply: %v", err)
	}
	if string(data) != string([]byte{0x0B, 0xB8}) {
		t.Fatalf("got % X, want [0B B8]", data)
	}
}

func TestReadDidReplyMismatchedDid(t *testing.T) {
	resp := []byte{0x62, 0xD5, 0x46, 0x01, 0x2C}
	_, err := ReadDidReply(resp, 0xD41F)
	var mismatch *diagerr.ProtocolMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ProtocolMismatch for echoed-DID mismatch, got %v", err)
	}
}

func TestNegativeResponseSurfaced(t *testing.T) {
	resp := []byte{0x7F, 0x22, 0x31}
	_, err := ReadDidReply(resp, 0xD41F)
	var neg *diagerr.NegativeResponse
	if !errors.As(err, &neg) {
		t.Fatalf("expected NegativeResponse, got %v", err)
	}
	if neg.Service != 0x22 || neg.NRC != 0x31 {
		t.Fatalf("expected service 0x22 nrc 0x31, got service 0x%02X nrc 0x%02X", neg.Service, neg.NRC)
	}
}

func TestClearDtcReplySuccess(t *testing.T) {
	if err := ClearDtcReply([]byte{0x54}); err != nil {
		t.Fatalf("ClearDtcReply: %v", err)
	}
}

func TestReadDtcInformationReplyPreservesOrder(t *testing.T) {
	// 59 02 <mask> then two records: P0420 all-status, U0100 all-status.
	resp := []byte{0x59, 0x02, 0xFF, 0x04, 0x20, 0xFF, 0xC1, 0x00, 0xFF}
	mask, records, err := ReadDtcInformationReply(resp)
	if err != nil {
		t.Fatalf("ReadDtcInformationReply: %v", err)
	}
	if mask != 0xFF {
		t.Fatalf("expected availability mask 0xFF, got 0x%02X", mask)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Hi != 0x04 || records[0].Lo != 0x20 {
		t.Fatalf("expected first record to be the P0420 triple, got % X", records[0])
	}
	if records[1].Hi != 0xC1 || records[1].Lo != 0x00 {
		t.Fatalf("expected second record to be the U0100 triple, got % X", records[1])
	}
}

func TestReadDtcInformationReplyRejectsNoData(t *testing.T) {
	_, _, err := ReadDtcInformationReply(nil)
	if !errors.Is(err, diagerr.ErrNoData) {
		t.Fatalf("expected errors.Is ErrNoData, got %v", err)
	}
}
