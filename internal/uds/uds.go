// Package uds encodes UDS (ISO 14229) requests as uppercase hex strings and
// classifies the reassembled reply bytes handed up by internal/isotp. It
// touches no transport or adapter state; every function is a pure
// encode/decode over byte slices and strings.
package uds

import (
	"fmt"

	"github.com/mlow-diag/elmcore/internal/diagerr"
)

// Service identifiers this client supports.
const (
	ServiceDiagnosticSessionControl           byte = 0x10
	ServiceReadDataByIdentifier               byte = 0x22
	ServiceReadDtcInformation                 byte = 0x19
	ServiceClearDiagnosticInformation         byte = 0x14
	ServiceTesterPresent                      byte = 0x3E
	negativeResponseByte                      byte = 0x7F
	positiveResponseServiceIdOffset           byte = 0x40
	readDtcInformationSubfunctionByStatusMask byte = 0x02
)

// EncodeSessionControl builds a 0x10 request; extended=true opens the
// extended diagnostic session (1003), otherwise the default session (1001).
func EncodeSessionControl(extended bool) string {
	if extended {
		return "1003"
	}
	return "1001"
}

// EncodeReadDid builds a 0x22 request for the given data identifier.
func EncodeReadDid(did uint16) string {
	return fmt.Sprintf("22%04X", did)
}

// EncodeReadDtcInformation builds the fixed 0x19 request this engine uses:
// subfunction 0x02 (reportDTCByStatusMask), mask 0xFF (all statuses).
func EncodeReadDtcInformation() string {
	return "1902FF"
}

// EncodeClearDiagnosticInformation builds the fixed 0x14 request clearing
// every DTC group.
func EncodeClearDiagnosticInformation() string {
	return "14FFFFFF"
}

// EncodeTesterPresent builds the 0x3E keep-alive request (suppressed-response
// form is not used).
func EncodeTesterPresent() string {
	return "3E00"
}

// classify strips a well-formed positive reply's service byte after
// validating it echoes the requested service, or returns the structured
// NegativeResponse/ProtocolMismatch error for anything else.
func classify(resp []byte, service byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, diagerr.ErrNoData
	}
	if resp[0] == negativeResponseByte {
		if len(resp) < 3 {
			return nil, &diagerr.ProtocolMismatch{Expected: "3-byte negative response", Got: fmt.Sprintf("% X", resp)}
		}
		return nil, &diagerr.NegativeResponse{Service: resp[1], NRC: resp[2]}
	}
	want := service + positiveResponseServiceIdOffset
	if resp[0] != want {
		return nil, &diagerr.ProtocolMismatch{
			Expected: fmt.Sprintf("service 0x%02X", want),
			Got:      fmt.Sprintf("0x%02X", resp[0]),
		}
	}
	return resp[1:], nil
}

// SessionControlReply validates a 0x10 reply.
func SessionControlReply(resp []byte) error {
	_, err := classify(resp, ServiceDiagnosticSessionControl)
	return err
}

// TesterPresentReply validates a 0x3E reply.
func TesterPresentReply(resp []byte) error {
	_, err := classify(resp, ServiceTesterPresent)
	return err
}

// ClearDtcReply validates a 0x14 reply.
func ClearDtcReply(resp []byte) error {
	_, err := classify(resp, ServiceClearDiagnosticInformation)
	return err
}

// ReadDidReply validates a 0x22 reply, checks the echoed DID matches what
// was requested, and returns the data bytes that follow it.
func ReadDidReply(resp []byte, wantDid uint16) ([]byte, error) {
	body, err := classify(resp, ServiceReadDataByIdentifier)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 {
		return nil, &diagerr.ProtocolMismatch{Expected: "echoed DID", Got: fmt.Sprintf("% X", body)}
	}
	gotDid := uint16(body[0])<<8 | uint16(body[1])
	if gotDid != wantDid {
		return nil, &diagerr.ProtocolMismatch{
			Expected: fmt.Sprintf("DID 0x%04X", wantDid),
			Got:      fmt.Sprintf("DID 0x%04X", gotDid),
		}
	}
	return body[2:], nil
}

// DtcRecord is one undecoded (hi, lo, status) triple from a 0x19 reply;
// internal/engine turns it into a full four-character code with a catalog
// description.
type DtcRecord struct {
	Hi     byte
	Lo     byte
	Status byte
}

// ReadDtcInformationReply validates a 0x19/0x02 reply and splits the
// availability mask from the DTC record triples, preserving on-wire order.
func ReadDtcInformationReply(resp []byte) (availabilityMask byte, records []DtcRecord, err error) {
	body, err := classify(resp, ServiceReadDtcInformation)
	if err != nil {
		return 0, nil, err
	}
	if len(body) < 2 || body[0] != readDtcInformationSubfunctionByStatusMask {
		return 0, nil, &diagerr.ProtocolMismatch{Expected: "subfunction 0x02", Got: fmt.Sprintf("% X", body)}
	}
	availabilityMask = body[1]
	rest := body[2:]
	if len(rest)%3 != 0 {
		return 0, nil, &diagerr.ProtocolMismatch{
			Expected: "DTC records in multiples of 3 bytes",
			Got:      fmt.Sprintf("%d trailing bytes", len(rest)),
		}
	}
	for i := 0; i+3 <= len(rest); i += 3 {
		records = append(records, DtcRecord{Hi: rest[i], Lo: rest[i+1], Status: rest[i+2]})
	}
	return availabilityMask, records, nil
}
