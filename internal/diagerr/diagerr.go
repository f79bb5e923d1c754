// Package diagerr collects the sentinel and structured error types shared
// across transport, adapter, isotp, uds and engine layers so that callers
// can use errors.Is/errors.As regardless of how many fmt.Errorf("...: %w")
// wrappers sit between them and the origin.
package diagerr

import "fmt"

var (
	// ErrIo marks a channel write/read failure. Fatal to the connection.
	ErrIo = fmt.Errorf("io error")

	// ErrReadTimeout marks that the adapter prompt was not seen within the
	// read deadline. Recoverable; the caller counts occurrences.
	ErrReadTimeout = fmt.Errorf("read timeout")

	// ErrBusProbeFailed marks that the 0100 probe issued during
	// initialization produced no usable reply. Fatal to initialize.
	ErrBusProbeFailed = fmt.Errorf("bus probe failed")

	// ErrAdapterRejected marks that the adapter answered ERROR or ? to a
	// configuration command. Fatal to the selection step.
	ErrAdapterRejected = fmt.Errorf("adapter rejected command")

	// ErrNoData marks that the ECU did not answer within the adapter's
	// window. Recoverable; surfaces as an empty result upward.
	ErrNoData = fmt.Errorf("no data")

	// ErrForbiddenAfterBusActive marks an attempt to issue a destructive AT
	// command once the bus is live. Programmer error, returned without I/O.
	ErrForbiddenAfterBusActive = fmt.Errorf("forbidden after bus active")
)

// NegativeResponse is a well-formed UDS 0x7F reply.
type NegativeResponse struct {
	Service byte
	NRC     byte
}

func (e *NegativeResponse) Error() string {
	return fmt.Sprintf("negative response: service 0x%02X, nrc 0x%02X (%s)", e.Service, e.NRC, NrcText(e.NRC))
}

// ProtocolMismatch marks that a reply did not echo the expected service or
// DID, or that a multi-frame reassembly lost sequence. Recoverable; callers
// generally treat it like ErrNoData.
type ProtocolMismatch struct {
	Expected string
	Got      string
}

func (e *ProtocolMismatch) Error() string {
	return fmt.Sprintf("protocol mismatch: expected %s, got %s", e.Expected, e.Got)
}

// NrcText maps the common negative response codes named in the error
// taxonomy to their ISO 14229 names. Codes outside this set still format via
// their raw hex value in NegativeResponse.Error.
func NrcText(nrc byte) string {
	switch nrc {
	case 0x11:
		return "serviceNotSupported"
	case 0x22:
		return "conditionsNotCorrect"
	case 0x31:
		return "requestOutOfRange"
	case 0x7E:
		return "subFunctionNotSupportedInActiveSession"
	case 0x7F:
		return "serviceNotSupportedInActiveSession"
	default:
		return "unknown"
	}
}
