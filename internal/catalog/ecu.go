// Package catalog holds the static, immutable lookup tables shared by the
// rest of the diagnostic core: ECU addresses, DID definitions and decoders,
// DTC descriptions, and DPF regeneration status text. Every table is built
// once at package init and never mutated afterward.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// EcuAddress identifies a control unit by its CAN request/response pair.
type EcuAddress struct {
	Code string // short tag, e.g. "ECM"
	Name string
	Tx   string // 3 hex nibbles, uppercase, e.g. "7E0"
	Rx   string // 3 hex nibbles, uppercase, e.g. "7E8"
}

// Broadcast is the OBD-II functional request id. Never a valid EcuAddress
// Tx or Rx value.
const Broadcast = "7DF"

// ecus is the manufacturer address table. Standard ISO 15765-4 tx/rx pairs
// in the 0x7Ex range use rx = tx + 8; BSI uses the manufacturer-specific
// 0x765/0x76D pair.
var ecus = []EcuAddress{
	{Code: "ECM", Name: "Engine Control Module", Tx: "7E0", Rx: "7E8"},
	{Code: "TCM", Name: "Transmission Control Module", Tx: "7E1", Rx: "7E9"},
	{Code: "BSI", Name: "Built-In Systems Interface", Tx: "765", Rx: "76D"},
}

// ByCode looks up an EcuAddress by its short tag (case-insensitive).
func ByCode(code string) (EcuAddress, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, e := range ecus {
		if e.Code == code {
			return e, true
		}
	}
	return EcuAddress{}, false
}

// ByRx looks up an EcuAddress by its observed rx id (as seen in a discovery
// probe reply), case-insensitive.
func ByRx(rx string) (EcuAddress, bool) {
	rx = strings.ToUpper(strings.TrimSpace(rx))
	for _, e := range ecus {
		if e.Rx == rx {
			return e, true
		}
	}
	return EcuAddress{}, false
}

// All returns the full ECU address table in catalog order.
func All() []EcuAddress {
	out := make([]EcuAddress, len(ecus))
	copy(out, ecus)
	return out
}

// TxToRx resolves the rx address matching a tx address: a catalog lookup
// first, falling back to rx = (tx + 8) mod 0x1000 for tx addresses outside
// the known table (the standard 0x7Ex pairing). Used by AdapterController's
// ATSH interception.
func TxToRx(tx string) string {
	tx = strings.ToUpper(strings.TrimSpace(tx))
	for _, e := range ecus {
		if e.Tx == tx {
			return e.Rx
		}
	}
	v, err := strconv.ParseUint(tx, 16, 16)
	if err != nil {
		return tx
	}
	return fmt.Sprintf("%03X", (v+8)%0x1000)
}
