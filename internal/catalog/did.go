package catalog

import (
	"fmt"
	"strings"
)

// DecodeFunc converts a DID's raw payload bytes into a scalar value.
type DecodeFunc func(data []byte) (float64, error)

// Did describes one UDS 0x22 data identifier: its catalog metadata and the
// function that turns its raw payload into a scalar.
type Did struct {
	ID              uint16
	Name            string
	Unit            string
	Group           byte // high byte of ID: 0xD0..0xDF or 0xF0..0xFF
	ExpectedDataLen int
	Decode          DecodeFunc
	// ASCII marks identification-style DIDs whose payload is printable text
	// rather than a scalar (read via DecodeASCII, not Decode).
	ASCII bool
}

func be16(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("catalog: expected at least 2 bytes, got %d", len(data))
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

func sbe16(data []byte) (int16, error) {
	v, err := be16(data)
	if err != nil {
		return 0, err
	}
	return int16(v), nil
}

var dids = []Did{
	{
		ID: 0xD41F, Name: "Engine Speed", Unit: "rpm", Group: 0xD4, ExpectedDataLen: 2,
		Decode: func(data []byte) (float64, error) {
			v, err := be16(data)
			if err != nil {
				return 0, err
			}
			return float64(v) / 4.0, nil
		},
	},
	{
		ID: 0xD546, Name: "DPF Soot Loading", Unit: "g/l", Group: 0xD5, ExpectedDataLen: 2,
		Decode: func(data []byte) (float64, error) {
			v, err := be16(data)
			if err != nil {
				return 0, err
			}
			return float64(v) * 0.01, nil
		},
	},
	{
		ID: 0xD547, Name: "DPF Regeneration Status", Unit: "", Group: 0xD5, ExpectedDataLen: 1,
		Decode: func(data []byte) (float64, error) {
			if len(data) < 1 {
				return 0, fmt.Errorf("catalog: expected at least 1 byte, got 0")
			}
			return float64(data[0]), nil
		},
	},
	{
		ID: 0xD482, Name: "Injector Corrections", Unit: "mm³", Group: 0xD4, ExpectedDataLen: 8,
		// Four signed 16-bit corrections; the engine decodes this DID
		// specially (ReadInjectorCorrections) since it yields multiple
		// values rather than one scalar. Decode here returns the first
		// correction so the DID still behaves under a plain ReadDid call.
		Decode: func(data []byte) (float64, error) {
			v, err := sbe16(data)
			if err != nil {
				return 0, err
			}
			return float64(v) * 0.01, nil
		},
	},
	{
		ID: 0xF080, Name: "Part Number", Unit: "", Group: 0xF0, ExpectedDataLen: 0, ASCII: true,
	},
	{
		ID: 0xF0FE, Name: "Calibration Identification", Unit: "", Group: 0xF0, ExpectedDataLen: 0, ASCII: true,
	},
	{
		ID: 0xF091, Name: "Hardware Number", Unit: "", Group: 0xF0, ExpectedDataLen: 0, ASCII: true,
	},
}

// DidByID looks up a Did by its 16-bit identifier.
func DidByID(id uint16) (Did, bool) {
	for _, d := range dids {
		if d.ID == id {
			return d, true
		}
	}
	return Did{}, false
}

// AllDids returns the full DID catalog in declaration order.
func AllDids() []Did {
	out := make([]Did, len(dids))
	copy(out, dids)
	return out
}

// RegenStatusTable maps DID 0xD547's raw byte to human-readable text.
var RegenStatusTable = map[byte]string{
	0x00: "Inactive",
	0x01: "Requested",
	0x02: "In Progress",
	0x03: "Complete",
	0x04: "Interrupted",
}

// RegenStatusText describes a raw DPF regeneration status byte, defaulting
// to "Unknown" for values outside the table.
func RegenStatusText(raw byte) string {
	if s, ok := RegenStatusTable[raw]; ok {
		return s
	}
	return "Unknown"
}

// DecodeASCII keeps only bytes in [0x20, 0x7E] (printable ASCII), trimming
// the result, for identification-style DIDs (part number, calibration,
// hardware number).
func DecodeASCII(data []byte) string {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b >= 0x20 && b <= 0x7E {
			out = append(out, b)
		}
	}
	return strings.TrimSpace(string(out))
}
