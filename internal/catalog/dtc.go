package catalog

import "fmt"

// dtcDescriptions maps a five-character DTC code (e.g. "P0420") to its
// human-readable description. Entries cover the common generic powertrain
// codes this engine family exercises; anything absent falls back to
// "Unknown DTC" rather than failing the read.
var dtcDescriptions = map[string]string{
	"P0100": "Mass or Volume Air Flow Circuit Malfunction",
	"P0105": "Manifold Absolute Pressure/Barometric Pressure Circuit Malfunction",
	"P0110": "Intake Air Temperature Circuit Malfunction",
	"P0115": "Engine Coolant Temperature Circuit Malfunction",
	"P0120": "Throttle/Pedal Position Sensor/Switch A Circuit Malfunction",
	"P0130": "O2 Sensor Circuit Malfunction (Bank 1 Sensor 1)",
	"P0134": "O2 Sensor Circuit No Activity Detected (Bank 1 Sensor 1)",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0200": "Injector Circuit Malfunction",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0335": "Crankshaft Position Sensor A Circuit Malfunction",
	"P0401": "Exhaust Gas Recirculation Flow Insufficient Detected",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0480": "Cooling Fan 1 Control Circuit Malfunction",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P2002": "Diesel Particulate Filter Efficiency Below Threshold (Bank 1)",
	"P2463": "Diesel Particulate Filter Restriction - Soot Accumulation",
	"C0035": "Left Front Wheel Speed Sensor Circuit Malfunction",
	"B0001": "Driver Front Airbag Deployment Control",
	"U0100": "Lost Communication With ECM/PCM",
}

// prefixes maps the two-bit DTC type field to its ISO 14229 character.
var prefixes = [4]byte{'P', 'C', 'B', 'U'}

// DecodeDtcCode reconstructs the five-character DTC text from the two raw
// bytes of a §4.5-style DTC triple (hi, lo); status is decoded separately
// by the caller.
//
//	bit layout of hi: [ type:2 | char2:2 | char3:4 ]
//	lo:               [ char4:4 | char5:4 ]
func DecodeDtcCode(hi, lo byte) string {
	typ := prefixes[hi>>6]
	char2 := (hi >> 4) & 0x03
	char3 := hi & 0x0F
	char4 := lo >> 4
	char5 := lo & 0x0F
	return fmt.Sprintf("%c%d%X%X%X", typ, char2, char3, char4, char5)
}

// DtcDescription looks up the human-readable text for a DTC code, defaulting
// to "Unknown DTC" when the code isn't catalogued.
func DtcDescription(code string) string {
	if d, ok := dtcDescriptions[code]; ok {
		return d
	}
	return "Unknown DTC"
}
