// Package isotp reassembles ISO 15765-2 Single/First/Consecutive Frame
// sequences from the adapter's line-oriented, header-prefixed output into a
// logical UDS payload. It is pure and stateless: one reply string in, one
// payload (or error) out. Flow control is the adapter's job, programmed by
// internal/adapter; this package never emits it.
package isotp

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mlow-diag/elmcore/internal/diagerr"
)

const (
	pciTypeSF byte = 0x00
	pciTypeFF byte = 0x10
	pciTypeCF byte = 0x20
	pciMask   byte = 0xF0
)

// Parse reassembles a raw adapter reply (one line per CAN frame, headers on)
// into the concatenated ISO-TP payload bytes. log receives a warning when
// the permissive Single-Frame length fallback (§9) is used; nil is fine.
func Parse(reply string, log *slog.Logger) ([]byte, error) {
	if log == nil {
		log = slog.Default()
	}

	lines := splitLines(reply)
	for _, l := range lines {
		up := strings.ToUpper(l)
		if strings.Contains(up, "NO DATA") || strings.Contains(up, "ERROR") || strings.Contains(up, "UNABLE") || strings.Contains(l, "?") {
			return nil, diagerr.ErrNoData
		}
	}

	var payload []byte
	totalLen := 0
	haveFirstFrame := false
	expectedSeq := byte(1)

	for _, l := range lines {
		tokens := strings.Fields(l)
		if len(tokens) == 0 {
			continue
		}
		dataTokens := tokens
		if len(tokens[0]) == 3 && isHex3(tokens[0]) {
			dataTokens = tokens[1:]
		}
		data, err := hexBytes(dataTokens)
		if err != nil || len(data) == 0 {
			continue
		}

		b0 := data[0]
		switch b0 & pciMask {
		case pciTypeSF:
			length := int(b0 & 0x0F)
			avail := data[1:]
			if length >= 1 && length <= 7 && length <= len(avail) {
				payload = append(payload, avail[:length]...)
			} else {
				log.Warn("isotp: permissive single-frame length fallback", "declaredLength", length, "availableBytes", len(avail))
				payload = append(payload, avail...)
			}
			return payload, nil

		case pciTypeFF:
			if len(data) < 2 {
				return nil, &diagerr.ProtocolMismatch{Expected: "first frame with length byte", Got: l}
			}
			totalLen = (int(b0&0x0F) << 8) | int(data[1])
			haveFirstFrame = true
			expectedSeq = 1
			rest := data[2:]
			if len(rest) > 6 {
				rest = rest[:6]
			}
			payload = append(payload, rest...)

		case pciTypeCF:
			if !haveFirstFrame {
				continue
			}
			seq := b0 & 0x0F
			if seq != expectedSeq {
				return nil, &diagerr.ProtocolMismatch{
					Expected: fmt.Sprintf("consecutive frame sequence %d", expectedSeq),
					Got:      fmt.Sprintf("sequence %d", seq),
				}
			}
			rest := data[1:]
			if len(rest) > 7 {
				rest = rest[:7]
			}
			payload = append(payload, rest...)
			expectedSeq = (expectedSeq + 1) % 16

		default:
			continue
		}

		if haveFirstFrame && len(payload) >= totalLen {
			return payload[:totalLen], nil
		}
	}

	if haveFirstFrame {
		return nil, &diagerr.ProtocolMismatch{
			Expected: fmt.Sprintf("%d reassembled bytes", totalLen),
			Got:      fmt.Sprintf("%d bytes before lines were exhausted", len(payload)),
		}
	}
	return nil, diagerr.ErrNoData
}

func splitLines(reply string) []string {
	return strings.FieldsFunc(reply, func(r rune) bool { return r == '\r' || r == '\n' })
}

func hexBytes(tokens []string) ([]byte, error) {
	out := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) != 2 {
			return nil, fmt.Errorf("isotp: malformed byte token %q", tok)
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("isotp: malformed byte token %q: %w", tok, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func isHex3(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
