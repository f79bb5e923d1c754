// Package engine implements DiagnosticEngine: the user-facing orchestration
// layer built on top of AdapterController, the ISO-TP codec, and the UDS
// client. It owns the TesterPresent keep-alive background task and exposes
// the Core API surface consumed by the CLI and the bridge.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mlow-diag/elmcore/internal/adapter"
	"github.com/mlow-diag/elmcore/internal/catalog"
	"github.com/mlow-diag/elmcore/internal/diagerr"
	"github.com/mlow-diag/elmcore/internal/isotp"
	"github.com/mlow-diag/elmcore/internal/transport"
	"github.com/mlow-diag/elmcore/internal/uds"
)

// testerPresentInterval is the keep-alive tick while a session is Extended.
const testerPresentInterval = 2000 * time.Millisecond

// slowOperationDeadline covers the 0x19/0x14 services the spec calls out as
// needing headroom beyond the default 2s read deadline.
const slowOperationDeadline = 5000 * time.Millisecond

// StateObserver is notified whenever the adapter's connection phase changes.
type StateObserver func(phase adapter.Phase)

// LogObserver is notified with a human-readable line for presentation-layer
// activity logs.
type LogObserver func(line string)

// DidReading is the decoded result of a single DID read.
type DidReading struct {
	Did       uint16
	Name      string
	Unit      string
	RawBytes  []byte
	Scalar    float64
	Formatted string
}

// GroupScanResult reports whether a DID group prefix (0xD0..0xDF) answered.
type GroupScanResult struct {
	Group  byte
	Active bool
}

// Dtc is one decoded, catalog-described diagnostic trouble code. RawHigh and
// RawLow are the two code bytes as read off the wire; TestFailed, Pending,
// and Confirmed are the status-bit breakdown a presentation layer needs
// without recomputing it from Status itself.
type Dtc struct {
	Code        string
	Status      byte
	Description string
	RawHigh     byte
	RawLow      byte
	TestFailed  bool
	Pending     bool
	Confirmed   bool
}

// EngineSnapshot bundles the engine-group readings the presentation layer
// polls most often.
type EngineSnapshot struct {
	EngineSpeed DidReading
}

// DpfSnapshot bundles the DPF-group readings.
type DpfSnapshot struct {
	SootLoading      DidReading
	RegenerationText string
}

// Identification is the ECU's part/calibration/hardware identity.
type Identification struct {
	PartNumber     string
	Calibration    string
	HardwareNumber string
}

// Engine is the DiagnosticEngine: the only component the CLI and bridge talk
// to directly.
type Engine struct {
	ctrl *adapter.Controller
	log  *slog.Logger

	mu              sync.Mutex
	selected        catalog.EcuAddress
	sessionExtended bool
	tpCancel        context.CancelFunc
	tpRunning       bool
	stateObservers  []StateObserver
	logObservers    []LogObserver
}

// New wires an Engine to an already-constructed AdapterController.
func New(ctrl *adapter.Controller, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{ctrl: ctrl, log: log}
}

// OnStateChanged registers a phase-change observer.
func (e *Engine) OnStateChanged(cb StateObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateObservers = append(e.stateObservers, cb)
}

// OnLog registers an activity-log observer.
func (e *Engine) OnLog(cb LogObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logObservers = append(e.logObservers, cb)
}

func (e *Engine) emitState(phase adapter.Phase) {
	e.mu.Lock()
	cbs := make([]StateObserver, len(e.stateObservers))
	copy(cbs, e.stateObservers)
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(phase)
	}
}

func (e *Engine) emitLog(line string) {
	e.mu.Lock()
	cbs := make([]LogObserver, len(e.logObservers))
	copy(cbs, e.logObservers)
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(line)
	}
}

// Connect runs adapter initialization (ELM327 bring-up, bus probe, ECU
// discovery, broadcast programming).
func (e *Engine) Connect(ctx context.Context) error {
	err := e.ctrl.Initialize(ctx)
	e.emitState(e.ctrl.State().Phase)
	if err != nil {
		return fmt.Errorf("engine: connect: %w", err)
	}
	e.emitLog("adapter ready")
	return nil
}

// Disconnect stops the TesterPresent task and releases the adapter.
func (e *Engine) Disconnect() error {
	e.stopTesterPresent()
	err := e.ctrl.Disconnect()
	e.emitState(adapter.PhaseDisconnected)
	return err
}

// DetectedEcus returns the ECUs found during the last Connect.
func (e *Engine) DetectedEcus() []catalog.EcuAddress {
	return e.ctrl.State().DetectedEcus
}

// SelectEcu programs the adapter for the named ECU (idempotent).
func (e *Engine) SelectEcu(ctx context.Context, code string) error {
	addr, ok := catalog.ByCode(code)
	if !ok {
		return fmt.Errorf("engine: unknown ecu code %q", code)
	}
	if err := e.ctrl.SelectEcu(ctx, addr.Tx, addr.Rx); err != nil {
		return fmt.Errorf("engine: select ecu %s: %w", code, err)
	}
	e.mu.Lock()
	e.selected = addr
	e.mu.Unlock()
	e.emitLog(fmt.Sprintf("selected ECU %s (tx=%s rx=%s)", addr.Code, addr.Tx, addr.Rx))
	return nil
}

// requiresExtendedSession reports whether reads from this DID group need the
// extended diagnostic session opened first.
func requiresExtendedSession(group byte) bool {
	switch group {
	case 0xD4, 0xD5, 0xD7:
		return true
	default:
		return false
	}
}

// ensureExtendedSession opens the extended session if not already tracked as
// open. A NoData or rejected reply is tolerated: some clones answer sparsely,
// and the subsequent request fails cleanly if the session never opened.
func (e *Engine) ensureExtendedSession(ctx context.Context) error {
	e.mu.Lock()
	already := e.sessionExtended
	e.mu.Unlock()
	if already {
		return nil
	}

	reply, err := e.ctrl.Exchange(ctx, uds.EncodeSessionControl(true), transport.DefaultReadDeadline)
	if err != nil {
		e.log.Debug("extended session request failed, continuing", "error", err)
		return nil
	}
	payload, err := isotp.Parse(reply, e.log)
	if err != nil {
		e.log.Debug("extended session reply unparseable, continuing", "error", err)
		return nil
	}
	if err := uds.SessionControlReply(payload); err != nil {
		e.log.Debug("extended session rejected, continuing", "error", err)
		return nil
	}

	e.mu.Lock()
	e.sessionExtended = true
	e.mu.Unlock()
	e.startTesterPresent()
	return nil
}

func (e *Engine) startTesterPresent() {
	e.mu.Lock()
	if e.tpRunning {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.tpCancel = cancel
	e.tpRunning = true
	e.mu.Unlock()

	go e.testerPresentLoop(ctx)
}

func (e *Engine) stopTesterPresent() {
	e.mu.Lock()
	cancel := e.tpCancel
	e.sessionExtended = false
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// testerPresentLoop sends 3E00 every testerPresentInterval while the session
// is tracked as Extended. It contends for the same adapter gate as normal
// traffic and simply yields to it; a busy gate just delays the next tick.
func (e *Engine) testerPresentLoop(ctx context.Context) {
	ticker := time.NewTicker(testerPresentInterval)
	defer ticker.Stop()
	defer func() {
		e.mu.Lock()
		e.tpRunning = false
		e.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reply, err := e.ctrl.Exchange(ctx, uds.EncodeTesterPresent(), transport.DefaultReadDeadline)
			if err != nil {
				e.log.Debug("tester present exchange failed", "error", err)
				continue
			}
			if payload, err := isotp.Parse(reply, e.log); err == nil {
				if err := uds.TesterPresentReply(payload); err != nil {
					e.log.Debug("tester present reply rejected", "error", err)
				}
			}
		}
	}
}

func formatScalar(v float64, unit string) string {
	decimals := 1
	switch unit {
	case "rpm", "km", "":
		decimals = 0
	case "V", "mm³":
		decimals = 2
	}
	if unit == "" {
		return fmt.Sprintf("%.*f", decimals, v)
	}
	return fmt.Sprintf("%.*f %s", decimals, v, unit)
}

// ReadDid reads one catalogued DID, opening the extended session first when
// the DID's group requires it.
func (e *Engine) ReadDid(ctx context.Context, did uint16) (DidReading, error) {
	d, ok := catalog.DidByID(did)
	if !ok {
		return DidReading{}, fmt.Errorf("engine: unknown did 0x%04X", did)
	}
	if requiresExtendedSession(d.Group) {
		if err := e.ensureExtendedSession(ctx); err != nil {
			return DidReading{}, err
		}
	}

	reply, err := e.ctrl.Exchange(ctx, uds.EncodeReadDid(did), transport.DefaultReadDeadline)
	if err != nil {
		return DidReading{}, fmt.Errorf("engine: read did 0x%04X: %w", did, err)
	}
	payload, err := isotp.Parse(reply, e.log)
	if err != nil {
		return DidReading{}, fmt.Errorf("engine: read did 0x%04X: %w", did, err)
	}
	data, err := uds.ReadDidReply(payload, did)
	if err != nil {
		return DidReading{}, fmt.Errorf("engine: read did 0x%04X: %w", did, err)
	}

	if d.ASCII {
		return DidReading{Did: did, Name: d.Name, Unit: d.Unit, RawBytes: data, Formatted: catalog.DecodeASCII(data)}, nil
	}

	scalar, err := d.Decode(data)
	if err != nil {
		return DidReading{}, fmt.Errorf("engine: decode did 0x%04X: %w", did, err)
	}
	return DidReading{Did: did, Name: d.Name, Unit: d.Unit, RawBytes: data, Scalar: scalar, Formatted: formatScalar(scalar, d.Unit)}, nil
}

// ReadEngineSnapshot reads the engine-group DIDs the presentation layer
// polls most often.
func (e *Engine) ReadEngineSnapshot(ctx context.Context) (EngineSnapshot, error) {
	speed, err := e.ReadDid(ctx, 0xD41F)
	if err != nil {
		return EngineSnapshot{}, err
	}
	return EngineSnapshot{EngineSpeed: speed}, nil
}

// ReadDpfSnapshot reads the DPF soot loading and regeneration status.
func (e *Engine) ReadDpfSnapshot(ctx context.Context) (DpfSnapshot, error) {
	soot, err := e.ReadDid(ctx, 0xD546)
	if err != nil {
		return DpfSnapshot{}, err
	}
	regen, err := e.ReadDid(ctx, 0xD547)
	if err != nil {
		return DpfSnapshot{}, err
	}
	return DpfSnapshot{SootLoading: soot, RegenerationText: catalog.RegenStatusText(byte(regen.Scalar))}, nil
}

// ScanDidGroups probes each DID group prefix (0xD0..0xDF) and reports which
// answered, preserving scan order.
func (e *Engine) ScanDidGroups(ctx context.Context) ([]GroupScanResult, error) {
	if err := e.ensureExtendedSession(ctx); err != nil {
		return nil, err
	}
	results := make([]GroupScanResult, 0, 0x10)
	for g := 0xD0; g <= 0xDF; g++ {
		group := byte(g)
		results = append(results, GroupScanResult{Group: group, Active: e.probeGroup(ctx, group)})
	}
	return results, nil
}

func (e *Engine) probeGroup(ctx context.Context, group byte) bool {
	did := uint16(group)<<8 | 0x00
	reply, err := e.ctrl.Exchange(ctx, uds.EncodeReadDid(did), transport.DefaultReadDeadline)
	if err != nil {
		return false
	}
	payload, err := isotp.Parse(reply, e.log)
	if err != nil {
		return false
	}
	_, err = uds.ReadDidReply(payload, did)
	return err == nil
}

// ReadInjectorCorrections reads DID 0xD482 and splits it into four
// 16-bit big-endian signed corrections, each scaled by 0.01 mm³.
func (e *Engine) ReadInjectorCorrections(ctx context.Context) ([4]float64, error) {
	if err := e.ensureExtendedSession(ctx); err != nil {
		return [4]float64{}, err
	}
	const did = 0xD482
	reply, err := e.ctrl.Exchange(ctx, uds.EncodeReadDid(did), transport.DefaultReadDeadline)
	if err != nil {
		return [4]float64{}, fmt.Errorf("engine: read injector corrections: %w", err)
	}
	payload, err := isotp.Parse(reply, e.log)
	if err != nil {
		return [4]float64{}, fmt.Errorf("engine: read injector corrections: %w", err)
	}
	data, err := uds.ReadDidReply(payload, did)
	if err != nil {
		return [4]float64{}, fmt.Errorf("engine: read injector corrections: %w", err)
	}
	if len(data) < 8 {
		return [4]float64{}, fmt.Errorf("engine: injector corrections: %w",
			&diagerr.ProtocolMismatch{Expected: "8 payload bytes", Got: fmt.Sprintf("%d bytes", len(data))})
	}

	var out [4]float64
	for i := 0; i < 4; i++ {
		raw := int16(uint16(data[i*2])<<8 | uint16(data[i*2+1]))
		out[i] = float64(raw) * 0.01
	}
	return out, nil
}

// ReadDtcs reads and decodes every stored DTC, preserving on-wire order.
func (e *Engine) ReadDtcs(ctx context.Context) ([]Dtc, error) {
	if err := e.ensureExtendedSession(ctx); err != nil {
		return nil, err
	}
	reply, err := e.ctrl.Exchange(ctx, uds.EncodeReadDtcInformation(), slowOperationDeadline)
	if err != nil {
		return nil, fmt.Errorf("engine: read dtcs: %w", err)
	}
	payload, err := isotp.Parse(reply, e.log)
	if err != nil {
		if errors.Is(err, diagerr.ErrNoData) {
			return nil, nil
		}
		return nil, fmt.Errorf("engine: read dtcs: %w", err)
	}
	_, records, err := uds.ReadDtcInformationReply(payload)
	if err != nil {
		return nil, fmt.Errorf("engine: read dtcs: %w", err)
	}

	out := make([]Dtc, 0, len(records))
	for _, r := range records {
		code := catalog.DecodeDtcCode(r.Hi, r.Lo)
		out = append(out, Dtc{
			Code:        code,
			Status:      r.Status,
			Description: catalog.DtcDescription(code),
			RawHigh:     r.Hi,
			RawLow:      r.Lo,
			TestFailed:  r.Status&0x01 != 0,
			Pending:     r.Status&0x04 != 0,
			Confirmed:   r.Status&0x08 != 0,
		})
	}
	return out, nil
}

// ClearDtcs clears every DTC group, returning true on success.
func (e *Engine) ClearDtcs(ctx context.Context) (bool, error) {
	if err := e.ensureExtendedSession(ctx); err != nil {
		return false, err
	}
	reply, err := e.ctrl.Exchange(ctx, uds.EncodeClearDiagnosticInformation(), slowOperationDeadline)
	if err != nil {
		return false, fmt.Errorf("engine: clear dtcs: %w", err)
	}
	payload, err := isotp.Parse(reply, e.log)
	if err != nil {
		return false, fmt.Errorf("engine: clear dtcs: %w", err)
	}
	if err := uds.ClearDtcReply(payload); err != nil {
		return false, fmt.Errorf("engine: clear dtcs: %w", err)
	}
	return true, nil
}

// IdentifyEcu reads part number, calibration, and hardware number; any read
// that fails or comes back empty is reported as "N/A".
func (e *Engine) IdentifyEcu(ctx context.Context) Identification {
	if err := e.ensureExtendedSession(ctx); err != nil {
		return Identification{PartNumber: "N/A", Calibration: "N/A", HardwareNumber: "N/A"}
	}
	return Identification{
		PartNumber:     e.readIdentDid(ctx, 0xF080),
		Calibration:    e.readIdentDid(ctx, 0xF0FE),
		HardwareNumber: e.readIdentDid(ctx, 0xF091),
	}
}

func (e *Engine) readIdentDid(ctx context.Context, did uint16) string {
	reading, err := e.ReadDid(ctx, did)
	if err != nil || reading.Formatted == "" {
		return "N/A"
	}
	return reading.Formatted
}
