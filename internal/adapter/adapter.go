// Package adapter implements AdapterController: the single point of contact
// with Transport, responsible for ELM327 initialization, ECU selection, and
// the transparent ATSH interception that keeps this adapter family's clones
// from silently dropping addressed requests.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mlow-diag/elmcore/internal/catalog"
	"github.com/mlow-diag/elmcore/internal/diagerr"
	"github.com/mlow-diag/elmcore/internal/transport"
)

// Phase is the connection's lifecycle state.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseInitializing:
		return "Initializing"
	case PhaseReady:
		return "Ready"
	case PhaseErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// State is a snapshot of the adapter's programmed configuration.
type State struct {
	Phase             Phase
	RxFilter          string
	FlowControlHeader string
	TxHeader          string
	CanBusActive      bool
	DetectedEcus      []catalog.EcuAddress
}

// forbiddenAfterActive lists the AT commands refused once the bus is live.
var forbiddenAfterActive = map[string]bool{
	"ATZ": true, "ATD": true, "ATWS": true, "ATH0": true, "ATS0": true,
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) (string, error)
	resp chan result
}

type result struct {
	text string
	err  error
}

// Controller serializes every adapter interaction through a single owned
// goroutine (the "gate"), per the message-passing idiom: public methods
// enqueue a request and block on a per-call response channel rather than
// holding a shared lock directly.
type Controller struct {
	tr  *transport.Transport
	log *slog.Logger

	stateMu sync.RWMutex
	state   State

	requests chan task
	closed   chan struct{}
	closeOne sync.Once
}

// New wires a Controller to an already-constructed Transport. The gate
// goroutine starts immediately and runs until Disconnect.
func New(tr *transport.Transport, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		tr:       tr,
		log:      log,
		requests: make(chan task),
		closed:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	for {
		select {
		case t := <-c.requests:
			text, err := t.fn(t.ctx)
			t.resp <- result{text, err}
		case <-c.closed:
			return
		}
	}
}

func (c *Controller) enqueue(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	resp := make(chan result, 1)
	select {
	case c.requests <- task{ctx: ctx, fn: fn, resp: resp}:
	case <-c.closed:
		return "", fmt.Errorf("adapter: controller is disconnected")
	case <-ctx.Done():
		return "", fmt.Errorf("adapter: enqueue cancelled: %w", ctx.Err())
	}
	select {
	case r := <-resp:
		return r.text, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("adapter: cancelled waiting for response: %w", ctx.Err())
	}
}

// State returns a snapshot of the current adapter configuration.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setPhase(p Phase) {
	c.stateMu.Lock()
	c.state.Phase = p
	c.stateMu.Unlock()
}

// Initialize issues the fixed ELM327 setup sequence, probes the bus with
// OBD 0100, detects the responding ECUs, and programs broadcast mode for
// the preferred one (ECM when present, otherwise the first detected).
func (c *Controller) Initialize(ctx context.Context) error {
	_, err := c.enqueue(ctx, c.initializeLocked)
	return err
}

func (c *Controller) initializeLocked(ctx context.Context) (string, error) {
	c.setPhase(PhaseInitializing)

	steps := []string{"ATZ", "ATE0", "ATL0", "ATH1", "ATS1", "ATSP6", "ATST64", "ATAT1"}
	for _, cmd := range steps {
		reply, err := c.rawExchange(ctx, cmd, transport.DefaultReadDeadline)
		if err != nil {
			c.setPhase(PhaseErrored)
			return "", fmt.Errorf("adapter: init step %s: %w", cmd, err)
		}
		if cmd == "ATZ" && !strings.Contains(reply, "ELM327") {
			c.setPhase(PhaseErrored)
			return "", fmt.Errorf("adapter: ATZ reply missing ELM327 banner: %q", strings.TrimSpace(reply))
		}
		wait := 100 * time.Millisecond
		if cmd == "ATZ" {
			wait = 1000 * time.Millisecond
		}
		if err := sleep(ctx, wait); err != nil {
			c.setPhase(PhaseErrored)
			return "", err
		}
	}

	probe, err := c.rawExchange(ctx, "0100", transport.DefaultReadDeadline)
	if err != nil {
		c.setPhase(PhaseErrored)
		return "", fmt.Errorf("adapter: bus probe: %w", err)
	}
	upper := strings.ToUpper(probe)
	if strings.Contains(upper, "NO DATA") || strings.Contains(upper, "UNABLE") || strings.Contains(upper, "ERROR") {
		c.setPhase(PhaseErrored)
		return "", fmt.Errorf("adapter: bus probe failed: %w", diagerr.ErrBusProbeFailed)
	}

	detected := parseDetectedEcus(probe)
	c.stateMu.Lock()
	c.state.DetectedEcus = detected
	c.stateMu.Unlock()

	if target := pickTarget(detected); target.Rx != "" {
		if _, err := c.programHeader(ctx, target.Tx, target.Rx); err != nil {
			c.setPhase(PhaseErrored)
			return "", err
		}
	}

	c.stateMu.Lock()
	c.state.CanBusActive = true
	c.state.Phase = PhaseReady
	c.stateMu.Unlock()

	return probe, nil
}

// Exchange runs one adapter command under the gate, transparently rewriting
// any ATSH other than ATSH7DF into the receive-filter/flow-control/broadcast
// sequence this adapter family requires.
func (c *Controller) Exchange(ctx context.Context, command string, readDeadline time.Duration) (string, error) {
	return c.enqueue(ctx, func(ctx context.Context) (string, error) {
		return c.exchangeLocked(ctx, command, readDeadline)
	})
}

func (c *Controller) exchangeLocked(ctx context.Context, command string, readDeadline time.Duration) (string, error) {
	cmd := strings.ToUpper(strings.TrimSpace(command))

	c.stateMu.RLock()
	busActive := c.state.CanBusActive
	c.stateMu.RUnlock()
	if busActive && forbiddenAfterActive[cmd] {
		return "", fmt.Errorf("adapter: %s: %w", cmd, diagerr.ErrForbiddenAfterBusActive)
	}

	if strings.HasPrefix(cmd, "ATSH") && cmd != "ATSH7DF" {
		suffix := strings.TrimPrefix(cmd, "ATSH")
		rx := catalog.TxToRx(suffix)
		reply, err := c.programHeader(ctx, suffix, rx)
		if err != nil {
			return "", err
		}
		return cleanReply(reply, cmd), nil
	}

	reply, err := c.rawExchange(ctx, cmd, readDeadline)
	if err != nil {
		return "", err
	}
	return cleanReply(reply, cmd), nil
}

// SelectEcu programs the adapter for the given tx/rx pair, a no-op when
// already selected.
func (c *Controller) SelectEcu(ctx context.Context, tx, rx string) error {
	_, err := c.enqueue(ctx, func(ctx context.Context) (string, error) {
		return c.selectEcuLocked(ctx, tx, rx)
	})
	return err
}

func (c *Controller) selectEcuLocked(ctx context.Context, tx, rx string) (string, error) {
	tx = strings.ToUpper(strings.TrimSpace(tx))
	rx = strings.ToUpper(strings.TrimSpace(rx))

	c.stateMu.RLock()
	already := c.state.FlowControlHeader == tx && c.state.RxFilter == rx
	c.stateMu.RUnlock()
	if already {
		return "", nil
	}
	return c.programHeader(ctx, tx, rx)
}

// SendPayload runs each pre-command (rewriting ATSH interceptions as
// Exchange does) then sends the payload line, returning the cleaned reply.
func (c *Controller) SendPayload(ctx context.Context, dataHex string, preCommands []string) (string, error) {
	return c.enqueue(ctx, func(ctx context.Context) (string, error) {
		return c.sendPayloadLocked(ctx, dataHex, preCommands)
	})
}

func (c *Controller) sendPayloadLocked(ctx context.Context, dataHex string, preCommands []string) (string, error) {
	for _, pre := range preCommands {
		cmd := strings.ToUpper(strings.TrimSpace(pre))
		if strings.HasPrefix(cmd, "ATSH") && cmd != "ATSH7DF" {
			suffix := strings.TrimPrefix(cmd, "ATSH")
			if _, err := c.programHeader(ctx, suffix, catalog.TxToRx(suffix)); err != nil {
				return "", err
			}
		} else if _, err := c.rawExchange(ctx, cmd, transport.DefaultReadDeadline); err != nil {
			return "", err
		}
		if err := sleep(ctx, 50*time.Millisecond); err != nil {
			return "", err
		}
	}

	cmd := strings.ToUpper(strings.TrimSpace(dataHex))
	reply, err := c.rawExchange(ctx, cmd, transport.DefaultReadDeadline)
	if err != nil {
		return "", err
	}
	return cleanReply(reply, cmd), nil
}

// Disconnect stops the gate goroutine and releases the transport. Safe to
// call more than once.
func (c *Controller) Disconnect() error {
	c.closeOne.Do(func() { close(c.closed) })
	c.stateMu.Lock()
	c.state = State{}
	c.stateMu.Unlock()
	return c.tr.Close()
}

// programHeader issues the receive-filter/flow-control/broadcast-header
// sequence this adapter family uses both for ATSH interception and for
// SelectEcu, updating State on success.
func (c *Controller) programHeader(ctx context.Context, tx, rx string) (string, error) {
	steps := []string{
		"ATCRA" + rx,
		"ATFCSH" + tx,
		"ATFCSD300000",
		"ATFCSM1",
		"ATSH" + catalog.Broadcast,
	}
	var last string
	for i, s := range steps {
		reply, err := c.rawExchange(ctx, s, transport.DefaultReadDeadline)
		if err != nil {
			return "", err
		}
		up := strings.ToUpper(reply)
		if strings.Contains(up, "ERROR") || strings.Contains(reply, "?") {
			return "", fmt.Errorf("adapter: %s: %w", s, diagerr.ErrAdapterRejected)
		}
		last = reply
		if i < len(steps)-1 {
			if err := sleep(ctx, 50*time.Millisecond); err != nil {
				return "", err
			}
		}
	}

	c.stateMu.Lock()
	c.state.RxFilter = rx
	c.state.FlowControlHeader = tx
	c.state.TxHeader = catalog.Broadcast
	c.stateMu.Unlock()
	return last, nil
}

func (c *Controller) rawExchange(ctx context.Context, cmd string, deadline time.Duration) (string, error) {
	if err := c.tr.WriteLine(cmd); err != nil {
		return "", err
	}
	return c.tr.ReadUntilPrompt(ctx, deadline)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("adapter: cancelled during delay: %w", ctx.Err())
	}
}

// cleanReply strips the echoed command (if present), blank lines, bare "OK"
// lines, and "SEARCHING" lines from a raw adapter reply.
func cleanReply(raw, cmd string) string {
	lines := strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' })
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || l == "OK" || strings.EqualFold(l, cmd) || strings.HasPrefix(l, "SEARCHING") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// parseDetectedEcus scans a probe reply for leading 3-hex-digit CAN ids and
// matches each against the ECU address table, preserving first-seen order.
func parseDetectedEcus(reply string) []catalog.EcuAddress {
	seen := map[string]bool{}
	var out []catalog.EcuAddress
	for _, line := range strings.FieldsFunc(reply, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if len(line) < 3 {
			continue
		}
		id := strings.ToUpper(line[:3])
		if !isHex3(id) || seen[id] {
			continue
		}
		if e, ok := catalog.ByRx(id); ok {
			seen[id] = true
			out = append(out, e)
		}
	}
	return out
}

func pickTarget(detected []catalog.EcuAddress) catalog.EcuAddress {
	for _, e := range detected {
		if e.Code == "ECM" {
			return e
		}
	}
	if len(detected) > 0 {
		return detected[0]
	}
	return catalog.EcuAddress{}
}

func isHex3(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
