package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mzyy94/stylusctl/internal/escp"
)

func statusFrame(code byte) []byte {
	return append([]byte("@BDC ST2\r\n\x01\x01"), code)
}

// fakeSNMP replies to status queries with a scripted sequence of status
// codes. The last code repeats once the script runs out.
type fakeSNMP struct {
	mu       sync.Mutex
	statuses []byte
	nozzle   []byte
	err      error
	queries  int
	nozzleQ  int
}

func (f *fakeSNMP) Query(ctx context.Context, request []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	switch {
	case bytes.Equal(request, escp.StatusQuery):
		f.queries++
		code := f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
		return statusFrame(code), nil
	case bytes.Equal(request, escp.NozzleQuery):
		f.nozzleQ++
		return f.nozzle, nil
	}
	return nil, fmt.Errorf("unexpected request % x", request)
}

// fakeSession records the Remote Mode calls made on it.
type fakeSession struct {
	log    *[]string
	failOn string
}

func (s *fakeSession) record(call string) error {
	*s.log = append(*s.log, call)
	if call == s.failOn {
		return errors.New("connection reset")
	}
	return nil
}

func (s *fakeSession) EnterRemoteMode() error         { return s.record("enter") }
func (s *fakeSession) ExitRemoteMode() error          { return s.record("exit") }
func (s *fakeSession) StartJob(name string) error     { return s.record("start " + name) }
func (s *fakeSession) EndJob() error                  { return s.record("end") }
func (s *fakeSession) TriggerNozzleCheck() error      { return s.record("nozzle check") }
func (s *fakeSession) Close() error                   { return s.record("close") }
func (s *fakeSession) CleanGroup(g int, p bool) error { return s.record(fmt.Sprintf("clean %d %v", g, p)) }

type harness struct {
	snmp  *fakeSNMP
	calls []string
	dials int
	fail  string
	p     *Printer
	seen  []State
}

func newHarness(statuses ...byte) *harness {
	h := &harness{snmp: &fakeSNMP{
		statuses: statuses,
		nozzle:   []byte("@BDC PS\r\nnc:00,00,00,00,00,00,00,00,00,00,00;"),
	}}
	dial := func(ctx context.Context) (Session, error) {
		h.dials++
		return &fakeSession{log: &h.calls, failOn: h.fail}, nil
	}
	h.p = NewWithTransport("192.0.2.10", h.snmp, dial, Options{
		BusyInterval: time.Millisecond,
		IdleInterval: time.Millisecond,
		BusyAttempts: 5,
		IdleAttempts: 5,
		Hooks: Hooks{OnState: func(s State) {
			if len(h.seen) == 0 || h.seen[len(h.seen)-1] != s {
				h.seen = append(h.seen, s)
			}
		}},
	})
	return h
}

const (
	idle = escp.StatusIdle
	busy = escp.StatusBusy
)

func TestRun_CleanCheckVerify(t *testing.T) {
	// readiness, busy wait x2, idle wait x2, then the same for the check
	h := newHarness(idle, idle, busy, busy, idle, busy, idle)
	h.snmp.nozzle = []byte("@BDC PS\r\nnc:00,00,01,00,00,00,00,00,00,00,05;")

	res, err := h.p.Run(context.Background(), Request{Clean: "PK", Power: true, Check: true, Verify: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Errorf("Outcome = %s, want blockage detected", res.Outcome)
	}
	if res.Cleaned != 2 || !res.Checked {
		t.Errorf("Cleaned = %d Checked = %v, want 2 true", res.Cleaned, res.Checked)
	}
	if len(res.Blocked) != 2 || res.Blocked[0].Long != "Yellow" || res.Blocked[1].Long != "Photo Black" {
		t.Errorf("Blocked = %+v, want Yellow and Photo Black", res.Blocked)
	}

	wantCalls := []string{
		"enter", "start Nozzle cleaning", "clean 2 true", "end", "exit", "close",
		"enter", "start Nozzle check", "nozzle check", "end", "exit", "close",
	}
	if !reflect.DeepEqual(h.calls, wantCalls) {
		t.Errorf("session calls = %q\nwant %q", h.calls, wantCalls)
	}
	if h.dials != 2 {
		t.Errorf("dials = %d, want one session per command", h.dials)
	}
	if h.snmp.queries != 7 || h.snmp.nozzleQ != 1 {
		t.Errorf("queries = %d status, %d nozzle; want 7, 1", h.snmp.queries, h.snmp.nozzleQ)
	}

	wantStates := []State{
		StateCheckingReadiness,
		StateIssuingCommand, StateWaitingForBusy, StateWaitingForIdle,
		StateIssuingCommand, StateWaitingForBusy, StateWaitingForIdle,
		StateVerifyingResult, StateDone,
	}
	if !reflect.DeepEqual(h.seen, wantStates) {
		t.Errorf("states = %v\nwant %v", h.seen, wantStates)
	}
}

func TestRun_CheckOnlyAllClear(t *testing.T) {
	h := newHarness(escp.StatusWaiting, escp.StatusNozzleCheck, idle)
	res, err := h.p.Run(context.Background(), Request{Check: true, Verify: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeAllClear || len(res.Blocked) != 0 {
		t.Errorf("Outcome = %s blocked = %v, want all clear", res.Outcome, res.Blocked)
	}
	if res.Cleaned != 0 {
		t.Errorf("Cleaned = %d, want 0", res.Cleaned)
	}
	if len(res.Nozzles) != escp.NozzleCount {
		t.Errorf("len(Nozzles) = %d", len(res.Nozzles))
	}
}

func TestRun_NotReady(t *testing.T) {
	for _, code := range []byte{escp.StatusError, escp.StatusBusy, escp.StatusCleaning, 0x42} {
		h := newHarness(code)
		res, err := h.p.Run(context.Background(), Request{Clean: "C", Check: true, Verify: true})
		if err != nil {
			t.Fatalf("status %d: Run failed: %v", code, err)
		}
		if res.Outcome != OutcomeNotReady {
			t.Errorf("status %d: Outcome = %s, want not ready", code, res.Outcome)
		}
		if h.dials != 0 || h.snmp.nozzleQ != 0 {
			t.Errorf("status %d: dials = %d nozzle queries = %d, want none", code, h.dials, h.snmp.nozzleQ)
		}
	}
}

func TestRun_NothingToDo(t *testing.T) {
	h := newHarness(idle)
	res, err := h.p.Run(context.Background(), Request{Verify: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeNothingToDo {
		t.Errorf("Outcome = %s, want nothing to do", res.Outcome)
	}
	if h.dials != 0 || h.snmp.queries != 1 || h.snmp.nozzleQ != 0 {
		t.Errorf("dials=%d queries=%d nozzle=%d, want 0 1 0", h.dials, h.snmp.queries, h.snmp.nozzleQ)
	}
}

func TestRun_CleanWithoutVerify(t *testing.T) {
	h := newHarness(idle, busy, idle)
	res, err := h.p.Run(context.Background(), Request{Clean: "Y"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeDone || res.Cleaned != 4 {
		t.Errorf("Outcome = %s Cleaned = %d, want done 4", res.Outcome, res.Cleaned)
	}
	if h.snmp.nozzleQ != 0 {
		t.Errorf("nozzle queries = %d, want 0", h.snmp.nozzleQ)
	}
	if h.calls[2] != "clean 4 false" {
		t.Errorf("command = %q, want clean 4 false", h.calls[2])
	}
}

func TestRun_UnknownNozzle(t *testing.T) {
	h := newHarness(idle)
	_, err := h.p.Run(context.Background(), Request{Clean: "ZZ"})
	if !errors.Is(err, escp.ErrNozzleNotFound) {
		t.Fatalf("err = %v, want ErrNozzleNotFound", err)
	}
	if h.snmp.queries != 0 {
		t.Errorf("queries = %d, want none before validation", h.snmp.queries)
	}
}

func TestRun_StuckWaitingForBusy(t *testing.T) {
	h := newHarness(idle)
	_, err := h.p.Run(context.Background(), Request{Check: true, Verify: true})
	if !errors.Is(err, ErrStuck) {
		t.Fatalf("err = %v, want ErrStuck", err)
	}
	var se *StuckError
	if !errors.As(err, &se) {
		t.Fatalf("err %T is not *StuckError", err)
	}
	if se.State != StateWaitingForBusy || se.Attempts != 5 || se.Last != "Idle" {
		t.Errorf("StuckError = %+v, want waiting for busy after 5 polls", se)
	}
	if h.snmp.nozzleQ != 0 {
		t.Error("verification ran after a stuck wait")
	}
}

func TestRun_StuckWaitingForIdle(t *testing.T) {
	h := newHarness(idle, busy)
	_, err := h.p.Run(context.Background(), Request{Clean: "OR"})
	var se *StuckError
	if !errors.As(err, &se) || se.State != StateWaitingForIdle {
		t.Fatalf("err = %v, want StuckError while waiting for idle", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(idle, busy)
	h.p.opts.IdleInterval = time.Hour
	h.p.opts.IdleAttempts = 10

	ctx, cancel := context.WithCancel(context.Background())
	h.p.opts.Hooks.OnStatus = func(s State, st *escp.StatusRecord) {
		if s == StateWaitingForIdle {
			cancel()
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.p.Run(ctx, Request{Check: true})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StatusQueryFailure(t *testing.T) {
	h := newHarness(idle)
	h.snmp.err = &escp.TransportError{Op: "read", Addr: "192.0.2.10:161", Kind: escp.ErrTimeout}
	_, err := h.p.Run(context.Background(), Request{Check: true})
	if !errors.Is(err, escp.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if h.dials != 0 {
		t.Errorf("dials = %d, want 0", h.dials)
	}
}

func TestRun_CommandFailureClosesSession(t *testing.T) {
	h := newHarness(idle)
	h.fail = "clean 1 false"
	_, err := h.p.Run(context.Background(), Request{Clean: "C"})
	if err == nil {
		t.Fatal("expected error")
	}
	want := []string{"enter", "start Nozzle cleaning", "clean 1 false", "close"}
	if !reflect.DeepEqual(h.calls, want) {
		t.Errorf("session calls = %q, want %q", h.calls, want)
	}
}

func TestRun_NozzleCountMismatch(t *testing.T) {
	h := newHarness(idle, busy, idle)
	h.snmp.nozzle = []byte("@BDC PS\r\nnc:00,01;")
	_, err := h.p.Run(context.Background(), Request{Check: true, Verify: true})
	if !errors.Is(err, escp.ErrNozzleCountMismatch) {
		t.Fatalf("err = %v, want ErrNozzleCountMismatch", err)
	}
}

func TestRun_DecodeFailure(t *testing.T) {
	h := newHarness(idle)
	h.snmp.statuses = nil
	h.p.snmp = querierFunc(func(ctx context.Context, req []byte) ([]byte, error) {
		return []byte("@BDC ST2\r\n\x0f\x00"), nil
	})
	_, err := h.p.Run(context.Background(), Request{Check: true})
	var de *escp.DecodeError
	if !errors.As(err, &de) || !errors.Is(err, escp.ErrMalformedInkRecord) {
		t.Fatalf("err = %v, want DecodeError(ErrMalformedInkRecord)", err)
	}
}

type querierFunc func(ctx context.Context, req []byte) ([]byte, error)

func (f querierFunc) Query(ctx context.Context, req []byte) ([]byte, error) { return f(ctx, req) }

func TestStateAndOutcomeStrings(t *testing.T) {
	if StateWaitingForIdle.String() != "waiting for idle" || State(42).String() != "state 42" {
		t.Error("unexpected State strings")
	}
	if OutcomeBlocked.String() != "blockage detected" || Outcome(9).String() != "outcome 9" {
		t.Error("unexpected Outcome strings")
	}
}

// TestRun_Loopback drives a run over real sockets: a UDP agent scripted
// through a status sequence and a TCP listener capturing the raw port.
func TestRun_Loopback(t *testing.T) {
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer udp.Close()
	go func() {
		script := []byte{idle, busy, idle}
		buf := make([]byte, 1024)
		for {
			n, from, err := udp.ReadFromUDP(buf)
			if err != nil {
				return
			}
			var reply []byte
			if bytes.Equal(buf[:n], escp.NozzleQuery) {
				reply = []byte("@BDC PS\r\nnc:00,00,00,00,00,00,00,00,00,01,00;")
			} else {
				reply = statusFrame(script[0])
				if len(script) > 1 {
					script = script[1:]
				}
			}
			udp.WriteToUDP(reply, from)
		}
	}()

	tcp, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	defer tcp.Close()
	received := make(chan []byte, 1)
	go func() {
		conn, err := tcp.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	p := New("127.0.0.1", Options{
		SNMPPort:     udp.LocalAddr().(*net.UDPAddr).Port,
		RawPort:      tcp.Addr().(*net.TCPAddr).Port,
		QueryTimeout: 2 * time.Second,
		BusyInterval: time.Millisecond,
		IdleInterval: time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := p.Run(ctx, Request{Check: true, Verify: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeBlocked || len(res.Blocked) != 1 || res.Blocked[0].Short != "C" {
		t.Errorf("result = %s %+v, want Cyan blocked", res.Outcome, res.Blocked)
	}

	want := []byte("\x1b@" +
		"\x1b@\x1b(R\x08\x00\x00REMOTE1" +
		"JS\x10\x00\x00\x00\x00Nozzle check\x00" +
		"NC\x02\x00\x00\x10NC\x02\x00\x00\x11" +
		"JE\x01\x00\x00" +
		"\x1b\x00\x00\x00")
	select {
	case got := <-received:
		if !bytes.Equal(got, want) {
			t.Errorf("raw port received %q\nwant %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for raw port data")
	}
}
