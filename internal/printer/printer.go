package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mzyy94/stylusctl/internal/escp"
)

// Job names shown on the printer panel.
const (
	JobNozzleCleaning = "Nozzle cleaning"
	JobNozzleCheck    = "Nozzle check"
)

// Polling defaults.
const (
	DefaultBusyInterval = 1 * time.Second
	DefaultIdleInterval = 5 * time.Second
	DefaultBusyAttempts = 120 // 2 minutes
	DefaultIdleAttempts = 360 // 30 minutes
)

// ErrStuck is wrapped by StuckError.
var ErrStuck = errors.New("printer did not change state")

// Querier sends one SNMP request datagram and returns the raw reply.
type Querier interface {
	Query(ctx context.Context, request []byte) ([]byte, error)
}

// Session is a Remote Mode command session.
type Session interface {
	EnterRemoteMode() error
	ExitRemoteMode() error
	StartJob(name string) error
	EndJob() error
	TriggerNozzleCheck() error
	CleanGroup(group int, power bool) error
	Close() error
}

// Dialer opens a Remote Mode session to the printer.
type Dialer func(ctx context.Context) (Session, error)

// State is a step of a maintenance run.
type State int

const (
	StateCheckingReadiness State = iota
	StateIssuingCommand
	StateWaitingForBusy
	StateWaitingForIdle
	StateVerifyingResult
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCheckingReadiness:
		return "checking readiness"
	case StateIssuingCommand:
		return "issuing command"
	case StateWaitingForBusy:
		return "waiting for busy"
	case StateWaitingForIdle:
		return "waiting for idle"
	case StateVerifyingResult:
		return "verifying result"
	case StateDone:
		return "done"
	default:
		return "state " + strconv.Itoa(int(s))
	}
}

// Outcome is the normal (non-error) result of a run.
type Outcome int

const (
	OutcomeNotReady    Outcome = iota // printer not Waiting/Idle; nothing issued
	OutcomeNothingToDo                // neither clean nor check requested
	OutcomeDone                       // commands completed, verification skipped
	OutcomeAllClear                   // nozzle check reports no blockage
	OutcomeBlocked                    // nozzle check reports blocked nozzles
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotReady:
		return "not ready"
	case OutcomeNothingToDo:
		return "nothing to do"
	case OutcomeDone:
		return "done"
	case OutcomeAllClear:
		return "all clear"
	case OutcomeBlocked:
		return "blockage detected"
	default:
		return "outcome " + strconv.Itoa(int(o))
	}
}

// StuckError reports a polling loop that hit its attempt ceiling.
type StuckError struct {
	State    State
	Attempts int
	Last     string // last status text seen
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("%s: printer still %q after %d polls", e.State, e.Last, e.Attempts)
}

func (e *StuckError) Unwrap() error { return ErrStuck }

// Hooks observe a run in progress. Nil hooks are skipped.
type Hooks struct {
	OnState  func(State)
	OnStatus func(State, *escp.StatusRecord)
}

// Options tunes the transports and the polling loops.
type Options struct {
	SNMPPort     int
	RawPort      int
	QueryTimeout time.Duration
	DialTimeout  time.Duration
	BusyInterval time.Duration
	IdleInterval time.Duration
	BusyAttempts int
	IdleAttempts int
	Hooks        Hooks
}

func (o Options) withDefaults() Options {
	if o.SNMPPort == 0 {
		o.SNMPPort = escp.SNMPPort
	}
	if o.RawPort == 0 {
		o.RawPort = escp.RawPort
	}
	if o.QueryTimeout == 0 {
		o.QueryTimeout = escp.DefaultQueryTimeout
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = escp.DefaultDialTimeout
	}
	if o.BusyInterval <= 0 {
		o.BusyInterval = DefaultBusyInterval
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if o.BusyAttempts <= 0 {
		o.BusyAttempts = DefaultBusyAttempts
	}
	if o.IdleAttempts <= 0 {
		o.IdleAttempts = DefaultIdleAttempts
	}
	return o
}

// Request selects the maintenance to perform.
type Request struct {
	Clean  string // short nozzle name; its whole group is cleaned. "" = no clean
	Power  bool   // power clean instead of normal clean
	Check  bool   // print a nozzle check pattern
	Verify bool   // read the nozzle check result afterwards
}

// Result describes a completed run.
type Result struct {
	Outcome Outcome
	Status  *escp.StatusRecord     // status seen by the readiness check
	Cleaned escp.CleaningGroup     // 0 when no clean was issued
	Checked bool                   // nozzle check pattern was printed
	Nozzles escp.NozzleCheckResult // nil unless verified
	Blocked []escp.Nozzle
}

// Printer drives maintenance operations on one printer.
type Printer struct {
	host string
	snmp Querier
	dial Dialer
	opts Options
}

// New creates a Printer talking to host over SNMP and the raw port.
func New(host string, opts Options) *Printer {
	opts = opts.withDefaults()
	snmp := &escp.SNMPClient{Host: host, Port: opts.SNMPPort, Timeout: opts.QueryTimeout}
	dial := func(ctx context.Context) (Session, error) {
		ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
		return escp.DialRemote(ctx, host, opts.RawPort)
	}
	return NewWithTransport(host, snmp, dial, opts)
}

// NewWithTransport creates a Printer over the given transports.
func NewWithTransport(host string, snmp Querier, dial Dialer, opts Options) *Printer {
	return &Printer{host: host, snmp: snmp, dial: dial, opts: opts.withDefaults()}
}

// Host returns the printer address.
func (p *Printer) Host() string { return p.host }

// Status fetches and decodes the ST2 status.
func (p *Printer) Status(ctx context.Context) (*escp.StatusRecord, error) {
	raw, err := p.snmp.Query(ctx, escp.StatusQuery)
	if err != nil {
		return nil, fmt.Errorf("status query: %w", err)
	}
	rec, err := escp.DecodeStatus(escp.Payload(raw))
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return rec, nil
}

// NozzleCheck fetches and decodes the result of the last nozzle check.
func (p *Printer) NozzleCheck(ctx context.Context) (escp.NozzleCheckResult, error) {
	raw, err := p.snmp.Query(ctx, escp.NozzleQuery)
	if err != nil {
		return nil, fmt.Errorf("nozzle query: %w", err)
	}
	nc, err := escp.DecodeNozzleCheck(escp.Payload(raw))
	if err != nil {
		return nil, fmt.Errorf("nozzle check: %w", err)
	}
	return nc, nil
}

// Run performs one maintenance run: readiness check, the requested clean
// and/or nozzle check, and verification of the nozzle check result.
func (p *Printer) Run(ctx context.Context, req Request) (*Result, error) {
	var group escp.CleaningGroup
	if req.Clean != "" {
		n, err := escp.NozzleByShortName(req.Clean)
		if err != nil {
			return nil, err
		}
		group = n.Group
	}

	p.enter(StateCheckingReadiness)
	st, err := p.Status(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("printer status", "host", p.host, "status", st.StatusText, "ready", st.Ready)
	p.observe(StateCheckingReadiness, st)

	res := &Result{Status: st}
	if !st.Ready {
		res.Outcome = OutcomeNotReady
		return res, nil
	}
	if req.Clean == "" && !req.Check {
		res.Outcome = OutcomeNothingToDo
		return res, nil
	}

	if req.Clean != "" {
		slog.Info("cleaning nozzles", "group", group.String(), "power", req.Power)
		err := p.issue(ctx, JobNozzleCleaning, func(s Session) error {
			return s.CleanGroup(int(group), req.Power)
		})
		if err != nil {
			return nil, err
		}
		if err := p.waitCycle(ctx); err != nil {
			return nil, err
		}
		res.Cleaned = group
	}

	if req.Check {
		slog.Info("running nozzle check")
		if err := p.issue(ctx, JobNozzleCheck, Session.TriggerNozzleCheck); err != nil {
			return nil, err
		}
		if err := p.waitCycle(ctx); err != nil {
			return nil, err
		}
		res.Checked = true
	}

	if !req.Verify {
		res.Outcome = OutcomeDone
		p.enter(StateDone)
		return res, nil
	}

	p.enter(StateVerifyingResult)
	nc, err := p.NozzleCheck(ctx)
	if err != nil {
		return nil, err
	}
	blocked, err := escp.BlockedNozzles(nc)
	if err != nil {
		return nil, fmt.Errorf("nozzle check: %w", err)
	}
	res.Nozzles = nc
	res.Blocked = blocked
	if len(blocked) > 0 {
		res.Outcome = OutcomeBlocked
		slog.Warn("nozzle blockage detected", "count", len(blocked))
	} else {
		res.Outcome = OutcomeAllClear
		slog.Info("nozzles OK")
	}
	p.enter(StateDone)
	return res, nil
}

// issue runs one Remote Mode job on a fresh session. The session is closed
// on every path.
func (p *Printer) issue(ctx context.Context, job string, command func(Session) error) (err error) {
	p.enter(StateIssuingCommand)
	s, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("remote session: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("remote session close: %w", cerr)
		}
	}()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"enter remote mode", s.EnterRemoteMode},
		{"start job", func() error { return s.StartJob(job) }},
		{job, func() error { return command(s) }},
		{"end job", s.EndJob},
		{"exit remote mode", s.ExitRemoteMode},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	slog.Debug("remote job sent", "job", job)
	return nil
}

// waitCycle waits for the printer to start acting on a command, then to
// return to a ready state.
func (p *Printer) waitCycle(ctx context.Context) error {
	if err := p.waitFor(ctx, StateWaitingForBusy, false, p.opts.BusyInterval, p.opts.BusyAttempts); err != nil {
		return err
	}
	return p.waitFor(ctx, StateWaitingForIdle, true, p.opts.IdleInterval, p.opts.IdleAttempts)
}

func (p *Printer) waitFor(ctx context.Context, state State, ready bool, interval time.Duration, attempts int) error {
	p.enter(state)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; ; attempt++ {
		st, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", state, err)
		}
		slog.Debug("poll", "state", state.String(), "attempt", attempt, "status", st.StatusText)
		p.observe(state, st)
		if st.Ready == ready {
			return nil
		}
		if attempt >= attempts {
			return &StuckError{State: state, Attempts: attempt, Last: st.StatusText}
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", state, ctx.Err())
		case <-timer.C:
		}
	}
}

func (p *Printer) enter(s State) {
	slog.Debug("run state", "state", s.String())
	if p.opts.Hooks.OnState != nil {
		p.opts.Hooks.OnState(s)
	}
}

func (p *Printer) observe(s State, st *escp.StatusRecord) {
	if p.opts.Hooks.OnStatus != nil {
		p.opts.Hooks.OnStatus(s, st)
	}
}
