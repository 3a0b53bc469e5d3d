package conversion

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"valchi/core/events"
	"valchi/core/types"
	nativecommon "valchi/native/common"
)

var (
	errNilState      = errors.New("conversion pool: state not configured")
	errNotStarted    = errors.New("conversion pool: cycle schedule not started")
	errAlreadyOpen   = errors.New("conversion pool: cycle schedule already started")
	errInvalidWindow = errors.New("conversion pool: cycle length and duration must be positive")

	// ErrCycleNotElapsed is returned when AdvanceCycle runs before the
	// current cycle's window has closed.
	ErrCycleNotElapsed = errors.New("conversion pool: cycle not elapsed")
	// ErrCycleSettling is returned when deposits or withdrawals arrive while
	// the current cycle is settling.
	ErrCycleSettling = errors.New("conversion pool: cycle settling")
	// ErrMatured is returned when the schedule has run its full duration and
	// no further cycles can open.
	ErrMatured = errors.New("conversion pool: schedule matured")
)

const moduleName = "conversionPool"

const secondsPerDay = 86_400

// CycleStatus tracks a cycle through its settlement window.
type CycleStatus uint8

const (
	CycleOpen CycleStatus = iota + 1
	CycleSettling
	CycleClosed
)

func (s CycleStatus) String() string {
	switch s {
	case CycleOpen:
		return "open"
	case CycleSettling:
		return "settling"
	case CycleClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cycle is one conversion window. NavBefore is fixed when the cycle opens,
// NavAfter exactly once when it settles: NavAfter = NavBefore + NetFlow.
type Cycle struct {
	Index     uint64      `json:"index"`
	StartTime int64       `json:"startTime"`
	EndTime   int64       `json:"endTime"`
	NavBefore *big.Int    `json:"navBefore"`
	NavAfter  *big.Int    `json:"navAfter"`
	NetFlow   *big.Int    `json:"netFlow"`
	Status    CycleStatus `json:"status"`
}

// Clone returns a deep copy of the cycle.
func (c *Cycle) Clone() *Cycle {
	if c == nil {
		return nil
	}
	clone := *c
	clone.NavBefore = cloneBigInt(c.NavBefore)
	clone.NavAfter = cloneBigInt(c.NavAfter)
	clone.NetFlow = cloneBigInt(c.NetFlow)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

type engineState interface {
	CycleGet() (*Cycle, error)
	CyclePut(*Cycle) error
	CycleHistoryAppend(*Cycle) error
	CycleHistory() ([]*Cycle, error)
}

// Engine runs the conversion schedule: contiguous fixed-length cycles over a
// bounded total duration, each settling the pool's net asset value exactly
// once. While a cycle settles, the engine's Guard refuses pool flows.
type Engine struct {
	mu            sync.Mutex
	state         engineState
	cycleLength   int64
	totalDuration int64
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	nowFn         func() int64
}

// NewEngine constructs a conversion engine with the cycle length and total
// schedule duration, both in days.
func NewEngine(cycleLengthDays, totalDurationDays uint64) (*Engine, error) {
	if cycleLengthDays == 0 || totalDurationDays == 0 || totalDurationDays < cycleLengthDays {
		return nil, errInvalidWindow
	}
	return &Engine{
		cycleLength:   int64(cycleLengthDays) * secondsPerDay,
		totalDuration: int64(totalDurationDays) * secondsPerDay,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the engine to the operator pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Start opens cycle zero with the pool's opening net asset value. Starting a
// schedule that already has a cycle is an error.
func (e *Engine) Start(nav *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.state.CycleGet()
	if err != nil {
		return err
	}
	if current != nil {
		return errAlreadyOpen
	}
	now := e.nowFn()
	first := &Cycle{
		Index:     0,
		StartTime: now,
		EndTime:   now + e.cycleLength,
		NavBefore: cloneBigInt(nav),
		NavAfter:  big.NewInt(0),
		NetFlow:   big.NewInt(0),
		Status:    CycleOpen,
	}
	if err := e.state.CyclePut(first); err != nil {
		return err
	}
	e.emit(newCycleOpenedEvent(first))
	return nil
}

// RecordFlow accumulates a realized net flow (positive or negative) into the
// open cycle. Flows are refused while the cycle is settling.
func (e *Engine) RecordFlow(delta *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if delta == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.state.CycleGet()
	if err != nil {
		return err
	}
	if current == nil {
		return errNotStarted
	}
	if current.Status == CycleSettling {
		return ErrCycleSettling
	}
	if current.Status != CycleOpen {
		return ErrMatured
	}
	current.NetFlow = new(big.Int).Add(cloneBigInt(current.NetFlow), delta)
	return e.state.CyclePut(current)
}

// AdvanceCycle settles the current cycle and opens the next. The call fails
// with ErrCycleNotElapsed until the cycle's window has closed, and with
// ErrMatured once the schedule's total duration has been consumed.
// Settlement fixes NavAfter = NavBefore + NetFlow; the next cycle opens with
// NavBefore equal to that settled value.
func (e *Engine) AdvanceCycle() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.state.CycleGet()
	if err != nil {
		return err
	}
	if current == nil {
		return errNotStarted
	}
	if current.Status == CycleClosed {
		return ErrMatured
	}
	now := e.nowFn()
	if now < current.EndTime {
		return ErrCycleNotElapsed
	}

	current.Status = CycleSettling
	if err := e.state.CyclePut(current); err != nil {
		return err
	}
	current.NavAfter = new(big.Int).Add(cloneBigInt(current.NavBefore), cloneBigInt(current.NetFlow))
	current.Status = CycleClosed
	if err := e.state.CycleHistoryAppend(current.Clone()); err != nil {
		return err
	}
	e.emit(newCycleSettledEvent(current))

	// The schedule matures once the next window would extend past the total
	// duration measured from cycle zero's start.
	firstStart := current.StartTime - int64(current.Index)*e.cycleLength
	nextEnd := current.EndTime + e.cycleLength
	if nextEnd > firstStart+e.totalDuration {
		return e.state.CyclePut(current)
	}

	next := &Cycle{
		Index:     current.Index + 1,
		StartTime: current.EndTime,
		EndTime:   nextEnd,
		NavBefore: cloneBigInt(current.NavAfter),
		NavAfter:  big.NewInt(0),
		NetFlow:   big.NewInt(0),
		Status:    CycleOpen,
	}
	if err := e.state.CyclePut(next); err != nil {
		return err
	}
	e.emit(newCycleOpenedEvent(next))
	return nil
}

// Guard refuses pool flows while the current cycle is settling. It satisfies
// the liquidity pool's FlowGuard hook.
func (e *Engine) Guard() error {
	if e == nil || e.state == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	current, err := e.state.CycleGet()
	if err != nil || current == nil {
		return nil
	}
	if current.Status == CycleSettling {
		return ErrCycleSettling
	}
	return nil
}

// Current returns a copy of the active cycle, or nil before Start.
func (e *Engine) Current() (*Cycle, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	current, err := e.state.CycleGet()
	if err != nil {
		return nil, err
	}
	return current.Clone(), nil
}

// History returns copies of the settled cycles in order.
func (e *Engine) History() ([]*Cycle, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	history, err := e.state.CycleHistory()
	if err != nil {
		return nil, err
	}
	out := make([]*Cycle, len(history))
	for i, c := range history {
		out[i] = c.Clone()
	}
	return out, nil
}

// Matured reports whether the schedule has consumed its total duration.
func (e *Engine) Matured() (bool, error) {
	current, err := e.Current()
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}
	return current.Status == CycleClosed, nil
}

type cycleEvent struct {
	evt *types.Event
}

func (e cycleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e cycleEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(cycleEvent{evt: event})
}
