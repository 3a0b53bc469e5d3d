package identity

import (
	"errors"
	"sync"
	"time"

	"valchi/core/events"
	"valchi/core/types"
	"valchi/crypto"
	nativecommon "valchi/native/common"
)

var (
	errNilState = errors.New("identity registry: state not configured")

	// ErrUnauthorized is returned when a caller without the issuer role
	// attempts to approve or revoke an identity.
	ErrUnauthorized = errors.New("identity registry: caller lacks issuer role")
	// ErrEmptyLabel is returned when an approval carries no label.
	ErrEmptyLabel = errors.New("identity registry: label must not be empty")
)

const moduleName = "identity"

// Identity captures the whitelist record for a single address. Revocation
// clears the approved flag but keeps the record so the issuance history stays
// queryable.
type Identity struct {
	Address  crypto.Address `json:"address"`
	Label    string         `json:"label"`
	Issuer   crypto.Address `json:"issuer"`
	IssuedAt int64          `json:"issuedAt"`
	Approved bool           `json:"approved"`
}

// Clone returns a deep copy of the identity record.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

type registryState interface {
	IdentityGet(addr crypto.Address) (*Identity, error)
	IdentityPut(*Identity) error
}

// Registry is the issuer-gated participant whitelist. Every investor-facing
// operation in the protocol checks approval here before moving funds.
type Registry struct {
	mu      sync.Mutex
	state   registryState
	issuer  crypto.Address
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewRegistry constructs a registry bound to the issuer address captured at
// construction time. The issuer binding is immutable for the registry's
// lifetime.
func NewRegistry(issuer crypto.Address) *Registry {
	return &Registry{
		issuer:  issuer,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetPauses wires the registry to the operator pause switches.
func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// Approve whitelists an address under the given label. Re-approval is
// idempotent; an address carries at most one active label, so a repeated
// approval overwrites the prior label.
func (r *Registry) Approve(caller, addr crypto.Address, label string) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if !caller.Equal(r.issuer) {
		return ErrUnauthorized
	}
	if label == "" {
		return ErrEmptyLabel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.state.IdentityGet(addr)
	if err != nil {
		return err
	}
	if record == nil {
		record = &Identity{Address: addr}
	}
	record.Label = label
	record.Issuer = caller
	record.IssuedAt = r.nowFn()
	record.Approved = true
	if err := r.state.IdentityPut(record); err != nil {
		return err
	}
	r.emit(newApprovedEvent(record))
	return nil
}

// Revoke clears the approved flag while preserving the record's history.
// Revoking an address that was never approved is a no-op.
func (r *Registry) Revoke(caller, addr crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if !caller.Equal(r.issuer) {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.state.IdentityGet(addr)
	if err != nil {
		return err
	}
	if record == nil || !record.Approved {
		return nil
	}
	record.Approved = false
	if err := r.state.IdentityPut(record); err != nil {
		return err
	}
	r.emit(newRevokedEvent(record))
	return nil
}

// IsApproved reports whether the address currently holds an active identity.
// Pure read, no side effects.
func (r *Registry) IsApproved(addr crypto.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	record, err := r.state.IdentityGet(addr)
	if err != nil {
		return false, err
	}
	return record != nil && record.Approved, nil
}

// Identity returns a copy of the stored record, or nil when the address was
// never issued an identity.
func (r *Registry) Identity(addr crypto.Address) (*Identity, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	record, err := r.state.IdentityGet(addr)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

type identityEvent struct {
	evt *types.Event
}

func (e identityEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e identityEvent) Event() *types.Event { return e.evt }

func (r *Registry) emit(event *types.Event) {
	if r == nil || r.emitter == nil || event == nil {
		return
	}
	r.emitter.Emit(identityEvent{evt: event})
}
