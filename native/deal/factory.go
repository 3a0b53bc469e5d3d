package deal

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"valchi/core/events"
	"valchi/crypto"
	"valchi/native/registry"
)

var (
	// ErrInvalidTerms is returned when a deal is created with unusable terms.
	ErrInvalidTerms = errors.New("deal factory: invalid deal terms")

	errNilFactoryState = errors.New("deal factory: state not configured")
	errNilManager      = errors.New("deal factory: protocol registry not configured")
)

type factoryState interface {
	DealGet(id DealID) (*Deal, bool, error)
	DealPut(*Deal) error
	DealIndexAppend(id DealID) error
	DealIndex() ([]DealID, error)
}

// Factory creates and enumerates deals. Each new deal captures a snapshot of
// the protocol registry's parameters at creation time; later registry writes
// never affect deals already created.
type Factory struct {
	mu      sync.Mutex
	state   factoryState
	manager *registry.Manager
	emitter events.Emitter
	nowFn   func() int64
}

// NewFactory constructs a factory bound to the protocol registry.
func NewFactory(manager *registry.Manager) *Factory {
	return &Factory{
		manager: manager,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the factory to the external persistence layer.
func (f *Factory) SetState(state factoryState) { f.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (f *Factory) SetNowFunc(now func() int64) {
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

// CreateDeal registers a new deal in Created status. The junior funding target
// equals the loan principal; the registry parameters are snapshotted into the
// deal so mid-life reconfiguration cannot redirect it.
func (f *Factory) CreateDeal(borrower crypto.Address, principal *big.Int, interestRateBps uint64, termDays uint64, referenceAsset crypto.Address) (DealID, error) {
	if f == nil || f.state == nil {
		return DealID{}, errNilFactoryState
	}
	if f.manager == nil {
		return DealID{}, errNilManager
	}
	if principal == nil || principal.Sign() <= 0 {
		return DealID{}, ErrInvalidTerms
	}
	if borrower.IsZero() || referenceAsset.IsZero() {
		return DealID{}, ErrInvalidTerms
	}
	if termDays == 0 {
		return DealID{}, ErrInvalidTerms
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	index, err := f.state.DealIndex()
	if err != nil {
		return DealID{}, err
	}
	now := f.nowFn()
	id := dealIdentifier(borrower, referenceAsset, principal, uint64(len(index)), now)

	if _, exists, err := f.state.DealGet(id); err != nil {
		return DealID{}, err
	} else if exists {
		return DealID{}, ErrInvalidTerms
	}

	d := &Deal{
		ID:                id,
		Borrower:          borrower,
		Principal:         new(big.Int).Set(principal),
		InterestRateBps:   interestRateBps,
		TermDays:          termDays,
		Status:            DealCreated,
		ReferenceAsset:    referenceAsset,
		Params:            f.manager.Snapshot().Params(),
		CreatedAt:         now,
		JuniorTarget:      new(big.Int).Set(principal),
		TotalOwed:         big.NewInt(0),
		SeniorEntitlement: big.NewInt(0),
		DistributedSenior: big.NewInt(0),
		DistributedJunior: big.NewInt(0),
		Residual:          big.NewInt(0),
		JuniorLoss:        big.NewInt(0),
		SeniorLoss:        big.NewInt(0),
		LastSeniorPayout:  big.NewInt(0),
		LastJuniorPayout:  big.NewInt(0),
	}
	if err := f.state.DealPut(d); err != nil {
		return DealID{}, err
	}
	if err := f.state.DealIndexAppend(id); err != nil {
		return DealID{}, err
	}
	if f.emitter != nil {
		f.emitter.Emit(dealEvent{evt: newCreatedEvent(d)})
	}
	return id, nil
}

// ListDeals returns the deal identifiers in creation order. The slice is a
// fresh copy on every call, so enumeration is restartable.
func (f *Factory) ListDeals() ([]DealID, error) {
	if f == nil || f.state == nil {
		return nil, errNilFactoryState
	}
	index, err := f.state.DealIndex()
	if err != nil {
		return nil, err
	}
	out := make([]DealID, len(index))
	copy(out, index)
	return out, nil
}

func dealIdentifier(borrower, asset crypto.Address, principal *big.Int, seq uint64, createdAt int64) DealID {
	var seqBuf, timeBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	binary.BigEndian.PutUint64(timeBuf[:], uint64(createdAt))
	digest := ethcrypto.Keccak256Hash(borrower.Bytes(), asset.Bytes(), principal.Bytes(), seqBuf[:], timeBuf[:])
	var id DealID
	copy(id[:], digest.Bytes())
	return id
}
