package registry

import (
	"errors"
	"sync"

	"valchi/crypto"
)

var (
	// ErrUnauthorized is returned when a non-admin caller attempts to mutate
	// protocol configuration.
	ErrUnauthorized = errors.New("protocol registry: caller is not the administrator")
	// ErrInvalidParameter is returned for parameter writes outside their
	// allowed bounds, unknown parameter names, or invalid role bindings.
	ErrInvalidParameter = errors.New("protocol registry: invalid parameter")
)

// Role identifies the protocol components resolvable through the registry
// directory. The integer values mirror the external directory convention and
// only appear at the serialization boundary.
type Role uint8

const (
	RoleIdentity        Role = 1
	RoleDealFactory     Role = 2
	RoleInvestorsRouter Role = 3
	RoleLiquidityPool   Role = 4
	RoleConversionPool  Role = 5
)

// Valid reports whether the role is one of the directory entries.
func (r Role) Valid() bool {
	switch r {
	case RoleIdentity, RoleDealFactory, RoleInvestorsRouter, RoleLiquidityPool, RoleConversionPool:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	switch r {
	case RoleIdentity:
		return "identity"
	case RoleDealFactory:
		return "dealFactory"
	case RoleInvestorsRouter:
		return "investorsRouter"
	case RoleLiquidityPool:
		return "liquidityPool"
	case RoleConversionPool:
		return "conversionPool"
	default:
		return "unknown"
	}
}

// Parameter names accepted by SetParameter.
const (
	ParamLeverage               = "leverage"
	ParamUnderwriterFeeBps      = "underwriterFeeBps"
	ParamPerformanceFeeBps      = "performanceFeeBps"
	ParamDefaultReserveRatioBps = "defaultReserveRatioBps"
)

const maxBps = 10_000

// Params groups the protocol-wide economic parameters. All fee and ratio
// values are basis points in [0, 10000]; leverage is a positive integer
// multiplier capping senior exposure against junior first-loss capital.
type Params struct {
	Leverage               uint64 `json:"leverage"`
	UnderwriterFeeBps      uint64 `json:"underwriterFeeBps"`
	PerformanceFeeBps      uint64 `json:"performanceFeeBps"`
	DefaultReserveRatioBps uint64 `json:"defaultReserveRatioBps"`
}

// Validate checks every field against its documented bound.
func (p Params) Validate() error {
	if p.Leverage == 0 {
		return ErrInvalidParameter
	}
	if p.UnderwriterFeeBps > maxBps || p.PerformanceFeeBps > maxBps || p.DefaultReserveRatioBps > maxBps {
		return ErrInvalidParameter
	}
	return nil
}

// Snapshot is the immutable view a dependent component captures at
// construction time. Later registry writes never redirect a component that
// already holds a snapshot.
type Snapshot struct {
	params Params
	roles  map[Role]crypto.Address
}

// Params returns the parameter set captured by the snapshot.
func (s *Snapshot) Params() Params {
	if s == nil {
		return Params{}
	}
	return s.params
}

// Role resolves a directory entry from the snapshot.
func (s *Snapshot) Role(r Role) (crypto.Address, bool) {
	if s == nil {
		return crypto.Address{}, false
	}
	addr, ok := s.roles[r]
	return addr, ok
}

// Manager is the process-wide configuration registry ("Manager" in the
// original directory convention): economic parameters plus the role→address
// directory the other components resolve their dependencies from.
type Manager struct {
	mu     sync.Mutex
	admin  crypto.Address
	params Params
	roles  map[Role]crypto.Address
}

// NewManager constructs a registry administered by the given address, seeded
// with the provided parameters.
func NewManager(admin crypto.Address, params Params) (*Manager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		admin:  admin,
		params: params,
		roles:  make(map[Role]crypto.Address),
	}, nil
}

// SetParameter updates a single named parameter. Basis-point parameters must
// stay within [0, 10000]; leverage must be a positive integer.
func (m *Manager) SetParameter(caller crypto.Address, name string, value uint64) error {
	if !caller.Equal(m.admin) {
		return ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch name {
	case ParamLeverage:
		if value == 0 {
			return ErrInvalidParameter
		}
		m.params.Leverage = value
	case ParamUnderwriterFeeBps:
		if value > maxBps {
			return ErrInvalidParameter
		}
		m.params.UnderwriterFeeBps = value
	case ParamPerformanceFeeBps:
		if value > maxBps {
			return ErrInvalidParameter
		}
		m.params.PerformanceFeeBps = value
	case ParamDefaultReserveRatioBps:
		if value > maxBps {
			return ErrInvalidParameter
		}
		m.params.DefaultReserveRatioBps = value
	default:
		return ErrInvalidParameter
	}
	return nil
}

// SetRole binds a directory entry. The binding affects future snapshots only;
// components holding an existing snapshot keep their captured addresses.
func (m *Manager) SetRole(caller crypto.Address, role Role, addr crypto.Address) error {
	if !caller.Equal(m.admin) {
		return ErrUnauthorized
	}
	if !role.Valid() || addr.IsZero() {
		return ErrInvalidParameter
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role] = addr
	return nil
}

// RoleAddress resolves the current binding for a role.
func (m *Manager) RoleAddress(role Role) (crypto.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.roles[role]
	return addr, ok
}

// Params returns a copy of the current parameter set.
func (m *Manager) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// Snapshot captures the current parameters and directory into an immutable
// view for a dependent component.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make(map[Role]crypto.Address, len(m.roles))
	for role, addr := range m.roles {
		roles[role] = addr
	}
	return &Snapshot{params: m.params, roles: roles}
}
