package identity

import (
	"bytes"
	"errors"
	"testing"

	"valchi/crypto"
	nativecommon "valchi/native/common"
)

type mockState struct {
	records map[string]*Identity
}

func newMockState() *mockState {
	return &mockState{records: make(map[string]*Identity)}
}

func (m *mockState) IdentityGet(addr crypto.Address) (*Identity, error) {
	return m.records[addr.String()].Clone(), nil
}

func (m *mockState) IdentityPut(record *Identity) error {
	m.records[record.Address.String()] = record.Clone()
	return nil
}

func testAddr(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.ValchiPrefix, bytes.Repeat([]byte{b}, 20))
}

func newTestRegistry(t *testing.T) (*Registry, *mockState, crypto.Address) {
	t.Helper()
	issuer := testAddr(0x01)
	registry := NewRegistry(issuer)
	state := newMockState()
	registry.SetState(state)
	registry.SetNowFunc(func() int64 { return 1_000_000 })
	return registry, state, issuer
}

func TestApproveRequiresIssuer(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	if err := registry.Approve(testAddr(0x02), testAddr(0x03), "ValchiWhitelisted"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("approve by non-issuer = %v, want ErrUnauthorized", err)
	}
}

func TestApproveRequiresLabel(t *testing.T) {
	registry, _, issuer := newTestRegistry(t)
	if err := registry.Approve(issuer, testAddr(0x03), ""); !errors.Is(err, ErrEmptyLabel) {
		t.Fatalf("approve without label = %v, want ErrEmptyLabel", err)
	}
}

func TestApproveAndQuery(t *testing.T) {
	registry, _, issuer := newTestRegistry(t)
	investor := testAddr(0x03)

	approved, err := registry.IsApproved(investor)
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if approved {
		t.Fatal("fresh address reported approved")
	}

	if err := registry.Approve(issuer, investor, "ValchiWhitelisted"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	approved, err = registry.IsApproved(investor)
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if !approved {
		t.Fatal("approved address reported unapproved")
	}

	record, err := registry.Identity(investor)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if record == nil || record.Label != "ValchiWhitelisted" || !record.Issuer.Equal(issuer) {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestReapprovalOverwritesLabel(t *testing.T) {
	registry, _, issuer := newTestRegistry(t)
	investor := testAddr(0x03)

	if err := registry.Approve(issuer, investor, "first"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := registry.Approve(issuer, investor, "second"); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	record, err := registry.Identity(investor)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if record.Label != "second" {
		t.Fatalf("label = %q, want overwritten %q", record.Label, "second")
	}
}

func TestRevokePreservesHistory(t *testing.T) {
	registry, _, issuer := newTestRegistry(t)
	investor := testAddr(0x03)

	if err := registry.Approve(issuer, investor, "ValchiWhitelisted"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := registry.Revoke(issuer, investor); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	approved, err := registry.IsApproved(investor)
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if approved {
		t.Fatal("revoked address reported approved")
	}
	record, err := registry.Identity(investor)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if record == nil || record.Label != "ValchiWhitelisted" {
		t.Fatalf("revocation dropped the record: %+v", record)
	}
}

func TestRevokeUnknownIsNoop(t *testing.T) {
	registry, state, issuer := newTestRegistry(t)
	if err := registry.Revoke(issuer, testAddr(0x09)); err != nil {
		t.Fatalf("revoke unknown = %v, want nil", err)
	}
	if len(state.records) != 0 {
		t.Fatalf("revoke created %d records", len(state.records))
	}
}

func TestPausedRegistryRejectsWrites(t *testing.T) {
	registry, _, issuer := newTestRegistry(t)
	registry.SetPauses(nativecommon.NewPauseSet([]string{"identity"}))

	if err := registry.Approve(issuer, testAddr(0x03), "ValchiWhitelisted"); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("approve while paused = %v, want ErrModulePaused", err)
	}
	if err := registry.Revoke(issuer, testAddr(0x03)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("revoke while paused = %v, want ErrModulePaused", err)
	}
}

func TestRevokeRequiresIssuer(t *testing.T) {
	registry, _, issuer := newTestRegistry(t)
	investor := testAddr(0x03)
	if err := registry.Approve(issuer, investor, "ValchiWhitelisted"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := registry.Revoke(testAddr(0x04), investor); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoke by non-issuer = %v, want ErrUnauthorized", err)
	}
}
