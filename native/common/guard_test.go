package common

import (
	"errors"
	"testing"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "deal"); err != nil {
		t.Fatalf("nil view = %v, want nil", err)
	}
	pauses := pauseMap{"deal": true}
	if err := Guard(pauses, "deal"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("paused module = %v, want ErrModulePaused", err)
	}
	if err := Guard(pauses, "identity"); err != nil {
		t.Fatalf("unpaused module = %v, want nil", err)
	}
	if err := Guard(pauses, ""); err != nil {
		t.Fatalf("empty module = %v, want nil", err)
	}
}

func TestNewPauseSet(t *testing.T) {
	set := NewPauseSet([]string{"deal", "", "liquidityPool"})
	if !set.IsPaused("deal") || !set.IsPaused("liquidityPool") {
		t.Fatalf("configured modules not paused: %v", set)
	}
	if set.IsPaused("identity") {
		t.Fatal("unlisted module reported paused")
	}
	if set.IsPaused("") {
		t.Fatal("empty module name reported paused")
	}
	if err := Guard(set, "deal"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("guard on paused set = %v, want ErrModulePaused", err)
	}
}
