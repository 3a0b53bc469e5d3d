package common

import "errors"

// ErrModulePaused is returned when an operator has halted a module's flows.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseSet is a fixed PauseView over a set of module names, typically built
// from the operator's configuration at startup.
type PauseSet map[string]struct{}

// NewPauseSet builds a PauseSet from the given module names. Empty names are
// ignored.
func NewPauseSet(modules []string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, module := range modules {
		if module == "" {
			continue
		}
		set[module] = struct{}{}
	}
	return set
}

// IsPaused implements the PauseView interface.
func (p PauseSet) IsPaused(module string) bool {
	_, ok := p[module]
	return ok
}

// Guard rejects state-changing calls against a paused module.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
