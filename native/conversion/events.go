package conversion

import (
	"strconv"

	"valchi/core/types"
)

const (
	TypeCycleOpened  = "conversion.cycle.opened"
	TypeCycleSettled = "conversion.cycle.settled"
)

func newCycleOpenedEvent(c *Cycle) *types.Event {
	if c == nil {
		return nil
	}
	return &types.Event{
		Type: TypeCycleOpened,
		Attributes: map[string]string{
			"index":     strconv.FormatUint(c.Index, 10),
			"start":     strconv.FormatInt(c.StartTime, 10),
			"end":       strconv.FormatInt(c.EndTime, 10),
			"navBefore": c.NavBefore.String(),
		},
	}
}

func newCycleSettledEvent(c *Cycle) *types.Event {
	if c == nil {
		return nil
	}
	return &types.Event{
		Type: TypeCycleSettled,
		Attributes: map[string]string{
			"index":    strconv.FormatUint(c.Index, 10),
			"navAfter": c.NavAfter.String(),
			"netFlow":  c.NetFlow.String(),
		},
	}
}
