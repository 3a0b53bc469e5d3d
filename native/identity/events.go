package identity

import (
	"strconv"

	"valchi/core/types"
)

const (
	// TypeIdentityApproved marks a successful whitelist approval.
	TypeIdentityApproved = "identity.approved"
	// TypeIdentityRevoked marks a revocation of an existing identity.
	TypeIdentityRevoked = "identity.revoked"
)

func newApprovedEvent(record *Identity) *types.Event {
	if record == nil {
		return nil
	}
	return &types.Event{
		Type: TypeIdentityApproved,
		Attributes: map[string]string{
			"address":  record.Address.String(),
			"label":    record.Label,
			"issuer":   record.Issuer.String(),
			"issuedAt": strconv.FormatInt(record.IssuedAt, 10),
		},
	}
}

func newRevokedEvent(record *Identity) *types.Event {
	if record == nil {
		return nil
	}
	return &types.Event{
		Type: TypeIdentityRevoked,
		Attributes: map[string]string{
			"address": record.Address.String(),
			"label":   record.Label,
		},
	}
}
