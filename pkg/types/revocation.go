package types

// RevocationReason describes why a stored message was revoked.
type RevocationReason string

const (
	RevocationReasonSignerInvalid   RevocationReason = "signer_invalid"
	RevocationReasonOwnerMismatch   RevocationReason = "owner_mismatch"
	RevocationReasonNameNotResolved RevocationReason = "name_not_resolved"
	RevocationReasonFidMismatch     RevocationReason = "fid_mismatch"
)

// Revocation describes a message removed from the store because it is no
// longer valid.
type Revocation struct {
	Fid       Fid              `json:"fid"`
	Hash      MessageHash      `json:"-"`
	HashHex   string           `json:"hash"`
	Type      MessageType      `json:"-"`
	TypeName  string           `json:"type"`
	Reason    RevocationReason `json:"reason"`
	RevokedAt uint32           `json:"revokedAt"` // farcaster seconds
}

// NewRevocation builds a Revocation for msg.
func NewRevocation(msg Message, reason RevocationReason, at uint32) Revocation {
	return Revocation{
		Fid:       msg.Fid,
		Hash:      msg.Hash,
		HashHex:   msg.Hash.String(),
		Type:      msg.Type,
		TypeName:  msg.Type.String(),
		Reason:    reason,
		RevokedAt: at,
	}
}
