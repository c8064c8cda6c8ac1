package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ava-labs/libevm/common"
)

// MessageHashLength is the length of a message hash (truncated blake3).
const MessageHashLength = 20

type MessageHash [MessageHashLength]byte

func (h MessageHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseMessageHash parses a hex encoded hash with or without 0x prefix.
func ParseMessageHash(s string) (MessageHash, error) {
	var h MessageHash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid message hash %q: %w", s, err)
	}
	if len(b) != MessageHashLength {
		return h, fmt.Errorf("invalid message hash %q: expected %d bytes, got %d", s, MessageHashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

type MessageType uint8

const (
	MessageTypeNone MessageType = iota
	MessageTypeCastAdd
	MessageTypeCastRemove
	MessageTypeReactionAdd
	MessageTypeReactionRemove
	MessageTypeLinkAdd
	MessageTypeLinkRemove
	MessageTypeVerificationAdd
	MessageTypeVerificationRemove
	MessageTypeUserDataAdd
	MessageTypeUsernameProof
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCastAdd:
		return "cast_add"
	case MessageTypeCastRemove:
		return "cast_remove"
	case MessageTypeReactionAdd:
		return "reaction_add"
	case MessageTypeReactionRemove:
		return "reaction_remove"
	case MessageTypeLinkAdd:
		return "link_add"
	case MessageTypeLinkRemove:
		return "link_remove"
	case MessageTypeVerificationAdd:
		return "verification_add"
	case MessageTypeVerificationRemove:
		return "verification_remove"
	case MessageTypeUserDataAdd:
		return "user_data_add"
	case MessageTypeUsernameProof:
		return "username_proof"
	default:
		return "none"
	}
}

// Message is a stored, signed message. Body is one of SignedData or
// *UsernameProof.
type Message struct {
	Hash      MessageHash
	Fid       Fid
	Type      MessageType
	Timestamp uint32 // farcaster seconds
	Signer    []byte // ed25519 public key
	Body      Body
}

// Body is the closed set of message payloads that carry distinct validity rules.
type Body interface {
	isBody()
}

// SignedData is the payload of every message whose validity depends only on
// its signer.
type SignedData struct {
	Data []byte
}

func (SignedData) isBody() {}

type UsernameType uint8

const (
	UsernameTypeNone UsernameType = iota
	UsernameTypeFname
	UsernameTypeEnsL1
)

func (t UsernameType) String() string {
	switch t {
	case UsernameTypeFname:
		return "fname"
	case UsernameTypeEnsL1:
		return "ens_l1"
	default:
		return "none"
	}
}

// UsernameProof binds a name to an owner address.
type UsernameProof struct {
	Name      string
	Owner     common.Address
	Type      UsernameType
	Timestamp uint64 // unix seconds of the proof itself
	Fid       Fid
}

func (*UsernameProof) isBody() {}
