package types

import (
	"cmp"
	"slices"

	"github.com/ava-labs/libevm/common"
)

// Fid is the numeric account id of a network user.
type Fid = uint64

type OnChainEventType uint8

const (
	OnChainEventTypeNone OnChainEventType = iota
	OnChainEventTypeSigner
	OnChainEventTypeSignerMigrated
	OnChainEventTypeIDRegister
	OnChainEventTypeStorageRent
)

func (t OnChainEventType) String() string {
	switch t {
	case OnChainEventTypeSigner:
		return "signer"
	case OnChainEventTypeSignerMigrated:
		return "signer_migrated"
	case OnChainEventTypeIDRegister:
		return "id_register"
	case OnChainEventTypeStorageRent:
		return "storage_rent"
	default:
		return "none"
	}
}

type SignerEventType uint8

const (
	SignerEventTypeNone SignerEventType = iota
	SignerEventTypeAdd
	SignerEventTypeRemove
	SignerEventTypeAdminReset
)

type IDRegisterEventType uint8

const (
	IDRegisterEventTypeNone IDRegisterEventType = iota
	IDRegisterEventTypeRegister
	IDRegisterEventTypeTransfer
	IDRegisterEventTypeChangeRecovery
)

// OnChainEvent is a single event emitted by the registry contracts and indexed
// by the hub. Body holds the type specific payload.
type OnChainEvent struct {
	Type           OnChainEventType `json:"type"`
	Fid            Fid              `json:"fid"`
	BlockNumber    uint64           `json:"blockNumber"`
	BlockTimestamp uint64           `json:"blockTimestamp"` // unix seconds
	LogIndex       uint32           `json:"logIndex"`
	TxHash         common.Hash      `json:"txHash"`

	SignerBody      *SignerEventBody      `json:"signerBody,omitempty"`
	IDRegisterBody  *IDRegisterEventBody  `json:"idRegisterBody,omitempty"`
	StorageRentBody *StorageRentEventBody `json:"storageRentBody,omitempty"`
}

type SignerEventBody struct {
	Key       []byte          `json:"key"`
	KeyType   uint32          `json:"keyType"`
	EventType SignerEventType `json:"eventType"`
}

type IDRegisterEventBody struct {
	To        common.Address      `json:"to"`
	From      common.Address      `json:"from"`
	EventType IDRegisterEventType `json:"eventType"`
}

type StorageRentEventBody struct {
	Payer common.Address `json:"payer"`
	Units uint32         `json:"units"`
}

// EffectiveTimestamp is the event's block time in farcaster seconds.
func (e OnChainEvent) EffectiveTimestamp() uint32 {
	return UnixToFarcasterTime(e.BlockTimestamp)
}

// CompareEvents orders events by block number, then log index.
func CompareEvents(a, b OnChainEvent) int {
	if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
		return c
	}
	return cmp.Compare(a.LogIndex, b.LogIndex)
}

// SortEvents sorts events in chain order in place.
func SortEvents(events []OnChainEvent) {
	slices.SortStableFunc(events, CompareEvents)
}
