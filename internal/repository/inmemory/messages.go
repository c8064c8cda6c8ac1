package inmemory

import (
	"context"
	"slices"
	"sync"

	"github.com/miles-six/hub-monorepo/pkg/types"
	"github.com/miles-six/hub-monorepo/pkg/validator"
)

var (
	_ validator.MessageStore       = (*MessageStore)(nil)
	_ validator.UsernameProofIndex = (*MessageStore)(nil)
)

// MessageStore is a thread-safe in-memory message store. It also serves as
// the username proof index for the messages it holds.
type MessageStore struct {
	mu       sync.Mutex
	messages map[types.Fid]map[types.MessageHash]types.Message

	readErrs   map[types.Fid]error
	deleteErrs map[types.MessageHash]error
	reads      int
	deletes    int
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages:   make(map[types.Fid]map[types.MessageHash]types.Message),
		readErrs:   make(map[types.Fid]error),
		deleteErrs: make(map[types.MessageHash]error),
	}
}

// Put stores msg, replacing any message with the same hash.
func (s *MessageStore) Put(msgs ...types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		byHash, ok := s.messages[msg.Fid]
		if !ok {
			byHash = make(map[types.MessageHash]types.Message)
			s.messages[msg.Fid] = byHash
		}
		byHash[msg.Hash] = msg
	}
}

// FailReads makes every read for fid return err. A nil err clears it.
func (s *MessageStore) FailReads(fid types.Fid, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErrs, fid)
		return
	}
	s.readErrs[fid] = err
}

// FailDelete makes deleting hash return err. A nil err clears it.
func (s *MessageStore) FailDelete(hash types.MessageHash, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.deleteErrs, hash)
		return
	}
	s.deleteErrs[hash] = err
}

// MessagesByFid returns the messages of fid ordered by timestamp, then hash.
func (s *MessageStore) MessagesByFid(_ context.Context, fid types.Fid) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if err := s.readErrs[fid]; err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(s.messages[fid]))
	for _, msg := range s.messages[fid] {
		out = append(out, msg)
	}
	slices.SortFunc(out, func(a, b types.Message) int {
		if a.Timestamp != b.Timestamp {
			if a.Timestamp < b.Timestamp {
				return -1
			}
			return 1
		}
		return slices.Compare(a.Hash[:], b.Hash[:])
	})
	return out, nil
}

// DeleteMessage removes a message. Absent messages are ignored.
func (s *MessageStore) DeleteMessage(_ context.Context, fid types.Fid, hash types.MessageHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErrs[hash]; err != nil {
		return err
	}
	s.deletes++
	delete(s.messages[fid], hash)
	return nil
}

// LatestUsernameProofTimestamp returns the newest username proof timestamp of fid.
func (s *MessageStore) LatestUsernameProofTimestamp(_ context.Context, fid types.Fid) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErrs[fid]; err != nil {
		return 0, false, err
	}
	var (
		latest uint32
		found  bool
	)
	for _, msg := range s.messages[fid] {
		if msg.Type != types.MessageTypeUsernameProof {
			continue
		}
		if !found || msg.Timestamp > latest {
			latest = msg.Timestamp
			found = true
		}
	}
	return latest, found, nil
}

// Has reports whether the message is stored.
func (s *MessageStore) Has(fid types.Fid, hash types.MessageHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[fid][hash]
	return ok
}

// Count returns the number of messages stored for fid.
func (s *MessageStore) Count(fid types.Fid) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[fid])
}

// Reads returns how many times MessagesByFid was called.
func (s *MessageStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Deletes returns how many deletions succeeded.
func (s *MessageStore) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}
