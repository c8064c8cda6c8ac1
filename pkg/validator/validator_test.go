package validator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ava-labs/libevm/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/miles-six/hub-monorepo/internal/repository/inmemory"
	"github.com/miles-six/hub-monorepo/pkg/oracle"
	"github.com/miles-six/hub-monorepo/pkg/types"
	"github.com/miles-six/hub-monorepo/pkg/validator"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, name string) (common.Address, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(common.Address), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishRevocation(ctx context.Context, r types.Revocation) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

var (
	keyK     = []byte("key-k")
	keyJ     = []byte("key-j")
	custody  = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	stranger = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

func unixAt(ts uint32) uint64 {
	return uint64(types.FarcasterEpoch/1000) + uint64(ts)
}

func hash(b byte) types.MessageHash {
	var h types.MessageHash
	h[19] = b
	return h
}

func signer(fid types.Fid, block uint64, ts uint32, key []byte, et types.SignerEventType) types.OnChainEvent {
	return types.OnChainEvent{
		Type:           types.OnChainEventTypeSigner,
		Fid:            fid,
		BlockNumber:    block,
		BlockTimestamp: unixAt(ts),
		SignerBody:     &types.SignerEventBody{Key: key, KeyType: 1, EventType: et},
	}
}

func register(fid types.Fid, block uint64, ts uint32, to common.Address) types.OnChainEvent {
	return types.OnChainEvent{
		Type:           types.OnChainEventTypeIDRegister,
		Fid:            fid,
		BlockNumber:    block,
		BlockTimestamp: unixAt(ts),
		IDRegisterBody: &types.IDRegisterEventBody{To: to, EventType: types.IDRegisterEventTypeRegister},
	}
}

func cast(fid types.Fid, h byte, ts uint32, key []byte) types.Message {
	return types.Message{
		Hash:      hash(h),
		Fid:       fid,
		Type:      types.MessageTypeCastAdd,
		Timestamp: ts,
		Signer:    key,
		Body:      types.SignedData{Data: []byte("hello")},
	}
}

func proof(fid types.Fid, h byte, ts uint32, key []byte, ut types.UsernameType, name string, owner common.Address) types.Message {
	return types.Message{
		Hash:      hash(h),
		Fid:       fid,
		Type:      types.MessageTypeUsernameProof,
		Timestamp: ts,
		Signer:    key,
		Body:      &types.UsernameProof{Name: name, Owner: owner, Type: ut, Fid: fid},
	}
}

type fixture struct {
	events    *inmemory.EventIndex
	store     *inmemory.MessageStore
	resolver  *mockResolver
	publisher *mockPublisher
	logs      *observer.ObservedLogs
	validator *validator.Validator
}

func newFixture(t *testing.T, cfg validator.Config) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(zapcore.NewTee(core, zaptest.NewLogger(t).Core())).Sugar()

	f := &fixture{
		events:    inmemory.NewEventIndex(),
		store:     inmemory.NewMessageStore(),
		resolver:  &mockResolver{},
		publisher: &mockPublisher{},
		logs:      logs,
	}
	o, err := oracle.New(log, f.events, f.resolver, oracle.DefaultConfig(), nil)
	require.NoError(t, err)
	f.validator, err = validator.New(log, o, f.store, f.store, f.publisher, cfg, nil)
	require.NoError(t, err)
	return f
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	log := zap.NewNop().Sugar()
	store := inmemory.NewMessageStore()
	o, err := oracle.New(log, inmemory.NewEventIndex(), nil, oracle.DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = validator.New(nil, o, store, store, nil, validator.DefaultConfig(), nil)
	require.ErrorContains(t, err, "invalid logger")

	_, err = validator.New(log, nil, store, store, nil, validator.DefaultConfig(), nil)
	require.ErrorContains(t, err, "invalid dependencies")

	_, err = validator.New(log, o, store, store, nil, validator.Config{}, nil)
	require.ErrorContains(t, err, "message concurrency")

	v, err := validator.New(log, o, store, store, nil, validator.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestCheckFid_SkipsUnchangedWithoutReadingMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(register(7, 1, 10, custody), signer(7, 2, 50, keyK, types.SignerEventTypeAdd))
	f.store.Put(cast(7, 1, 60, keyK), proof(7, 2, 80, keyK, types.UsernameTypeFname, "alice", custody))

	res, err := f.validator.CheckFid(t.Context(), 7, 100)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Zero(t, res.Checked)
	require.Equal(t, 0, f.store.Reads())
}

func TestCheckFid_SkipTest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		events   []types.OnChainEvent
		messages []types.Message
		since    uint32
		skipped  bool
	}{
		{
			name:    "first run never skips",
			events:  []types.OnChainEvent{signer(7, 1, 50, keyK, types.SignerEventTypeAdd)},
			since:   0,
			skipped: false,
		},
		{
			name: "signer change after watermark",
			events: []types.OnChainEvent{
				signer(7, 1, 50, keyK, types.SignerEventTypeAdd),
				signer(7, 2, 150, keyK, types.SignerEventTypeRemove),
			},
			since:   100,
			skipped: false,
		},
		{
			name: "custody transfer after watermark",
			events: []types.OnChainEvent{
				signer(7, 1, 50, keyK, types.SignerEventTypeAdd),
				register(7, 2, 150, stranger),
			},
			since:   100,
			skipped: false,
		},
		{
			name:     "username proof after watermark",
			events:   []types.OnChainEvent{signer(7, 1, 50, keyK, types.SignerEventTypeAdd), register(7, 2, 20, custody)},
			messages: []types.Message{proof(7, 1, 150, keyK, types.UsernameTypeFname, "bob", custody)},
			since:    100,
			skipped:  false,
		},
		{
			name:     "username proof exactly at watermark",
			events:   []types.OnChainEvent{signer(7, 1, 50, keyK, types.SignerEventTypeAdd), register(7, 2, 20, custody)},
			messages: []types.Message{proof(7, 1, 100, keyK, types.UsernameTypeFname, "bob", custody)},
			since:    100,
			skipped:  true,
		},
		{
			name:    "no events at all",
			since:   100,
			skipped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, validator.DefaultConfig())
			f.events.Add(tt.events...)
			f.store.Put(tt.messages...)
			f.publisher.On("PublishRevocation", mock.Anything, mock.Anything).Return(nil).Maybe()

			res, err := f.validator.CheckFid(t.Context(), 7, tt.since)
			require.NoError(t, err)
			assert.Equal(t, tt.skipped, res.Skipped)
			if tt.skipped {
				assert.Equal(t, 0, f.store.Reads())
			} else {
				assert.Equal(t, 1, f.store.Reads())
			}
		})
	}
}

func TestCheckFid_RevokesMessagesOfRemovedSigner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(
		signer(9, 1, 10, keyK, types.SignerEventTypeAdd),
		signer(9, 2, 20, keyJ, types.SignerEventTypeAdd),
		signer(9, 3, 30, keyJ, types.SignerEventTypeRemove),
	)
	f.store.Put(cast(9, 1, 15, keyK), cast(9, 2, 25, keyJ), cast(9, 3, 26, keyJ))
	f.publisher.On("PublishRevocation", mock.Anything, mock.MatchedBy(func(r types.Revocation) bool {
		return r.Fid == 9 && r.Reason == types.RevocationReasonSignerInvalid && r.TypeName == "cast_add"
	})).Return(nil).Twice()

	res, err := f.validator.CheckFid(t.Context(), 9, 0)
	require.NoError(t, err)
	require.Equal(t, validator.Result{Checked: 3, Revoked: 2}, res)

	require.True(t, f.store.Has(9, hash(1)))
	require.False(t, f.store.Has(9, hash(2)))
	require.False(t, f.store.Has(9, hash(3)))
	f.publisher.AssertExpectations(t)
}

func TestCheckFid_AdminResetRevokes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(
		signer(9, 1, 10, keyK, types.SignerEventTypeAdd),
		signer(9, 2, 20, keyK, types.SignerEventTypeAdminReset),
	)
	f.store.Put(cast(9, 1, 15, keyK))
	f.publisher.On("PublishRevocation", mock.Anything, mock.Anything).Return(nil)

	res, err := f.validator.CheckFid(t.Context(), 9, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), res.Revoked)
	require.Equal(t, 0, f.store.Count(9))
}

func TestCheckFid_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(
		signer(9, 1, 10, keyK, types.SignerEventTypeAdd),
		signer(9, 2, 20, keyK, types.SignerEventTypeRemove),
		signer(9, 3, 20, keyJ, types.SignerEventTypeAdd),
	)
	f.store.Put(cast(9, 1, 15, keyK), cast(9, 2, 25, keyJ))
	f.publisher.On("PublishRevocation", mock.Anything, mock.Anything).Return(nil)

	first, err := f.validator.CheckFid(t.Context(), 9, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), first.Revoked)

	second, err := f.validator.CheckFid(t.Context(), 9, 0)
	require.NoError(t, err)
	require.Equal(t, validator.Result{Checked: 1}, second)
	require.True(t, f.store.Has(9, hash(2)))
	f.publisher.AssertNumberOfCalls(t, "PublishRevocation", 1)
}

func TestCheckFid_UsernameProofs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		msg        types.Message
		resolveTo  common.Address
		resolveErr error
		want       validator.Result
		kept       bool
	}{
		{
			name: "fname owned by custody",
			msg:  proof(4, 1, 40, keyK, types.UsernameTypeFname, "alice", custody),
			want: validator.Result{Checked: 1},
			kept: true,
		},
		{
			name: "fname after custody moved",
			msg:  proof(4, 1, 40, keyK, types.UsernameTypeFname, "alice", stranger),
			want: validator.Result{Checked: 1, Revoked: 1},
		},
		{
			name:      "ens resolves to owner",
			msg:       proof(4, 1, 40, keyK, types.UsernameTypeEnsL1, "alice.eth", custody),
			resolveTo: custody,
			want:      validator.Result{Checked: 1},
			kept:      true,
		},
		{
			name:      "ens resolves elsewhere",
			msg:       proof(4, 1, 40, keyK, types.UsernameTypeEnsL1, "alice.eth", custody),
			resolveTo: stranger,
			want:      validator.Result{Checked: 1, Revoked: 1},
		},
		{
			name:       "ens name gone",
			msg:        proof(4, 1, 40, keyK, types.UsernameTypeEnsL1, "alice.eth", custody),
			resolveErr: oracle.ErrNameNotFound,
			want:       validator.Result{Checked: 1, Revoked: 1},
		},
		{
			name:       "ens lookup failed",
			msg:        proof(4, 1, 40, keyK, types.UsernameTypeEnsL1, "alice.eth", custody),
			resolveErr: errors.New("rpc unavailable"),
			want:       validator.Result{Checked: 1, Deferred: 1},
			kept:       true,
		},
		{
			name: "proof signed by unknown key",
			msg:  proof(4, 1, 40, keyJ, types.UsernameTypeEnsL1, "alice.eth", custody),
			want: validator.Result{Checked: 1, Revoked: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, validator.DefaultConfig())
			f.events.Add(register(4, 1, 5, custody), signer(4, 2, 10, keyK, types.SignerEventTypeAdd))
			f.store.Put(tt.msg)
			f.resolver.On("Resolve", mock.Anything, "alice.eth").Return(tt.resolveTo, tt.resolveErr).Maybe()
			f.publisher.On("PublishRevocation", mock.Anything, mock.Anything).Return(nil).Maybe()

			res, err := f.validator.CheckFid(t.Context(), 4, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			assert.Equal(t, tt.kept, f.store.Has(4, tt.msg.Hash))
		})
	}
}

func TestCheckFid_ProofForAnotherFidIsRevoked(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(
		register(4, 1, 5, custody),
		signer(4, 2, 10, keyK, types.SignerEventTypeAdd),
		register(5, 3, 5, stranger),
	)
	msg := proof(4, 1, 40, keyK, types.UsernameTypeFname, "alice", stranger)
	msg.Body.(*types.UsernameProof).Fid = 5
	f.store.Put(msg)
	f.publisher.On("PublishRevocation", mock.Anything, mock.MatchedBy(func(r types.Revocation) bool {
		return r.Fid == 4 && r.Reason == types.RevocationReasonFidMismatch
	})).Return(nil).Once()

	res, err := f.validator.CheckFid(t.Context(), 4, 0)
	require.NoError(t, err)
	require.Equal(t, validator.Result{Checked: 1, Revoked: 1}, res)
	require.False(t, f.store.Has(4, msg.Hash))
	f.publisher.AssertExpectations(t)
}

func TestCheckFid_IndeterminateNeverRevokes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(register(4, 1, 5, custody), signer(4, 2, 10, keyK, types.SignerEventTypeAdd))
	for i := byte(1); i <= 10; i++ {
		f.store.Put(proof(4, i, 40+uint32(i), keyK, types.UsernameTypeEnsL1, "alice.eth", custody))
	}
	f.resolver.On("Resolve", mock.Anything, "alice.eth").Return(common.Address{}, context.DeadlineExceeded)

	res, err := f.validator.CheckFid(t.Context(), 4, 0)
	require.NoError(t, err)
	require.Equal(t, validator.Result{Checked: 10, Deferred: 10}, res)
	require.Equal(t, 10, f.store.Count(4))
	require.Equal(t, 0, f.store.Deletes())
	f.publisher.AssertNotCalled(t, "PublishRevocation", mock.Anything, mock.Anything)
}

func TestCheckFid_DeleteFailureIsLoggedAndCounted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(signer(5, 1, 10, keyK, types.SignerEventTypeAdd), signer(5, 2, 20, keyK, types.SignerEventTypeRemove))
	f.store.Put(cast(5, 1, 15, keyK), cast(5, 2, 16, keyK))
	f.store.FailDelete(hash(1), errors.New("disk full"))
	f.publisher.On("PublishRevocation", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := f.validator.CheckFid(t.Context(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, validator.Result{Checked: 2, Revoked: 1, Failed: 1}, res)
	require.True(t, f.store.Has(5, hash(1)))
	require.False(t, f.store.Has(5, hash(2)))

	entries := f.logs.FilterMessage("failed to revoke message").All()
	require.Len(t, entries, 1)
	require.Equal(t, "disk full", entries[0].ContextMap()["error"])
}

func TestCheckFid_PublishFailureDoesNotFailRevocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(signer(5, 1, 10, keyK, types.SignerEventTypeAdd), signer(5, 2, 20, keyK, types.SignerEventTypeRemove))
	f.store.Put(cast(5, 1, 15, keyK))
	f.publisher.On("PublishRevocation", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	res, err := f.validator.CheckFid(t.Context(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), res.Revoked)
	require.Equal(t, 1, f.logs.FilterMessage("failed to publish revocation").Len())
}

func TestCheckFid_StoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")

	t.Run("message enumeration", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, validator.DefaultConfig())
		f.events.Add(signer(5, 1, 10, keyK, types.SignerEventTypeAdd))
		f.store.FailReads(5, boom)

		_, err := f.validator.CheckFid(t.Context(), 5, 0)
		require.ErrorIs(t, err, validator.ErrStoreIO)
		require.ErrorIs(t, err, boom)
	})

	t.Run("event index", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, validator.DefaultConfig())
		f.store.Put(cast(5, 1, 15, keyK))
		f.events.Fail(5, boom)

		_, err := f.validator.CheckFid(t.Context(), 5, 0)
		require.ErrorIs(t, err, validator.ErrStoreIO)
		require.True(t, f.store.Has(5, hash(1)))
	})

	t.Run("skip test", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, validator.DefaultConfig())
		f.events.Fail(5, boom)

		_, err := f.validator.CheckFid(t.Context(), 5, 100)
		require.ErrorIs(t, err, validator.ErrStoreIO)
	})
}

func TestCheckFid_DryRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.Config{MessageConcurrency: 2, DryRun: true})
	f.events.Add(signer(5, 1, 10, keyK, types.SignerEventTypeAdd), signer(5, 2, 20, keyK, types.SignerEventTypeRemove))
	f.store.Put(cast(5, 1, 15, keyK), cast(5, 2, 16, keyK))

	res, err := f.validator.CheckFid(t.Context(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, validator.Result{Checked: 2, Revoked: 2}, res)
	require.Equal(t, 2, f.store.Count(5))
	require.Equal(t, 2, f.logs.FilterMessage("dry run: message would be revoked").Len())
	f.publisher.AssertNotCalled(t, "PublishRevocation", mock.Anything, mock.Anything)
}

type unknownBody struct{ types.SignedData }

func TestCheckFid_UnknownBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(signer(5, 1, 10, keyK, types.SignerEventTypeAdd))
	msg := cast(5, 1, 15, keyK)
	msg.Body = unknownBody{}
	f.store.Put(msg)

	res, err := f.validator.CheckFid(t.Context(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, validator.Result{Checked: 1, Failed: 1}, res)
	require.True(t, f.store.Has(5, hash(1)))
}

func TestCheckFid_Cancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(signer(5, 1, 10, keyK, types.SignerEventTypeAdd))
	f.store.Put(cast(5, 1, 15, keyK))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := f.validator.CheckFid(ctx, 5, 0)
	require.ErrorIs(t, err, context.Canceled)
}

// Key K is added at t=100 and removed at t=300; two casts it signed at t=150
// and t=200 are revoked by the pass that runs with watermark 250.
func TestCheckFid_CanonicalRevocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, validator.DefaultConfig())
	f.events.Add(
		register(42, 1, 50, custody),
		signer(42, 2, 100, keyK, types.SignerEventTypeAdd),
		signer(42, 3, 300, keyK, types.SignerEventTypeRemove),
	)
	f.store.Put(cast(42, 1, 150, keyK), cast(42, 2, 200, keyK))
	f.publisher.On("PublishRevocation", mock.Anything, mock.Anything).Return(nil)

	res, err := f.validator.CheckFid(t.Context(), 42, 250)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, uint32(2), res.Checked)
	require.Equal(t, uint32(2), res.Revoked)
	require.Equal(t, 0, f.store.Count(42))
}
