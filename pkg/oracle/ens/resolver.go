package ens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	ethereum "github.com/ava-labs/libevm"
	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/crypto"
	"github.com/ava-labs/libevm/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/miles-six/hub-monorepo/pkg/metrics"
	"github.com/miles-six/hub-monorepo/pkg/oracle"
)

const (
	methodResolver = "resolver"
	methodAddr     = "addr"
)

var (
	// resolver(bytes32)
	resolverSelector = []byte{0x01, 0x78, 0xb8, 0xbf}
	// addr(bytes32)
	addrSelector = []byte{0x3b, 0x3b, 0x57, 0xde}
)

// Resolver resolves ENS names to addresses through the on-chain registry.
type Resolver struct {
	caller   ethereum.ContractCaller
	registry common.Address
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// Dial connects to the configured RPC endpoint and returns a Resolver backed by it.
// The returned close function releases the connection.
func Dial(ctx context.Context, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*Resolver, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ens rpc: %w", err)
	}
	r, err := New(client, cfg, log, m)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return r, client.Close, nil
}

// New creates a Resolver using caller for contract calls. m may be nil.
func New(caller ethereum.ContractCaller, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*Resolver, error) {
	if caller == nil {
		return nil, errors.New("invalid contract caller: must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		caller:   caller,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		log:      log,
		metrics:  m,
	}, nil
}

// Resolve returns the address name resolves to. It returns oracle.ErrNameNotFound
// when the name has no resolver or resolves to the zero address. Any other error
// is transient.
func (r *Resolver) Resolve(ctx context.Context, name string) (common.Address, error) {
	node, err := Namehash(name)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", oracle.ErrNameNotFound, err)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return common.Address{}, err
	}
	defer r.sem.Release(1)

	resolverAddr, err := r.callAddress(ctx, methodResolver, r.registry, resolverSelector, node)
	if err != nil {
		return common.Address{}, err
	}
	if resolverAddr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s has no resolver", oracle.ErrNameNotFound, name)
	}

	addr, err := r.callAddress(ctx, methodAddr, resolverAddr, addrSelector, node)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s has no address record", oracle.ErrNameNotFound, name)
	}

	r.log.Debugw("resolved ens name",
		"name", name,
		"address", addr.Hex(),
	)
	return addr, nil
}

// callAddress invokes a single-argument view returning an address-sized word.
// An empty return (no contract at to) reads as the zero address.
func (r *Resolver) callAddress(
	ctx context.Context,
	method string,
	to common.Address,
	selector []byte,
	node common.Hash,
) (common.Address, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return common.Address{}, err
	}

	data := make([]byte, 0, len(selector)+common.HashLength)
	data = append(data, selector...)
	data = append(data, node.Bytes()...)

	r.metrics.IncRPCInFlight()
	defer r.metrics.DecRPCInFlight()

	start := time.Now()
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	r.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	if err != nil {
		return common.Address{}, fmt.Errorf("ens %s call to %s: %w", method, to.Hex(), err)
	}

	switch {
	case len(out) == 0:
		return common.Address{}, nil
	case len(out) < common.HashLength:
		return common.Address{}, fmt.Errorf("ens %s call to %s: short return data (%d bytes)", method, to.Hex(), len(out))
	}
	return common.BytesToAddress(out[:common.HashLength]), nil
}

// Namehash computes the EIP-137 node of name. Labels are lowercased; full
// UTS-46 normalization is left to the name issuer. Names containing whitespace
// are rejected.
func Namehash(name string) (common.Hash, error) {
	if name == "" {
		return common.Hash{}, errors.New("empty ens name")
	}
	if strings.ContainsFunc(name, unicode.IsSpace) {
		return common.Hash{}, fmt.Errorf("invalid ens name %q: contains whitespace", name)
	}
	name = strings.ToLower(name)

	var node common.Hash
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] == "" {
			return common.Hash{}, fmt.Errorf("invalid ens name %q: empty label", name)
		}
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), labelHash))
	}
	return node, nil
}
