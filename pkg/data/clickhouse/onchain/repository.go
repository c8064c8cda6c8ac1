package onchain

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/hexutil"

	"github.com/miles-six/hub-monorepo/pkg/clickhouse"
	"github.com/miles-six/hub-monorepo/pkg/oracle"
	"github.com/miles-six/hub-monorepo/pkg/types"
)

var _ oracle.EventIndex = (*Repository)(nil)

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/signer-events.sql
var signerEventsQuery string

//go:embed queries/custody-address.sql
var custodyAddressQuery string

//go:embed queries/last-change.sql
var lastChangeQuery string

//go:embed queries/fids.sql
var fidsQuery string

//go:embed queries/max-fid.sql
var maxFidQuery string

// Repository answers on-chain event questions from the onchain_events table.
// Every call reads the current table state.
type Repository struct {
	client    clickhouse.Client
	cluster   string
	database  string
	tableName string
}

// NewRepository creates the repository and ensures the onchain_events table exists.
func NewRepository(ctx context.Context, client clickhouse.Client, cluster, database, tableName string) (*Repository, error) {
	repo := &Repository{
		client:    client,
		cluster:   cluster,
		database:  database,
		tableName: tableName,
	}
	onCluster := ""
	if cluster != "" {
		onCluster = " ON CLUSTER " + cluster
	}
	query := fmt.Sprintf(createTableQuery, database, tableName, onCluster)
	if err := client.Conn().Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create onchain events table: %w", err)
	}
	return repo, nil
}

func (r *Repository) query(tmpl string) string {
	return strings.TrimSpace(fmt.Sprintf(tmpl, r.database, r.tableName))
}

// SignerEvents returns the signer events of fid in chain order.
func (r *Repository) SignerEvents(ctx context.Context, fid types.Fid) ([]types.OnChainEvent, error) {
	rows, err := r.client.Conn().Query(ctx, r.query(signerEventsQuery), fid, uint8(types.OnChainEventTypeSigner))
	if err != nil {
		return nil, fmt.Errorf("failed to query signer events of fid %d: %w", fid, err)
	}
	defer rows.Close()

	var events []types.OnChainEvent
	for rows.Next() {
		var (
			e         = types.OnChainEvent{Type: types.OnChainEventTypeSigner, Fid: fid}
			txHash    string
			key       string
			keyType   uint32
			eventType uint8
		)
		if err := rows.Scan(&e.BlockNumber, &e.BlockTimestamp, &e.LogIndex, &txHash, &key, &keyType, &eventType); err != nil {
			return nil, fmt.Errorf("failed to scan signer event of fid %d: %w", fid, err)
		}
		keyBytes, err := hexutil.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("invalid signer key in block %d: %w", e.BlockNumber, err)
		}
		e.TxHash = common.HexToHash(txHash)
		e.SignerBody = &types.SignerEventBody{
			Key:       keyBytes,
			KeyType:   keyType,
			EventType: types.SignerEventType(eventType),
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signer events of fid %d: %w", fid, err)
	}
	return events, nil
}

// CustodyAddress returns the recipient of the latest register or transfer event of fid.
func (r *Repository) CustodyAddress(ctx context.Context, fid types.Fid) (common.Address, error) {
	var to string
	err := r.client.Conn().QueryRow(ctx, r.query(custodyAddressQuery),
		fid,
		uint8(types.OnChainEventTypeIDRegister),
		uint8(types.IDRegisterEventTypeRegister),
		uint8(types.IDRegisterEventTypeTransfer),
	).Scan(&to)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.Address{}, fmt.Errorf("fid %d: %w", fid, oracle.ErrFidNotRegistered)
		}
		return common.Address{}, fmt.Errorf("failed to query custody address of fid %d: %w", fid, err)
	}
	if !common.IsHexAddress(to) {
		return common.Address{}, fmt.Errorf("invalid custody address %q for fid %d", to, fid)
	}
	return common.HexToAddress(to), nil
}

// LastChangeTimestamp returns the newest signer or id-register block timestamp of fid.
func (r *Repository) LastChangeTimestamp(ctx context.Context, fid types.Fid) (uint64, error) {
	var ts uint64
	err := r.client.Conn().QueryRow(ctx, r.query(lastChangeQuery),
		fid,
		uint8(types.OnChainEventTypeSigner),
		uint8(types.OnChainEventTypeIDRegister),
	).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to query last change of fid %d: %w", fid, err)
	}
	return ts, nil
}

// Fids returns up to limit fids >= from in ascending order.
func (r *Repository) Fids(ctx context.Context, from types.Fid, limit int) ([]types.Fid, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid fid page limit %d", limit)
	}
	rows, err := r.client.Conn().Query(ctx, r.query(fidsQuery), from, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query fids from %d: %w", from, err)
	}
	defer rows.Close()

	fids := make([]types.Fid, 0, limit)
	for rows.Next() {
		var fid uint64
		if err := rows.Scan(&fid); err != nil {
			return nil, fmt.Errorf("failed to scan fid: %w", err)
		}
		fids = append(fids, fid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fids: %w", err)
	}
	return fids, nil
}

// MaxFid returns the highest fid with any event, 0 when the table is empty.
func (r *Repository) MaxFid(ctx context.Context) (types.Fid, error) {
	var fid uint64
	if err := r.client.Conn().QueryRow(ctx, r.query(maxFidQuery)).Scan(&fid); err != nil {
		return 0, fmt.Errorf("failed to query max fid: %w", err)
	}
	return fid, nil
}
