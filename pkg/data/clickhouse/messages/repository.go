package messages

import (
	"context"
	"fmt"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/hexutil"

	"github.com/miles-six/hub-monorepo/pkg/clickhouse"
	"github.com/miles-six/hub-monorepo/pkg/types"
	"github.com/miles-six/hub-monorepo/pkg/validator"
)

var (
	_ validator.MessageStore       = (*Repository)(nil)
	_ validator.UsernameProofIndex = (*Repository)(nil)
)

// Repository reads and revokes hub messages stored in ClickHouse.
type Repository struct {
	client    clickhouse.Client
	cluster   string
	tableName string // fully qualified database.table
}

// NewRepository creates the repository and ensures the messages table exists.
func NewRepository(ctx context.Context, client clickhouse.Client, cluster, database, tableName string) (*Repository, error) {
	repo := &Repository{
		client:    client,
		cluster:   cluster,
		tableName: database + "." + tableName,
	}
	if err := repo.createTable(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repository) onCluster() string {
	if r.cluster == "" {
		return ""
	}
	return " ON CLUSTER " + r.cluster
}

func (r *Repository) createTable(ctx context.Context) error {
	if err := r.client.Conn().Exec(ctx, CreateMessagesTableQuery(r.tableName, r.onCluster())); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

// MessagesByFid returns every message stored for fid.
func (r *Repository) MessagesByFid(ctx context.Context, fid types.Fid) ([]types.Message, error) {
	rows, err := r.client.Conn().Query(ctx, MessagesByFidQuery(r.tableName), fid)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages of fid %d: %w", fid, err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(
			&row.Fid,
			&row.Hash,
			&row.Type,
			&row.Timestamp,
			&row.Signer,
			&row.Data,
			&row.Username,
			&row.UsernameOwner,
			&row.UsernameType,
			&row.UsernameTimestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message of fid %d: %w", fid, err)
		}
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages of fid %d: %w", fid, err)
	}
	return out, nil
}

// DeleteMessage removes one message with a lightweight delete. Deleting a
// message that is not stored matches no rows and succeeds.
func (r *Repository) DeleteMessage(ctx context.Context, fid types.Fid, hash types.MessageHash) error {
	if err := r.client.Conn().Exec(ctx, DeleteMessageQuery(r.tableName, r.onCluster()), fid, hash.String()); err != nil {
		return fmt.Errorf("failed to delete message %s of fid %d: %w", hash, fid, err)
	}
	return nil
}

// LatestUsernameProofTimestamp returns the newest username proof timestamp of fid.
func (r *Repository) LatestUsernameProofTimestamp(ctx context.Context, fid types.Fid) (uint32, bool, error) {
	var (
		latest uint32
		count  uint64
	)
	err := r.client.Conn().
		QueryRow(ctx, LatestUsernameProofQuery(r.tableName), fid, uint8(types.MessageTypeUsernameProof)).
		Scan(&latest, &count)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query username proofs of fid %d: %w", fid, err)
	}
	return latest, count > 0, nil
}

type messageRow struct {
	Fid               uint64
	Hash              string
	Type              uint8
	Timestamp         uint32
	Signer            string // 0x-prefixed hex
	Data              string
	Username          string
	UsernameOwner     string
	UsernameType      uint8
	UsernameTimestamp uint64
}

func (row messageRow) toMessage() (types.Message, error) {
	hash, err := types.ParseMessageHash(row.Hash)
	if err != nil {
		return types.Message{}, err
	}
	signer, err := hexutil.Decode(row.Signer)
	if err != nil {
		return types.Message{}, fmt.Errorf("invalid signer of message %s: %w", row.Hash, err)
	}

	msg := types.Message{
		Hash:      hash,
		Fid:       row.Fid,
		Type:      types.MessageType(row.Type),
		Timestamp: row.Timestamp,
		Signer:    signer,
	}
	if msg.Type == types.MessageTypeUsernameProof {
		if !common.IsHexAddress(row.UsernameOwner) {
			return types.Message{}, fmt.Errorf("invalid username owner %q of message %s", row.UsernameOwner, row.Hash)
		}
		msg.Body = &types.UsernameProof{
			Name:      row.Username,
			Owner:     common.HexToAddress(row.UsernameOwner),
			Type:      types.UsernameType(row.UsernameType),
			Timestamp: row.UsernameTimestamp,
			Fid:       row.Fid,
		}
		return msg, nil
	}
	msg.Body = types.SignedData{Data: []byte(row.Data)}
	return msg, nil
}
