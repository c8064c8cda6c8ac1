package messages

// messageColumns is the column list read back into types.Message (10 columns)
const messageColumns = `fid, hash, type, timestamp, signer, data,
		username, username_owner, username_type, username_timestamp`

// CreateMessagesTableQuery returns the CREATE TABLE query for the messages table
func CreateMessagesTableQuery(tableName, onCluster string) string {
	return `CREATE TABLE IF NOT EXISTS ` + tableName + onCluster + ` (
		fid UInt64,
		hash String,
		type UInt8,
		timestamp UInt32,
		signer String,
		data String,
		username String,
		username_owner String,
		username_type UInt8,
		username_timestamp UInt64,
		INDEX idx_type type TYPE set(16) GRANULARITY 4
	)
	ENGINE = ReplacingMergeTree
	ORDER BY (fid, hash)`
}

// MessagesByFidQuery returns every message of one fid, oldest first
func MessagesByFidQuery(tableName string) string {
	return `SELECT ` + messageColumns + ` FROM ` + tableName + ` FINAL WHERE fid = ? ORDER BY timestamp, hash`
}

// DeleteMessageQuery is a lightweight delete of a single message
func DeleteMessageQuery(tableName, onCluster string) string {
	return `DELETE FROM ` + tableName + onCluster + ` WHERE fid = ? AND hash = ?`
}

// LatestUsernameProofQuery returns (max timestamp, count) of the username proofs of one fid
func LatestUsernameProofQuery(tableName string) string {
	return `SELECT max(timestamp), count() FROM ` + tableName + ` WHERE fid = ? AND type = ?`
}
