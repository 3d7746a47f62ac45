// Package ledger keeps the durable record of pending downloads.
//
// The ledger holds one entry per download, keyed by the download directory,
// with the formats still to be fetched, the chosen options, the optional trim
// range and bit rate, and the transcode-pending flag. One ledger exists per
// downloads root:
//
//	store, err := ledger.NewStore(ledger.BackendJSON, downloadsRoot)
//	l := ledger.Open(store, logger)
//	defer l.Close()
//
// # Durability
//
// Every mutation (Put, Remove, Update) writes the full entry list through the
// Store before it returns. A failed write rolls the in-memory list back and
// returns an error wrapping ErrPersist.
//
// # Serialization
//
// Entries are encoded with fixed field tables (see codec.go). Each field is
// extracted on its own so a bad field names itself in the error. A missing
// or unreadable ledger file loads as an empty ledger.
//
// # Stores
//
//   - JSONStore writes PendingDownloads.json through a temporary file and rename
//   - BoltStore keeps the entries in a bbolt database, PendingDownloads.db
package ledger
