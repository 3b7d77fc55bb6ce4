package domain

import (
	"context"
	"io"
)

// Connector drives dump and restore operations against one remote
// database server. Implementations stream; they never buffer a full
// dump in memory.
type Connector interface {
	Ping(ctx context.Context) error
	ListDatabases(ctx context.Context) ([]string, error)
	Dump(ctx context.Context, database string, opts BackupOptions, w io.Writer) error
	// Restore replays a dump into database. It reports how many
	// statements were applied before any error, so callers can tell a
	// clean failure from one that left the database half-written.
	Restore(ctx context.Context, database string, r io.Reader) (int64, error)
	Close() error
}

// ConnectorFactory opens a Connector for a target with its resolved
// plaintext credential.
type ConnectorFactory func(target Target, password string) Connector
