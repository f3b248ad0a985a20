package callmap

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema for the call_mapping table. The DDL must stay bit-exact with what
// collaborating services expect: one table, primary key call_mapping_pkey,
// four non-unique secondary indexes, no foreign keys, no triggers.
//
// pgcrypto provides gen_random_uuid() for the server-generated primary key.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS call_mapping (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    agent_status TEXT DEFAULT 'READY',
    call_id TEXT DEFAULT NULL,
    agent_id TEXT DEFAULT NULL,
    sock_url TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
    end_time TIMESTAMP DEFAULT NULL,
    transcribed_text TEXT DEFAULT NULL
);
`

var createIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_call_mapping_agent_id ON call_mapping (agent_id);`,
	`CREATE INDEX IF NOT EXISTS idx_call_mapping_call_id ON call_mapping (call_id);`,
	`CREATE INDEX IF NOT EXISTS idx_call_mapping_created_at ON call_mapping (created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_call_mapping_updated_at ON call_mapping (updated_at);`,
}

// EnsureSchema creates the call_mapping table and its indexes if absent.
// Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS pgcrypto;`); err != nil {
		return fmt.Errorf("create pgcrypto extension: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create call_mapping table: %w", err)
	}
	for _, stmt := range createIndexSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create call_mapping index: %w", err)
		}
	}
	return nil
}
