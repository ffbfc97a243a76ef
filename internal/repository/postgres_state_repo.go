package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// PostgresStateRepo はPostgreSQLのclient_stateテーブルを使用したクライアント状態リポジトリ。
type PostgresStateRepo struct {
	db *sql.DB
}

// NewPostgresStateRepo はPostgresStateRepoを生成する。
func NewPostgresStateRepo(db *sql.DB) *PostgresStateRepo {
	return &PostgresStateRepo{db: db}
}

// GetMany は指定キーの値を取得する。存在しないキーは結果に含まれない。
func (r *PostgresStateRepo) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value FROM client_state WHERE key = ANY($1)`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query client state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan client state: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate client state: %w", err)
	}

	return result, nil
}

// PutMany は複数のキーを同一トランザクションでUPSERTする。
func (r *PostgresStateRepo) PutMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// キー順に書き込み、同時実行時のデッドロックを避ける
	for _, key := range sortedKeys(entries) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO client_state (key, value, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			key, entries[key],
		)
		if err != nil {
			return fmt.Errorf("failed to upsert client state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteMany は複数のキーを同一トランザクションで削除する。
func (r *PostgresStateRepo) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM client_state WHERE key = ANY($1)`,
		pq.Array(keys),
	); err != nil {
		return fmt.Errorf("failed to delete client state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteStale はupdated_atがbeforeより古い行を削除する。
func (r *PostgresStateRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale client state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

func sortedKeys(entries map[string]string) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compile-time interface check
var _ ClientStateRepository = (*PostgresStateRepo)(nil)
