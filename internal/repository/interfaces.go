// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"
)

// ClientStateRepository はクライアント状態（名前空間付きキーと文字列値）の永続化インターフェース。
// セッションストアの永続化先として使用する。
type ClientStateRepository interface {
	// GetMany は指定キーの値を取得する。存在しないキーは結果に含まれない。
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)

	// PutMany は複数のキーを同一トランザクションでUPSERTする。
	// いずれかの書き込みに失敗した場合は何も書き込まない。
	PutMany(ctx context.Context, entries map[string]string) error

	// DeleteMany は複数のキーを同一トランザクションで削除する。存在しないキーは無視する。
	DeleteMany(ctx context.Context, keys ...string) error

	// DeleteStale はupdated_atがbeforeより古い行を削除し、削除件数を返す。
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}
