// Package session はブラウザごとの認証セッション（識別情報とベアラートークン）を保持する。
// セッションは外部の永続化キーバリューストレージに2つのエントリとして保存され、
// 起動時（リクエスト受信時）に復元される。
package session

import (
	"context"
	"sync"
)

// Storage はセッションを保存する永続化キーバリューストレージのインターフェース。
// PutManyとDeleteManyは全エントリに対して原子的に適用されなければならない。
type Storage interface {
	// GetMany は指定キーの値を取得する。存在しないキーは結果に含まれない。
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	// PutMany は全エントリを1つの単位として書き込む。部分的な書き込みは行わない。
	PutMany(ctx context.Context, entries map[string]string) error
	// DeleteMany は指定キーを削除する。存在しないキーの削除はエラーにならない。
	DeleteMany(ctx context.Context, keys ...string) error
}

// MemoryStorage はプロセス内メモリを使用するStorage実装。
// 開発環境とテストで使用する。
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStorage はMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]string)}
}

// GetMany は指定キーの値を取得する。
func (m *MemoryStorage) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.entries[k]; ok {
			result[k] = v
		}
	}
	return result, nil
}

// PutMany は全エントリを書き込む。
func (m *MemoryStorage) PutMany(ctx context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range entries {
		m.entries[k] = v
	}
	return nil
}

// DeleteMany は指定キーを削除する。
func (m *MemoryStorage) DeleteMany(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Len は保存されているエントリ数を返す。テスト用。
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Storage = (*MemoryStorage)(nil)
