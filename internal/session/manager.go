package session

import (
	"context"
	"log/slog"

	"github.com/hitoshi/carelink/internal/model"
)

// Observer はセッションの変化を受け取るコールバック。
// clientIDと変化後のセッションが渡される。
type Observer func(clientID string, s model.Session)

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	Namespace string
	// OnRecovered は破損データを破棄したときに呼ばれる。メトリクス記録用。
	OnRecovered func(reason string)
}

// Manager はクライアントIDごとのStoreを生成する。
// 全Storeに共通のObserverを登録し、ログとメトリクスに変化を通知する。
type Manager struct {
	storage   Storage
	config    ManagerConfig
	logger    *slog.Logger
	observers []Observer
}

// NewManager はManagerを生成する。
func NewManager(storage Storage, config ManagerConfig, logger *slog.Logger) *Manager {
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// Observe はObserverを追加する。サーバー起動前に呼び出すこと。
func (m *Manager) Observe(o Observer) {
	m.observers = append(m.observers, o)
}

// Open はクライアントIDに対応するStoreを永続化ストレージから復元する。
func (m *Manager) Open(ctx context.Context, clientID string) (*Store, error) {
	store, err := Open(ctx, m.storage, clientID, Options{
		Namespace:   m.config.Namespace,
		Logger:      m.logger,
		OnRecovered: m.config.OnRecovered,
	})
	if err != nil {
		return nil, err
	}

	for _, o := range m.observers {
		observer := o
		store.Subscribe(func(s model.Session) {
			observer(clientID, s)
		})
	}

	return store, nil
}
