// Package cleanup は更新の途絶えたクライアント状態を削除するジョブを提供する。
// 保持期間（デフォルト30日）を超えて更新されていないclient_stateの行を
// cronスケジュールで定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionDays はクライアント状態のデフォルト保持日数。
const DefaultRetentionDays = 30

// StaleDeleter はupdated_atが指定時刻より古い状態を削除するインターフェース。
// repository.ClientStateRepositoryが満たす。
type StaleDeleter interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// Recorder はクリーンアップの実行結果を記録する。
type Recorder interface {
	RecordCleanup(deleted int64, err error)
}

// CleanupJob は保持期間を超過したクライアント状態の自動削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	repo          StaleDeleter
	logger        *slog.Logger
	recorder      Recorder
	now           func() time.Time
	RetentionDays int // クライアント状態の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(repo StaleDeleter, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		repo:          repo,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// SetRecorder は実行結果の記録先を設定する。
func (j *CleanupJob) SetRecorder(r Recorder) {
	j.recorder = r
}

// Run はRetentionDays日以上更新されていないクライアント状態を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.repo.DeleteStale(ctx, before)
	if j.recorder != nil {
		j.recorder.RecordCleanup(deletedCount, err)
	}
	if err != nil {
		j.logger.Error("クライアント状態のクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("クライアント状態のクリーンアップに失敗: %w", err)
	}

	j.logger.Info("クライアント状態のクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回Runを実行し、その後scheduleに従って定期実行する。
// scheduleは標準的なcron式または "@daily" などの記述子を受け付ける。
// ctxがキャンセルされるまでブロックし、実行中のジョブの完了を待ってから戻る。
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { j.runLogged(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	j.runLogged(ctx)

	c.Start()
	j.logger.Info("クリーンアップスケジューラを開始しました",
		slog.String("schedule", schedule),
	)

	<-ctx.Done()
	<-c.Stop().Done()

	j.logger.Info("クリーンアップスケジューラを停止しました")
	return nil
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)
}
