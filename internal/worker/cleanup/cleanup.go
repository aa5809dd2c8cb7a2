// Package cleanup は期限切れOTPの定期削除ジョブを提供する。
// MongoDBとbuntdbはTTLでOTPを自動削除するため、PostgreSQLストアでのみ使用する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れOTPの削除ジョブ。冪等な削除処理を保証する。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Run はexpires_atが現在時刻より前のOTPを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	query := `DELETE FROM otp_codes WHERE expires_at < $1`
	result, err := j.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		j.logger.Error("otp cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired otp codes: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to get deleted otp count",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to get deleted otp count: %w", err)
	}

	j.logger.Info("otp cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("cutoff", cutoff),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// ctxがキャンセルされるまでブロックする。Runの失敗はログのみで継続する。
// intervalが0以下の場合は1回だけ実行して戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.Run(ctx)
	if interval <= 0 {
		j.logger.Warn("otp cleanup interval is not positive, periodic cleanup disabled",
			slog.Duration("interval", interval),
		)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
