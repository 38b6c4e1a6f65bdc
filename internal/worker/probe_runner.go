package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-nested-tx/internal/application"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/logger"
)

// ConflictProber は競合プローブを実行するインターフェース
type ConflictProber interface {
	Run(ctx context.Context, rounds int) (*application.ProbeResult, error)
}

// ProbeRunner は競合プローブを定期実行するワーカー
type ProbeRunner struct {
	prober   ConflictProber
	interval time.Duration
	rounds   int
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewProbeRunner は新しいランナーを作成
func NewProbeRunner(p ConflictProber, interval time.Duration, rounds int) *ProbeRunner {
	return &ProbeRunner{
		prober:   p,
		interval: interval,
		rounds:   rounds,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start はランナーを開始
func (r *ProbeRunner) Start(ctx context.Context) {
	logger.Info("競合プローブランナー開始",
		zap.Duration("interval", r.interval),
		zap.Int("rounds", r.rounds),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("競合プローブランナー停止（コンテキストキャンセル）")
			return
		case <-r.stopCh:
			logger.Info("競合プローブランナー停止（シグナル受信）")
			return
		case <-ticker.C:
			r.probe(ctx)
		}
	}
}

// Stop はランナーを停止
func (r *ProbeRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *ProbeRunner) probe(ctx context.Context) {
	log := logger.Get()

	result, err := r.prober.Run(ctx, r.rounds)
	if err != nil {
		log.Error("競合プローブ失敗", zap.Error(err))
		return
	}

	if !result.Healthy() {
		log.Warn("競合プローブで異常を検出",
			zap.Int("committed", result.Committed),
			zap.Int("serialization_failures", result.SerializationFailures),
			zap.Int("errors", result.Errors),
			zap.Ints("depths_after", result.DepthsAfter),
		)
	}
}
