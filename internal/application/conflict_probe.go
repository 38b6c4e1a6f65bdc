package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
	"github.com/sanosuguru/go-nested-tx/internal/infrastructure/postgres"
	redislock "github.com/sanosuguru/go-nested-tx/internal/infrastructure/redis"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/logger"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/metrics"
)

// プローブ結果のラベル
const (
	OutcomeCommitted            = "committed"
	OutcomeSerializationFailure = "serialization_failure"
	OutcomeError                = "error"
)

const (
	maxProbeRounds = 20
	probeLockKey   = "serialization_probe"
	probeLockTTL   = time.Minute
)

var (
	ErrInvalidRounds = errors.New("ラウンド数は1以上20以下で指定してください")
	ErrProbeBusy     = errors.New("他のインスタンスがプローブを実行中です")
)

// ProbeResult は競合プローブの結果
type ProbeResult struct {
	Rounds                int   `json:"rounds"`
	Committed             int   `json:"committed"`
	SerializationFailures int   `json:"serialization_failures"`
	Errors                int   `json:"errors"`
	DepthsAfter           []int `json:"depths_after"`
}

// Healthy は各ラウンドでちょうど1つがコミットし、全コネクションの深度が0に戻ったかを返す
func (r *ProbeResult) Healthy() bool {
	if r.Errors != 0 || r.Committed != r.Rounds || r.SerializationFailures != r.Rounds {
		return false
	}
	for _, d := range r.DepthsAfter {
		if d != 0 {
			return false
		}
	}
	return true
}

// ConflictProbe は 2 つのコネクションで SERIALIZABLE トランザクションを競合させ、
// 直列化失敗時の補償ロールバックで深度が正しく戻ることを確認する
type ConflictProbe struct {
	db      *sqlx.DB
	conns   *postgres.ConnectionFactory
	metrics *metrics.Metrics
	// 同時実行されるとテーブルの初期化が干渉する
	// プロセス内は mu、インスタンス間は lockManager（nil なら使わない）で直列化する
	mu          sync.Mutex
	lockManager *redislock.LockManager
}

func NewConflictProbe(db *sqlx.DB, conns *postgres.ConnectionFactory, m *metrics.Metrics, lm *redislock.LockManager) *ConflictProbe {
	return &ConflictProbe{db: db, conns: conns, metrics: m, lockManager: lm}
}

// Run は rounds 回プローブを実行する
func (p *ConflictProbe) Run(ctx context.Context, rounds int) (*ProbeResult, error) {
	if rounds < 1 || rounds > maxProbeRounds {
		return nil, ErrInvalidRounds
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lockManager != nil {
		lock, err := p.lockManager.AcquireLockWithRetry(ctx, probeLockKey, probeLockTTL, 3, 200*time.Millisecond)
		if err != nil {
			if errors.Is(err, redislock.ErrLockNotAcquired) {
				return nil, ErrProbeBusy
			}
			return nil, fmt.Errorf("ロック取得に失敗: %w", err)
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("プローブのロック解放に失敗", zap.Error(err))
			}
		}()
	}

	result := &ProbeResult{Rounds: rounds}
	for i := 0; i < rounds; i++ {
		if err := p.runRound(ctx, result); err != nil {
			return nil, err
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveProbeOutcome(OutcomeCommitted, result.Committed)
		p.metrics.ObserveProbeOutcome(OutcomeSerializationFailure, result.SerializationFailures)
		p.metrics.ObserveProbeOutcome(OutcomeError, result.Errors)
	}
	logger.Info("競合プローブ完了",
		zap.Int("rounds", result.Rounds),
		zap.Int("committed", result.Committed),
		zap.Int("serialization_failures", result.SerializationFailures),
		zap.Int("errors", result.Errors),
		zap.Bool("healthy", result.Healthy()),
	)
	return result, nil
}

type probeOutcome struct {
	err   error
	depth int
}

func (p *ConflictProbe) runRound(ctx context.Context, result *ProbeResult) error {
	if _, err := p.db.ExecContext(ctx, `TRUNCATE serialization_probe`); err != nil {
		return fmt.Errorf("プローブテーブル初期化に失敗: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `INSERT INTO serialization_probe (class) VALUES (1), (2)`); err != nil {
		return fmt.Errorf("プローブデータ投入に失敗: %w", err)
	}

	var (
		wg       sync.WaitGroup
		barrier  sync.WaitGroup
		outcomes = make([]probeOutcome, 2)
	)
	barrier.Add(2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arrive := sync.OnceFunc(barrier.Done)
			defer arrive()
			outcomes[i] = p.runParticipant(ctx, i+1, func() {
				arrive()
				barrier.Wait()
			})
		}(i)
	}
	wg.Wait()

	for _, o := range outcomes {
		result.DepthsAfter = append(result.DepthsAfter, o.depth)
		switch {
		case o.err == nil:
			result.Committed++
		case transaction.KindOf(o.err) == transaction.KindSerializationFailure:
			result.SerializationFailures++
		default:
			result.Errors++
			logger.Warn("プローブのトランザクションが予期しないエラーで失敗", zap.Error(o.err))
		}
	}
	return nil
}

// runParticipant は自分のクラスを数えた後、相手のクラスの行を挿入する
func (p *ConflictProbe) runParticipant(ctx context.Context, class int, wait func()) probeOutcome {
	conn, err := p.conns.Open(ctx)
	if err != nil {
		return probeOutcome{err: err}
	}
	defer conn.Close()

	err = conn.BuildTransaction().Serializable().Run(ctx, func(ctx context.Context) error {
		var count int
		if err := conn.GetContext(ctx, &count, `SELECT COUNT(*) FROM serialization_probe WHERE class = $1`, class); err != nil {
			return err
		}
		wait()
		return conn.ExecContext(ctx, `INSERT INTO serialization_probe (class) VALUES ($1)`, otherClass(class))
	})
	return probeOutcome{err: err, depth: conn.Depth()}
}

func otherClass(class int) int {
	if class == 1 {
		return 2
	}
	return 1
}
