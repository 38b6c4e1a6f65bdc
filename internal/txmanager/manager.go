package txmanager

import (
	"context"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/logger"
)

// DefaultSavepointPrefix はセーブポイント名のデフォルト接頭辞
const DefaultSavepointPrefix = "s_"

// 操作結果のラベル
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusRefused = "refused"
)

// Observer はトランザクション操作の結果を受け取る
type Observer interface {
	ObserveTxOperation(operation, status string)
	ObserveCompensatingRollback(status string)
}

type nopObserver struct{}

func (nopObserver) ObserveTxOperation(string, string) {}
func (nopObserver) ObserveCompensatingRollback(string) {}

// Option はマネージャーの設定を変更する
type Option func(*options)

type options struct {
	savepointPrefix string
	log             *zap.Logger
	observer        Observer
}

// WithSavepointPrefix はセーブポイント名の接頭辞を指定する
func WithSavepointPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.savepointPrefix = prefix
		}
	}
}

// WithLogger はロガーを指定する
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver はメトリクス等の観測先を指定する
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		savepointPrefix: DefaultSavepointPrefix,
		log:             logger.Get(),
		observer:        nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New はバックエンドの能力に応じたマネージャーを作成する
func New(backend transaction.Backend, exec transaction.Executor, opts ...Option) transaction.Manager {
	if backend.UsesANSISavepointSyntax {
		return NewAnsiManager(exec, opts...)
	}
	return NewFlatManager(exec, opts...)
}

// depthTracker は深度カウンタと、両バリアント共通のトップレベル操作を持つ
type depthTracker struct {
	exec  transaction.Executor
	depth int
	options
}

// changeDepth は文が成功した場合のみ深度を変更する
func (t *depthTracker) changeDepth(by int, err error) error {
	if err == nil {
		t.depth += by
	}
	return err
}

func (t *depthTracker) record(operation string, err error) error {
	switch {
	case err == nil:
		t.observer.ObserveTxOperation(operation, StatusSuccess)
	case isRefusal(err):
		t.observer.ObserveTxOperation(operation, StatusRefused)
	default:
		t.observer.ObserveTxOperation(operation, StatusFailed)
	}
	return err
}

func isRefusal(err error) bool {
	switch err {
	case transaction.ErrAlreadyInTransaction, transaction.ErrNoTransaction, transaction.ErrNestedTransactionUnsupported:
		return true
	}
	return false
}

func (t *depthTracker) Depth() int {
	return t.depth
}

func (t *depthTracker) BeginWithSQL(ctx context.Context, sql string) error {
	if t.depth != 0 {
		return t.record("begin", transaction.ErrAlreadyInTransaction)
	}
	return t.record("begin", t.changeDepth(1, t.exec.BatchExecute(ctx, sql)))
}

// commitTopLevel は COMMIT を発行する
// 直列化失敗・読み取り専用違反の場合は補償 ROLLBACK を試み、深度は成否に関わらず 1 減らす
func (t *depthTracker) commitTopLevel(ctx context.Context) error {
	err := t.exec.BatchExecute(ctx, "COMMIT")
	if err == nil || !transaction.IsRecoverableCommitFailure(err) {
		return t.changeDepth(-1, err)
	}

	t.log.Warn("コミットに失敗したためロールバックします",
		zap.String("kind", transaction.KindOf(err).String()),
		zap.Error(err),
	)
	rbErr := t.exec.BatchExecute(ctx, "ROLLBACK")
	t.depth--
	if rbErr != nil {
		t.observer.ObserveCompensatingRollback(StatusFailed)
		t.log.Error("補償ロールバックに失敗しました。コネクションは再利用できません",
			zap.NamedError("commit_error", err),
			zap.Error(rbErr),
		)
		return &transaction.ConnectionBrokenError{CommitErr: err, RollbackErr: rbErr}
	}
	t.observer.ObserveCompensatingRollback(StatusSuccess)
	return err
}
