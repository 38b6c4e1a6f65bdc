package txmanager

import (
	"context"

	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
)

// FlatManager はセーブポイントを持たないバックエンド向けのマネージャー
// 深度は 0 か 1 のみを取る
type FlatManager struct {
	depthTracker
}

func NewFlatManager(exec transaction.Executor, opts ...Option) *FlatManager {
	return &FlatManager{depthTracker: depthTracker{exec: exec, options: buildOptions(opts)}}
}

func (m *FlatManager) Begin(ctx context.Context) error {
	if m.depth > 0 {
		return m.record("begin", transaction.ErrNestedTransactionUnsupported)
	}
	return m.record("begin", m.changeDepth(1, m.exec.BatchExecute(ctx, "BEGIN")))
}

func (m *FlatManager) Rollback(ctx context.Context) error {
	if m.depth == 0 {
		return m.record("rollback", transaction.ErrNoTransaction)
	}
	return m.record("rollback", m.changeDepth(-1, m.exec.BatchExecute(ctx, "ROLLBACK")))
}

func (m *FlatManager) Commit(ctx context.Context) error {
	if m.depth == 0 {
		return m.record("commit", transaction.ErrNoTransaction)
	}
	return m.record("commit", m.commitTopLevel(ctx))
}

var _ transaction.Manager = (*FlatManager)(nil)
