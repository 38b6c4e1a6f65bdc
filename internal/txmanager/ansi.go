package txmanager

import (
	"context"
	"strconv"

	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
)

// AnsiManager は ANSI 標準のセーブポイント構文を使うバックエンド向けのマネージャー
// 深度 1 がトップレベルのトランザクション、深度 N>1 は N-1 個のセーブポイントに対応する
type AnsiManager struct {
	depthTracker
}

// NewAnsiManager は深度 0 の AnsiManager を作成する
func NewAnsiManager(exec transaction.Executor, opts ...Option) *AnsiManager {
	return &AnsiManager{depthTracker: depthTracker{exec: exec, options: buildOptions(opts)}}
}

// SavepointName は深度 depth のセーブポイント名を返す
func (m *AnsiManager) SavepointName(depth int) string {
	return m.savepointPrefix + strconv.Itoa(depth)
}

// Begin は深度 0 なら BEGIN、それ以外なら SAVEPOINT を発行する
func (m *AnsiManager) Begin(ctx context.Context) error {
	sql := "BEGIN"
	if m.depth > 0 {
		sql = "SAVEPOINT " + m.SavepointName(m.depth)
	}
	return m.record("begin", m.changeDepth(1, m.exec.BatchExecute(ctx, sql)))
}

// Rollback は深度 1 なら ROLLBACK、それ以外なら直近のセーブポイントまで戻す
func (m *AnsiManager) Rollback(ctx context.Context) error {
	if m.depth == 0 {
		return m.record("rollback", transaction.ErrNoTransaction)
	}
	sql := "ROLLBACK"
	if m.depth > 1 {
		sql = "ROLLBACK TO SAVEPOINT " + m.SavepointName(m.depth-1)
	}
	return m.record("rollback", m.changeDepth(-1, m.exec.BatchExecute(ctx, sql)))
}

// Commit は深度 1 なら COMMIT、それ以外なら直近のセーブポイントを解放する
//
// COMMIT が直列化失敗または読み取り専用違反で失敗した場合は ROLLBACK を試みる。
// ROLLBACK が成功すれば元のエラーを、失敗すれば ConnectionBrokenError を返す。
// 後者の場合、コネクションは破棄しなければならない。
func (m *AnsiManager) Commit(ctx context.Context) error {
	switch {
	case m.depth == 0:
		return m.record("commit", transaction.ErrNoTransaction)
	case m.depth == 1:
		return m.record("commit", m.commitTopLevel(ctx))
	}
	sql := "RELEASE SAVEPOINT " + m.SavepointName(m.depth-1)
	return m.record("commit", m.changeDepth(-1, m.exec.BatchExecute(ctx, sql)))
}

var _ transaction.Manager = (*AnsiManager)(nil)
