package txmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
)

func TestFlatManager(t *testing.T) {
	ctx := context.Background()

	t.Run("ネストしたbeginは拒否される", func(t *testing.T) {
		exec := newRecordingExecutor()
		m := NewFlatManager(exec, WithLogger(zap.NewNop()))

		require.NoError(t, m.Begin(ctx))
		assert.ErrorIs(t, m.Begin(ctx), transaction.ErrNestedTransactionUnsupported)
		assert.Equal(t, 1, m.Depth())
		require.NoError(t, m.Commit(ctx))
		assert.Equal(t, 0, m.Depth())
		assert.Equal(t, []string{"BEGIN", "COMMIT"}, exec.statements)
	})

	t.Run("ロールバック", func(t *testing.T) {
		exec := newRecordingExecutor()
		m := NewFlatManager(exec, WithLogger(zap.NewNop()))

		assert.ErrorIs(t, m.Rollback(ctx), transaction.ErrNoTransaction)
		require.NoError(t, m.Begin(ctx))
		require.NoError(t, m.Rollback(ctx))
		assert.Equal(t, 0, m.Depth())
		assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, exec.statements)
	})

	t.Run("コミット失敗後の補償ロールバック", func(t *testing.T) {
		exec := newRecordingExecutor()
		exec.failOn("COMMIT", errSerialization)
		exec.failOn("ROLLBACK", errors.New("broken pipe"))
		m := NewFlatManager(exec, WithLogger(zap.NewNop()))
		require.NoError(t, m.Begin(ctx))

		err := m.Commit(ctx)
		assert.True(t, transaction.IsConnectionBroken(err))
		assert.Equal(t, 0, m.Depth())
	})

	t.Run("BeginWithSQL", func(t *testing.T) {
		exec := newRecordingExecutor()
		m := NewFlatManager(exec, WithLogger(zap.NewNop()))

		require.NoError(t, m.BeginWithSQL(ctx, "BEGIN IMMEDIATE"))
		assert.ErrorIs(t, m.BeginWithSQL(ctx, "BEGIN IMMEDIATE"), transaction.ErrAlreadyInTransaction)
		assert.Equal(t, []string{"BEGIN IMMEDIATE"}, exec.statements)
	})
}
