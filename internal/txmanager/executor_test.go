package txmanager

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// recordingExecutor は発行された SQL を記録するテスト用の Executor
type recordingExecutor struct {
	statements []string
	failures   map[string]error
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{failures: make(map[string]error)}
}

func (e *recordingExecutor) failOn(sql string, err error) {
	e.failures[sql] = err
}

func (e *recordingExecutor) BatchExecute(_ context.Context, sql string) error {
	e.statements = append(e.statements, sql)
	return e.failures[sql]
}

// MockExecutor は transaction.Executor のモック
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) BatchExecute(ctx context.Context, sql string) error {
	args := m.Called(ctx, sql)
	return args.Error(0)
}

// recordingObserver は観測結果を記録する
type recordingObserver struct {
	operations   []string
	compensating []string
}

func (o *recordingObserver) ObserveTxOperation(operation, status string) {
	o.operations = append(o.operations, operation+":"+status)
}

func (o *recordingObserver) ObserveCompensatingRollback(status string) {
	o.compensating = append(o.compensating, status)
}
