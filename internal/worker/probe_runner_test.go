package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-nested-tx/internal/application"
)

// MockConflictProber はConflictProberのモック
type MockConflictProber struct {
	mock.Mock
}

func (m *MockConflictProber) Run(ctx context.Context, rounds int) (*application.ProbeResult, error) {
	args := m.Called(ctx, rounds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.ProbeResult), args.Error(1)
}

func healthyResult() *application.ProbeResult {
	return &application.ProbeResult{Rounds: 1, Committed: 1, SerializationFailures: 1, DepthsAfter: []int{0, 0}}
}

func TestNewProbeRunner(t *testing.T) {
	prober := new(MockConflictProber)

	runner := NewProbeRunner(prober, time.Minute, 3)

	assert.NotNil(t, runner)
	assert.Equal(t, time.Minute, runner.interval)
	assert.Equal(t, 3, runner.rounds)
	assert.NotNil(t, runner.stopCh)
	assert.NotNil(t, runner.doneCh)
}

func TestProbeRunner_Probe(t *testing.T) {
	t.Run("正常にプローブが実行される", func(t *testing.T) {
		prober := new(MockConflictProber)
		prober.On("Run", mock.Anything, 2).Return(healthyResult(), nil)

		runner := NewProbeRunner(prober, time.Minute, 2)
		runner.probe(context.Background())

		prober.AssertExpectations(t)
	})

	t.Run("異常な結果でも継続する", func(t *testing.T) {
		prober := new(MockConflictProber)
		prober.On("Run", mock.Anything, 1).Return(&application.ProbeResult{Rounds: 1, Committed: 2, DepthsAfter: []int{0, 0}}, nil)

		runner := NewProbeRunner(prober, time.Minute, 1)
		runner.probe(context.Background())

		prober.AssertExpectations(t)
	})

	t.Run("エラーが発生しても継続する", func(t *testing.T) {
		prober := new(MockConflictProber)
		prober.On("Run", mock.Anything, 1).Return(nil, assert.AnError)

		runner := NewProbeRunner(prober, time.Minute, 1)
		runner.probe(context.Background())

		prober.AssertExpectations(t)
	})
}

func TestProbeRunner_StartStop(t *testing.T) {
	t.Run("開始と停止が正常に動作する", func(t *testing.T) {
		prober := new(MockConflictProber)
		prober.On("Run", mock.Anything, 1).Return(healthyResult(), nil).Maybe()

		runner := NewProbeRunner(prober, 50*time.Millisecond, 1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go runner.Start(ctx)
		time.Sleep(120 * time.Millisecond)
		runner.Stop()

		select {
		case <-runner.doneCh:
		case <-time.After(1 * time.Second):
			t.Error("runner did not stop in time")
		}
	})

	t.Run("コンテキストキャンセルで停止する", func(t *testing.T) {
		prober := new(MockConflictProber)
		prober.On("Run", mock.Anything, 1).Return(healthyResult(), nil).Maybe()

		runner := NewProbeRunner(prober, 50*time.Millisecond, 1)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			runner.Start(ctx)
			close(done)
		}()

		time.Sleep(80 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Error("runner did not stop after context cancel")
		}
	})
}
