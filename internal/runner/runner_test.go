package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/mocks"
	"github.com/list91/SocketClicker/internal/page"
)

// mockExecutor is a testify mock of ActionExecutor.
type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, p page.Page, a schemas.Action) schemas.ActionResult {
	args := m.Called(ctx, p, a)
	return args.Get(0).(schemas.ActionResult)
}

func ok(kind schemas.ActionKind) schemas.ActionResult { return schemas.Succeeded(kind, "ok", nil) }

func fail(kind schemas.ActionKind) schemas.ActionResult {
	return schemas.Failed(kind, schemas.ErrorKindElementNotFound, "not found")
}

var (
	actA = schemas.Action{Kind: schemas.ActionClick, Locator: schemas.XPath("//a")}
	actB = schemas.Action{Kind: schemas.ActionClick, Locator: schemas.XPath("//b")}
	actC = schemas.Action{Kind: schemas.ActionClick, Locator: schemas.XPath("//c")}
)

func newTestRunner(t *testing.T, exec ActionExecutor, pacing time.Duration) *Runner {
	t.Helper()
	r, err := New(exec, Options{Pacing: pacing}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
func msPtr(i int64) *int64 { return &i }

func TestNew_RejectsNilExecutor(t *testing.T) {
	_, err := New(nil, Options{}, nil)
	assert.EqualError(t, err, "action executor cannot be nil")
}

func TestRun_ShortCircuit(t *testing.T) {
	testCases := []struct {
		name        string
		stopOnError *bool
		wantLen     int
	}{
		{"stop on error by default", nil, 2},
		{"stop on error explicit", boolPtr(true), 2},
		{"continue on error", boolPtr(false), 3},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			// -- Setup --
			exec := new(mockExecutor)
			exec.On("Execute", mock.Anything, mock.Anything, actA).Return(ok(actA.Kind))
			exec.On("Execute", mock.Anything, mock.Anything, actB).Return(fail(actB.Kind))
			exec.On("Execute", mock.Anything, mock.Anything, actC).Return(ok(actC.Kind))
			cmd := schemas.Command{ID: "c1", Actions: []schemas.Action{actA, actB, actC}, StopOnError: tc.stopOnError}

			// -- Execution --
			res := newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), cmd)

			// -- Assertions --
			assert.Equal(t, "c1", res.CommandID)
			assert.False(t, res.Success)
			assert.Len(t, res.ActionResults, tc.wantLen)
			assert.Equal(t, 1, res.Attempts)
			if tc.wantLen == 2 {
				exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, actC)
			}
		})
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	exec := new(mockExecutor)

	res := newTestRunner(t, exec, time.Second).Run(context.Background(), new(mocks.MockPage), schemas.Command{ID: "empty"})

	assert.True(t, res.Success)
	require.NotNil(t, res.ActionResults)
	assert.Empty(t, res.ActionResults)
	assert.Equal(t, 1, res.Attempts)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_RetryLimit(t *testing.T) {
	// -- Setup --
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, actA).Return(ok(actA.Kind))
	exec.On("Execute", mock.Anything, mock.Anything, actB).Return(fail(actB.Kind))
	cmd := schemas.Command{ID: "r", Actions: []schemas.Action{actA, actB}, RetryCount: intPtr(2), RetryDelayMs: msPtr(20)}

	// -- Execution --
	start := time.Now()
	res := newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), cmd)

	// -- Assertions --
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	exec.AssertNumberOfCalls(t, "Execute", 6)
	assert.Len(t, res.ActionResults, 2, "only the last attempt is reported")
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "two retry delays elapse")
}

func TestRun_RetryFromParams(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, actA).Return(fail(actA.Kind))
	cmd := schemas.Command{ID: "p", Params: &schemas.CommandParams{Data: []schemas.Action{actA}, RetryCount: intPtr(1)}}

	res := newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), cmd)

	assert.Equal(t, 2, res.Attempts)
	exec.AssertNumberOfCalls(t, "Execute", 2)
}

func TestRun_RetryStopsOnSuccess(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, actA).Return(fail(actA.Kind)).Once()
	exec.On("Execute", mock.Anything, mock.Anything, actA).Return(ok(actA.Kind))
	exec.On("Execute", mock.Anything, mock.Anything, actB).Return(ok(actB.Kind))
	cmd := schemas.Command{ID: "s", Actions: []schemas.Action{actA, actB}, RetryCount: intPtr(5)}

	res := newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), cmd)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, res.ActionResults, 2)
	assert.True(t, res.ActionResults[0].Success, "results come from the last attempt only")
}

func TestRun_PacingBetweenActionsOnly(t *testing.T) {
	exec := new(mockExecutor)
	var calls []time.Time
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(ok(schemas.ActionClick)).Run(func(mock.Arguments) {
		calls = append(calls, time.Now())
	})
	r := newTestRunner(t, exec, 40*time.Millisecond)

	start := time.Now()
	res := r.Run(context.Background(), new(mocks.MockPage), schemas.Command{ID: "p", Actions: []schemas.Action{actA, actB, actC}})
	elapsed := time.Since(start)

	require.True(t, res.Success)
	require.Len(t, calls, 3)
	assert.Less(t, calls[0].Sub(start), 30*time.Millisecond, "no pacing before the first action")
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 40*time.Millisecond)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 40*time.Millisecond)
	assert.Less(t, elapsed-calls[2].Sub(start), 30*time.Millisecond, "no pacing after the last action")
}

func TestRun_PacingAppliesAfterFailuresWhenContinuing(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, actA).Return(fail(actA.Kind))
	exec.On("Execute", mock.Anything, mock.Anything, actB).Return(ok(actB.Kind))
	r := newTestRunner(t, exec, 30*time.Millisecond)

	start := time.Now()
	res := r.Run(context.Background(), new(mocks.MockPage), schemas.Command{ID: "p", Actions: []schemas.Action{actA, actB}, StopOnError: boolPtr(false)})

	assert.Len(t, res.ActionResults, 2)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRun_CancellationDuringPacing(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(ok(schemas.ActionClick))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res := newTestRunner(t, exec, time.Second).Run(ctx, new(mocks.MockPage), schemas.Command{ID: "c", Actions: []schemas.Action{actA, actB}, RetryCount: intPtr(3)})

	assert.False(t, res.Success)
	require.Len(t, res.ActionResults, 2)
	assert.Equal(t, schemas.ErrorKindExecution, res.ActionResults[1].ErrorKind)
	assert.Contains(t, res.ActionResults[1].Message, "interrupted")
	assert.Equal(t, 1, res.Attempts, "a canceled command is not retried")
	exec.AssertNumberOfCalls(t, "Execute", 1)
}

func TestRun_RecoversExecutorPanic(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(ok(schemas.ActionClick)).Run(func(mock.Arguments) {
		panic("executor bug")
	})

	var res schemas.CommandResult
	require.NotPanics(t, func() {
		res = newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), schemas.Command{ID: "x", Actions: []schemas.Action{actA}})
	})

	assert.Equal(t, "x", res.CommandID)
	assert.False(t, res.Success)
	require.Len(t, res.ActionResults, 1)
	assert.Equal(t, schemas.ErrorKindExecution, res.ActionResults[0].ErrorKind)
	assert.Contains(t, res.ActionResults[0].Message, "executor bug")
	assert.False(t, res.FinishedAt.IsZero())
}

func TestRun_InvalidCommandPayload(t *testing.T) {
	exec := new(mockExecutor)
	cmd := schemas.Command{ID: "bad", Text: "fly to the moon"}

	res := newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), cmd)

	assert.False(t, res.Success)
	require.Len(t, res.ActionResults, 1)
	assert.Equal(t, schemas.ErrorKindValidation, res.ActionResults[0].ErrorKind)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_EchoCommand(t *testing.T) {
	exec := new(mockExecutor)

	res := newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), schemas.Command{ID: "e", Text: "echo hello"})

	assert.True(t, res.Success)
	require.Len(t, res.ActionResults, 1)
	assert.Equal(t, "hello", res.ActionResults[0].Data["message"])
}

func TestRun_TimestampsAndOrder(t *testing.T) {
	var seq atomic.Int32
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(ok(schemas.ActionClick)).Run(func(args mock.Arguments) {
		a := args.Get(2).(schemas.Action)
		n := seq.Add(1)
		switch a.Locator.Expression {
		case "//a":
			assert.EqualValues(t, 1, n)
		case "//b":
			assert.EqualValues(t, 2, n)
		case "//c":
			assert.EqualValues(t, 3, n)
		}
	})

	res := newTestRunner(t, exec, 0).Run(context.Background(), new(mocks.MockPage), schemas.Command{ID: "o", Actions: []schemas.Action{actA, actB, actC}})

	assert.True(t, res.Success)
	assert.False(t, res.StartedAt.IsZero())
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}
