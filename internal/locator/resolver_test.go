package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/mocks"
	"github.com/list91/SocketClicker/internal/page"
)

func TestResolve_FoundImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	// -- Setup --
	p := new(mocks.MockPage)
	node := mocks.NewNode("button#ok")
	loc := schemas.XPath("//button[@id='ok']")
	p.On("EvaluateLocator", mock.Anything, loc).Return(node, nil).Once()
	r := NewResolver(100*time.Millisecond, zaptest.NewLogger(t))

	// -- Execution --
	got, err := r.Resolve(context.Background(), p, loc, time.Second)

	// -- Assertions --
	require.NoError(t, err)
	assert.Same(t, node, got)
	p.AssertExpectations(t)
}

func TestResolve_FoundAfterPolling(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := new(mocks.MockPage)
	node := mocks.NewNode("div.late")
	loc := schemas.CSS("div.late")
	p.On("EvaluateLocator", mock.Anything, loc).Return(nil, nil).Twice()
	p.On("EvaluateLocator", mock.Anything, loc).Return(node, nil).Once()
	r := NewResolver(20*time.Millisecond, zaptest.NewLogger(t))

	got, err := r.Resolve(context.Background(), p, loc, time.Second)

	require.NoError(t, err)
	assert.Same(t, node, got)
	p.AssertNumberOfCalls(t, "EvaluateLocator", 3)
}

// A resolver that never finds anything must give up on time.
func TestResolve_TerminatesOnTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := new(mocks.MockPage)
	loc := schemas.XPath("//never")
	p.On("EvaluateLocator", mock.Anything, loc).Return(nil, nil)
	r := NewResolver(100*time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	got, err := r.Resolve(context.Background(), p, loc, 300*time.Millisecond)
	elapsed := time.Since(start)

	assert.Nil(t, got)
	require.ErrorIs(t, err, ErrElementNotFound)
	assert.GreaterOrEqual(t, elapsed, 290*time.Millisecond)
	assert.Less(t, elapsed, 700*time.Millisecond, "resolve must be bounded by its timeout")
	calls := len(p.Calls)
	assert.GreaterOrEqual(t, calls, 3)
	assert.LessOrEqual(t, calls, 5)
}

func TestResolve_ToleratesEvaluationErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := new(mocks.MockPage)
	loc := schemas.XPath("//div[")
	p.On("EvaluateLocator", mock.Anything, loc).Return(nil, errors.New("SyntaxError: invalid xpath"))
	r := NewResolver(10*time.Millisecond, zap.New(core))

	_, err := r.Resolve(context.Background(), p, loc, 60*time.Millisecond)

	require.ErrorIs(t, err, ErrElementNotFound, "malformed locators degrade to not found")
	assert.Equal(t, 1, logs.FilterMessage("Locator evaluation failed, retrying").Len(), "the first failure is reported once")
	assert.Greater(t, len(p.Calls), 1, "evaluation keeps polling after an error")
}

func TestResolve_AbortsWhenPageCloses(t *testing.T) {
	p := new(mocks.MockPage)
	loc := schemas.XPath("//a")
	p.On("EvaluateLocator", mock.Anything, loc).Return(nil, page.ErrPageClosed).Once()
	r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	_, err := r.Resolve(context.Background(), p, loc, 5*time.Second)

	require.ErrorIs(t, err, page.ErrPageClosed)
	assert.Less(t, time.Since(start), time.Second)
	p.AssertNumberOfCalls(t, "EvaluateLocator", 1)
}

func TestResolve_HonorsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := new(mocks.MockPage)
	loc := schemas.XPath("//a")
	p.On("EvaluateLocator", mock.Anything, loc).Return(nil, nil)
	r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, p, loc, 10*time.Second)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrElementNotFound)
}

// A host call that hangs is cut off at the overall deadline.
func TestResolve_BoundsHungProbe(t *testing.T) {
	p := new(mocks.MockPage)
	loc := schemas.XPath("//slow")
	p.On("EvaluateLocator", mock.Anything, loc).Return(nil, context.DeadlineExceeded).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	})
	r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	_, err := r.Resolve(context.Background(), p, loc, 100*time.Millisecond)

	require.ErrorIs(t, err, ErrElementNotFound)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitUntilInteractive(t *testing.T) {
	t.Run("becomes interactive", func(t *testing.T) {
		p := new(mocks.MockPage)
		node := mocks.NewNode("button")
		p.On("GetComputedVisibility", mock.Anything, node).Return(page.Visibility{Visible: true, Disabled: true, Width: 10, Height: 10}, nil).Once()
		p.On("GetComputedVisibility", mock.Anything, node).Return(page.Visibility{Visible: true, Width: 10, Height: 10}, nil).Once()
		r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))

		err := r.WaitUntilInteractive(context.Background(), p, node, time.Second)

		require.NoError(t, err)
		p.AssertNumberOfCalls(t, "GetComputedVisibility", 2)
	})

	t.Run("never interactive", func(t *testing.T) {
		p := new(mocks.MockPage)
		node := mocks.NewNode("button")
		p.On("GetComputedVisibility", mock.Anything, node).Return(page.Visibility{Visible: false}, nil)
		r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))

		err := r.WaitUntilInteractive(context.Background(), p, node, 50*time.Millisecond)

		require.ErrorIs(t, err, ErrNotInteractive)
		assert.Contains(t, err.Error(), "visible=false")
	})

	t.Run("stale node aborts", func(t *testing.T) {
		p := new(mocks.MockPage)
		node := mocks.NewNode("button")
		p.On("GetComputedVisibility", mock.Anything, node).Return(page.Visibility{}, page.ErrStaleNode).Once()
		r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))

		err := r.WaitUntilInteractive(context.Background(), p, node, time.Second)

		require.ErrorIs(t, err, page.ErrStaleNode)
	})
}

func TestWaitForReadyState(t *testing.T) {
	t.Run("reaches complete", func(t *testing.T) {
		p := new(mocks.MockPage)
		p.On("ReadyState", mock.Anything).Return(page.ReadyLoading, nil).Once()
		p.On("ReadyState", mock.Anything).Return(page.ReadyState(""), errors.New("execution context was destroyed")).Once()
		p.On("ReadyState", mock.Anything).Return(page.ReadyComplete, nil).Once()
		r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))

		err := r.WaitForReadyState(context.Background(), p, page.ReadyComplete, time.Second)

		require.NoError(t, err)
	})

	t.Run("times out", func(t *testing.T) {
		p := new(mocks.MockPage)
		p.On("ReadyState", mock.Anything).Return(page.ReadyInteractive, nil)
		r := NewResolver(10*time.Millisecond, zaptest.NewLogger(t))

		err := r.WaitForReadyState(context.Background(), p, page.ReadyComplete, 50*time.Millisecond)

		require.ErrorIs(t, err, ErrReadyStateTimeout)
		assert.Contains(t, err.Error(), `last "interactive"`)
	})

	t.Run("complete satisfies interactive", func(t *testing.T) {
		assert.True(t, readyStateReached(page.ReadyComplete, page.ReadyInteractive))
		assert.False(t, readyStateReached(page.ReadyLoading, page.ReadyInteractive))
		assert.False(t, readyStateReached(page.ReadyInteractive, page.ReadyComplete))
	})
}
