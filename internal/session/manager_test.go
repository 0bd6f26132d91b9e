package session

import (
	"context"
	"testing"
	"time"

	"quizrunner/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnerFunc 便于在测试中内联遍历逻辑
type runnerFunc func(ctx context.Context, id model.TraversalID, params model.SessionParams) model.TerminationReason

func (f runnerFunc) Run(ctx context.Context, id model.TraversalID, params model.SessionParams) model.TerminationReason {
	return f(ctx, id, params)
}

var params = model.SessionParams{Email: "a@b.c", Secret: "s", StartURL: "https://quiz.example/1"}

func TestManager_StartTraversal(t *testing.T) {
	got := make(chan model.SessionParams, 1)
	release := make(chan struct{})
	m := NewManager(runnerFunc(func(ctx context.Context, _ model.TraversalID, p model.SessionParams) model.TerminationReason {
		got <- p
		<-release
		return model.ReasonCompleted
	}), nil)

	id, err := m.StartTraversal(params)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, params, <-got)
	assert.Equal(t, 1, m.Active())
	require.Len(t, m.List(), 1)
	assert.Equal(t, id, m.List()[0].ID)
	assert.Equal(t, params.StartURL, m.List()[0].StartURL)

	close(release)
	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_PanicIsContained(t *testing.T) {
	m := NewManager(runnerFunc(func(context.Context, model.TraversalID, model.SessionParams) model.TerminationReason {
		panic("boom")
	}), nil)

	_, err := m.StartTraversal(params)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ShutdownCancels(t *testing.T) {
	stopped := make(chan struct{})
	m := NewManager(runnerFunc(func(ctx context.Context, _ model.TraversalID, _ model.SessionParams) model.TerminationReason {
		<-ctx.Done()
		close(stopped)
		return model.ReasonCanceled
	}), nil)

	_, err := m.StartTraversal(params)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	<-stopped
	assert.Equal(t, 0, m.Active())

	_, err = m.StartTraversal(params)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := NewManager(runnerFunc(func(context.Context, model.TraversalID, model.SessionParams) model.TerminationReason {
		<-release
		return model.ReasonCompleted
	}), nil)

	_, err := m.StartTraversal(params)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
}

func TestManager_IndependentTraversals(t *testing.T) {
	ids := make(chan model.TraversalID, 2)
	m := NewManager(runnerFunc(func(_ context.Context, id model.TraversalID, _ model.SessionParams) model.TerminationReason {
		ids <- id
		return model.ReasonCompleted
	}), nil)

	a, err := m.StartTraversal(params)
	require.NoError(t, err)
	b, err := m.StartTraversal(params)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.ElementsMatch(t, []model.TraversalID{a, b}, []model.TraversalID{<-ids, <-ids})
	require.NoError(t, m.Shutdown(context.Background()))
}
