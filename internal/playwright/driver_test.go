package playwright

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"quizrunner/internal/browser"

	pw "github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToLoadError(t *testing.T) {
	le := toLoadError("http://a", fmt.Errorf("navigation failed: %w", pw.ErrTimeout))
	assert.Equal(t, browser.LoadTimeout, le.Kind)
	assert.ErrorIs(t, le, browser.ErrLoadTimeout)

	le = toLoadError("http://a", errors.New("net::ERR_ABORTED"))
	assert.Equal(t, browser.NavigationError, le.Kind)
}

func TestNewSession_CanceledContext(t *testing.T) {
	d := New(true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.NewSession(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, d.Close())
}
