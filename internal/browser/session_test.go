package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSession_FetchBeforeLaunchFailsFast(t *testing.T) {
	t.Parallel()

	s := NewSession(Config{}, zap.NewNop())
	_, err := s.Fetch(context.Background(), "https://example.com")
	require.ErrorIs(t, err, ErrNotLaunched)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewSession(Config{}, zap.NewNop())
	s.Close()
	s.Close()

	_, err := s.Fetch(context.Background(), "https://example.com")
	require.ErrorIs(t, err, ErrClosed)
}

func TestSession_LaunchAfterCloseFails(t *testing.T) {
	t.Parallel()

	s := NewSession(Config{}, zap.NewNop())
	s.Close()
	require.ErrorIs(t, s.Launch(context.Background()), ErrClosed)
}

func TestSession_ConfigDefaults(t *testing.T) {
	t.Parallel()

	s := NewSession(Config{}, zap.NewNop())
	require.Equal(t, 2, s.cfg.MaxPages)
	require.Equal(t, 45*time.Second, s.cfg.NavigationTimeout)
	require.NotEmpty(t, s.cfg.UserAgent)
	require.NotEmpty(t, s.cfg.AcceptLanguage)
}

func TestSession_LaunchIdempotentOnce(t *testing.T) {
	t.Skip("requires a local Chrome installation")
}
