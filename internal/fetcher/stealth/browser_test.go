package stealth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	b := New(Config{}, nil)
	require.Equal(t, defaultNavigationTimeout, b.cfg.NavigationTimeout)
	require.False(t, b.IsActive())

	b = New(Config{NavigationTimeout: time.Second}, nil)
	require.Equal(t, time.Second, b.cfg.NavigationTimeout)
}

func TestNewPageRequiresInit(t *testing.T) {
	t.Parallel()

	b := New(Config{}, nil)
	_, err := b.NewPage(context.Background())
	require.True(t, errors.Is(err, ErrNotInitialized))
	require.NoError(t, b.Close(context.Background()))
}

func TestLauncherHonoursConfig(t *testing.T) {
	t.Parallel()

	l := New(Config{ExecPath: "/opt/chrome/chrome"}, nil).newLauncher()
	require.True(t, l.Has("headless"))
	require.Equal(t, "AutomationControlled", l.Get("disable-blink-features"))

	headful := New(Config{Headful: true}, nil).newLauncher()
	require.False(t, headful.Has("headless"))
}

func TestClosedPageRejectsWork(t *testing.T) {
	t.Parallel()

	p := newPage(nil, nil, time.Second)
	p.closed = true
	_, err := p.Title(context.Background())
	require.Error(t, err)
	_, err = p.AuthenticateHTTP(context.Background(), "u", "p")
	require.Error(t, err)
	require.NoError(t, p.Close(context.Background()))
}
