package isolator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fnrelay.dev/ferr"
	"fnrelay.dev/router"
)

func TestScope_SetenvOverlaysWithoutTouchingRealEnv(t *testing.T) {
	const key = "FNRELAY_ISOLATOR_TEST_VAR"
	require.NoError(t, os.Unsetenv(key))
	defer os.Unsetenv(key)

	iso := New()
	scope := iso.NewScope("req1")

	require.Equal(t, "", scope.Getenv(key))
	require.NoError(t, scope.Setenv(key, "overlay-value"))
	require.Equal(t, "overlay-value", scope.Getenv(key))
	require.Equal(t, "", os.Getenv(key))
}

func TestScope_UnsetenvHidesRealValueWithinScope(t *testing.T) {
	const key = "FNRELAY_ISOLATOR_TEST_REAL"
	require.NoError(t, os.Setenv(key, "real-value"))
	defer os.Unsetenv(key)

	iso := New()
	scope := iso.NewScope("req1")

	require.Equal(t, "real-value", scope.Getenv(key))
	require.NoError(t, scope.Unsetenv(key))
	require.Equal(t, "", scope.Getenv(key))
	require.Equal(t, "real-value", os.Getenv(key))
}

func TestScope_ChdirIsScopedAndDoesNotMoveRealCwd(t *testing.T) {
	realCwd, err := os.Getwd()
	require.NoError(t, err)

	iso := New()
	scope := iso.NewScope("req1")

	require.NoError(t, scope.Chdir("/tmp/fake-scope-dir"))
	cwd, err := scope.Getwd()
	require.NoError(t, err)
	require.Equal(t, "/tmp/fake-scope-dir", cwd)

	realNow, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, realCwd, realNow)
}

func TestScope_ExitReturnsCatchableError(t *testing.T) {
	iso := New()
	scope := iso.NewScope("req1")
	err := scope.Exit(1)
	require.ErrorIs(t, err, ferr.ErrHandlerExecFailure)
}

func TestIsolator_RunReturnsHandlerResult(t *testing.T) {
	iso := New()
	resp, err := iso.Run(context.Background(), "req1", func() (*router.Response, error) {
		return &router.Response{Status: 200}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
}

func TestIsolator_RunRecoversPanic(t *testing.T) {
	iso := New()
	_, err := iso.Run(context.Background(), "req1", func() (*router.Response, error) {
		panic("handler exploded")
	})
	require.ErrorIs(t, err, ferr.ErrHandlerExecFailure)
}

func TestIsolator_RunHonorsContextCancellation(t *testing.T) {
	iso := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := iso.Run(ctx, "req1", func() (*router.Response, error) {
		time.Sleep(time.Second)
		return &router.Response{Status: 200}, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
