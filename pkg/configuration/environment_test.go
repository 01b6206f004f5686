package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "SOWFLOW_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "modules", "sow")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(sub))

	_ = os.Unsetenv("SOWFLOW_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("SOWFLOW_TEST_ENV_LOAD"))
}

func TestLoad_DefaultsAndWorkflowPolicy(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOG_CONSOLE", "true")
	t.Setenv("SOW_ALLOW_REDECISION", "true")
	t.Setenv("SOW_STORE_TIMEOUT", "2s")

	c := &Configuration{}
	require.NoError(t, c.load([]string{".env"}))
	t.Cleanup(c.Unload)

	require.True(t, c.Workflow.AllowRedecision)
	require.False(t, c.Workflow.EnforceStageAssignee)
	require.Equal(t, 2*time.Second, c.Workflow.StoreTimeout)
	require.Equal(t, "public.sow_workflow_outbox", c.Outbox.Table)
	require.Equal(t, "localhost:3200", c.SocketAddress)
	require.NotNil(t, c.Logger())
	require.Contains(t, c.Database.Opts, "dbname=sowflow")
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOG_CONSOLE", "true")
	t.Setenv("SOW_STORE_TIMEOUT", "0s")
	t.Setenv("SLACK_WEBHOOK_URL", "http://hooks.example.com/x")

	c := &Configuration{}
	err := c.load([]string{".env"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SOW_STORE_TIMEOUT")
	require.Contains(t, err.Error(), "SLACK_WEBHOOK_URL")
}

func TestRateLimitOptions_Validate(t *testing.T) {
	cases := []struct {
		name    string
		opts    RateLimitOptions
		wantErr bool
	}{
		{name: "memory", opts: RateLimitOptions{GlobalRPS: 10, Storage: "memory"}},
		{name: "redis without url", opts: RateLimitOptions{GlobalRPS: 10, Storage: "redis"}, wantErr: true},
		{name: "unknown storage", opts: RateLimitOptions{GlobalRPS: 10, Storage: "disk"}, wantErr: true},
		{name: "negative", opts: RateLimitOptions{GlobalRPS: -1, Storage: "memory"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAllowedOrigins_SplitsAndTrims(t *testing.T) {
	c := &Configuration{CORSAllowedOrigins: " http://a.test , ,http://b.test"}
	require.Equal(t, []string{"http://a.test", "http://b.test"}, c.AllowedOrigins())
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(dir))
}
