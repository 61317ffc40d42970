package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/agentviz-cli/internal/backend"
	cfgpkg "github.com/KaramelBytes/agentviz-cli/internal/config"
	"github.com/KaramelBytes/agentviz-cli/internal/report"
	"github.com/KaramelBytes/agentviz-cli/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags clears values and Changed state that persist across Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args in an isolated HOME and returns
// stdout and the command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfg = nil
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func isolatedHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeSales(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("region,revenue\nwest,100\n"), 0o644))
	return p
}

func TestCLI_AnalyzeUploadsAndShowsDataset(t *testing.T) {
	home := isolatedHome(t)
	fb := &fakeAnalysisBackend{}
	srv := newIPv4Server(t, fb)

	out, err := execute(t, "analyze", writeSales(t, home, "sales.csv"), "--backend-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "SessionReady")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "Sales by region")
	assert.Contains(t, out, "region, revenue")
	assert.Contains(t, out, "west")
	assert.Equal(t, []string{"/upload", "/visualize"}, fb.Routes())
}

func TestCLI_AnalyzeWithQueryWritesReportAndCharts(t *testing.T) {
	home := isolatedHome(t)
	fb := &fakeAnalysisBackend{}
	srv := newIPv4Server(t, fb)
	reportPath := filepath.Join(home, "out", "report.md")
	chartsDir := filepath.Join(home, "charts")

	out, err := execute(t, "analyze", writeSales(t, home, "sales.csv"),
		"--backend-url", srv.URL,
		"-q", "total revenue by region",
		"-f", "markdown",
		"-o", reportPath,
		"--charts-dir", chartsDir,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote report to")
	assert.Contains(t, out, "Wrote 2 chart(s)")
	assert.Equal(t, []string{"/upload", "/visualize", "/query", "/convert_code", "/validate", "/visualize"}, fb.Routes())

	b, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	md := string(b)
	assert.Contains(t, md, "# Analysis: sales.csv")
	assert.Contains(t, md, "> total revenue by region")
	assert.Contains(t, md, "GROUP BY region")
	assert.Contains(t, md, "The result is consistent with the data")

	png, err := os.ReadFile(filepath.Join(chartsDir, "chart_02.png"))
	require.NoError(t, err)
	assert.Equal(t, tinyPNG, png)
	_, err = os.Stat(filepath.Join(chartsDir, "chart_01.plotly.json"))
	require.NoError(t, err)
}

func TestCLI_AnalyzeJSONOutput(t *testing.T) {
	home := isolatedHome(t)
	srv := newIPv4Server(t, &fakeAnalysisBackend{})

	out, err := execute(t, "analyze", writeSales(t, home, "sales.csv"), "--backend-url", srv.URL, "-q", "totals", "-f", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "QueryReady"`)
	assert.Contains(t, out, `"session_id": "abc123"`)
	assert.Contains(t, out, `"executed_code"`)
}

func TestCLI_AnalyzeUploadFailure(t *testing.T) {
	home := isolatedHome(t)
	fb := &fakeAnalysisBackend{}
	srv := newIPv4Server(t, fb)

	_, err := execute(t, "analyze", writeSales(t, home, "broken.csv"), "--backend-url", srv.URL, "-q", "anything")
	require.Error(t, err)
	var brErr *backend.BadRequestError
	require.ErrorAs(t, err, &brErr)
	assert.Contains(t, err.Error(), "Could not parse file")
	assert.Equal(t, []string{"/upload"}, fb.Routes())
}

func TestCLI_AnalyzeQueryFailureExitsNonZero(t *testing.T) {
	home := isolatedHome(t)
	fb := &fakeAnalysisBackend{}
	srv := newIPv4Server(t, fb)

	out, err := execute(t, "analyze", writeSales(t, home, "sales.csv"), "--backend-url", srv.URL, "-q", "explode")
	require.Error(t, err)
	var sErr *backend.ServerError
	require.ErrorAs(t, err, &sErr)
	assert.Contains(t, out, "QueryFailed")
	assert.Contains(t, out, "Query engine crashed")
	assert.Equal(t, []string{"/upload", "/visualize", "/query"}, fb.Routes())
}

func TestCLI_AnalyzeRejectsUnsupportedFile(t *testing.T) {
	home := isolatedHome(t)
	p := filepath.Join(home, "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("hi"), 0o644))

	_, err := execute(t, "analyze", p)
	var verr *session.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCLI_AnalyzeUnreachableBackendHint(t *testing.T) {
	home := isolatedHome(t)
	srv := newIPv4Server(t, &fakeAnalysisBackend{})
	url := srv.URL
	srv.Close()

	_, err := execute(t, "analyze", writeSales(t, home, "sales.csv"), "--backend-url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Contains(t, err.Error(), "AGENTVIZ_BACKEND_URL")
}

func TestCLI_Ping(t *testing.T) {
	isolatedHome(t)
	srv := newIPv4Server(t, &fakeAnalysisBackend{})

	out, err := execute(t, "ping", "--backend-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Welcome to the Data Analysis API")
}

func TestCLI_ConfigSetAndShow(t *testing.T) {
	home := isolatedHome(t)

	_, err := execute(t, "config", "set", "backend_url", "http://analysis.local:9000")
	require.NoError(t, err)
	_, err = execute(t, "config", "set", "default_format", "md")
	require.NoError(t, err)
	_, err = execute(t, "config", "set", "retry_max_attempts", "0")
	require.Error(t, err)
	_, err = execute(t, "config", "set", "nope", "x")
	require.Error(t, err)

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend_url: http://analysis.local:9000")
	assert.Contains(t, out, "default_format: markdown")
	_, err = os.Stat(filepath.Join(home, cfgpkg.DirName, "config.yaml"))
	require.NoError(t, err)
}

func TestCLI_BackendURLFlagOverridesConfig(t *testing.T) {
	isolatedHome(t)
	srv := newIPv4Server(t, &fakeAnalysisBackend{})

	_, err := execute(t, "config", "set", "backend_url", "http://127.0.0.1:1")
	require.NoError(t, err)
	out, err := execute(t, "ping", "--backend-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL)
}

func newTestShell(t *testing.T, url string) (*shell, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cfg = &cfgpkg.Global{BackendURL: url, HTTPTimeoutSec: 5, StageTimeoutSec: 5, RetryMaxAttempts: 1}
	t.Cleanup(func() { cfg = nil })
	var out, errOut bytes.Buffer
	return newShell(context.Background(), &out, &errOut, report.FormatText), &out, &errOut
}

func TestShell_ProcessThenQuery(t *testing.T) {
	home := isolatedHome(t)
	fb := &fakeAnalysisBackend{}
	srv := newIPv4Server(t, fb)
	sh, out, errOut := newTestShell(t, srv.URL)

	assert.False(t, sh.handleLine(".file "+writeSales(t, home, "sales.csv")))
	assert.False(t, sh.handleLine(".process"))
	assert.Equal(t, session.SessionReady, sh.ctrl.State())
	assert.Contains(t, out.String(), "abc123")
	assert.Contains(t, errOut.String(), "uploading sales.csv")

	out.Reset()
	assert.False(t, sh.handleLine("total revenue by region"))
	assert.Equal(t, session.QueryReady, sh.ctrl.State())
	assert.Contains(t, out.String(), "Summed revenue per region")
	assert.Contains(t, out.String(), "The result is consistent with the data")

	dir := filepath.Join(home, "charts")
	assert.False(t, sh.handleLine(".charts "+dir))
	assert.Contains(t, out.String(), "Wrote 2 chart(s)")

	assert.True(t, sh.handleLine(".quit"))
}

func TestShell_QueryBeforeProcessIsChained(t *testing.T) {
	home := isolatedHome(t)
	fb := &fakeAnalysisBackend{}
	srv := newIPv4Server(t, fb)
	sh, out, _ := newTestShell(t, srv.URL)

	sh.handleLine(".file " + writeSales(t, home, "sales.csv"))
	sh.handleLine("total revenue by region")
	assert.Contains(t, out.String(), "Query saved")
	assert.Empty(t, fb.Routes())

	sh.handleLine(".process")
	assert.Equal(t, session.QueryReady, sh.ctrl.State())
	assert.Equal(t, []string{"/upload", "/visualize", "/query", "/convert_code", "/validate", "/visualize"}, fb.Routes())
}

func TestShell_QueryFailureKeepsSession(t *testing.T) {
	home := isolatedHome(t)
	srv := newIPv4Server(t, &fakeAnalysisBackend{})
	sh, _, errOut := newTestShell(t, srv.URL)

	sh.handleLine(".file " + writeSales(t, home, "sales.csv"))
	sh.handleLine(".process")
	sh.handleLine("explode")
	assert.Equal(t, session.QueryFailed, sh.ctrl.State())
	assert.Contains(t, errOut.String(), "Query engine crashed")

	sh.handleLine("total revenue by region")
	assert.Equal(t, session.QueryReady, sh.ctrl.State())
}

func TestShell_UnknownAndUsage(t *testing.T) {
	isolatedHome(t)
	sh, out, errOut := newTestShell(t, "http://127.0.0.1:1")

	sh.handleLine(".bogus")
	sh.handleLine(".file")
	sh.handleLine(".format html")
	sh.handleLine(".help")
	assert.Contains(t, errOut.String(), "Unknown command: .bogus")
	assert.Contains(t, errOut.String(), "Usage: .file <path>")
	assert.Contains(t, errOut.String(), "unknown format")
	assert.Contains(t, out.String(), ".process")
}

func TestShell_ProcessWithoutFile(t *testing.T) {
	isolatedHome(t)
	sh, _, errOut := newTestShell(t, "http://127.0.0.1:1")

	assert.False(t, sh.handleLine(".process"))
	assert.Contains(t, errOut.String(), "Error: Please upload a file.")
	assert.NotContains(t, errOut.String(), "validation:")
	assert.Equal(t, session.Idle, sh.ctrl.State())
}

func TestExplainHints(t *testing.T) {
	cfg = &cfgpkg.Global{BackendURL: "http://localhost:8000"}
	t.Cleanup(func() { cfg = nil })

	cases := []struct {
		err  error
		want string
	}{
		{&backend.UnreachableError{Host: "localhost:8000", Err: errors.New("refused")}, "not reachable"},
		{&backend.SessionNotFoundError{APIError: &backend.APIError{StatusCode: 404}}, "Process the file again"},
		{&backend.RateLimitError{APIError: &backend.APIError{StatusCode: 429}}, "rate limited"},
		{&backend.ServerError{APIError: &backend.APIError{StatusCode: 500}}, "Retry later"},
		{&session.StageError{Stage: session.StageUpload, Message: "x", Err: &backend.BadRequestError{APIError: &backend.APIError{StatusCode: 400}}}, ".csv, .xlsx, .sql"},
	}
	for _, c := range cases {
		got := explain(c.err)
		assert.True(t, strings.Contains(got.Error(), c.want), "%v -> %v", c.err, got)
		assert.True(t, errors.Is(got, c.err))
	}
	assert.Nil(t, explain(nil))
	assert.Equal(t, session.ErrBusy, explain(session.ErrBusy))
}
