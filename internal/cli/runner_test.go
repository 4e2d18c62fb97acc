package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prepline/kitchend/internal/api"
	"github.com/prepline/kitchend/internal/config"
	"github.com/prepline/kitchend/internal/daemon"
	"github.com/prepline/kitchend/internal/testutil"
)

func newTestDaemon(t *testing.T) string {
	t.Helper()
	store, _ := testutil.NewStore(t)
	srv := daemon.NewServer(config.DefaultConfig(), store, t.Logf)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCommand(t *testing.T, baseURL string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	runner := NewRunner("", &out, &errOut)
	code := runner.Run(context.Background(), append([]string{"--addr", baseURL, "--venue", "line-1"}, args...))
	return code, out.String(), errOut.String()
}

func TestRunnerHealth(t *testing.T) {
	baseURL := newTestDaemon(t)
	code, out, errOut := runCommand(t, baseURL, "health")
	if code != 0 {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	if strings.TrimSpace(out) != "ok" {
		t.Fatalf("out = %q, want ok", out)
	}
}

func TestRunnerStartListAndPause(t *testing.T) {
	baseURL := newTestDaemon(t)

	code, out, errOut := runCommand(t, baseURL, "start", "--label", "Pasta", "--duration", "600", "--station", "saute")
	if code != 0 {
		t.Fatalf("start exit = %d, stderr: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "started Pasta (") {
		t.Fatalf("start out = %q", out)
	}

	code, out, _ = runCommand(t, baseURL, "list")
	if code != 0 {
		t.Fatalf("list exit = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("list printed %d lines, want 1: %q", len(lines), out)
	}
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 6 {
		t.Fatalf("list line has %d fields: %q", len(fields), lines[0])
	}
	timerID := fields[0]
	if fields[1] != "Pasta" || fields[2] != "running" || fields[4] != "safe" || fields[5] != "saute" {
		t.Fatalf("list line = %q", lines[0])
	}

	code, out, errOut = runCommand(t, baseURL, "pause", timerID)
	if code != 0 {
		t.Fatalf("pause exit = %d, stderr: %s", code, errOut)
	}
	if strings.TrimSpace(out) != "pause "+timerID {
		t.Fatalf("pause out = %q", out)
	}

	_, out, _ = runCommand(t, baseURL, "list")
	if !strings.Contains(out, "\tpaused\t") {
		t.Fatalf("list after pause = %q, want paused status", out)
	}
}

func TestRunnerWatchOnce(t *testing.T) {
	baseURL := newTestDaemon(t)
	if code, _, errOut := runCommand(t, baseURL, "start", "--label", "Stock", "--duration", "3600"); code != 0 {
		t.Fatalf("start exit = %d, stderr: %s", code, errOut)
	}

	code, out, errOut := runCommand(t, baseURL, "watch", "--once")
	if code != 0 {
		t.Fatalf("watch exit = %d, stderr: %s", code, errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("watch printed %d lines, want reset then snapshot: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], `"type":"reset"`) || !strings.Contains(lines[1], `"type":"snapshot"`) {
		t.Fatalf("watch lines = %q", out)
	}
}

func TestRunnerUsageErrors(t *testing.T) {
	baseURL := newTestDaemon(t)
	cases := [][]string{
		{"frobnicate"},
		{"start"},
		{"pause"},
		{"add-time", "some-id"},
		{"add-time", "some-id", "not-a-number"},
		{"snooze"},
	}
	for _, args := range cases {
		code, _, errOut := runCommand(t, baseURL, args...)
		if code != 2 {
			t.Fatalf("%v exit = %d, want 2", args, code)
		}
		if errOut == "" {
			t.Fatalf("%v produced no usage output", args)
		}
	}
}

func TestRunnerActionErrorSurface(t *testing.T) {
	// No daemon behind this address; the client error must surface as exit 1.
	code, _, errOut := runCommand(t, "http://127.0.0.1:1", "health")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(errOut, "error:") {
		t.Fatalf("stderr = %q, want an error line", errOut)
	}
}

func TestFormatRemaining(t *testing.T) {
	mk := func(v int64) api.TimerItem {
		return api.TimerItem{RemainingSeconds: &v}
	}
	if got := formatRemaining(api.TimerItem{}); got != "-" {
		t.Fatalf("formatRemaining(no value) = %q", got)
	}
	for _, tc := range []struct {
		seconds int64
		want    string
	}{
		{0, "0:00"},
		{59, "0:59"},
		{125, "2:05"},
		{3600, "60:00"},
		{-61, "-1:01"},
	} {
		if got := formatRemaining(mk(tc.seconds)); got != tc.want {
			t.Fatalf("formatRemaining(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
