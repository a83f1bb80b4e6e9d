package shell

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	res, err := Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo err >&2; exit 3")
	if err == nil {
		t.Fatalf("expected error for exit 3")
	}
	if res.Code != 3 {
		t.Fatalf("expected code 3, got %d", res.Code)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" {
		t.Fatalf("stdout not captured: %q", res.Stdout)
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CommandError, got %T", err)
	}
	if !strings.Contains(ce.Error(), "err") {
		t.Fatalf("stderr not in message: %s", ce.Error())
	}
}

func TestRunTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	_, err := Run(context.Background(), 50*time.Millisecond, "sh", "-c", "sleep 5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd" {
		t.Fatalf("truncate: %q", got)
	}
	if got := truncate("ab", 4); got != "ab" {
		t.Fatalf("truncate short: %q", got)
	}
}
