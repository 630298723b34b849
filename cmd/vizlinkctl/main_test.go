package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/vizlink/internal/protocol"
	"github.com/danmuck/vizlink/internal/testutil/fakeworker"
	"github.com/danmuck/vizlink/internal/testutil/testlog"
)

func TestConfigInitWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vizlink.toml")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if !strings.Contains(string(data), "vizaddr_url") {
		t.Fatalf("template missing vizaddr_url:\n%s", data)
	}

	cmd = newRootCmd()
	cmd.SetArgs([]string{"config", "init", path})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", "--vizaddr", "not-a-url"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestRunStreamsFrames(t *testing.T) {
	w := fakeworker.New(fakeworker.Options{
		RenderConfig: json.RawMessage(`{"buffers":["positions"]}`),
		Logger:       testlog.Start(t),
	})
	defer w.Close()
	w.SetBuffer("positions", []byte("01234567"), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		if _, err := w.Await(ctx, fakeworker.IsEvent(protocol.EventBeginStreaming)); err != nil {
			return
		}
		_, _ = w.Push(w.Update(1, map[string]int{"points": 2}))
	}()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--vizaddr", w.URL(), "--frames", "1", "-p", "dataset=miserables"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "stage=rendered") {
		t.Fatalf("no rendered marker in output:\n%s", got)
	}
	if !strings.Contains(got, "positions=8B") {
		t.Fatalf("summary missing buffer:\n%s", got)
	}
}
