package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("engine")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("snapshot published", "seq", 7)

	out := buf.String()
	if !strings.Contains(out, "msg=\"snapshot published\"") {
		t.Fatalf("expected plain message, got: %s", out)
	}
	if !strings.Contains(out, "component=engine") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "seq=7") {
		t.Fatalf("expected seq field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("lifecycle")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)

	WithRequest(L("launcher"), "req-1", "launch").Debug("started")

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("expected JSON output, got: %s", out)
	}
	if !strings.Contains(out, `"requestId":"req-1"`) {
		t.Fatalf("expected request id, got: %s", out)
	}
	if !strings.Contains(out, `"request":"launch"`) {
		t.Fatalf("expected request kind, got: %s", out)
	}
}

func TestContextCarriesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := NewContext(context.Background(), logger)
	FromContext(ctx).Info("from context")

	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("expected context logger to be used, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger fallback")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitSwitchesBetweenFormats(t *testing.T) {
	logger := L("engine").With("tick", 1)

	var jsonBuf bytes.Buffer
	Init("json", "info", &jsonBuf)
	logger.Info("first")

	var textBuf bytes.Buffer
	Init("text", "info", &textBuf)
	logger.Info("second")

	var againBuf bytes.Buffer
	Init("json", "info", &againBuf)
	logger.Info("third")

	if out := jsonBuf.String(); !strings.Contains(out, `"msg":"first"`) || !strings.Contains(out, `"tick":1`) {
		t.Fatalf("expected JSON record, got: %s", out)
	}
	if out := textBuf.String(); !strings.Contains(out, "msg=second") || !strings.Contains(out, "component=engine") {
		t.Fatalf("expected text record, got: %s", out)
	}
	if out := againBuf.String(); !strings.Contains(out, `"msg":"third"`) {
		t.Fatalf("expected JSON record after switching back, got: %s", out)
	}
	if strings.Contains(jsonBuf.String(), "second") {
		t.Fatal("record written to a replaced handler")
	}
}

func TestGroupsAndAttrsKeepOrderAcrossInit(t *testing.T) {
	logger := L("launcher").WithGroup("req").With("id", "r1").WithGroup("cmd").With("line", "gedit")

	var buf bytes.Buffer
	Init("text", "info", &buf)
	logger.Info("started", "pid", 42)

	out := buf.String()
	for _, want := range []string{"component=launcher", "req.id=r1", "req.cmd.line=gedit", "req.cmd.pid=42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in: %s", want, out)
		}
	}
}

func TestInitConcurrentWithLogging(t *testing.T) {
	logger := L("stats")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				logger.Info("sample", "j", j)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		format := "text"
		if i%2 == 0 {
			format = "json"
		}
		Init(format, "info", io.Discard)
	}
	wg.Wait()
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "taskmgr.log")
	rw, err := NewRotatingWriter(path, Rotation{MaxSizeMB: 1, MaxFiles: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	t.Cleanup(func() { rw.Close() })

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for _, name := range []string{path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected backup %s: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Fatal("backup beyond MaxFiles should not exist")
	}
}

func TestRotatingWriterPrunesToSmallerPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskmgr.log")
	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(fmt.Sprintf("%s.%d", path, i), []byte("old"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	rw, err := NewRotatingWriter(path, Rotation{MaxSizeMB: 1, MaxFiles: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	for i := 3; i <= 5; i++ {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", path, i)); err == nil {
			t.Fatalf("backup .%d should have been pruned", i)
		}
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("backup .2 should be kept: %v", err)
	}
}

func TestRotatingWriterZeroPolicyUsesDefaults(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "taskmgr.log"), Rotation{})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	if rw.policy.MaxSizeMB != 10 || rw.policy.MaxFiles != 3 {
		t.Fatalf("policy = %+v, want 10 MB / 3 files", rw.policy)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Fatal("write after Close should fail")
	}
}
