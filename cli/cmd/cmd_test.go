package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/llmer/adapter"
	"github.com/justapithecus/llmer/adapter/redis"
	"github.com/justapithecus/llmer/adapter/webhook"
	"github.com/justapithecus/llmer/backend"
	"github.com/justapithecus/llmer/cli/config"
	"github.com/justapithecus/llmer/cli/reader"
	"github.com/justapithecus/llmer/ipc"
	"github.com/justapithecus/llmer/lode"
	"github.com/justapithecus/llmer/metrics"
	"github.com/justapithecus/llmer/types"
)

// newTestApp builds an app whose output goes to out and whose exit errors
// are returned instead of terminating the test binary.
func newTestApp(out *bytes.Buffer, extra ...*cli.Command) *cli.App {
	return &cli.App{
		Name:           "llmer",
		Writer:         out,
		ErrWriter:      out,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: append([]*cli.Command{
			StatsCommand(),
			InspectCommand(),
			DebugCommand(),
			VersionCommand("abc123"),
		}, extra...),
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newTestApp(&out).Run(append([]string{"llmer"}, args...))
	return out.String(), err
}

// seedDataset records cycles for two sessions into an fs dataset.
func seedDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	factory := lode.LodeRecorderFactory{Factory: lodeFSFactory(dir)}
	start := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	write := func(session string, cycle int, latency float64, commands ...string) {
		rec, err := factory.ForSession(session, start)
		if err != nil {
			t.Fatalf("ForSession: %v", err)
		}
		err = rec.RecordCycle(context.Background(), &types.CycleRecord{
			SessionID:      session,
			Cycle:          cycle,
			Model:          "gpt-4o",
			TotalTokens:    50,
			InputTokens:    40,
			OutputTokens:   10,
			LatencySeconds: latency,
			Commands:       commands,
			CompletedAt:    start.Add(time.Duration(cycle) * time.Minute),
			Response:       "Hello.",
		})
		if err != nil {
			t.Fatalf("RecordCycle: %v", err)
		}
	}
	write("sess-a", 1, 1.5, "move", "0")
	write("sess-a", 2, 0.5, "2")
	write("sess-b", 1, 1.0, "2", "3")
	return dir
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestVersionCommand_JSON(t *testing.T) {
	out, err := run(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}

	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Version != types.Version || resp.Commit != "abc123" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestVersionCommand_RejectsTUI(t *testing.T) {
	_, err := run(t, "version", "--tui")
	if err == nil || !strings.Contains(err.Error(), "--tui is not supported") {
		t.Errorf("expected TUI rejection, got %v", err)
	}
}

func TestStatsCommand_SummarizesCycles(t *testing.T) {
	dir := seedDataset(t)

	out, err := run(t, "stats", "--storage", "fs", "--storage-path", dir, "--format", "json")
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}

	var stats reader.CycleStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if stats.Cycles != 3 || stats.Sessions != 2 {
		t.Errorf("cycles/sessions = %d/%d, want 3/2", stats.Cycles, stats.Sessions)
	}
	if stats.TotalTokens != 150 {
		t.Errorf("TotalTokens = %d, want 150", stats.TotalTokens)
	}
	if stats.MeanLatency != 1.0 || stats.MaxLatency != 1.5 {
		t.Errorf("latency mean/max = %v/%v, want 1/1.5", stats.MeanLatency, stats.MaxLatency)
	}
	if stats.Codes["terminal"] != 0 || stats.Codes["command"] != 1 || stats.Codes["text"] != 2 || stats.Codes["action"] != 1 {
		t.Errorf("Codes = %v", stats.Codes)
	}
}

func TestStatsSessions(t *testing.T) {
	dir := seedDataset(t)

	out, err := run(t, "stats", "sessions", "--storage", "fs", "--storage-path", dir, "--format", "json")
	if err != nil {
		t.Fatalf("stats sessions failed: %v\n%s", err, out)
	}

	var rows []reader.SessionSummary
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(rows) != 2 || rows[0].SessionID != "sess-a" || rows[0].Cycles != 2 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestStatsCommand_ConfigFileSuppliesStorage(t *testing.T) {
	dir := seedDataset(t)
	cfgPath := filepath.Join(t.TempDir(), "llmer.yaml")
	content := "storage:\n  backend: fs\n  path: " + dir + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "stats", "--config", cfgPath, "--format", "yaml")
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "cycles: 3") {
		t.Errorf("YAML output missing cycle count:\n%s", out)
	}
}

func TestStatsCommand_FileBackendUnsupported(t *testing.T) {
	_, err := run(t, "stats", "--storage", "file", "--storage-path", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "per-session CSV") {
		t.Errorf("expected file backend error, got %v", err)
	}
}

func TestStatsCommand_RequiresPath(t *testing.T) {
	_, err := run(t, "stats", "--storage", "fs")
	if err == nil || !strings.Contains(err.Error(), "--storage-path is required") {
		t.Errorf("expected missing path error, got %v", err)
	}
}

func TestStatsMetrics(t *testing.T) {
	dir := t.TempDir()
	factory := lode.LodeRecorderFactory{Factory: lodeFSFactory(dir)}
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	collector := metrics.NewCollector("gpt-4o", "fs")
	collector.IncSessionStarted()
	collector.IncCyclesCompleted()
	collector.IncSentence(2)

	rec, err := factory.MetricsRecorder(now)
	if err != nil {
		t.Fatalf("MetricsRecorder: %v", err)
	}
	if err := rec.WriteMetrics(context.Background(), collector.Snapshot(), now); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}

	out, err := run(t, "stats", "metrics", "--storage", "fs", "--storage-path", dir, "--format", "json")
	if err != nil {
		t.Fatalf("stats metrics failed: %v\n%s", err, out)
	}

	var snap reader.MetricsSnapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if snap.SessionsStarted != 1 || snap.CyclesCompleted != 1 || snap.StorageBackend != "fs" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.SentencesByType["text"] != 1 {
		t.Errorf("SentencesByType = %v", snap.SentencesByType)
	}
}

func TestInspectSession(t *testing.T) {
	dir := seedDataset(t)

	out, err := run(t, "inspect", "session", "--storage", "fs", "--storage-path", dir, "--format", "json", "sess-a")
	if err != nil {
		t.Fatalf("inspect failed: %v\n%s", err, out)
	}

	var detail reader.SessionDetail
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if detail.SessionID != "sess-a" || len(detail.Cycles) != 2 {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Cycles[0].Commands != "move 0" {
		t.Errorf("cycle 1 commands = %q", detail.Cycles[0].Commands)
	}
}

func TestInspectSession_NotFound(t *testing.T) {
	dir := seedDataset(t)
	_, err := run(t, "inspect", "session", "--storage", "fs", "--storage-path", dir, "sess-zzz")
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestInspectSession_RequiresID(t *testing.T) {
	_, err := run(t, "inspect", "session")
	if err == nil || !strings.Contains(err.Error(), "session ID required") {
		t.Errorf("expected missing ID error, got %v", err)
	}
}

func TestDebugFrames(t *testing.T) {
	var capture bytes.Buffer
	for _, f := range []struct {
		code    uint8
		payload string
	}{
		{2, "You are a robot."},
		{0, "Wave hello."},
	} {
		buf, err := ipc.EncodeFrame(f.code, []byte(f.payload))
		if err != nil {
			t.Fatal(err)
		}
		capture.Write(buf)
	}
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, capture.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "debug", "frames", "--format", "json", path)
	if err != nil {
		t.Fatalf("debug frames failed: %v\n%s", err, out)
	}

	var views []reader.FrameView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(views) != 2 || views[0].Role != "system_prompt" || views[1].Preview != "Wave hello." {
		t.Errorf("views = %+v", views)
	}
}

func TestDebugFrames_TruncatedCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, []byte("0        9abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "debug", "frames", "--format", "json", path)
	if err == nil || !strings.Contains(err.Error(), "framing error after 0 frames") {
		t.Errorf("expected framing error, got %v", err)
	}
}

// serveConfigApp exposes the config resolved by the serve flags.
func serveConfigApp(got **config.Config) *cli.App {
	return &cli.App{
		Name:           "llmer",
		Writer:         &bytes.Buffer{},
		ErrWriter:      &bytes.Buffer{},
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{{
			Name:  "serve",
			Flags: serveFlags(),
			Action: func(c *cli.Context) error {
				cfg, err := loadServeConfig(c)
				*got = cfg
				return err
			},
		}},
	}
}

func TestLoadServeConfig_FlagsOverrideFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "llmer.yaml")
	content := `listen: ":9000"
max_connections: 8
backend:
  provider: scripted
  model: from-file
storage:
  backend: fs
  path: /data/llmer
log:
  level: debug
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var cfg *config.Config
	err := serveConfigApp(&cfg).Run([]string{"llmer", "serve",
		"--config", cfgPath,
		"--listen", ":9100",
		"--model", "from-flag",
		"--idle-timeout", "30s",
	})
	if err != nil {
		t.Fatalf("loadServeConfig failed: %v", err)
	}

	if cfg.Listen != ":9100" {
		t.Errorf("Listen = %q, want flag value", cfg.Listen)
	}
	if cfg.MaxConnections != 8 {
		t.Errorf("MaxConnections = %d, want file value", cfg.MaxConnections)
	}
	if cfg.Backend.Model != "from-flag" {
		t.Errorf("Model = %q, want flag value", cfg.Backend.Model)
	}
	if cfg.Log.Level != "debug" || cfg.Storage.Path != "/data/llmer" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.IdleTimeout.Duration != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", cfg.IdleTimeout.Duration)
	}
	if cfg.WriteTimeout.Duration != config.DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %v, want default", cfg.WriteTimeout.Duration)
	}
}

func TestLoadServeConfig_RejectWhenFull(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-test")

	var cfg *config.Config
	err := serveConfigApp(&cfg).Run([]string{"llmer", "serve", "--max-connections", "2", "--reject-when-full"})
	if err != nil {
		t.Fatalf("loadServeConfig failed: %v", err)
	}
	if !cfg.RejectWhenFull {
		t.Error("RejectWhenFull = false, want flag value")
	}

	sc := serverConfig(cfg, "gpt-4o")
	if !sc.RejectWhenFull || sc.MaxConnections != 2 {
		t.Errorf("server config = %+v, want reject when full with 2 connections", sc)
	}
	if sc.Session.Model != "gpt-4o" || sc.Addr != config.DefaultListen {
		t.Errorf("server config = %+v", sc)
	}
}

func TestLoadServeConfig_APIKeyFromEnvironment(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-from-env")

	var cfg *config.Config
	if err := serveConfigApp(&cfg).Run([]string{"llmer", "serve"}); err != nil {
		t.Fatalf("loadServeConfig failed: %v", err)
	}
	if cfg.Backend.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want environment value", cfg.Backend.APIKey)
	}
	if cfg.Listen != config.DefaultListen || cfg.Storage.Backend != config.DefaultStorageBackend {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadServeConfig_MissingAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	var cfg *config.Config
	err := serveConfigApp(&cfg).Run([]string{"llmer", "serve"})
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("expected api_key error, got %v", err)
	}
}

func TestBuildBackend_Scripted(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Provider = "scripted"
	cfg.Backend.Model = "offline"

	client, err := buildBackend(cfg)
	if err != nil {
		t.Fatalf("buildBackend: %v", err)
	}
	if _, ok := client.(*backend.ScriptedClient); !ok {
		t.Errorf("client = %T, want *backend.ScriptedClient", client)
	}
	if client.Model() != "offline" {
		t.Errorf("Model() = %q", client.Model())
	}
}

func TestBuildBackend_OpenAI(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.APIKey = "sk-test"
	cfg.Backend.Model = "gpt-4o-mini"

	client, err := buildBackend(cfg)
	if err != nil {
		t.Fatalf("buildBackend: %v", err)
	}
	if _, ok := client.(*backend.OpenAIClient); !ok {
		t.Errorf("client = %T, want *backend.OpenAIClient", client)
	}
}

func TestBuildStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")

	cfg := config.Default()
	cfg.Storage.Path = dir
	stack, err := buildStorage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildStorage(file): %v", err)
	}
	if _, ok := stack.recorders.(lode.FileRecorderFactory); !ok {
		t.Errorf("recorders = %T, want FileRecorderFactory", stack.recorders)
	}
	if stack.metrics != nil {
		t.Error("file backend should not record process metrics")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("storage directory not created: %v", err)
	}

	cfg.Storage.Backend = "fs"
	stack, err = buildStorage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildStorage(fs): %v", err)
	}
	if _, ok := stack.images.(*lode.LodeImageStore); !ok {
		t.Errorf("images = %T, want *LodeImageStore", stack.images)
	}
	if stack.metrics == nil {
		t.Error("fs backend should record process metrics")
	}
}

func TestBuildAdapter(t *testing.T) {
	cfg := config.Default()
	pub, err := buildAdapter(cfg)
	if err != nil {
		t.Fatalf("buildAdapter(none): %v", err)
	}
	if _, ok := pub.(adapter.Nop); !ok {
		t.Errorf("adapter = %T, want Nop", pub)
	}

	cfg.Adapter.Type = "webhook"
	cfg.Adapter.URL = "http://localhost:9/hook"
	pub, err = buildAdapter(cfg)
	if err != nil {
		t.Fatalf("buildAdapter(webhook): %v", err)
	}
	if _, ok := pub.(*webhook.Adapter); !ok {
		t.Errorf("adapter = %T, want *webhook.Adapter", pub)
	}
	_ = pub.Close()

	zero := 0
	cfg.Adapter.Type = "redis"
	cfg.Adapter.URL = "redis://localhost:6379/0"
	cfg.Adapter.Encoding = "msgpack"
	cfg.Adapter.Retries = &zero
	pub, err = buildAdapter(cfg)
	if err != nil {
		t.Fatalf("buildAdapter(redis): %v", err)
	}
	if _, ok := pub.(*redis.Adapter); !ok {
		t.Errorf("adapter = %T, want *redis.Adapter", pub)
	}
	_ = pub.Close()

	cfg.Adapter.URL = "://bad"
	if _, err := buildAdapter(cfg); err == nil {
		t.Error("expected error for invalid redis URL")
	}
}

func TestWriteShutdownMetrics(t *testing.T) {
	dir := t.TempDir()
	factory := &lode.LodeRecorderFactory{Factory: lodeFSFactory(dir)}
	collector := metrics.NewCollector("scripted", "fs")
	collector.IncSessionStarted()

	writeShutdownMetrics(factory, collector, nopLogger())

	ds, err := lode.NewReadDatasetFS(lode.DefaultDataset, dir)
	if err != nil {
		t.Fatal(err)
	}
	record, err := lode.QueryLatestMetrics(context.Background(), ds)
	if err != nil {
		t.Fatalf("QueryLatestMetrics: %v", err)
	}
	snap, err := reader.ParseMetricsRecord(record)
	if err != nil {
		t.Fatal(err)
	}
	if snap.SessionsStarted != 1 {
		t.Errorf("SessionsStarted = %d, want 1", snap.SessionsStarted)
	}
}

func TestOpenReadDataset_UnknownBackend(t *testing.T) {
	_, err := openReadDataset(context.Background(), config.StorageConfig{Backend: "ftp", Path: "x"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage backend") {
		t.Errorf("expected unsupported backend error, got %v", err)
	}
}

func TestS3ConfigFor(t *testing.T) {
	got := s3ConfigFor(config.StorageConfig{
		Path:        "bucket/prefix/sub",
		Region:      "eu-west-1",
		Endpoint:    "http://minio:9000",
		S3PathStyle: true,
	})
	if got.Bucket != "bucket" || got.Prefix != "prefix/sub" {
		t.Errorf("bucket/prefix = %q/%q", got.Bucket, got.Prefix)
	}
	if got.Region != "eu-west-1" || got.Endpoint != "http://minio:9000" || !got.UsePathStyle {
		t.Errorf("s3 config = %+v", got)
	}
}

func TestExitCoderFromCommands(t *testing.T) {
	_, err := run(t, "inspect", "session")
	var exitCoder cli.ExitCoder
	if !errors.As(err, &exitCoder) || exitCoder.ExitCode() != 1 {
		t.Errorf("expected exit code 1, got %v", err)
	}
}
