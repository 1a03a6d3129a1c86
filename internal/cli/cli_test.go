package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/solace/internal/config"
	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/engine"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/transcript"
	"github.com/lazypower/solace/internal/userstate"
)

func testEngine(t *testing.T, now func() time.Time) *engine.Engine {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr, err := userstate.New(db, userstate.DefaultConfig(), userstate.WithClock(now))
	if err != nil {
		t.Fatalf("userstate.New: %v", err)
	}
	eng, err := engine.New(mgr, engine.Config{
		Emotion: emotion.DefaultConfig(),
		Stage:   stage.DefaultConfig(),
		Shards:  4,
	}, engine.WithClock(now))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func TestReplayClock(t *testing.T) {
	c := &replayClock{}
	if d := time.Since(c.now()); d < 0 || d > time.Minute {
		t.Errorf("unset clock should follow wall time, off by %v", d)
	}
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.set(ts)
	c.set(time.Time{})
	if !c.now().Equal(ts) {
		t.Errorf("now = %v, want %v", c.now(), ts)
	}
}

func TestReplayTurns(t *testing.T) {
	input := `{"userId":"bob","userType":"pet","message":"I can't believe he's gone","timestamp":"2026-03-01T09:00:00Z"}
{"userId":"bob","message":"why did this happen to me, it's not fair","timestamp":"2026-03-01T10:00:00Z"}
{"userId":"amy","userType":"cat","message":"hello","timestamp":"2026-03-01T10:30:00Z"}
{"message":"I miss her every day","timestamp":"2026-03-01T11:00:00Z"}
not json`
	res, err := transcript.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Malformed) != 1 {
		t.Fatalf("malformed = %v", res.Malformed)
	}

	clock := &replayClock{}
	eng := testEngine(t, clock.now)

	var out bytes.Buffer
	sum, err := replayTurns(context.Background(), eng, clock, res.Turns, engine.Family, &out)
	if err != nil {
		t.Fatalf("replayTurns: %v", err)
	}
	if sum.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", sum.Rejected)
	}
	if strings.Join(sum.Users, ",") != "bob,"+replayUser {
		t.Errorf("users = %v", sum.Users)
	}
	if sum.Tally["bob"].Turns != 2 {
		t.Errorf("bob turns = %d, want 2", sum.Tally["bob"].Turns)
	}

	traj, err := eng.StageTrajectory(context.Background(), "bob", 10)
	if err != nil {
		t.Fatalf("StageTrajectory: %v", err)
	}
	if len(traj) != 2 {
		t.Fatalf("trajectory len = %d, want 2", len(traj))
	}
	want := map[time.Time]bool{
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC): true,
	}
	for _, s := range traj {
		if !want[s.Timestamp.UTC()] {
			t.Errorf("sample stamped %v, want a transcript timestamp", s.Timestamp)
		}
	}

	printReplaySummary(&out, len(res.Turns), sum)
	if !strings.Contains(out.String(), "replayed 3 of 4 turns (1 rejected)") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestPrintHistory(t *testing.T) {
	eng := testEngine(t, time.Now)
	ctx := context.Background()

	var out bytes.Buffer
	if err := printHistory(ctx, &out, eng, "nobody", 5); err != nil {
		t.Fatalf("printHistory: %v", err)
	}
	if !strings.Contains(out.String(), "no interactions recorded") {
		t.Errorf("empty history = %q", out.String())
	}

	for _, msg := range []string{"I refuse to accept this", "I feel so empty and hopeless"} {
		if _, err := eng.Chat(ctx, engine.ChatRequest{Message: msg, UserID: "carol"}); err != nil {
			t.Fatalf("Chat: %v", err)
		}
	}
	out.Reset()
	if err := printHistory(ctx, &out, eng, "carol", 5); err != nil {
		t.Fatalf("printHistory: %v", err)
	}
	got := out.String()
	for _, want := range []string{"carol", "interactions: 2", "trajectory:", stage.Acceptance.Label()} {
		if !strings.Contains(got, want) {
			t.Errorf("history missing %q:\n%s", want, got)
		}
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})

	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != config.Default().Server.Port {
		t.Errorf("port = %d", cfg.Server.Port)
	}

	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error when the file exists")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "solace "+Version) {
		t.Errorf("version output = %q", out.String())
	}
}
