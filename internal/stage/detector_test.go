package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T, mutate ...func(*Config)) *Detector {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	d, err := NewDetector(cfg, WithClock(func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
	require.NoError(t, err)
	return d
}

func TestKeywordDensitiesAlwaysFiveStages(t *testing.T) {
	d := newTestDetector(t)

	for _, msg := range []string{"", "   ", "!!! ...", "I can't believe they're gone", "我好难过"} {
		m := d.KeywordDensities(msg).Map()
		assert.Len(t, m, Count, "message %q", msg)
		for _, s := range All {
			v, ok := m[s]
			assert.True(t, ok, "missing %s for %q", s, msg)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestKeywordDensitiesEmptyMessageIsZero(t *testing.T) {
	d := newTestDetector(t)
	assert.Equal(t, Densities{}, d.KeywordDensities(""))
	assert.Equal(t, Densities{}, d.KeywordDensities("?!,."))
}

func TestKeywordDensitiesCountsTokens(t *testing.T) {
	d := newTestDetector(t)

	dens := d.KeywordDensities("I can't believe they're gone")
	// tokens: i, can't, believe, they're, gone
	assert.InDelta(t, 2.0/5.0, dens.Get(Denial), 1e-9)
	assert.InDelta(t, 1.0/5.0, dens.Get(Depression), 1e-9)
	assert.Zero(t, dens.Get(Acceptance))
}

func TestKeywordDensitiesChinese(t *testing.T) {
	d := newTestDetector(t)

	dens := d.KeywordDensities("我好难过")
	assert.InDelta(t, 2.0/4.0, dens.Get(Depression), 1e-9)
}

func TestDetectAliceDenial(t *testing.T) {
	d := newTestDetector(t)

	st, conf := d.Detect("I can't believe they're gone", 30)
	assert.Equal(t, Denial, st)
	assert.Greater(t, conf, 0.0)
	assert.LessOrEqual(t, conf, 1.0)

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, Denial, last)
}

func TestDetectHighDistressDepression(t *testing.T) {
	d := newTestDetector(t)

	st, conf := d.Detect("I feel so empty and hopeless, I can't stop crying, everything is meaningless", 50)
	assert.Equal(t, Depression, st)
	assert.Greater(t, conf, 0.5)
}

func TestMoodPriorFavoursAcceptanceWhenLow(t *testing.T) {
	d := newTestDetector(t)

	res := d.Classify("hello there", 0)
	assert.Equal(t, Acceptance, res.Stage)

	res = d.Classify("hello there", 100)
	assert.Equal(t, Depression, res.Stage)
}

func TestConfidenceZeroWhenAllScoresEqual(t *testing.T) {
	d := newTestDetector(t, func(c *Config) { c.MoodWeight = 0 })

	res := d.Classify("hello there", 42)
	for _, s := range res.Scores {
		assert.Equal(t, res.Scores[0], s)
	}
	assert.Zero(t, res.Confidence)
}

func TestTieBreakPrefersMostRecentStage(t *testing.T) {
	d := newTestDetector(t, func(c *Config) { c.MoodWeight = 0 })

	// No history: canonical order wins.
	assert.Equal(t, Denial, d.Classify("hello", 50).Stage)

	d.Seed([]Sample{{Stage: Anger}, {Stage: Bargaining}})
	assert.Equal(t, Bargaining, d.Classify("hello", 50).Stage)

	// "angry" and "regret" give anger and bargaining equal density; the
	// previous stage is kept instead of switching.
	d.Seed([]Sample{{Stage: Anger}})
	res := d.Classify("angry regret", 50)
	assert.InDelta(t, res.Scores[Anger.Index()], res.Scores[Bargaining.Index()], 1e-9)
	assert.Equal(t, Anger, res.Stage)
	assert.Zero(t, res.Confidence)

	d.Seed([]Sample{{Stage: Bargaining}})
	assert.Equal(t, Bargaining, d.Classify("angry regret", 50).Stage)

	// The latest sample is not among the tied stages; the window is
	// searched further back.
	d.Seed([]Sample{{Stage: Bargaining}, {Stage: Anger}, {Stage: Depression}})
	assert.Equal(t, Anger, d.Classify("angry regret", 50).Stage)
}

func TestConfidenceBounds(t *testing.T) {
	d := newTestDetector(t)

	msgs := []string{
		"", "why me, this is so unfair, I hate it",
		"if only I had called", "I accept it and feel at peace",
		"不可能，这不是真的", "angry sad hopeful peace if only",
	}
	for _, msg := range msgs {
		for _, mood := range []float64{-50, 0, 25, 50, 75, 100, 500} {
			res := d.Classify(msg, mood)
			assert.GreaterOrEqual(t, res.Confidence, 0.0, "%q @ %v", msg, mood)
			assert.LessOrEqual(t, res.Confidence, 1.0, "%q @ %v", msg, mood)
			assert.True(t, res.Stage.Valid())
		}
	}
}

func TestWindowIsBounded(t *testing.T) {
	d := newTestDetector(t, func(c *Config) { c.WindowSize = 3 })

	for i := 0; i < 10; i++ {
		d.Detect("so angry", 50)
	}
	assert.Len(t, d.History(), 3)

	d.ClearWindow()
	_, ok := d.Last()
	assert.False(t, ok)
}

func TestDominant(t *testing.T) {
	d := newTestDetector(t)

	_, ok := d.Dominant()
	assert.False(t, ok)

	d.Seed([]Sample{{Stage: Anger}, {Stage: Denial}, {Stage: Anger}, {Stage: Denial}})
	dom, ok := d.Dominant()
	require.True(t, ok)
	assert.Equal(t, Denial, dom)
}

func TestLabelsAreOneToOne(t *testing.T) {
	seen := map[string]Stage{}
	for _, s := range All {
		l := s.Label()
		assert.NotEqual(t, UnknownLabel, l)
		_, dup := seen[l]
		assert.False(t, dup, "duplicate label %q", l)
		seen[l] = s
	}
	assert.Equal(t, "否认", Denial.Label())
	assert.Equal(t, "接受", Acceptance.Label())
	assert.Equal(t, UnknownLabel, Stage("grief").Label())
}

func TestParse(t *testing.T) {
	s, err := Parse(" Anger ")
	require.NoError(t, err)
	assert.Equal(t, Anger, s)

	_, err = Parse("rage")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.WindowSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxMood = cfg.MinMood
	assert.Error(t, cfg.Validate())
}

func TestDensitiesJSON(t *testing.T) {
	in := Densities{0.1, 0, 0.2, 0, 0.5}
	data, err := in.MarshalJSON()
	require.NoError(t, err)

	var out Densities
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, in, out)
}
