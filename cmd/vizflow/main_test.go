package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"github.com/zen-systems/vizflow/pkg/config"
	"github.com/zen-systems/vizflow/pkg/pipeline"
	"github.com/zen-systems/vizflow/pkg/prompt"
)

func withDryRun(t *testing.T) {
	t.Helper()
	prev := dryRun
	dryRun = true
	t.Cleanup(func() { dryRun = prev })
}

func dryRunConfig(profile prompt.Profile) *config.Config {
	p := config.DefaultPipelineConfig(profile)
	p.Retry.DelayMs = 0
	return &config.Config{Pipeline: p}
}

func TestDryRunAnimation(t *testing.T) {
	withDryRun(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	ctrl, validator, err := createController(context.Background(), dryRunConfig(prompt.ProfileAnimation), dir, log)
	require.NoError(t, err)
	defer validator.Close()

	res := ctrl.Run(context.Background(), "Show that x^2 + 3x + 2 factors as (x + 1)(x + 2).")
	require.Equal(t, pipeline.StatusSuccess, res.Status, res.Message)
	require.Equal(t, pipeline.StageComplete, res.Stage)
	require.Contains(t, res.Code, "class DryRun(Scene)")
	require.NotNil(t, res.Score)
	require.InDelta(t, 1.0, *res.Score, 1e-9)

	require.FileExists(t, filepath.Join(res.EvidenceDir, "run.json"))
	require.FileExists(t, filepath.Join(res.EvidenceDir, "scene.py"))
}

func TestDryRunSketch(t *testing.T) {
	withDryRun(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctrl, validator, err := createController(context.Background(), dryRunConfig(prompt.ProfileSketch), t.TempDir(), log)
	require.NoError(t, err)
	defer validator.Close()

	res := ctrl.Run(context.Background(), "Plot the line y = 2x + 1.")
	require.Equal(t, pipeline.StatusSuccess, res.Status, res.Message)
	require.Contains(t, res.Code, "createCanvas")
	require.FileExists(t, filepath.Join(res.EvidenceDir, "sketch.js"))
}

func TestCreateAdaptersRequiresKeys(t *testing.T) {
	cfg := dryRunConfig(prompt.ProfileSketch)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := createAdapters(context.Background(), cfg, log)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no API key")
}

func TestWithProfileKeepsTransportSettings(t *testing.T) {
	current := config.DefaultPipelineConfig(prompt.ProfileAnimation)
	current.CacheTTL = 5 * time.Minute
	current.RateLimits = map[string]int{"google": 10}
	current.EvidenceDir = "/tmp/runs"

	next := withProfile(current, prompt.ProfileSketch)
	require.Equal(t, string(prompt.ProfileSketch), next.Profile)
	require.Equal(t, string(pipeline.VariantMinimal), next.Variant)
	require.Equal(t, 5*time.Minute, next.CacheTTL)
	require.Equal(t, 10, next.RateLimits["google"])
	require.Equal(t, "/tmp/runs", next.EvidenceDir)
	require.NoError(t, next.Validate())
}

func TestReadLinesSkipsBlanksAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.txt")
	content := "# header\nfirst prompt\n\n  second prompt  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lines, err := readLines(path)
	require.NoError(t, err)
	require.Equal(t, []string{"first prompt", "second prompt"}, lines)
}

func TestFormatRFC3339Millis(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 6, 789_000_000, time.FixedZone("x", 3600))
	require.Equal(t, "2024-03-09T13:05:06.789Z", formatRFC3339Millis(ts))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	got := truncate(strings.Repeat("a", 20), 10)
	require.Len(t, got, 10)
	require.True(t, strings.HasSuffix(got, "..."))

	got = truncate("Зобразіть графік функції y = x² на відрізку", 10)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 10, utf8.RuneCountInString(got))
	require.Equal(t, "Зобразі...", got)
}
