package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/verifygate/gate/code"
	"github.com/wricardo/verifygate/gate/config"
)

func TestAnalyze_Random(t *testing.T) {
	v := config.Default().Verification
	v.Characters = "0123456789"
	v.RandomLength = 4
	v.MaxAttempts = 3
	v.Timeout = 2 * time.Minute

	a, err := analyze("gate.yaml", v)
	require.NoError(t, err)

	assert.Equal(t, code.KindRandom, a.Kind)
	assert.Equal(t, 10000.0, a.Keyspace)
	assert.InDelta(t, 0.0003, a.SessionOdds, 1e-12)
	assert.Equal(t, 1.5, a.GuessesPerMinute)
	// 1-(1-0.0003)^n >= 0.5
	assert.Equal(t, 2311.0, a.SessionsForEvenOdds)
	assert.Empty(t, a.Warnings)
}

func TestAnalyze_Warnings(t *testing.T) {
	t.Run("fixed code", func(t *testing.T) {
		v := config.Default().Verification
		v.Type = "fixed"

		a, err := analyze("gate.yaml", v)
		require.NoError(t, err)
		assert.Equal(t, 1.0, a.Keyspace)
		assert.Equal(t, 1.0, a.SessionOdds)
		assert.Equal(t, 1.0, a.SessionsForEvenOdds)
		assert.Len(t, a.Warnings, 2)
	})

	t.Run("small keyspace", func(t *testing.T) {
		v := config.Default().Verification
		v.Characters = "AB"
		v.RandomLength = 3
		v.MaxAttempts = 2

		a, err := analyze("gate.yaml", v)
		require.NoError(t, err)
		assert.Equal(t, 8.0, a.Keyspace)
		assert.Equal(t, []string{"blind guess succeeds in 25.0000% of sessions"}, a.Warnings)
	})

	t.Run("case duplicates", func(t *testing.T) {
		v := config.Default().Verification
		v.Characters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

		a, err := analyze("gate.yaml", v)
		require.NoError(t, err)
		assert.Contains(t, a.Warnings, "alphabet has 26 letter(s) that differ only in case and count once")
	})

	t.Run("disabled", func(t *testing.T) {
		v := config.Default().Verification
		v.Enabled = false

		a, err := analyze("gate.yaml", v)
		require.NoError(t, err)
		assert.Contains(t, a.Warnings, "verification is disabled; every user passes")
	})
}

func TestAnalyzeConfig(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, config.NewManager(good).Save(config.Default()))
	a, err := analyzeConfig(good)
	require.NoError(t, err)
	assert.Equal(t, good, a.Path)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("verification:\n  max_attempts: 0\n"), 0o644))
	_, err = analyzeConfig(bad)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = analyzeConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSessionsForOdds(t *testing.T) {
	assert.True(t, math.IsInf(sessionsForOdds(0, 0.5), 1))
	assert.Equal(t, 1.0, sessionsForOdds(1, 0.5))
	assert.Equal(t, 1.0, sessionsForOdds(0.5, 0.5))
	assert.Equal(t, 3.0, sessionsForOdds(0.25, 0.5))
}

func TestCaseDuplicates(t *testing.T) {
	assert.Equal(t, 0, caseDuplicates("ABC123"))
	assert.Equal(t, 2, caseDuplicates("ABab"))
	assert.Equal(t, 1, caseDuplicates("AAB"))
}

func TestPrintAnalysis(t *testing.T) {
	var buf bytes.Buffer
	printAnalysis(&buf, &Analysis{
		Kind:                code.KindRandom,
		Keyspace:            1e6,
		MaxAttempts:         3,
		SessionOdds:         3e-6,
		SessionsForEvenOdds: 231049,
		GuessesPerMinute:    0.6,
	})

	out := buf.String()
	assert.Contains(t, out, "Keyspace: 1000000")
	assert.Contains(t, out, "Sessions for even odds: 231049")
	assert.Contains(t, out, "Guesses per minute per user: 0.60")
	assert.Contains(t, out, "✅ No guessability concerns")
}
