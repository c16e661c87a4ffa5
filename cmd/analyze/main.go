// Command analyze prints quick, human-readable heuristics about how guessable
// a gate configuration is. It summarizes the code policy, the keyspace, the
// odds of a blind guesser getting through within the attempt limit, and how
// many fresh sessions a persistent guesser would need for even odds.
package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/wricardo/verifygate/gate/code"
	"github.com/wricardo/verifygate/gate/config"
)

// riskThreshold is the per-session guess probability above which a
// configuration is flagged.
const riskThreshold = 1e-3

// Analysis holds the numbers printed for one configuration
type Analysis struct {
	Path        string
	Kind        code.Kind
	Keyspace    float64
	MaxAttempts int
	// SessionOdds is the chance of a blind guess succeeding in one session
	SessionOdds float64
	// SessionsForEvenOdds is how many sessions give a 50% chance overall
	SessionsForEvenOdds float64
	// GuessesPerMinute is the fastest a single user can guess without timing out
	GuessesPerMinute float64
	Warnings         []string
}

func main() {
	paths := os.Args[1:]
	if len(paths) == 0 {
		paths = []string{config.DefaultPath}
	}

	failed := false
	for _, path := range paths {
		fmt.Printf("\n=== Analyzing %s ===\n", path)
		a, err := analyzeConfig(path)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			failed = true
			continue
		}
		printAnalysis(os.Stdout, a)
	}
	if failed {
		os.Exit(1)
	}
}

func analyzeConfig(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return analyze(path, cfg.Verification)
}

func analyze(path string, v config.Verification) (*Analysis, error) {
	policy, err := v.Policy()
	if err != nil {
		return nil, err
	}
	gen, err := code.NewGenerator(policy)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Path:        path,
		Kind:        policy.Kind,
		Keyspace:    gen.Keyspace(),
		MaxAttempts: v.MaxAttempts,
		SessionOdds: gen.GuessProbability(v.MaxAttempts),
	}
	a.SessionsForEvenOdds = sessionsForOdds(a.SessionOdds, 0.5)
	if v.Timeout > 0 {
		a.GuessesPerMinute = float64(v.MaxAttempts) / v.Timeout.Minutes()
	}

	if policy.Kind == code.KindFixed {
		a.Warnings = append(a.Warnings, "fixed code is shared by every user; anyone who learns it passes")
	}
	if a.SessionOdds > riskThreshold {
		a.Warnings = append(a.Warnings, fmt.Sprintf("blind guess succeeds in %.4f%% of sessions", a.SessionOdds*100))
	}
	if dups := caseDuplicates(policy.Alphabet); dups > 0 {
		a.Warnings = append(a.Warnings, fmt.Sprintf("alphabet has %d letter(s) that differ only in case and count once", dups))
	}
	if !v.Enabled {
		a.Warnings = append(a.Warnings, "verification is disabled; every user passes")
	}
	return a, nil
}

// sessionsForOdds is the number of independent sessions needed for the overall
// success chance to reach target, given per-session odds p.
func sessionsForOdds(p, target float64) float64 {
	switch {
	case p <= 0:
		return math.Inf(1)
	case p >= 1:
		return 1
	}
	return math.Ceil(math.Log(1-target) / math.Log(1-p))
}

func caseDuplicates(alphabet string) int {
	seen := make(map[string]bool)
	dups := 0
	for _, r := range alphabet {
		key := strings.ToLower(string(r))
		if seen[key] {
			dups++
			continue
		}
		seen[key] = true
	}
	return dups
}

func printAnalysis(w io.Writer, a *Analysis) {
	fmt.Fprintf(w, "Policy: %s\n", a.Kind)
	fmt.Fprintf(w, "Keyspace: %.0f\n", a.Keyspace)
	fmt.Fprintf(w, "Attempts per session: %d\n", a.MaxAttempts)
	fmt.Fprintf(w, "Blind guess odds per session: %.3g\n", a.SessionOdds)
	if math.IsInf(a.SessionsForEvenOdds, 1) {
		fmt.Fprintf(w, "Sessions for even odds: never\n")
	} else {
		fmt.Fprintf(w, "Sessions for even odds: %.0f\n", a.SessionsForEvenOdds)
	}
	fmt.Fprintf(w, "Guesses per minute per user: %.2f\n", a.GuessesPerMinute)

	if len(a.Warnings) == 0 {
		fmt.Fprintf(w, "✅ No guessability concerns\n")
		return
	}
	for _, warning := range a.Warnings {
		fmt.Fprintf(w, "⚠️  WARNING: %s\n", warning)
	}
}
