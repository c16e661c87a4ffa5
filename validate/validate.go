// Command validate checks gate configuration YAML files. With no arguments it
// validates every *.yaml file in ./configs plus ./config.yaml. It checks:
//   - YAML structure and unknown keys
//   - The rules the server enforces at load time (policy, timing, attempts)
//   - Message templates only use known placeholders
//   - The join message shows {code} whenever codes are random
//   - Reward commands mention {player}
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wricardo/verifygate/gate/code"
	"github.com/wricardo/verifygate/gate/config"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

var placeholderPattern = regexp.MustCompile(`\{[a-z_]+\}`)

var knownPlaceholders = map[string]bool{
	"{player}":       true,
	"{code}":         true,
	"{timeout}":      true,
	"{attempts}":     true,
	"{max_attempts}": true,
}

// validateConfig loads and validates a single configuration file
func validateConfig(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	cfg, err := config.Parse(data)
	if err != nil {
		result.fail("Invalid YAML: %v", err)
		return result
	}

	var verr *config.ValidationError
	if err := config.Validate(cfg); errors.As(err, &verr) {
		for _, p := range verr.Problems {
			result.fail("%s", p)
		}
	}

	validateMessages(cfg, &result)

	v := cfg.Verification
	if kind, err := code.ParseKind(v.Type); err == nil && kind == code.KindRandom && !messagesContain(cfg.Messages.Join, "{code}") {
		result.fail("messages.join must include {code} when codes are random")
	}
	if cfg.Settings.GiveRewards {
		for i, cmd := range cfg.Settings.RewardCommands {
			if !strings.Contains(cmd, "{player}") {
				result.fail("settings.reward_commands[%d] does not mention {player}", i)
			}
		}
	}

	if !result.Valid {
		return result
	}

	policy, _ := v.Policy()
	gen, err := code.NewGenerator(policy)
	if err != nil {
		result.fail("%v", err)
		return result
	}

	result.Errors = append(result.Errors, fmt.Sprintf("✓ Enabled: %t", v.Enabled))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Policy: %s", policy.Kind))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Keyspace: %.0f", gen.Keyspace()))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Timeout: %s, attempts: %d", v.Timeout, v.MaxAttempts))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Bypass users: %d", len(v.BypassUsers)))
	if cfg.Telegram.BotToken != "" {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Telegram alerts: chat %d", cfg.Telegram.ChatID))
	}

	return result
}

// validateMessages reports unknown placeholders in every message template
func validateMessages(cfg *config.Config, result *ValidationResult) {
	m := cfg.Messages
	templates := []struct {
		key   string
		lines []string
	}{
		{"join", m.Join},
		{"success", m.Success},
		{"wrong_code", m.WrongCode},
		{"failed", m.Failed},
		{"timeout", m.Timeout},
		{"kicked", m.Kicked},
		{"nothing_pending", m.NothingPending},
		{"already_resolved", m.AlreadyResolved},
	}

	for _, tmpl := range templates {
		for i, line := range tmpl.lines {
			for _, ph := range placeholderPattern.FindAllString(line, -1) {
				if !knownPlaceholders[ph] {
					result.fail("messages.%s[%d] uses unknown placeholder %s", tmpl.key, i, ph)
				}
			}
		}
	}
}

func messagesContain(lines []string, placeholder string) bool {
	for _, line := range lines {
		if strings.Contains(line, placeholder) {
			return true
		}
	}
	return false
}

// configFiles returns the files named on the command line, or the default set
func configFiles(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	files, err := filepath.Glob(filepath.Join("configs", "*.yaml"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(config.DefaultPath); err == nil {
		files = append(files, config.DefaultPath)
	}
	return files, nil
}

// main validates each file, printing a concise report and exiting with
// non-zero status if any are invalid.
func main() {
	files, err := configFiles(os.Args[1:])
	if err != nil {
		fmt.Printf("Error finding config files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("No configuration files found")
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateConfig(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Println("  ❌ " + err)
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All configurations are valid!")
	} else {
		fmt.Println("❌ Some configurations have errors")
		os.Exit(1)
	}
}
