package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wricardo/verifygate/gate/code"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Config is the complete gate configuration as stored in the YAML file
type Config struct {
	Verification Verification `yaml:"verification"`
	Messages     Messages     `yaml:"messages"`
	Settings     Settings     `yaml:"settings"`
	Telegram     Telegram     `yaml:"telegram"`
}

// Verification controls code policy and timing
type Verification struct {
	Enabled bool `yaml:"enabled"`

	// Type is "random" or "fixed" ("custom" is accepted as an alias of fixed)
	Type         string `yaml:"type"`
	CustomCode   string `yaml:"custom_code"`
	RandomLength int    `yaml:"random_length"`
	Characters   string `yaml:"characters"`

	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ResolvedRetention time.Duration `yaml:"resolved_retention"`

	// BypassUsers skip verification entirely
	BypassUsers []string `yaml:"bypass_users,omitempty"`
}

// Messages holds the user-facing text templates. Each entry is a list of
// lines. Placeholders: {player}, {code}, {timeout}, {attempts}, {max_attempts}.
type Messages struct {
	Join            []string `yaml:"join"`
	Success         []string `yaml:"success"`
	WrongCode       []string `yaml:"wrong_code"`
	Failed          []string `yaml:"failed"`
	Timeout         []string `yaml:"timeout"`
	Kicked          []string `yaml:"kicked"`
	NothingPending  []string `yaml:"nothing_pending"`
	AlreadyResolved []string `yaml:"already_resolved"`
}

// Settings holds behaviour toggles
type Settings struct {
	GiveRewards bool `yaml:"give_rewards"`
	// RewardCommands run once on successful verification; {player} is substituted
	RewardCommands   []string `yaml:"reward_commands,omitempty"`
	LogVerifications bool     `yaml:"log_verifications"`
	Debug            bool     `yaml:"debug"`
}

// Telegram configures the admin alert channel; an empty token disables it
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Verification: Verification{
			Enabled:           true,
			Type:              "random",
			CustomCode:        "WELCOME2024",
			RandomLength:      6,
			Characters:        "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
			Timeout:           300 * time.Second,
			MaxAttempts:       3,
			SweepInterval:     time.Second,
			ResolvedRetention: time.Minute,
		},
		Messages: Messages{
			Join: []string{
				"Welcome {player}! This server requires verification.",
				"Your verification code is {code}",
				"Submit it within {timeout} seconds.",
			},
			Success:         []string{"Verification successful. Enjoy your stay!"},
			WrongCode:       []string{"Wrong code. {attempts} attempt(s) remaining."},
			Failed:          []string{"Verification failed: too many wrong attempts."},
			Timeout:         []string{"Verification timed out."},
			Kicked:          []string{"You have been removed by an administrator."},
			NothingPending:  []string{"You have nothing to verify."},
			AlreadyResolved: []string{"Your verification is already complete."},
		},
		Settings: Settings{
			GiveRewards:      false,
			LogVerifications: true,
		},
	}
}

// Policy translates the verification section into a code policy
func (v Verification) Policy() (code.Policy, error) {
	kind, err := code.ParseKind(v.Type)
	if err != nil {
		return code.Policy{}, err
	}
	switch kind {
	case code.KindFixed:
		return code.Fixed(v.CustomCode), nil
	default:
		return code.Random(v.Characters, v.RandomLength), nil
	}
}

// IsBypassed reports whether userID is on the bypass list
func (v Verification) IsBypassed(userID string) bool {
	for _, u := range v.BypassUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Verification.BypassUsers = append([]string(nil), c.Verification.BypassUsers...)
	out.Settings.RewardCommands = append([]string(nil), c.Settings.RewardCommands...)
	m := &out.Messages
	for _, lines := range []*[]string{&m.Join, &m.Success, &m.WrongCode, &m.Failed, &m.Timeout, &m.Kicked, &m.NothingPending, &m.AlreadyResolved} {
		*lines = append([]string(nil), (*lines)...)
	}
	return &out
}

// Redacted returns a copy safe to expose over the API
func (c *Config) Redacted() *Config {
	out := c.Clone()
	if out.Telegram.BotToken != "" {
		out.Telegram.BotToken = "***"
	}
	return out
}

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks cfg and returns a *ValidationError describing every problem
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Problems: []string{"configuration is empty"}}
	}

	var problems []string
	v := cfg.Verification

	if policy, err := v.Policy(); err != nil {
		problems = append(problems, err.Error())
	} else if err := policy.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if v.Timeout <= 0 {
		problems = append(problems, "verification.timeout must be positive")
	}
	if v.MaxAttempts <= 0 {
		problems = append(problems, "verification.max_attempts must be positive")
	}
	if v.SweepInterval <= 0 {
		problems = append(problems, "verification.sweep_interval must be positive")
	}
	if v.ResolvedRetention < 0 {
		problems = append(problems, "verification.resolved_retention must not be negative")
	}
	for i, u := range v.BypassUsers {
		if strings.TrimSpace(u) == "" {
			problems = append(problems, fmt.Sprintf("verification.bypass_users[%d] is empty", i))
		}
	}
	if cfg.Settings.GiveRewards && len(cfg.Settings.RewardCommands) == 0 {
		problems = append(problems, "settings.reward_commands is empty while give_rewards is on")
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID == 0 {
		problems = append(problems, "telegram.chat_id is required when bot_token is set")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
