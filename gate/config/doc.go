// Package config provides configuration management for the verification gate.
//
// The config package handles:
//   - Loading the gate configuration from a YAML file
//   - Falling back to built-in defaults for a missing file or omitted keys
//   - Environment overrides for secrets (TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID)
//   - Validation that reports every problem at once
//   - Writing the default file on first start
//
// Configuration Format:
//
//	verification:
//	  enabled: true
//	  type: random          # random | fixed (custom)
//	  custom_code: WELCOME2024
//	  random_length: 6
//	  characters: ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789
//	  timeout: 5m
//	  max_attempts: 3
//	  sweep_interval: 1s
//	  resolved_retention: 1m
//	  bypass_users: [admin]
//	messages:
//	  join: ["Your verification code is {code}"]
//	settings:
//	  give_rewards: false
//	  reward_commands: ["give {player} bread 1"]
//	  log_verifications: true
//	telegram:
//	  bot_token: ""
//	  chat_id: 0
//
// Usage:
//
//	manager := config.NewManager("config.yaml")
//	cfg, err := manager.Load()
//	if errors.Is(err, config.ErrInvalidConfig) {
//		// cfg is usable for display, but verification must stay disabled
//	}
//
// Validation:
//
// An invalid configuration is never fatal to the process. Load still returns
// it so the service can disable verification and report the problems.
package config
