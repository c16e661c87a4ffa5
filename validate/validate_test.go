package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func hasError(result ValidationResult, substr string) bool {
	for _, e := range result.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidateConfig_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
verification:
  enabled: true
  type: random
  random_length: 4
  characters: "0123456789"
  timeout: 2m
  max_attempts: 5
  bypass_users: [admin, moderator]
settings:
  give_rewards: true
  reward_commands:
    - "give {player} diamond 1"
`)

	result := validateConfig(path)
	require.True(t, result.Valid, "unexpected errors: %v", result.Errors)
	assert.Equal(t, "gate.yaml", result.File)
	assert.Contains(t, result.Errors, "✓ Policy: random")
	assert.Contains(t, result.Errors, "✓ Keyspace: 10000")
	assert.Contains(t, result.Errors, "✓ Timeout: 2m0s, attempts: 5")
	assert.Contains(t, result.Errors, "✓ Bypass users: 2")
}

func TestValidateConfig_EmptyFileUsesDefaults(t *testing.T) {
	result := validateConfig(writeConfig(t, ""))
	assert.True(t, result.Valid, "unexpected errors: %v", result.Errors)
}

func TestValidateConfig_FileNotFound(t *testing.T) {
	result := validateConfig("/non/existent/gate.yaml")
	assert.False(t, result.Valid)
	assert.True(t, hasError(result, "Failed to read file"))
}

func TestValidateConfig_InvalidYAML(t *testing.T) {
	result := validateConfig(writeConfig(t, "verification: [oops"))
	assert.False(t, result.Valid)
	assert.True(t, hasError(result, "Invalid YAML"))
}

func TestValidateConfig_UnknownKey(t *testing.T) {
	result := validateConfig(writeConfig(t, "verification:\n  retries: 3\n"))
	assert.False(t, result.Valid)
	assert.True(t, hasError(result, "Invalid YAML"))
}

func TestValidateConfig_Rules(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "non-positive attempts",
			content: "verification:\n  max_attempts: 0\n",
			want:    "verification.max_attempts must be positive",
		},
		{
			name:    "non-positive timeout",
			content: "verification:\n  timeout: 0s\n",
			want:    "verification.timeout must be positive",
		},
		{
			name:    "empty fixed code",
			content: "verification:\n  type: fixed\n  custom_code: \"\"\n",
			want:    "fixed code must be non-empty",
		},
		{
			name:    "unknown type",
			content: "verification:\n  type: emoji\n",
			want:    "unknown kind",
		},
		{
			name:    "telegram without chat",
			content: "telegram:\n  bot_token: abc\n",
			want:    "telegram.chat_id is required",
		},
		{
			name:    "unknown placeholder",
			content: "messages:\n  success: [\"Hello {name}\"]\n",
			want:    "messages.success[0] uses unknown placeholder {name}",
		},
		{
			name:    "random code hidden from join message",
			content: "messages:\n  join: [\"Welcome {player}\"]\n",
			want:    "messages.join must include {code}",
		},
		{
			name:    "reward without player",
			content: "settings:\n  give_rewards: true\n  reward_commands: [\"say hello\"]\n",
			want:    "settings.reward_commands[0] does not mention {player}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateConfig(writeConfig(t, tt.content))
			assert.False(t, result.Valid)
			assert.True(t, hasError(result, tt.want), "missing %q in %v", tt.want, result.Errors)
		})
	}
}

func TestValidateConfig_FixedCodeWithoutPlaceholder(t *testing.T) {
	path := writeConfig(t, `
verification:
  type: custom
  custom_code: LETMEIN
messages:
  join: ["Welcome {player}, ask a moderator for the code."]
`)

	result := validateConfig(path)
	require.True(t, result.Valid, "unexpected errors: %v", result.Errors)
	assert.Contains(t, result.Errors, "✓ Policy: fixed")
	assert.Contains(t, result.Errors, "✓ Keyspace: 1")
}

func TestConfigFiles(t *testing.T) {
	files, err := configFiles([]string{"a.yaml", "b.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, files)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "strict.yaml"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), nil, 0o644))
	t.Chdir(dir)

	files, err = configFiles(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("configs", "strict.yaml"), "config.yaml"}, files)
}
