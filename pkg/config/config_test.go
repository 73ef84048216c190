package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "9090"
auth:
  jwt_secret: test-secret
  users:
    - username: alice
      password: wonderland
      role: admin
library:
  backend: disk
  root: /tmp/kb
llm:
  model: llama3
  temperature: 0.7
ingest:
  chunk_size: 500
  chunk_overlap: 50
retrieval:
  top_k: 5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "alice", cfg.Auth.Users[0].Username)
	assert.Equal(t, "/tmp/kb", cfg.Library.Root)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "disk", cfg.Library.Backend)
	assert.Equal(t, 768, cfg.Library.VectorDim)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 150, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)

	// The default credential table ships with two accounts.
	require.Len(t, cfg.Auth.Users, 2)
	assert.Equal(t, "admin", cfg.Auth.Users[0].Username)
	assert.Equal(t, "admin", cfg.Auth.Users[0].Role)
	assert.Equal(t, "student", cfg.Auth.Users[1].Username)
	assert.Equal(t, "user", cfg.Auth.Users[1].Role)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("PORT", "3000")

	cfg, err := LoadConfig(writeConfigFile(t, `
server:
  port: "9090"
auth:
  jwt_secret: file-secret
`))
	require.NoError(t, err)

	assert.Equal(t, "http://ollama.internal:11434", cfg.Embedding.BaseURL)
	assert.Equal(t, "http://ollama.internal:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "3000", cfg.Server.Port)
}

func TestJWTSecretDefaultsToRandom(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	first, err := LoadConfig(writeConfigFile(t, "{}"))
	require.NoError(t, err)
	second, err := LoadConfig(writeConfigFile(t, "{}"))
	require.NoError(t, err)

	// An unset secret must never fall back to something forgeable.
	assert.NotEmpty(t, first.Auth.JWTSecret)
	assert.GreaterOrEqual(t, len(first.Auth.JWTSecret), 32)
	assert.NotEqual(t, first.Auth.JWTSecret, second.Auth.JWTSecret)
}

func TestJWTSecretFromFileIsKept(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig(writeConfigFile(t, "auth:\n  jwt_secret: pinned-secret\n"))
	require.NoError(t, err)
	assert.Equal(t, "pinned-secret", cfg.Auth.JWTSecret)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := getDefaultConfig()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:   "empty jwt secret",
			mutate: func(c *Config) { c.Auth.JWTSecret = "" },
			field:  "auth.jwt_secret",
		},
		{
			name:   "missing username",
			mutate: func(c *Config) { c.Auth.Users[0].Username = "" },
			field:  "auth.users[0].username",
		},
		{
			name: "missing password and hash",
			mutate: func(c *Config) {
				c.Auth.Users[0].Password = ""
				c.Auth.Users[0].PasswordHash = ""
			},
			field: "auth.users[0]",
		},
		{
			name:   "bad role",
			mutate: func(c *Config) { c.Auth.Users[0].Role = "superuser" },
			field:  "auth.users[0].role",
		},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Library.Backend = "redis" },
			field:  "library.backend",
		},
		{
			name: "pgvector without url",
			mutate: func(c *Config) {
				c.Library.Backend = "pgvector"
				c.Library.URL = ""
			},
			field: "library.url",
		},
		{
			name:   "zero vector dim",
			mutate: func(c *Config) { c.Library.VectorDim = 0 },
			field:  "library.vector_dim",
		},
		{
			name:   "max tokens too large",
			mutate: func(c *Config) { c.LLM.MaxTokens = 5000 },
			field:  "llm.max_tokens",
		},
		{
			name:   "temperature out of range",
			mutate: func(c *Config) { c.LLM.Temperature = 2.5 },
			field:  "llm.temperature",
		},
		{
			name:   "overlap not below chunk size",
			mutate: func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize },
			field:  "ingest.chunk_overlap",
		},
		{
			name:   "negative rate limit",
			mutate: func(c *Config) { c.Ingest.RateLimit = -1 },
			field:  "ingest.rate_limit",
		},
		{
			name:   "zero top_k",
			mutate: func(c *Config) { c.Retrieval.TopK = 0 },
			field:  "retrieval.top_k",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			errs := cfg.Validate()

			if tt.field == "" {
				assert.Empty(t, errs)
				return
			}

			require.NotEmpty(t, errs)
			fields := make([]string, len(errs))
			for i, e := range errs {
				fields[i] = e.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}
