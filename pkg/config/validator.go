package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Auth.JWTSecret == "" {
		errors = append(errors, ValidationError{
			Field:   "auth.jwt_secret",
			Message: "jwt_secret is required to sign session tokens",
		})
	}

	for i, user := range c.Auth.Users {
		if user.Username == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.users[%d].username", i),
				Message: "username is required",
			})
		}
		if user.Password == "" && user.PasswordHash == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.users[%d]", i),
				Message: "either password or password_hash is required",
			})
		}
		if user.Role != "admin" && user.Role != "user" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.users[%d].role", i),
				Message: fmt.Sprintf("role must be admin or user, got %q", user.Role),
			})
		}
	}

	switch c.Library.Backend {
	case "disk":
		if c.Library.Root == "" {
			errors = append(errors, ValidationError{
				Field:   "library.root",
				Message: "root directory is required for the disk backend",
			})
		}
	case "pgvector":
		if c.Library.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "library.url",
				Message: "connection string is required for the pgvector backend",
			})
		} else if _, err := url.Parse(c.Library.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "library.url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "library.backend",
			Message: fmt.Sprintf("backend must be disk or pgvector, got %q", c.Library.Backend),
		})
	}

	if c.Library.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "library.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid LLM base URL",
		})
	}

	if c.Ingest.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "ingest.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Ingest.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Voice.ListenTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "voice.listen_timeout",
			Message: "listen_timeout must be positive",
		})
	}

	return errors
}
