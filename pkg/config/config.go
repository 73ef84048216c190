package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type UserEntry struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password,omitempty"`      // plaintext, compared in constant time
	PasswordHash string `yaml:"password_hash,omitempty"` // bcrypt, preferred
	Role         string `yaml:"role"`
}

type AuthConfig struct {
	JWTSecret string      `yaml:"jwt_secret"`
	Users     []UserEntry `yaml:"users"`
}

type HistoryConfig struct {
	Root string `yaml:"root"`
}

type LibraryConfig struct {
	Backend   string `yaml:"backend"` // "disk" or "pgvector"
	Root      string `yaml:"root"`    // disk backend: one directory per knowledge base
	URL       string `yaml:"url"`     // pgvector backend
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type IngestConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	UploadDir    string  `yaml:"upload_dir"`
	RateLimit    float64 `yaml:"rate_limit"` // embedding requests per second
}

type VoiceConfig struct {
	SpeechURL      string  `yaml:"speech_url"`     // text-to-speech endpoint
	TranscribeURL  string  `yaml:"transcribe_url"` // speech-to-text endpoint
	Voice          string  `yaml:"voice"`
	PlayerCommand  string  `yaml:"player_command"`
	RecordCommand  string  `yaml:"record_command"`
	ListenTimeout  float64 `yaml:"listen_timeout"` // seconds
	RequestTimeout float64 `yaml:"request_timeout"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	History   HistoryConfig   `yaml:"history"`
	Library   LibraryConfig   `yaml:"library"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Voice     VoiceConfig     `yaml:"voice"`
}

func LoadConfig(path string) (*Config, error) {
	// A .env file is optional; real environment variables win either way.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/mindnexus/config.yaml"),
			"/etc/mindnexus/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	if err := applyDefaults(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	if err := applyDefaults(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(config *Config) error {
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}

	if config.Auth.JWTSecret == "" {
		// A per-process random secret: tokens stay valid for the life of
		// the process and cannot be forged against a known default.
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate session secret: %v", err)
		}
		config.Auth.JWTSecret = secret
	}

	if len(config.Auth.Users) == 0 {
		// The deployment-time credential table from the original rollout.
		config.Auth.Users = []UserEntry{
			{Username: "admin", Password: "admin123", Role: "admin"},
			{Username: "student", Password: "student123", Role: "user"},
		}
	}

	if config.History.Root == "" {
		config.History.Root = "data/chat_history"
	}

	if config.Library.Backend == "" {
		config.Library.Backend = "disk"
	}
	if config.Library.Root == "" {
		config.Library.Root = "data/libraries"
	}
	if config.Library.TableName == "" {
		config.Library.TableName = "library_chunks"
	}
	if config.Library.VectorDim == 0 {
		config.Library.VectorDim = 768 // nomic-embed-text
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text"
	}

	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.3
	}

	if config.Ingest.ChunkSize == 0 {
		config.Ingest.ChunkSize = 1000
	}
	if config.Ingest.ChunkOverlap == 0 {
		config.Ingest.ChunkOverlap = 150
	}
	if config.Ingest.UploadDir == "" {
		config.Ingest.UploadDir = "temp_uploads"
	}
	if config.Ingest.RateLimit == 0 {
		config.Ingest.RateLimit = 10.0
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}

	if config.Voice.Voice == "" {
		config.Voice.Voice = "alloy"
	}
	if config.Voice.ListenTimeout == 0 {
		config.Voice.ListenTimeout = 5.0
	}
	if config.Voice.RequestTimeout == 0 {
		config.Voice.RequestTimeout = 30.0
	}

	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Library.URL = dbURL
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}
