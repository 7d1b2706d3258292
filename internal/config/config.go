// Package config centralizes env-driven settings. godotenv is loaded once in
// main before Load is called.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         string
	DatabasePath string
	UploadDir    string

	// Remote transcription job service (submit + poll + download).
	TranscribeAPIURL string

	// Synchronous cloud speech endpoint.
	SpeechAPIURL   string
	SpeechLanguage string

	// Generative-text gateway (OpenAI-compatible chat completions).
	LLMGatewayURL string
	LLMAPIKey     string
	LLMModel      string

	// Remote-job polling cadence and cap.
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Concurrency bound for per-file pipeline workers.
	MaxWorkers int

	// Compute device override ("cpu"/"cuda"); autodetected when empty.
	Device string
}

func Load() Config {
	return Config{
		Port:             envOr("PORT", "8080"),
		DatabasePath:     envOr("DATABASE_PATH", "database.db"),
		UploadDir:        envOr("UPLOAD_DIR", "uploads"),
		TranscribeAPIURL: envOr("TRANSCRIBE_API_URL", "http://127.0.0.1:8000"),
		SpeechAPIURL:     os.Getenv("SPEECH_API_URL"),
		SpeechLanguage:   envOr("SPEECH_LANGUAGE", "pt-BR"),
		LLMGatewayURL:    os.Getenv("LLM_GATEWAY_URL"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMModel:         envOr("LLM_MODEL", "gemini-1.5-flash"),
		PollInterval:     envDurationOr("POLL_INTERVAL", 5*time.Second),
		PollTimeout:      envDurationOr("POLL_TIMEOUT", 30*time.Minute),
		MaxWorkers:       envIntOr("MAX_WORKERS", 8),
		Device:           os.Getenv("DEVICE"),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envIntOr(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDurationOr(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
