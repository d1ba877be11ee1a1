package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Server   struct {
		Host       string `json:"host"`
		Port       int    `json:"port"`
		CORSOrigin string `json:"cors_origin"`
	} `json:"server"`
	LLM struct {
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	Agent struct {
		MaxSteps          int `json:"max_steps"`
		RequestTimeoutSec int `json:"request_timeout_seconds"`
		MaxConcurrent     int `json:"max_concurrent"`
	} `json:"agent"`
	Cache struct {
		SimilarityThreshold float64 `json:"similarity_threshold"`
		TTLSeconds          int     `json:"ttl_seconds"`
		SweepSchedule       string  `json:"sweep_schedule"`
	} `json:"cache"`
	Pool struct {
		MaxConns          int `json:"max_conns"`
		MinConns          int `json:"min_conns"`
		IdleTimeoutSec    int `json:"idle_timeout_seconds"`
		ConnectTimeoutSec int `json:"connect_timeout_seconds"`
	} `json:"pool"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".chatdb"),
		LogLevel: "info",
	}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.CORSOrigin = "*"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.3
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.Agent.MaxSteps = 10
	cfg.Agent.RequestTimeoutSec = 120
	cfg.Agent.MaxConcurrent = 4
	cfg.Cache.SimilarityThreshold = 0.9
	cfg.Cache.TTLSeconds = 86400
	cfg.Cache.SweepSchedule = "@every 10m"
	cfg.Pool.MaxConns = 5
	cfg.Pool.MinConns = 0
	cfg.Pool.IdleTimeoutSec = 300
	cfg.Pool.ConnectTimeoutSec = 10

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if raw := os.Getenv("CACHE_SIMILARITY_THRESHOLD"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Cache.SimilarityThreshold = v
		}
	}
	if raw := os.Getenv("CACHE_TTL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Cache.TTLSeconds = v
		}
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
