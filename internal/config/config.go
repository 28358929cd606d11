// Package config resolves pumpguard's runtime configuration from an
// optional YAML file overlaid with environment variables, per spec.md §6.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of recognized options of spec.md §6.
type Config struct {
	BrokerHost string `yaml:"broker_host"`
	BrokerPort int    `yaml:"broker_port"`
	AssetID    string `yaml:"asset_id"`
	BaseTopic  string `yaml:"base_topic"`

	HistoryCapacity int `yaml:"history_capacity"`
	ChatTurnCap     int `yaml:"chat_turn_cap"`
	FaultEventCap   int `yaml:"fault_event_cap"`
	SessionCap      int `yaml:"session_cap"`

	LLMAPIKey string `yaml:"llm_api_key"`
	LLMModel  string `yaml:"llm_model"`
	EmbedModel string `yaml:"embed_model"`
	LLMBaseURL string `yaml:"llm_base_url"`
	EmbedBaseURL string `yaml:"embed_base_url"`

	IndexPersistDir string `yaml:"index_persist_dir"`
	ReferenceDocPath string `yaml:"reference_doc_path"`

	HTTPAddr string `yaml:"http_addr"`

	MetricsBackend string `yaml:"metrics_backend"` // "prom" | "otel" | "noop"
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		BrokerHost:      "localhost",
		BrokerPort:      4222,
		AssetID:         "pump01",
		BaseTopic:       "digital_twin",
		HistoryCapacity: 60,
		ChatTurnCap:     20,
		FaultEventCap:   256,
		SessionCap:      10000,
		LLMModel:        "gpt-4o-mini",
		EmbedModel:      "text-embedding-3-small",
		IndexPersistDir: "./data/index",
		HTTPAddr:        ":8080",
		MetricsBackend:  "prom",
	}
}

// Load resolves configuration: start from Defaults(), overlay an optional
// YAML file at path (if non-empty and present), then overlay environment
// variables. Environment always wins, matching the teacher's layered
// config-resolution order (file provides a baseline, env is the operator
// override of last resort).
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	intv := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("BROKER_HOST", &cfg.BrokerHost)
	intv("BROKER_PORT", &cfg.BrokerPort)
	str("ASSET_ID", &cfg.AssetID)
	str("BASE_TOPIC", &cfg.BaseTopic)
	intv("HISTORY_CAPACITY", &cfg.HistoryCapacity)
	intv("CHAT_TURN_CAP", &cfg.ChatTurnCap)
	intv("FAULT_EVENT_CAP", &cfg.FaultEventCap)
	intv("SESSION_CAP", &cfg.SessionCap)
	str("LLM_API_KEY", &cfg.LLMAPIKey)
	str("LLM_MODEL", &cfg.LLMModel)
	str("EMBED_MODEL", &cfg.EmbedModel)
	str("LLM_BASE_URL", &cfg.LLMBaseURL)
	str("EMBED_BASE_URL", &cfg.EmbedBaseURL)
	str("INDEX_PERSIST_DIR", &cfg.IndexPersistDir)
	str("REFERENCE_DOC_PATH", &cfg.ReferenceDocPath)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("METRICS_BACKEND", &cfg.MetricsBackend)
}

// BrokerPublishTimeout, LLMTimeout, EmbedderTimeout are the bounded
// suspension-point timeouts of spec.md §5.
const (
	BrokerPublishTimeout = 5 * time.Second
	LLMTimeout           = 30 * time.Second
	EmbedderTimeout      = 10 * time.Second
	WebSocketSendDeadline = 2 * time.Second
)
