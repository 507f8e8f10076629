package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(*testing.T, *Config)
	}{
		{
			name: "gemini with defaults",
			env: map[string]string{
				"GEMINI_API_KEY": "gem-key",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != 8000 {
					t.Errorf("Port = %d, want 8000", cfg.Port)
				}
				if cfg.Provider != "gemini" {
					t.Errorf("Provider = %s, want gemini", cfg.Provider)
				}
				if cfg.GeminiModel != "gemini-2.0-flash" {
					t.Errorf("GeminiModel = %s, want gemini-2.0-flash", cfg.GeminiModel)
				}
				if cfg.Temperature != 0.3 {
					t.Errorf("Temperature = %f, want 0.3", cfg.Temperature)
				}
				if cfg.MaxTokens != 4000 {
					t.Errorf("MaxTokens = %d, want 4000", cfg.MaxTokens)
				}
				if !cfg.RedisEnabled {
					t.Error("RedisEnabled = false, want true")
				}
				if cfg.RedisAddr() != "localhost:6379" {
					t.Errorf("RedisAddr = %s, want localhost:6379", cfg.RedisAddr())
				}
				if cfg.AnalysisTTL != 24*time.Hour {
					t.Errorf("AnalysisTTL = %s, want 24h", cfg.AnalysisTTL)
				}
				if cfg.ResearchTTL != 2*time.Hour {
					t.Errorf("ResearchTTL = %s, want 2h", cfg.ResearchTTL)
				}
				if cfg.SessionRetention != 5*time.Minute {
					t.Errorf("SessionRetention = %s, want 5m", cfg.SessionRetention)
				}
				if cfg.HeartbeatInterval != time.Second {
					t.Errorf("HeartbeatInterval = %s, want 1s", cfg.HeartbeatInterval)
				}
				if cfg.MaxStreams != 0 || !cfg.MetricsEnabled {
					t.Errorf("MaxStreams = %d, MetricsEnabled = %v, want 0/true", cfg.MaxStreams, cfg.MetricsEnabled)
				}
				if cfg.DailyCredits != 10 || cfg.SimpleCost != 1 || cfg.DeepCost != 3 {
					t.Errorf("credits = %d/%d/%d, want 10/1/3", cfg.DailyCredits, cfg.SimpleCost, cfg.DeepCost)
				}
				if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
					t.Errorf("CORSAllowedOrigins = %v, want [*]", cfg.CORSAllowedOrigins)
				}
				if cfg.DispatcherWorkers != 4 || cfg.DispatcherQueueSize != 16 {
					t.Errorf("dispatcher = %d/%d, want 4/16", cfg.DispatcherWorkers, cfg.DispatcherQueueSize)
				}
			},
		},
		{
			name: "openai with overrides",
			env: map[string]string{
				"LLM_PROVIDER":         "OpenAI",
				"OPENAI_API_KEY":       "sk-test",
				"OPENAI_BASE_URL":      "https://api.example.com/v1",
				"PORT":                 "9090",
				"REDIS_ENABLED":        "false",
				"REDIS_ANALYSIS_TTL":   "60",
				"CORS_ALLOWED_ORIGINS": "http://localhost:3000, https://ci.example.com",
				"STREAM_HEARTBEAT_MS":  "250",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Provider != "openai" {
					t.Errorf("Provider = %s, want openai", cfg.Provider)
				}
				if cfg.Port != 9090 {
					t.Errorf("Port = %d, want 9090", cfg.Port)
				}
				if cfg.RedisEnabled {
					t.Error("RedisEnabled = true, want false")
				}
				if cfg.AnalysisTTL != time.Minute {
					t.Errorf("AnalysisTTL = %s, want 1m", cfg.AnalysisTTL)
				}
				if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://ci.example.com" {
					t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
				}
				if cfg.HeartbeatInterval != 250*time.Millisecond {
					t.Errorf("HeartbeatInterval = %s, want 250ms", cfg.HeartbeatInterval)
				}
			},
		},
		{
			name:    "missing gemini key",
			env:     map[string]string{},
			wantErr: "GEMINI_API_KEY",
		},
		{
			name:    "missing openai key and endpoint",
			env:     map[string]string{"LLM_PROVIDER": "openai"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"LLM_PROVIDER": "claude"},
			wantErr: "invalid provider",
		},
		{
			name: "zero daily credits",
			env: map[string]string{
				"GEMINI_API_KEY": "gem-key",
				"DAILY_CREDITS":  "0",
			},
			wantErr: "DAILY_CREDITS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestConfigValidateDefaultsApplied(t *testing.T) {
	cfg := &Config{
		Provider:                    "gemini",
		GeminiAPIKey:                "key",
		MaxTokens:                   100,
		DailyCredits:                5,
		DispatcherBackoffMultiplier: 0.5,
	}

	if err := cfg.validate(); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if cfg.DispatcherWorkers != 4 {
		t.Fatalf("DispatcherWorkers default = %d, want 4", cfg.DispatcherWorkers)
	}
	if cfg.DispatcherQueueSize != 16 {
		t.Fatalf("DispatcherQueueSize default = %d, want 16", cfg.DispatcherQueueSize)
	}
	if cfg.DispatcherRetryInitial != 15*time.Second {
		t.Fatalf("DispatcherRetryInitial default = %s, want 15s", cfg.DispatcherRetryInitial)
	}
	if cfg.DispatcherBackoffMultiplier != 2 {
		t.Fatalf("DispatcherBackoffMultiplier default = %f, want 2", cfg.DispatcherBackoffMultiplier)
	}
	if cfg.QueryCacheSize != 100 || cfg.KnowledgeTopK != 3 {
		t.Fatalf("knowledge defaults = %d/%d, want 100/3", cfg.QueryCacheSize, cfg.KnowledgeTopK)
	}
	if cfg.LLMTTL != 24*time.Hour {
		t.Fatalf("LLMTTL default = %s, want 24h", cfg.LLMTTL)
	}
}

func TestConfigValidateRetryWindow(t *testing.T) {
	cfg := &Config{
		Provider:                    "gemini",
		GeminiAPIKey:                "key",
		MaxTokens:                   100,
		DailyCredits:                5,
		DispatcherWorkers:           2,
		DispatcherQueueSize:         4,
		DispatcherMaxAttempts:       2,
		DispatcherRetryInitial:      10 * time.Second,
		DispatcherRetryMax:          5 * time.Second,
		DispatcherBackoffMultiplier: 2,
	}

	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "DISPATCHER_RETRY_MAX_SECONDS") {
		t.Fatalf("expected retry window error, got %v", err)
	}
}

func TestConfigValidateTemperature(t *testing.T) {
	cfg := &Config{Provider: "gemini", GeminiAPIKey: "key", MaxTokens: 10, DailyCredits: 1, Temperature: 3}
	if err := cfg.validate(); err == nil || !strings.Contains(err.Error(), "LLM_TEMPERATURE") {
		t.Fatalf("expected temperature error, got %v", err)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")
	if getEnvBool("TEST_BOOL", true) {
		t.Error("getEnvBool = true, want false")
	}
	t.Setenv("TEST_BOOL", "nonsense")
	if !getEnvBool("TEST_BOOL", true) {
		t.Error("getEnvBool with invalid value should fall back to default")
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "3.14")
	if got := getEnvFloat("TEST_FLOAT", 1); got != 3.14 {
		t.Errorf("getEnvFloat = %f, want 3.14", got)
	}
	t.Setenv("TEST_FLOAT", "invalid")
	if got := getEnvFloat("TEST_FLOAT", 1); got != 1 {
		t.Errorf("getEnvFloat = %f, want default 1", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		def   int
		want  int
	}{
		{"valid", "42", 1, 42},
		{"empty", "", 7, 7},
		{"invalid", "abc", 9, 9},
		{"negative", "-3", 1, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.value)
			if got := getEnvInt("TEST_INT", tt.def); got != tt.want {
				t.Errorf("getEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,, c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
