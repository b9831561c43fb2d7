package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "localhost:50051", cfg.TA2.Address)
	assert.Equal(t, "TA3-TGW", cfg.TA2.UserAgent)
	assert.Equal(t, "2018.7.7", cfg.TA2.ProtocolVersion)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.TA2.AllowedValueTypes)
	assert.Equal(t, 20, cfg.Search.RankCutoff)
	assert.Equal(t, []string{"accuracy"}, cfg.Search.Metrics)
	assert.Equal(t, "file", cfg.Artifacts.Backend)
	assert.Empty(t, cfg.Events.NatsURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "7000")
	t.Setenv("RANK_CUTOFF", "5")
	t.Setenv("SCORE_METRICS", "accuracy, f1Macro ,,")
	t.Setenv("SEARCH_DEADLINE", "90s")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "7000", cfg.App.Port)
	assert.Equal(t, 5, cfg.Search.RankCutoff)
	assert.Equal(t, []string{"accuracy", "f1Macro"}, cfg.Search.Metrics)
	assert.Equal(t, 90*time.Second, cfg.Search.Deadline)
	assert.True(t, cfg.App.OtelEnabled)
}

func TestInvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		get  func(*Config) interface{}
		want interface{}
	}{
		{"non numeric cutoff", "RANK_CUTOFF", "twenty", func(c *Config) interface{} { return c.Search.RankCutoff }, 20},
		{"bad duration", "SEARCH_DEADLINE", "soon", func(c *Config) interface{} { return c.Search.Deadline }, 10 * time.Minute},
		{"negative duration", "TA2_CONNECT_TIMEOUT", "-1s", func(c *Config) interface{} { return c.TA2.ConnectTimeout }, 5 * time.Second},
		{"blank list", "SCORE_METRICS", " , ", func(c *Config) interface{} { return c.Search.Metrics }, []string{"accuracy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			assert.Equal(t, tt.want, tt.get(Load()))
		})
	}
}
