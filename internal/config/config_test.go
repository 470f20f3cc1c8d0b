package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "FEED_BACKEND", "FEED_PAGE_SIZE", "FEED_POLL_INTERVAL", "CORS_ORIGINS", "INTENT_RATE"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "messages", cfg.Collection)
	assert.Equal(t, 5, cfg.PageSize)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CorsOrigins)
	assert.Equal(t, 10.0, cfg.IntentRate)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEED_BACKEND", "Supabase")
	t.Setenv("FEED_PAGE_SIZE", "12")
	t.Setenv("FEED_POLL_INTERVAL", "750ms")
	t.Setenv("CORS_ORIGINS", " https://a.example , https://b.example ,")
	t.Setenv("INTENT_RATE", "2.5")

	cfg := Load()
	assert.Equal(t, BackendSupabase, cfg.Backend)
	assert.Equal(t, 12, cfg.PageSize)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsOrigins)
	assert.Equal(t, 2.5, cfg.IntentRate)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("FEED_PAGE_SIZE", "lots")
	t.Setenv("FEED_POLL_INTERVAL", "soon")
	cfg := Load()
	assert.Equal(t, 5, cfg.PageSize)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestWarnings(t *testing.T) {
	cfg := &Config{Backend: BackendSupabase, PageSize: 0}
	w := cfg.Warnings()
	assert.Contains(t, w, "SUPABASE_URL is not set")
	assert.Contains(t, w, "SUPABASE_SERVICE_ROLE_KEY is not set")
	assert.Len(t, w, 4)
	assert.Equal(t, 5, cfg.PageSize)

	cfg = &Config{Backend: BackendMemory, PageSize: 5, JWTSecret: "s"}
	assert.Empty(t, cfg.Warnings())
}
