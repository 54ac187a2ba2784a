package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("RESUME_INTERVAL", "")
	t.Setenv("RESUME_MIN_AGE", "")
	t.Setenv("STRICT_STOCK", "")

	cfg := Load()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.ResumeInterval)
	assert.Equal(t, 10*time.Second, cfg.ResumeMinAge)
	assert.False(t, cfg.StrictStock)
	assert.Equal(t, 4, cfg.InventoryWorkers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("RESUME_INTERVAL", "0")
	t.Setenv("COURIER_TIMEOUT", "2500ms")
	t.Setenv("STRICT_STOCK", "true")
	t.Setenv("INVENTORY_WORKERS", "-3")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Duration(0), cfg.ResumeInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.CourierTimeout)
	assert.True(t, cfg.StrictStock)
	assert.Equal(t, 4, cfg.InventoryWorkers, "non-positive worker counts fall back to the default")
}

func TestGetdurationRejectsGarbage(t *testing.T) {
	t.Setenv("X_DUR", "soon")
	assert.Equal(t, time.Minute, getduration("X_DUR", time.Minute))
}
