package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileConfigIsRecurringNormalizesType(t *testing.T) {
	cfg := DefaultReconcileConfig()

	assert.True(t, cfg.IsRecurring("Scheduled Recurring"))
	assert.True(t, cfg.IsRecurring(" recurring "))
	assert.True(t, cfg.IsRecurring("scheduled-recurring"))
	assert.False(t, cfg.IsRecurring("one_time"))
	assert.False(t, cfg.IsRecurring(""))
}

func TestValidateReconcileConfig(t *testing.T) {
	cfg := DefaultReconcileConfig()
	assert.NoError(t, validateReconcileConfig(cfg))

	cfg.MatchWindowDays = 0
	assert.Error(t, validateReconcileConfig(cfg))

	cfg = DefaultReconcileConfig()
	cfg.Sweep.BatchSize = 0
	assert.Error(t, validateReconcileConfig(cfg))

	cfg.Sweep.Enabled = false
	assert.NoError(t, validateReconcileConfig(cfg))
}

func TestWebhookConfigIsProductionEnvironment(t *testing.T) {
	cfg := WebhookConfig{ProductionEnvironments: parseList("Production, live")}

	assert.True(t, cfg.IsProductionEnvironment("production"))
	assert.True(t, cfg.IsProductionEnvironment(" LIVE "))
	assert.False(t, cfg.IsProductionEnvironment("sandbox"))
	assert.False(t, cfg.IsProductionEnvironment(""))
}
