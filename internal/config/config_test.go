package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUDIT_CAPACITY", "")
	t.Setenv("CLEARINGHOUSE_TIMEOUT", "not-a-duration")
	t.Setenv("EDI_USAGE_INDICATOR", "p")

	cfg := Load()

	assert.Equal(t, 1000, cfg.Audit.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Clearinghouse.Timeout)
	assert.Equal(t, "P", cfg.EDI.UsageIndicator)
	assert.Equal(t, "claims.acks", cfg.AckQueueName)
}

func TestPayerRulesFor(t *testing.T) {
	rules := DefaultPayerRules()

	medicare := rules.For("medicare")
	assert.Equal(t, []string{"GN"}, medicare.RequiredModifiers["92507"])
	assert.Equal(t, 60, medicare.MaxVisitsPerYear)

	other := rules.For("ACME")
	assert.Equal(t, 1, other.MaxUnitsPerDay["92507"])
	assert.Zero(t, other.MaxVisitsPerYear)
}

func TestLoadPayerRulesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payers.yml")
	content := `
rules:
  default:
    maxUnitsPerDay:
      "92507": 2
  payers:
    - payerId: BCBS
      requiresPriorAuth: true
      maxVisitsPerYear: 30
      allowedModifiers:
        "92507": ["GN", "KX"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := LoadPayerRules(path, zap.NewNop())
	require.NoError(t, err)

	rules := holder.Get()
	assert.Equal(t, 2, rules.Default.MaxUnitsPerDay["92507"])

	bcbs := rules.For("BCBS")
	assert.True(t, bcbs.RequiresPriorAuth)
	assert.Equal(t, 30, bcbs.MaxVisitsPerYear)
	assert.Equal(t, []string{"GN", "KX"}, bcbs.AllowedModifiers["92507"])
}

func TestLoadPayerRulesRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payers.yml")
	content := `
rules:
  payers:
    - payerId: ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadPayerRules(path, zap.NewNop())
	assert.Error(t, err)
}
