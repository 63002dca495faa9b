//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/config"
)

func TestLoadCatalog_FallsBackWhenMissing(t *testing.T) {
	c, err := loadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "default", c.ID)
	assert.NotEmpty(t, c.Categories)

	c, err = loadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, "default", c.ID)
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: facilities\ncategories:\n  - name: Janitorial\n    keywords: [cleaning, janitor]\n"), 0o644))

	c, err := loadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "facilities", c.ID)
	require.Len(t, c.Categories, 1)
	assert.Equal(t, "Janitorial", c.Categories[0].Name)
}

func TestLoadCatalog_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: [unterminated"), 0o644))

	_, err := loadCatalog(path)
	assert.Error(t, err)
}

func TestNewCaller(t *testing.T) {
	c := testConfig()
	c.Completion.Provider = "anthropic"
	c.Anthropic.Key = "sk-test"
	c.Anthropic.HaikuModel = "claude-haiku-4-5-20251001"

	caller, err := newCaller(c)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", caller.Provider())

	c.Completion.Provider = "openai"
	c.OpenAI.Key = "sk-test"
	caller, err = newCaller(c)
	require.NoError(t, err)
	assert.Equal(t, "openai", caller.Provider())

	c.Completion.Provider = "cohere"
	_, err = newCaller(c)
	assert.Error(t, err)
}

func TestRatesFrom(t *testing.T) {
	rates := ratesFrom(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-haiku-4-5-20251001": {Input: 1, Output: 5, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
	})

	require.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.InDelta(t, 5.0, rates.Anthropic["claude-haiku-4-5-20251001"].Output, 1e-9)
	assert.InDelta(t, 0.1, rates.Anthropic["claude-haiku-4-5-20251001"].CacheReadMul, 1e-9)
	assert.Nil(t, rates.OpenAI)
}
