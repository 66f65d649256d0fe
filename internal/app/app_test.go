package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/bill-parser/internal/config"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings_Unset(t *testing.T) {
	s, err := DefaultSettings(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, domain.Settings{}, s)
}

func TestDefaultSettings_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("systemPrompt: be precise\ncategories:\n  - name: Food\n  - name: Travel\n"), 0o600))

	s, err := DefaultSettings(&config.Config{SettingsPath: path})
	require.NoError(t, err)
	assert.Equal(t, "be precise", s.SystemPrompt)
	assert.Equal(t, []string{"Food", "Travel"}, s.Categories.Names())
}

func TestNewRasterizer_IgnoresUnsetValues(t *testing.T) {
	assert.NotNil(t, newRasterizer(config.RasterConfig{}))
	assert.NotNil(t, newRasterizer(config.RasterConfig{Scale: 1.5, Quality: 80, Workers: 2}))
}
