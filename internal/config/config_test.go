package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.OutputDir)
	assert.Equal(t, "tmp", cfg.TmpDir)
	assert.Equal(t, "1080p", cfg.Quality)
	assert.Equal(t, 80, cfg.QualityID())
	assert.Equal(t, 3, cfg.Concurrency)
	assert.True(t, cfg.NeedVideo)
	assert.True(t, cfg.NeedAudio)
	assert.True(t, cfg.NeedDanmaku)
	assert.True(t, cfg.Merge)
	assert.False(t, cfg.Login)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bilidl.yaml")
	body := "quality: 4k\noutput_dir: /srv/media\nconcurrency: 2\nmerge: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.QualityID())
	assert.Equal(t, "/srv/media", cfg.OutputDir)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.False(t, cfg.Merge)
	// Unmentioned options keep their defaults.
	assert.True(t, cfg.NeedVideo)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bilidl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quality: 720p\n"), 0o600))

	t.Setenv("BILIDL_QUALITY", "1080p60")
	t.Setenv("BILIDL_PARTS", "1-3,5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 116, cfg.QualityID())
	assert.Equal(t, []int{1, 2, 3, 5}, cfg.PartList())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownQuality(t *testing.T) {
	cfg := Default()
	cfg.Quality = "4320p"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMalformedParts(t *testing.T) {
	cfg := Default()
	cfg.Parts = "3-1"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestQualityIDFallsBackWhenUnset(t *testing.T) {
	cfg := Default()
	cfg.Quality = ""
	assert.Equal(t, 80, cfg.QualityID())
}
