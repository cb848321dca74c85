package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "fr-par-1", cfg.Scaleway.DefaultZone)
	assert.Equal(t, "vmware2scw-transit", cfg.Scaleway.S3Bucket)
	assert.Equal(t, "/var/lib/vmware2scw/work", cfg.Conversion.WorkDir)
	assert.Equal(t, 10*time.Second, cfg.Scaleway.PollInterval.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Scaleway.ImportTimeout.Duration)
	require.NotNil(t, cfg.Conversion.CompressQcow2)
	assert.True(t, *cfg.Conversion.CompressQcow2)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vmware:
  vcenter: vcenter.lab
  username: admin
  insecure: true
scaleway:
  project_id: proj-1
  default_zone: fr-par-2
  poll_interval: 5s
conversion:
  work_dir: /tmp/w2s
  compress_qcow2: false
  virtio_win_iso: /opt/virtio-win.iso
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "vcenter.lab", cfg.VMware.VCenter)
	assert.True(t, cfg.VMware.Insecure)
	assert.Equal(t, "fr-par-2", cfg.Scaleway.DefaultZone)
	assert.Equal(t, 5*time.Second, cfg.Scaleway.PollInterval.Duration)
	assert.Equal(t, "/tmp/w2s", cfg.Conversion.WorkDir)
	assert.False(t, *cfg.Conversion.CompressQcow2)
	assert.Equal(t, "/opt/virtio-win.iso", cfg.Conversion.VirtioWinISO)

	assert.Equal(t, filepath.Join("/tmp/w2s", "batch-state"), cfg.BatchStateDir())
	assert.Equal(t, filepath.Join("/tmp/w2s", "work", "abc"), cfg.MigrationWorkDir("abc"))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vmvare:\n  vcenter: x\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("VCENTER_PASSWORD", "hunter2")
	t.Setenv("SCW_ACCESS_KEY", "SCWXXX")
	t.Setenv("SCW_SECRET_KEY", "sekrit")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.VMware.Password)
	assert.Equal(t, "SCWXXX", cfg.Scaleway.AccessKey)
	assert.Equal(t, "sekrit", cfg.Scaleway.SecretKey)
}
