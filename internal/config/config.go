package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Config is the application configuration. File values come from a YAML
// config file; credentials are only ever read from the environment.
type Config struct {
	VMware     VMwareConfig     `json:"vmware"`
	Scaleway   ScalewayConfig   `json:"scaleway"`
	Conversion ConversionConfig `json:"conversion"`
	LogLevel   string           `json:"log_level" envconfig:"VMWARE2SCW_LOG_LEVEL"`
}

type VMwareConfig struct {
	VCenter    string `json:"vcenter"`
	Username   string `json:"username"`
	Password   string `json:"-" envconfig:"VCENTER_PASSWORD"`
	Insecure   bool   `json:"insecure"`
	Datacenter string `json:"datacenter"`
}

type ScalewayConfig struct {
	AccessKey      string `json:"-" envconfig:"SCW_ACCESS_KEY"`
	SecretKey      string `json:"-" envconfig:"SCW_SECRET_KEY"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`
	DefaultZone    string `json:"default_zone"`
	Region         string `json:"region"`
	S3Region       string `json:"s3_region"`
	S3Bucket       string `json:"s3_bucket"`
	S3Endpoint     string `json:"s3_endpoint"`
	// Cloud-side snapshot import polling. The provider does not document a
	// readiness bound, so both knobs are exposed here.
	PollInterval  Duration `json:"poll_interval"`
	ImportTimeout Duration `json:"import_timeout"`
}

type ConversionConfig struct {
	WorkDir           string  `json:"work_dir"`
	VirtioWinISO      string  `json:"virtio_win_iso"`
	OVMFPath          string  `json:"ovmf_path"`
	CompressQcow2     *bool   `json:"compress_qcow2"`
	KeepIntermediates bool    `json:"keep_intermediates"`
	QemuImgPath       string  `json:"qemu_img_path"`
	VirtCustomizePath string  `json:"virt_customize_path"`
	AvailableDiskGB   float64 `json:"available_disk_gb"`
}

// Duration is a time.Duration that round-trips through YAML as a string
// ("10s", "30m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Duration.String() + `"`), nil
}

// Load reads the YAML config file at path (unknown keys rejected), applies
// defaults, then overlays credentials and the log level from the
// environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", path)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.Wrap(err, "processing environment")
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scaleway.DefaultZone == "" {
		c.Scaleway.DefaultZone = "fr-par-1"
	}
	if c.Scaleway.Region == "" {
		c.Scaleway.Region = "fr-par"
	}
	if c.Scaleway.S3Region == "" {
		c.Scaleway.S3Region = c.Scaleway.Region
	}
	if c.Scaleway.S3Bucket == "" {
		c.Scaleway.S3Bucket = "vmware2scw-transit"
	}
	if c.Scaleway.S3Endpoint == "" {
		c.Scaleway.S3Endpoint = "https://s3.fr-par.scw.cloud"
	}
	if c.Scaleway.PollInterval.Duration == 0 {
		c.Scaleway.PollInterval.Duration = 10 * time.Second
	}
	if c.Scaleway.ImportTimeout.Duration == 0 {
		c.Scaleway.ImportTimeout.Duration = 30 * time.Minute
	}
	if c.Conversion.WorkDir == "" {
		c.Conversion.WorkDir = "/var/lib/vmware2scw/work"
	}
	if c.Conversion.OVMFPath == "" {
		c.Conversion.OVMFPath = "/usr/share/OVMF/OVMF_CODE.fd"
	}
	if c.Conversion.QemuImgPath == "" {
		c.Conversion.QemuImgPath = "qemu-img"
	}
	if c.Conversion.VirtCustomizePath == "" {
		c.Conversion.VirtCustomizePath = "virt-customize"
	}
	if c.Conversion.CompressQcow2 == nil {
		compress := true
		c.Conversion.CompressQcow2 = &compress
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// BatchStateDir is where batch state files live.
func (c *Config) BatchStateDir() string {
	return filepath.Join(c.Conversion.WorkDir, "batch-state")
}

// MigrationWorkDir is the artifact directory for one migration.
func (c *Config) MigrationWorkDir(migrationID string) string {
	return filepath.Join(c.Conversion.WorkDir, "work", migrationID)
}
