// Package config loads the application configuration the same way the
// teacher CLI does: a TOML file found via flag/home/current-directory
// search, merged over defaults, with flags and environment variables able
// to override individual keys through viper.
package config

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"vault-iiif-mirror/internal/models"
)

// SetDefaults registers every default from models.DefaultConfig() with
// viper, so a fresh environment with no config file and no flags still
// produces a usable configuration.
func SetDefaults() {
	d := models.DefaultConfig()
	viper.SetDefault("downloads_dir", d.DownloadsDir)
	viper.SetDefault("catalog_path", d.CatalogPath)
	viper.SetDefault("temp_dir", d.TempDir)
	viper.SetDefault("system.download_workers", d.System.DownloadWorkers)
	viper.SetDefault("images.download_strategy", d.Images.DownloadStrategy)
	viper.SetDefault("images.iiif_quality", d.Images.IIIFQuality)
	viper.SetDefault("images.tile_stitch_max_ram_gb", d.Images.TileStitchMaxRAMGB)
	viper.SetDefault("defaults.auto_generate_pdf", d.Defaults.AutoGeneratePDF)
	viper.SetDefault("storage.exports_retention_days", d.Storage.ExportsRetentionDays)
	viper.SetDefault("housekeeping.temp_cleanup_days", d.Housekeeping.TempCleanupDays)
	viper.SetDefault("log_level", d.LogLevel)
	viper.SetDefault("log_format", d.LogFormat)
}

// Load locates and reads a TOML configuration file, applies environment
// overrides, and unmarshals the result into a models.Config. cfgFile may
// be empty, in which case the file is searched for as "vault-mirror.toml"
// in the home directory and the current directory, matching the
// teacher's config-discovery behavior; a missing file is not an error,
// since defaults plus flags are enough to run.
func Load(cfgFile string) (models.Config, error) {
	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("vault-mirror")
		viper.SetConfigType("toml")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err == nil {
		log.Infof("using configuration file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		log.Debug("no configuration file found, using defaults and flags")
	} else {
		log.WithError(err).Warn("error reading configuration file")
	}

	var cfg models.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return models.Config{}, fmt.Errorf("unmarshalling configuration: %w", err)
	}
	return cfg, nil
}
