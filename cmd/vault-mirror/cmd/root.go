package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vault-iiif-mirror/internal/archiver"
	"vault-iiif-mirror/internal/catalog"
	appconfig "vault-iiif-mirror/internal/config"
	"vault-iiif-mirror/internal/jobmanager"
	"vault-iiif-mirror/internal/models"
)

// cfgFile holds the path to the configuration file specified by the user.
var cfgFile string

// logLevel and logFormat mirror the teacher's persistent logging flags.
var logLevel string
var logFormat string

// globalConfig, globalCatalog, globalArchiver and globalJobManager are
// built once in loadGlobalState and shared by every subcommand, the same
// explicit-service-object style internal/jobmanager documents for the
// process-wide manager rather than a package-level singleton.
var globalConfig models.Config
var globalCatalog *catalog.Catalog
var globalArchiver *archiver.Archiver
var globalJobManager *jobmanager.Manager

var rootCmd = &cobra.Command{
	Use:   "vault-mirror",
	Short: "Mirror digitized manuscripts from IIIF repositories into a local archive",
	Long: `vault-mirror resolves a shelfmark, short identifier, or URL from a
supported IIIF repository (Vatican Library, BnF Gallica, Bodleian,
Institut de France, or an arbitrary manifest URL), downloads every page
at the best available resolution, and records durable catalog state for
a UI to poll.`,
	PersistentPreRunE:  loadGlobalState,
	PersistentPostRunE: closeGlobalState,
}

// Execute runs the root command. Called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vault-mirror: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default: vault-mirror.toml in $HOME or .)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
}

func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("invalid log level %q, using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// loadGlobalState loads configuration, opens the catalog, resets any
// non-terminal job rows left over from a prior process (per the spec's
// exit-behavior requirement that this run before any worker is
// scheduled), and wires the archiver and job manager every subcommand
// shares.
func loadGlobalState(cmd *cobra.Command, args []string) error {
	initLogging()

	cfg, err := appconfig.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	globalConfig = cfg

	if err := os.MkdirAll(cfg.DownloadsDir, 0o755); err != nil {
		return fmt.Errorf("creating downloads directory: %w", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}

	cat, err := catalog.Open(cfg.CatalogPath, cfg.DownloadsDir)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	globalCatalog = cat

	if n, err := cat.ResetActiveDownloads(); err != nil {
		log.WithError(err).Warn("failed to reset stale active downloads")
	} else if n > 0 {
		log.Infof("reset %d non-terminal job(s) from a previous process", n)
	}

	globalArchiver = archiver.New(cfg, cat, log.StandardLogger())
	globalJobManager = jobmanager.New(cat, log.StandardLogger())

	return nil
}

func closeGlobalState(cmd *cobra.Command, args []string) error {
	if globalCatalog != nil {
		return globalCatalog.Close()
	}
	return nil
}
