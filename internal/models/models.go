// Package models holds the shared data shapes passed between the
// resolver, manifest, engine, jobmanager and catalog packages.
package models

import "time"

// Config is the root application configuration, decoded from TOML and
// overlaid with flags/env via viper. Field names mirror the keys named in
// the configuration surface: system.*, images.*, defaults.*, storage.*,
// housekeeping.*.
type Config struct {
	DownloadsDir string `mapstructure:"downloads_dir" toml:"downloads_dir"`
	CatalogPath  string `mapstructure:"catalog_path" toml:"catalog_path"`
	TempDir      string `mapstructure:"temp_dir" toml:"temp_dir"`

	System       SystemConfig       `mapstructure:"system" toml:"system"`
	Images       ImagesConfig       `mapstructure:"images" toml:"images"`
	Defaults     DefaultsConfig     `mapstructure:"defaults" toml:"defaults"`
	Storage      StorageConfig      `mapstructure:"storage" toml:"storage"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping" toml:"housekeeping"`

	LogLevel  string `mapstructure:"log_level" toml:"log_level"`
	LogFormat string `mapstructure:"log_format" toml:"log_format"`
}

type SystemConfig struct {
	DownloadWorkers int `mapstructure:"download_workers" toml:"download_workers"`
}

type ImagesConfig struct {
	DownloadStrategy     []string `mapstructure:"download_strategy" toml:"download_strategy"`
	IIIFQuality          string   `mapstructure:"iiif_quality" toml:"iiif_quality"`
	TileStitchMaxRAMGB   float64  `mapstructure:"tile_stitch_max_ram_gb" toml:"tile_stitch_max_ram_gb"`
}

type DefaultsConfig struct {
	AutoGeneratePDF bool `mapstructure:"auto_generate_pdf" toml:"auto_generate_pdf"`
}

type StorageConfig struct {
	ExportsRetentionDays int `mapstructure:"exports_retention_days" toml:"exports_retention_days"`
}

type HousekeepingConfig struct {
	TempCleanupDays int `mapstructure:"temp_cleanup_days" toml:"temp_cleanup_days"`
}

// DefaultConfig returns the configuration defaults mirrored by the
// viper.SetDefault calls in internal/config's SetDefaults, so callers
// constructing a Config by hand (tests) get
// sane values.
func DefaultConfig() Config {
	return Config{
		DownloadsDir: "downloads",
		CatalogPath:  "data/vault.db",
		TempDir:      "data/tmp",
		System:       SystemConfig{DownloadWorkers: 4},
		Images: ImagesConfig{
			DownloadStrategy:   []string{"max", "3000", "1740"},
			IIIFQuality:        "default",
			TileStitchMaxRAMGB: 2,
		},
		Defaults:     DefaultsConfig{AutoGeneratePDF: true},
		Storage:      StorageConfig{ExportsRetentionDays: 30},
		Housekeeping: HousekeepingConfig{TempCleanupDays: 7},
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// AssetState is the derived lifecycle tag attached to each manuscript row.
type AssetState string

const (
	AssetSaved       AssetState = "saved"
	AssetQueued      AssetState = "queued"
	AssetDownloading AssetState = "downloading"
	AssetPartial     AssetState = "partial"
	AssetComplete    AssetState = "complete"
	AssetError       AssetState = "error"
)

// ItemType is the closed classification taxonomy for a manuscript.
type ItemType string

const (
	ItemManuscript    ItemType = "manoscritto"
	ItemPrintedBook   ItemType = "libro a stampa"
	ItemIncunabulum   ItemType = "incunabolo"
	ItemPeriodical    ItemType = "periodico"
	ItemMusicScore    ItemType = "musica/spartito"
	ItemMapAtlas      ItemType = "mappa/atlante"
	ItemMiscellanea   ItemType = "miscellanea"
	ItemUnclassified  ItemType = "non classificato"
)

// ItemTypeSource records whether an item type came from inference or a
// human operator; manual classifications must never be auto-overwritten.
type ItemTypeSource string

const (
	ItemTypeAuto   ItemTypeSource = "auto"
	ItemTypeManual ItemTypeSource = "manual"
)

// Manuscript is the catalog's durable row for one mirrored document.
type Manuscript struct {
	ID                 string
	DisplayTitle       string
	Title              string
	CatalogTitle       string
	Library            string
	ManifestURL        string
	LocalPath          string
	Status             string
	TotalCanvases      int
	DownloadedCanvases int
	AssetState         AssetState
	HasNativePDF       bool
	PDFLocalAvailable  bool
	ItemType           ItemType
	ItemTypeSource     ItemTypeSource
	ItemTypeConfidence float64
	ItemTypeReason     string
	MissingPagesJSON   string
	Shelfmark          string
	DateLabel          string
	LanguageLabel      string
	SourceDetailURL    string
	ReferenceText      string
	UserNotes          string
	MetadataJSON       string
	LastSyncAt         *time.Time
	ErrorLog           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DownloadJobStatus is the closed set of statuses a download job row may hold.
type DownloadJobStatus string

const (
	JobQueued     DownloadJobStatus = "queued"
	JobRunning    DownloadJobStatus = "running"
	JobCancelling DownloadJobStatus = "cancelling"
	JobCancelled  DownloadJobStatus = "cancelled"
	JobPaused     DownloadJobStatus = "paused"
	JobCompleted  DownloadJobStatus = "completed"
	JobError      DownloadJobStatus = "error"
)

// DownloadJob is the catalog's durable row for one job manager task.
type DownloadJob struct {
	JobID         string
	DocID         string
	Library       string
	ManifestURL   string
	Status        DownloadJobStatus
	Current       int
	Total         int
	QueuePosition int
	Priority      int
	ErrorMessage  string
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Denormalized fields populated by catalog.ListDownloadJobs joins.
	DisplayTitle string
	CatalogTitle string
	Shelfmark    string
}

// Snippet is an image crop associated with a manuscript page.
type Snippet struct {
	ID             int64
	DocID          string
	PageNum        int
	ImagePath      string
	Category       string
	Transcription  string
	Notes          string
	CoordsJSON     string
	Timestamp      time.Time
}

// Canvas is the transient, in-memory representation of one manifest page.
type Canvas struct {
	Index         int
	ServiceBase   string
	ThumbnailURL  string
	Label         string
}

// PageStats is the per-page companion record written to image_stats.json.
type PageStats struct {
	PageIndex          int    `json:"page_index"`
	Filename           string `json:"filename"`
	OriginalURL        string `json:"original_url"`
	ThumbnailURL       string `json:"thumbnail_url,omitempty"`
	SizeBytes          int64  `json:"size_bytes"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	ResolutionCategory string `json:"resolution_category"`
}

// ImageStats is the whole data/image_stats.json document.
type ImageStats struct {
	DocID string      `json:"doc_id"`
	Pages []PageStats `json:"pages"`
}

// SearchResult is one hit surfaced by any of the three external-search
// surfaces (BnF SRU, Institut de France scrape, Vatican probing) or by a
// manifest-derived catalog parse.
type SearchResult struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Author      string            `json:"author,omitempty"`
	Manifest    string            `json:"manifest"`
	Thumbnail   string            `json:"thumbnail,omitempty"`
	Library     string            `json:"library"`
	Date        string            `json:"date,omitempty"`
	Description string            `json:"description,omitempty"`
	Publisher   string            `json:"publisher,omitempty"`
	Language    string            `json:"language,omitempty"`
	Ark         string            `json:"ark,omitempty"`
	Raw         map[string]any    `json:"-"`
}

// CatalogEnrichment is the output of the manifest-enrichment pipeline
// (internal/enrichment), ready to be folded into a Manuscript row.
type CatalogEnrichment struct {
	ManifestID         string
	Label              string
	Description         string
	Attribution        string
	Shelfmark          string
	DateLabel          string
	LanguageLabel      string
	SeeAlsoURLs        []string
	SourceDetailURL    string
	ReferenceText      string
	CatalogTitle       string
	ItemType           ItemType
	ItemTypeConfidence float64
	ItemTypeReason     string
	ExternalFields     map[string]string
	MetadataMap        map[string]string
	MetadataJSON       string
	HasNativePDF       bool
	NativePDFURL       string
}
