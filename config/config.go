package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Project beschreibt ein AnnoRepo-Projekt (Instanz + Container).
type Project struct {
	Slug             string
	Name             string
	BaseURL          string
	Container        string
	TokenEnv         string
	Token            string
	CustomQueryName  string
	LinkingQueryName string
}

// HasToken meldet, ob für Schreibzugriffe ein Bearer-Token vorhanden ist.
func (p Project) HasToken() bool {
	return p.Token != ""
}

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	DefaultProject      string `envconfig:"DEFAULT_PROJECT" default:"neru"`
	NeruAnnoRepoURL     string `envconfig:"NERU_ANNOREPO_URL" default:"https://annorepo.globalise.huygens.knaw.nl"`
	NeruContainer       string `envconfig:"NERU_ANNOREPO_CONTAINER" default:"necessary-reunions"`
	SurinameAnnoRepoURL string `envconfig:"SURINAME_ANNOREPO_URL" default:"https://annorepo.surinametijdmachine.org"`
	SurinameContainer   string `envconfig:"SURINAME_ANNOREPO_CONTAINER" default:"suriname-time-machine"`

	// Konsolidierung
	RecentDuplicateWindow    time.Duration `envconfig:"RECENT_DUPLICATE_WINDOW" default:"48h"`
	ConflictOverlapThreshold float64       `envconfig:"CONFLICT_OVERLAP_THRESHOLD" default:"0.5"`
	LinkLookupTimeout        time.Duration `envconfig:"LINK_LOOKUP_TIMEOUT" default:"8s"`
	DefaultCreatorID         string        `envconfig:"DEFAULT_CREATOR_ID" default:"https://necessaryreunions.org/service"`
	DefaultCreatorLabel      string        `envconfig:"DEFAULT_CREATOR_LABEL" default:"anno-linker"`

	// Gazetteer-Pipeline
	PrimaryQueryTimeout     time.Duration `envconfig:"PRIMARY_QUERY_TIMEOUT" default:"10s"`
	TargetFetchTimeout      time.Duration `envconfig:"TARGET_FETCH_TIMEOUT" default:"5s"`
	LookaheadPageTimeout    time.Duration `envconfig:"LOOKAHEAD_PAGE_TIMEOUT" default:"3s"`
	TargetFetchConcurrency  int           `envconfig:"TARGET_FETCH_CONCURRENCY" default:"20"`
	MaxTargetsPerAnnotation int           `envconfig:"MAX_TARGETS_PER_ANNOTATION" default:"30"`
	LookaheadBatches        string        `envconfig:"LOOKAHEAD_BATCHES" default:"7,8"`
	PlaceCacheTTL           time.Duration `envconfig:"PLACE_CACHE_TTL" default:"5m"`
	FailedTargetTTL         time.Duration `envconfig:"FAILED_TARGET_TTL" default:"10m"`
	MapMetadataEnabled      bool          `envconfig:"MAP_METADATA_ENABLED" default:"true"`

	// Remote-Store-Zugriffe
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"200ms"`
	StoreRateLimit   float64       `envconfig:"STORE_RATE_LIMIT" default:"20"`
	StoreRateBurst   int           `envconfig:"STORE_RATE_BURST" default:"40"`

	// Externer Gazetteer-Datensatz
	EnrichmentDatasetURL string        `envconfig:"ENRICHMENT_DATASET_URL" default:"https://necessaryreunions.org/globalise-place-dataset.json"`
	EnrichmentIDPattern  string        `envconfig:"ENRICHMENT_ID_PATTERN" default:"id.necessaryreunions.org/place/"`
	EnrichmentCacheTTL   time.Duration `envconfig:"ENRICHMENT_CACHE_TTL" default:"1h"`

	RedisURL string `envconfig:"REDIS_URL"`

	// Audit-Trail (optional)
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"*/30 * * * *"`

	// Snapshot-Export (optional)
	S3Key         string `envconfig:"S3_KEY"`
	S3Secret      string `envconfig:"S3_SECRET"`
	S3URL         string `envconfig:"S3_URL"`
	S3Region      string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Bucket      string `envconfig:"S3_BUCKET"`
	KeepSnapshots int    `envconfig:"KEEP_SNAPSHOTS" default:"4"`

	Projects map[string]Project `ignored:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// AuditEnabled meldet, ob eine Datenbank für den Audit-Trail konfiguriert ist.
func (c *Config) AuditEnabled() bool {
	return c.DBHost != ""
}

// SnapshotsEnabled meldet, ob S3 für Snapshots konfiguriert ist.
func (c *Config) SnapshotsEnabled() bool {
	return c.S3URL != "" && c.S3Bucket != ""
}

// Project liefert das Projekt zum Slug, leerer Slug = Default-Projekt.
func (c *Config) Project(slug string) (Project, error) {
	if slug == "" {
		slug = c.DefaultProject
	}
	p, ok := c.Projects[slug]
	if !ok {
		return Project{}, fmt.Errorf("unknown project %q", slug)
	}
	return p, nil
}

// ProjectSlugs liefert alle konfigurierten Projekte in stabiler Reihenfolge.
func (c *Config) ProjectSlugs() []string {
	slugs := make([]string, 0, len(c.Projects))
	for _, s := range []string{"neru", "suriname"} {
		if _, ok := c.Projects[s]; ok {
			slugs = append(slugs, s)
		}
	}
	return slugs
}

// LookaheadBatchSizes parst LOOKAHEAD_BATCHES ("7,8").
func (c *Config) LookaheadBatchSizes() []int {
	var sizes []int
	for _, part := range strings.Split(c.LookaheadBatches, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			continue
		}
		sizes = append(sizes, n)
	}
	return sizes
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return &c, err
	}
	c.Projects = defaultProjects(&c)
	return &c, nil
}

// defaultProjects baut die Projekt-Registry; Tokens kommen aus den jeweiligen Env-Variablen.
func defaultProjects(c *Config) map[string]Project {
	projects := map[string]Project{
		"neru": {
			Slug:             "neru",
			Name:             "Necessary Reunions",
			BaseURL:          strings.TrimRight(c.NeruAnnoRepoURL, "/"),
			Container:        c.NeruContainer,
			TokenEnv:         "ANNO_REPO_TOKEN_JONA",
			CustomQueryName:  "with-target",
			LinkingQueryName: "with-target-and-motivation-or-purpose",
		},
		"suriname": {
			Slug:             "suriname",
			Name:             "Suriname Time Machine",
			BaseURL:          strings.TrimRight(c.SurinameAnnoRepoURL, "/"),
			Container:        c.SurinameContainer,
			TokenEnv:         "SURINAME_ANNOREPO_TOKEN",
			CustomQueryName:  "with-target",
			LinkingQueryName: "with-target-and-motivation-or-purpose",
		},
	}
	for slug, p := range projects {
		p.Token = os.Getenv(p.TokenEnv)
		projects[slug] = p
	}
	return projects
}
