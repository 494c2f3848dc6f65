package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Source kinds.
const (
	SourceLocal      = "local"
	SourceDrive      = "drive"
	SourcePhotoPrism = "photoprism"
)

// Extractor kinds.
const (
	ExtractorHTTP = "http"
	ExtractorDlib = "dlib"
)

// Cache backends.
const (
	BackendFile     = "file"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

type Config struct {
	Source     SourceConfig
	Drive      DriveConfig
	PhotoPrism PhotoPrismConfig
	Embedding  EmbeddingConfig
	Cache      CacheConfig
	Database   DatabaseConfig
	Match      MatchConfig
	Log        LogConfig
	Web        WebConfig
	Defaults   Defaults
}

type SourceConfig struct {
	Kind       string
	Dir        string   // root folder for the local source
	Extensions []string // lower-case image extensions the local source lists
	PageSize   int
}

type DriveConfig struct {
	FolderID        string
	CredentialsFile string // service account JSON file
	CredentialsJSON string // inline service account JSON, wins over CredentialsFile
}

type PhotoPrismConfig struct {
	URL      string
	Username string
	Password string
	Query    string // search filter for the photos to index (e.g., "album:friends")
}

type EmbeddingConfig struct {
	Kind         string
	URL          string // embedding server, defaults to http://localhost:8000
	Dim          int
	Model        string // version tag stored with the cache
	DlibModels   string // directory with the dlib model files
	MaxImageSize int    // longest side images are downscaled to before upload
}

type CacheConfig struct {
	Backend     string
	Path        string // file path (file backend) or directory (badger backend)
	Concurrency int
	HNSW        bool
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type MatchConfig struct {
	Range     fingerprint.ToleranceRange
	Tolerance float64
	Step      float64
	Limit     int
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS origins besides localhost
}

// Defaults mirrors defaults.yaml.
type Defaults struct {
	Match struct {
		Tolerance struct {
			Min     float64 `yaml:"min"`
			Max     float64 `yaml:"max"`
			Default float64 `yaml:"default"`
			Step    float64 `yaml:"step"`
		} `yaml:"tolerance"`
		Limit int `yaml:"limit"`
	} `yaml:"match"`
	Embedding struct {
		Dim          int    `yaml:"dim"`
		Model        string `yaml:"model"`
		MaxImageSize int    `yaml:"max_image_size"`
	} `yaml:"embedding"`
	Cache struct {
		Path        string `yaml:"path"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"cache"`
	Source struct {
		PageSize   int      `yaml:"page_size"`
		Extensions []string `yaml:"extensions"`
	} `yaml:"source"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated list, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loadDefaults() Defaults {
	var d Defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	return &Config{
		Source: SourceConfig{
			Kind:       strings.ToLower(envString("SOURCE_KIND", SourceLocal)),
			Dir:        os.Getenv("SOURCE_DIR"),
			Extensions: d.Source.Extensions,
			PageSize:   d.Source.PageSize,
		},
		Drive: DriveConfig{
			FolderID:        os.Getenv("DRIVE_FOLDER_ID"),
			CredentialsFile: os.Getenv("DRIVE_CREDENTIALS_FILE"),
			CredentialsJSON: os.Getenv("DRIVE_CREDENTIALS_JSON"),
		},
		PhotoPrism: PhotoPrismConfig{
			URL:      os.Getenv("PHOTOPRISM_URL"),
			Username: os.Getenv("PHOTOPRISM_USERNAME"),
			Password: os.Getenv("PHOTOPRISM_PASSWORD"),
			Query:    os.Getenv("PHOTOPRISM_QUERY"),
		},
		Embedding: EmbeddingConfig{
			Kind:         strings.ToLower(envString("EXTRACTOR_KIND", ExtractorHTTP)),
			URL:          envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:          envInt("EMBEDDING_DIM", d.Embedding.Dim),
			Model:        envString("EMBEDDING_MODEL", d.Embedding.Model),
			DlibModels:   os.Getenv("DLIB_MODELS_DIR"),
			MaxImageSize: d.Embedding.MaxImageSize,
		},
		Cache: CacheConfig{
			Backend:     strings.ToLower(envString("CACHE_BACKEND", BackendFile)),
			Path:        envString("CACHE_PATH", d.Cache.Path),
			Concurrency: envInt("CACHE_CONCURRENCY", d.Cache.Concurrency),
			HNSW:        envBool("CACHE_HNSW"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Match: MatchConfig{
			Range: fingerprint.ToleranceRange{
				Min: envFloat("MATCH_TOLERANCE_MIN", d.Match.Tolerance.Min),
				Max: envFloat("MATCH_TOLERANCE_MAX", d.Match.Tolerance.Max),
			},
			Tolerance: envFloat("MATCH_TOLERANCE", d.Match.Tolerance.Default),
			Step:      d.Match.Tolerance.Step,
			Limit:     d.Match.Limit,
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: strings.ToLower(envString("LOG_FORMAT", "text")),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Defaults: d,
	}
}

// DefaultTolerance returns the validated default tolerance.
func (c *Config) DefaultTolerance() (fingerprint.Tolerance, error) {
	return c.Match.Range.Parse(c.Match.Tolerance)
}

// Validate checks that the selected kinds are known and have their required settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Kind {
	case SourceLocal:
		if c.Source.Dir == "" {
			errs = append(errs, errors.New("SOURCE_DIR not set"))
		}
	case SourceDrive:
		if c.Drive.FolderID == "" {
			errs = append(errs, errors.New("DRIVE_FOLDER_ID not set"))
		}
		if c.Drive.CredentialsFile == "" && c.Drive.CredentialsJSON == "" {
			errs = append(errs, errors.New("DRIVE_CREDENTIALS_FILE or DRIVE_CREDENTIALS_JSON not set"))
		}
	case SourcePhotoPrism:
		if c.PhotoPrism.URL == "" || c.PhotoPrism.Username == "" || c.PhotoPrism.Password == "" {
			errs = append(errs, errors.New("PHOTOPRISM_URL, PHOTOPRISM_USERNAME and PHOTOPRISM_PASSWORD are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SOURCE_KIND %q", c.Source.Kind))
	}

	switch c.Embedding.Kind {
	case ExtractorHTTP:
		if c.Embedding.URL == "" {
			errs = append(errs, errors.New("EMBEDDING_URL not set"))
		}
	case ExtractorDlib:
		if c.Embedding.DlibModels == "" {
			errs = append(errs, errors.New("DLIB_MODELS_DIR not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EXTRACTOR_KIND %q", c.Embedding.Kind))
	}

	switch c.Cache.Backend {
	case BackendFile, BackendBadger:
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("CACHE_PATH not set"))
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend))
	}

	if err := c.Match.Range.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DefaultTolerance(); err != nil {
		errs = append(errs, fmt.Errorf("MATCH_TOLERANCE: %w", err))
	}

	return errors.Join(errs...)
}
