package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/kv"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/extractor"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/photoprism"
	"github.com/kozaktomas/face-finder/internal/source"
)

// services holds what the commands work with, built from the configuration.
type services struct {
	cfg       *config.Config
	log       logrus.FieldLogger
	cache     *fingerprint.Cache
	extractor fingerprint.Extractor
	loaded    fingerprint.LoadResult

	closers []func() error
}

// openServices validates the configuration, connects the source, extractor and
// store, and loads the persisted fingerprint cache. concurrency overrides
// CACHE_CONCURRENCY when positive.
func openServices(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, concurrency int) (*services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &services{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	src, err := s.openSource(ctx)
	if err != nil {
		return nil, err
	}
	if s.extractor, err = s.openExtractor(); err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if concurrency <= 0 {
		concurrency = cfg.Cache.Concurrency
	}
	s.cache, err = fingerprint.New(fingerprint.Options{
		Source:      src,
		Extractor:   s.extractor,
		Store:       store,
		VersionTag:  cfg.Embedding.Model,
		Dim:         cfg.Embedding.Dim,
		Concurrency: concurrency,
		BuildIndex:  cfg.Cache.HNSW,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	if s.loaded, err = s.cache.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading fingerprint cache: %w", err)
	}
	ok = true
	return s, nil
}

func (s *services) openSource(ctx context.Context) (fingerprint.Source, error) {
	cfg := s.cfg
	switch cfg.Source.Kind {
	case config.SourceDrive:
		d, err := source.NewDrive(ctx, cfg.Drive.FolderID, cfg.Source.PageSize,
			source.DriveCredentials(cfg.Drive.CredentialsFile, cfg.Drive.CredentialsJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Google Drive: %w", err)
		}
		return d, nil
	case config.SourcePhotoPrism:
		pp, err := photoprism.NewPhotoPrism(ctx, cfg.PhotoPrism.URL, cfg.PhotoPrism.Username, cfg.PhotoPrism.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PhotoPrism: %w", err)
		}
		s.closers = append(s.closers, func() error { return pp.Logout(context.Background()) })
		return source.NewPhotoPrism(pp, cfg.PhotoPrism.Query, cfg.Source.PageSize), nil
	default:
		return source.NewLocal(cfg.Source.Dir, cfg.Source.Extensions, s.log), nil
	}
}

func (s *services) openExtractor() (fingerprint.Extractor, error) {
	cfg := s.cfg.Embedding
	if cfg.Kind == config.ExtractorDlib {
		e, err := extractor.NewDlibExtractor(cfg.DlibModels, cfg.MaxImageSize)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, e.Close)
		return e, nil
	}
	return extractor.NewHTTPExtractor(cfg.URL,
		extractor.WithMaxImageSize(cfg.MaxImageSize),
		extractor.WithLogger(s.log.WithField("component", "extractor")),
	), nil
}

func (s *services) openStore(ctx context.Context) (fingerprint.Store, error) {
	cfg := s.cfg
	switch cfg.Cache.Backend {
	case config.BackendBadger:
		st, err := kv.Open(cfg.Cache.Path, s.log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, &cfg.Database, s.log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		return postgres.NewStore(pool), nil
	default:
		return database.NewFileStore(cfg.Cache.Path), nil
	}
}

// Close releases the store, extractor and source session in reverse order.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.WithError(err).Warn("failed to close resource")
		}
	}
	s.closers = nil
}

// warnLoad tells the user when the persisted cache was discarded.
func (s *services) warnLoad() {
	if s.loaded.NeedsRebuild() {
		fmt.Printf("Warning: persisted cache discarded (%s); the next sync rebuilds it\n", s.loaded.Reason)
	}
}

// buildIfNeeded fills the cache in place when no usable snapshot was loaded,
// so a one-off match does not need a separate sync first.
func (s *services) buildIfNeeded(ctx context.Context, quiet bool) error {
	if s.loaded.Status == fingerprint.LoadLoaded && s.loaded.Records > 0 {
		return nil
	}
	if !quiet {
		s.warnLoad()
		fmt.Println("Building the fingerprint cache, this may take a while...")
	}

	var (
		report *fingerprint.SyncReport
		err    error
	)
	if s.loaded.NeedsRebuild() {
		report, err = s.cache.ForceRebuild(ctx, nil)
	} else {
		report, err = s.cache.Sync(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("building fingerprint cache: %w", err)
	}
	if report.PersistErr != nil {
		s.log.WithError(report.PersistErr).Warn("fingerprint cache built but not saved")
	}
	if !quiet {
		stats := s.cache.Stats()
		fmt.Printf("Cached %d faces in %d photos\n", stats.Faces, stats.Records)
	}
	return nil
}
