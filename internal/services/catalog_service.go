package services

import (
	"context"
	"path/filepath"
	"strings"

	"bloomrisk/internal/models"
	"bloomrisk/internal/storage"
	"bloomrisk/pkg/logging"
)

// CatalogService reads feature matrix sidecars from the output directory
type CatalogService struct {
	dir    string
	logger *logging.StructuredLogger
}

// NewCatalogService creates a catalog over dir
func NewCatalogService(dir string, logger *logging.StructuredLogger) *CatalogService {
	return &CatalogService{dir: dir, logger: logger}
}

// List returns every persisted matrix, optionally narrowed to a snapshot
func (s *CatalogService) List(ctx context.Context, snapshotID string) ([]*storage.Metadata, error) {
	metas, err := storage.ListMetadata(s.dir)
	if err != nil {
		return nil, err
	}
	if snapshotID == "" {
		return metas, nil
	}

	out := make([]*storage.Metadata, 0, len(metas))
	for _, m := range metas {
		if m.SnapshotID != nil && *m.SnapshotID == snapshotID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Get finds a matrix by feature configuration fingerprint. A unique prefix of
// at least 8 characters is accepted.
func (s *CatalogService) Get(ctx context.Context, fingerprint string) (*storage.Metadata, error) {
	metas, err := storage.ListMetadata(s.dir)
	if err != nil {
		return nil, err
	}

	var found []*storage.Metadata
	for _, m := range metas {
		switch {
		case m.FeatureConfigFingerprint == fingerprint:
			return m, nil
		case len(fingerprint) >= 8 && strings.HasPrefix(m.FeatureConfigFingerprint, fingerprint):
			found = append(found, m)
		}
	}
	if len(found) == 1 {
		return found[0], nil
	}
	if len(found) > 1 {
		s.logger.Warn(ctx, "[CATALOG_AMBIGUOUS] Fingerprint prefix matches several matrices", logging.Fields{
			"prefix":  fingerprint,
			"matches": len(found),
		})
	}
	return nil, &models.NotFoundError{Resource: "feature_matrix", ID: fingerprint}
}

// DataPath returns the on-disk location of a matrix's data file
func (s *CatalogService) DataPath(meta *storage.Metadata) string {
	return filepath.Join(s.dir, filepath.Base(meta.DataFile))
}
