package source

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/observability"
)

const boundariesSource = "boundaries"

// BoundariesLoader fetches the StatBel statistical-sector boundary archive:
// a zip containing a GeoJSON feature collection, or a bare GeoJSON file.
// Parsing the features is the geometry package's job; this loader only
// produces the raw GeoJSON bytes.
type BoundariesLoader struct {
	fetcher *Fetcher
	url     string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewBoundariesLoader creates a loader for the boundary archive at url.
func NewBoundariesLoader(fetcher *Fetcher, url string, logger *slog.Logger, metrics *observability.Metrics) *BoundariesLoader {
	return &BoundariesLoader{fetcher: fetcher, url: url, logger: logger, metrics: metrics}
}

// Load returns the GeoJSON bytes and whether they came from a stale cache.
func (l *BoundariesLoader) Load(ctx context.Context) ([]byte, bool, error) {
	res, err := l.fetcher.Fetch(ctx, boundariesSource, l.url)
	if err != nil {
		return nil, false, err
	}

	data, err := extractGeoJSON(res.Data)
	if err != nil {
		return nil, false, &domain.SchemaMismatchError{Source: boundariesSource, Reason: err.Error()}
	}

	l.metrics.RowsLoaded.WithLabelValues(boundariesSource).Inc()
	l.logger.Info("boundary archive loaded", "bytes", len(data), "stale", res.Stale)
	return data, res.Stale, nil
}

// extractGeoJSON unwraps a zip archive down to its first GeoJSON member, or
// passes non-zip input through untouched.
func extractGeoJSON(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte("PK")) {
		return data, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open boundary archive: %w", err)
	}
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if !strings.HasSuffix(name, ".geojson") && !strings.HasSuffix(name, ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive member %s: %w", f.Name, err)
		}
		defer rc.Close()
		out, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read archive member %s: %w", f.Name, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("boundary archive has no GeoJSON member")
}
