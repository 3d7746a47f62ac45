package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/handiism/mediadl/internal/bandcamp"
	"github.com/handiism/mediadl/internal/config"
	"github.com/handiism/mediadl/internal/export"
	"github.com/handiism/mediadl/internal/http"
	"github.com/handiism/mediadl/internal/ledger"
	"github.com/handiism/mediadl/internal/media"
	"github.com/handiism/mediadl/internal/metrics"
	"github.com/handiism/mediadl/internal/resolver"
	"github.com/handiism/mediadl/internal/transport"
)

// Setup builds a Manager with the production collaborators described by
// settings: the HTTP transport, yt-dlp and Bandcamp resolvers, the ledger
// in the downloads root, ffmpeg and the library exporter. m may be nil.
// Close must be called once the Manager's Run returned.
func Setup(settings *config.Settings, logger *slog.Logger, m *metrics.Metrics, onProgress func(ProgressEvent)) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := http.NewClient(settings.ToHTTPOptions())
	tr, err := transport.NewHTTP(client, settings.ToTransportOptions(), logger)
	if err != nil {
		return nil, err
	}

	store, err := ledger.NewStore(settings.LedgerBackendValue(), settings.DownloadsPath)
	if err != nil {
		tr.Close(context.Background())
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	mux := resolver.NewMux(
		resolver.NewYtDlp(settings.ToResolverOptions(), logger),
		resolver.Route{
			Name:     "bandcamp",
			Match:    bandcamp.Match,
			Resolver: bandcamp.NewResolver(client, settings.BandcampDiscography, logger),
		},
	)

	mgr, err := NewManager(settings, Deps{
		Transport: tr,
		Resolver:  mux,
		Ledger:    ledger.Open(store, logger),
		Media:     media.NewFFmpeg(settings.ToMediaOptions(), logger),
		Exporter:  export.New(settings.ToExportOptions(), logger),
		Fetcher:   client,
		Metrics:   m,
		Logger:    logger,
	}, onProgress)
	if err != nil {
		tr.Close(context.Background())
		store.Close()
		return nil, err
	}
	return mgr, nil
}

// Close stops the transport, waiting for background fetches until ctx
// ends, and closes the ledger.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	if m.transport != nil {
		errs = append(errs, m.transport.Close(ctx))
	}
	errs = append(errs, m.ledger.Close())
	return errors.Join(errs...)
}
