// Package ingest is the Ingestion Orchestrator (spec §4.E), grounded on
// original_source's grib_store.rs (import_grib_range task plan + bounded
// concurrency via buffer_unordered) and ncar_source.rs (HTTP streaming,
// URL schema, 10-minute timeout). Retry uses cenkalti/backoff/v4, tuned to
// the exact constants in original_source's retry.rs (max 4 attempts, 2s
// base, x2 factor, +-25% jitter) — the pack's gravitational-teleport repo
// depends on this same backoff package.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sailrace/internal/apperr"
	"sailrace/internal/config"
	"sailrace/internal/grib"
	"sailrace/internal/objectstore"
	"sailrace/internal/uvpng"
	"sailrace/internal/windindex"
)

// Report summarizes one Import call.
type Report struct {
	Planned   int
	Skipped   int // already present
	Imported  int
	NotFound  int // upstream 404: no data at this slot
	Failed    int
}

// Orchestrator ties together the archive HTTP client, the GRIB parser, the
// transcoder, object storage, and the wind index.
type Orchestrator struct {
	httpClient   *http.Client
	gribStore    objectstore.Store
	rasterStore  objectstore.Store
	index        *windindex.Index
	archiveBase  string
	source       string
	log          zerolog.Logger
}

// New builds an Orchestrator. archiveBase is the upstream archive root
// used by objectstore.ArchiveURL.
func New(gribStore, rasterStore objectstore.Store, index *windindex.Index, archiveBase, source string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		httpClient:  &http.Client{Timeout: config.ArchiveReadTimeout},
		gribStore:   gribStore,
		rasterStore: rasterStore,
		index:       index,
		archiveBase: archiveBase,
		source:      source,
		log:         log,
	}
}

// Import runs the full pipeline for every unit in [from, to] at most
// `concurrency` at a time, per spec §4.E.
func (o *Orchestrator) Import(ctx context.Context, from, to time.Time, concurrency int) (Report, error) {
	if concurrency <= 0 {
		concurrency = config.DefaultIngestConcurrency
	}

	units := PlanUnits(from, to, config.NCARHours)
	report := Report{Planned: len(units)}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, u := range units {
		exists, err := o.index.Exists(ctx, u.Time)
		if err != nil {
			return report, err
		}
		if exists {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}

		u := u
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := o.importUnitWithRetry(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				o.log.Error().Err(err).Time("unit", u.Time).Msg("ingest: unit failed")
			case outcome == outcomeNotFound:
				report.NotFound++
			default:
				report.Imported++
			}
		}()
	}
	wg.Wait()
	return report, nil
}

type unitOutcome int

const (
	outcomeImported unitOutcome = iota
	outcomeNotFound
)

// importUnitWithRetry wraps importUnit in the spec §4.E retry policy: up
// to 4 attempts, base*2^k delay (base=2s), +-25% jitter. NotFound is not
// retried — it is a successful no-op, not a failure.
func (o *Orchestrator) importUnitWithRetry(ctx context.Context, u Unit) (unitOutcome, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = config.IngestBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = config.IngestJitterFactor
	bo.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall time

	policy := backoff.WithMaxRetries(bo, config.IngestMaxAttempts-1)
	policy = backoff.WithContext(policy, ctx)

	var outcome unitOutcome
	var attempt int32
	err := backoff.Retry(func() error {
		atomic.AddInt32(&attempt, 1)
		out, err := o.importUnit(ctx, u)
		if err != nil {
			if apperr.IsTransient(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		outcome = out
		return nil
	}, policy)

	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return outcome, perm.Err
		}
		return outcome, err
	}
	return outcome, nil
}

// importUnit performs the strictly-ordered per-unit pipeline: download
// (or reuse cached grib) -> transcode -> store raster -> upsert index.
func (o *Orchestrator) importUnit(ctx context.Context, u Unit) (unitOutcome, error) {
	gribKey := objectstore.GribKey(u.Time)
	rasterKey := objectstore.RasterKey(u.Time)

	gribBytes, err := o.gribStore.Get(ctx, gribKey)
	switch {
	case err == nil:
		// already cached, reuse it
	case apperr.IsNotFound(err):
		downloaded, notFound, derr := o.downloadWind(ctx, u, gribKey)
		if derr != nil {
			return outcomeImported, derr
		}
		if notFound {
			return outcomeNotFound, nil
		}
		gribBytes = downloaded
	default:
		return outcomeImported, err
	}

	messages := grib.NewStreamParser().Feed(gribBytes)
	png, err := uvpng.Encode(messages)
	if err != nil {
		return outcomeImported, apperr.Fatal("ingest: transcode", err)
	}

	if err := o.rasterStore.Put(ctx, rasterKey, png); err != nil {
		return outcomeImported, err
	}

	if _, err := o.index.Upsert(ctx, windindex.Report{
		Time:     u.Time,
		GribPath: gribKey,
		PNGPath:  rasterKey,
		Source:   o.source,
	}); err != nil {
		return outcomeImported, apperr.Transient("ingest: index upsert", err)
	}
	return outcomeImported, nil
}

// downloadWind streams the archive HTTP response through the GRIB parser,
// multipart-uploading only the wind-component messages, and finalizes (or
// aborts) the upload exactly as original_source's handle_ncar_grib does.
func (o *Orchestrator) downloadWind(ctx context.Context, u Unit, gribKey string) (data []byte, notFound bool, err error) {
	url := objectstore.ArchiveURL(o.archiveBase, u.Time)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, apperr.Fatal("ingest: build request", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, false, apperr.Transient("ingest: download", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		o.log.Info().Time("unit", u.Time).Msg("ingest: no data at this slot")
		return nil, true, nil
	case resp.StatusCode >= 500:
		return nil, false, apperr.Transient("ingest: server error", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, false, apperr.Fatal("ingest: unexpected status", fmt.Errorf("status %d", resp.StatusCode))
	}

	mp, err := o.gribStore.NewMultipart(ctx, gribKey)
	if err != nil {
		return nil, false, err
	}

	parser := grib.NewStreamParser()
	var filtered bytes.Buffer
	var uploadedBytes int64

	buf := make([]byte, 256*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			for _, msg := range parser.Feed(buf[:n]) {
				if grib.IsWind(msg) {
					filtered.Write(msg)
					if werr := mp.Write(ctx, msg); werr != nil {
						_ = mp.Abort(ctx)
						return nil, false, werr
					}
					uploadedBytes += int64(len(msg))
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = mp.Abort(ctx)
			return nil, false, apperr.Transient("ingest: mid-stream read", rerr)
		}
	}

	if uploadedBytes == 0 {
		if err := mp.Abort(ctx); err != nil {
			o.log.Warn().Err(err).Msg("ingest: abort empty upload")
		}
		return nil, true, nil
	}

	if err := mp.Complete(ctx); err != nil {
		return nil, false, err
	}
	return filtered.Bytes(), false, nil
}
