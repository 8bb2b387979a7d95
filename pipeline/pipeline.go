package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/bjaus/tabexport"
)

// Sentinel errors for programmatic error handling.
var (
	ErrUnauthorized         = errors.New("not allowed to export submissions")
	ErrIntegrityCheckFailed = errors.New("security check failed")
	ErrInvalidRequest       = errors.New("invalid form parameters")
	ErrFormNotFound         = errors.New("form not found")
	ErrUnsupportedFormType  = errors.New("unsupported form type")
	ErrInvalidDownload      = errors.New("invalid or expired download")
	ErrAsyncUnavailable     = errors.New("async export is not configured")
)

// DefaultDownloadTTL is how long an async export stays downloadable.
const DefaultDownloadTTL = 15 * time.Minute

// Record is one completed export, as kept in the export history.
type Record struct {
	FormID   int
	FormType FormType
	Format   string
	Mode     string
	Rows     int
	Bytes    int64
	Time     time.Time
}

// Recorder stores export records.
type Recorder interface {
	Record(ctx context.Context, r Record) error
}

// Config wires a Pipeline. Registry, Host and Authorizer are required.
type Config struct {
	Registry   *tabexport.Registry
	Settings   tabexport.Settings
	Host       Host
	Authorizer Authorizer

	// Store and Signer enable async delivery.
	Store       *TempStore
	Signer      *Signer
	DownloadTTL time.Duration

	History Recorder
	Meter   metric.Meter
	Memory  *tabexport.MemoryGuard
	Logger  *logrus.Entry
}

// Pipeline runs export requests: authorize, validate, resolve the format,
// prepare data, resolve options and deliver.
type Pipeline struct {
	registry    *tabexport.Registry
	settings    tabexport.Settings
	host        Host
	auth        Authorizer
	store       *TempStore
	signer      *Signer
	downloadTTL time.Duration
	history     Recorder
	metrics     *Metrics
	memory      *tabexport.MemoryGuard
	log         *logrus.Entry
	now         func() time.Time
}

// New returns a Pipeline for c.
func New(c Config) (*Pipeline, error) {
	if c.Registry == nil || c.Host == nil || c.Authorizer == nil {
		return nil, errors.New("pipeline: registry, host and authorizer are required")
	}
	m, err := NewMetrics(c.Meter)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	log := c.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ttl := c.DownloadTTL
	if ttl <= 0 {
		ttl = DefaultDownloadTTL
	}
	return &Pipeline{
		registry:    c.Registry,
		settings:    c.Settings.WithDefaults(),
		host:        c.Host,
		auth:        c.Authorizer,
		store:       c.Store,
		signer:      c.Signer,
		downloadTTL: ttl,
		history:     c.History,
		metrics:     m,
		memory:      c.Memory,
		log:         log,
		now:         time.Now,
	}, nil
}

// Registry returns the encoders the pipeline dispatches to.
func (p *Pipeline) Registry() *tabexport.Registry { return p.registry }

// job is a request that passed every check before delivery.
type job struct {
	req      *ExportRequest
	enc      tabexport.Encoder
	ds       *tabexport.Dataset
	opts     tabexport.Options
	filename string
	log      *logrus.Entry
}

func (p *Pipeline) prepare(ctx context.Context, req *ExportRequest) (*job, error) {
	if !p.auth.CanExport(ctx) {
		return nil, ErrUnauthorized
	}
	if !p.auth.VerifyNonce(ctx, req.Nonce) {
		return nil, ErrIntegrityCheckFailed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	enc, err := p.resolveFormat(req.Format)
	if err != nil {
		return nil, err
	}
	ds, err := p.Dataset(ctx, req)
	if err != nil {
		return nil, err
	}
	d := enc.Descriptor()
	return &job{
		req:      req,
		enc:      enc,
		ds:       ds,
		opts:     tabexport.ResolveOptions(enc, req.Options),
		filename: Filename(p.settings.FilenamePrefix, ds.Meta.FormName, d.Extension, p.now()),
		log: p.log.WithFields(logrus.Fields{
			"form_id": req.FormID,
			"format":  d.ID,
			"rows":    len(ds.Rows),
		}),
	}, nil
}

func (p *Pipeline) resolveFormat(id string) (tabexport.Encoder, error) {
	if id == "" {
		id = p.settings.DefaultFormat
	}
	if id == "" {
		if ids := p.registry.IDs(); len(ids) > 0 {
			id = ids[0]
		}
	}
	return p.registry.Lookup(id)
}

// Dataset fetches the request's entries from the host and maps them to rows.
func (p *Pipeline) Dataset(ctx context.Context, req *ExportRequest) (*tabexport.Dataset, error) {
	form, err := p.host.Form(ctx, req.FormID)
	if err != nil {
		return nil, err
	}
	mapper, err := p.host.Mapper(form, req.FormType)
	if err != nil {
		return nil, err
	}
	var filters *Filters
	if req.ApplyFilters {
		filters = &req.Filters
	}
	entries, err := p.host.Entries(ctx, form, filters)
	if err != nil {
		return nil, fmt.Errorf("fetch entries: %w", err)
	}
	ds := &tabexport.Dataset{
		Headers: mapper.Headers(),
		Meta: tabexport.Meta{
			FormID:       form.ID,
			FormName:     form.Name,
			FormType:     string(req.FormType),
			ExportDate:   p.now().Format(time.DateTime),
			EntriesCount: len(entries),
		},
	}
	for _, e := range entries {
		ds.Rows = append(ds.Rows, mapper.Rows(e)...)
	}
	return ds, nil
}

// Export runs req and writes the file to w. Buffered formats are encoded
// completely before any header is written. Streaming formats write headers
// first, so a failure after that point is logged and returned but cannot
// change the response.
func (p *Pipeline) Export(ctx context.Context, w http.ResponseWriter, req *ExportRequest) error {
	start := p.now()
	j, err := p.prepare(ctx, req)
	if err != nil {
		p.metrics.Record(ctx, req.Format, "", OutcomeError, 0, 0, p.now().Sub(start))
		return err
	}
	d := j.enc.Descriptor()

	if !d.Streaming {
		data, err := j.enc.Export(j.ds, j.opts)
		if err != nil {
			p.metrics.Record(ctx, d.ID, ModeBuffered, OutcomeError, 0, 0, p.now().Sub(start))
			return err
		}
		SetDownloadHeaders(w.Header(), d.MIMEType, j.filename)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		n, err := w.Write(data)
		p.finish(ctx, j, ModeBuffered, int64(n), start, err)
		return err
	}

	SetDownloadHeaders(w.Header(), d.MIMEType, j.filename)
	w.WriteHeader(http.StatusOK)
	sink := tabexport.NewSink(w, p.memory)
	err = j.enc.Stream(sink, j.ds, j.opts)
	if err == nil {
		err = sink.Flush()
	}
	p.finish(ctx, j, ModeStreamed, sink.Written(), start, err)
	return err
}

func (p *Pipeline) finish(ctx context.Context, j *job, mode string, n int64, start time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
		j.log.WithError(err).WithField("mode", mode).Error("Export failed after delivery started")
	}
	p.metrics.Record(ctx, j.enc.Descriptor().ID, mode, outcome, len(j.ds.Rows), n, p.now().Sub(start))
	if err != nil {
		return
	}
	j.log.WithFields(logrus.Fields{"mode": mode, "bytes": n}).Info("Export delivered")
	p.record(ctx, j, mode, n)
}

func (p *Pipeline) record(ctx context.Context, j *job, mode string, n int64) {
	if p.history == nil {
		return
	}
	err := p.history.Record(ctx, Record{
		FormID:   j.req.FormID,
		FormType: j.req.FormType,
		Format:   j.enc.Descriptor().ID,
		Mode:     mode,
		Rows:     len(j.ds.Rows),
		Bytes:    n,
		Time:     p.now().UTC(),
	})
	if err != nil {
		j.log.WithError(err).Warn("Failed to record export history")
	}
}

// ExportAsync encodes req, stores the file and returns a signed token that
// Download exchanges for it.
func (p *Pipeline) ExportAsync(ctx context.Context, req *ExportRequest) (string, error) {
	if p.store == nil || p.signer == nil {
		return "", ErrAsyncUnavailable
	}
	start := p.now()
	j, err := p.prepare(ctx, req)
	if err != nil {
		p.metrics.Record(ctx, req.Format, ModeAsync, OutcomeError, 0, 0, p.now().Sub(start))
		return "", err
	}
	d := j.enc.Descriptor()
	data, err := tabexport.Marshal(j.enc, j.ds, j.opts)
	if err != nil {
		p.metrics.Record(ctx, d.ID, ModeAsync, OutcomeError, 0, 0, p.now().Sub(start))
		return "", err
	}
	name, err := p.store.Put(d.Extension, data)
	if err != nil {
		p.metrics.Record(ctx, d.ID, ModeAsync, OutcomeError, 0, 0, p.now().Sub(start))
		return "", err
	}
	token, err := p.signer.IssueDownload(DownloadClaims{
		File:     name,
		Filename: j.filename,
		MIMEType: d.MIMEType,
		Format:   d.ID,
		FormID:   req.FormID,
	}, p.downloadTTL)
	if err != nil {
		if _, terr := p.store.Take(name); terr != nil {
			j.log.WithError(terr).Warn("Failed to discard unsigned export")
		}
		return "", err
	}
	p.metrics.Record(ctx, d.ID, ModeAsync, OutcomeSuccess, len(j.ds.Rows), int64(len(data)), p.now().Sub(start))
	j.log.WithField("file", name).Info("Export stored for download")
	p.record(ctx, j, ModeAsync, int64(len(data)))
	return token, nil
}

// Download writes the file behind token to w and deletes it. The signed
// token is the caller's authorization.
func (p *Pipeline) Download(_ context.Context, w http.ResponseWriter, token string) error {
	if p.store == nil || p.signer == nil {
		return ErrInvalidDownload
	}
	claims, err := p.signer.ParseDownload(token)
	if err != nil {
		return err
	}
	data, err := p.store.Take(claims.File)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDownload, err)
	}
	SetDownloadHeaders(w.Header(), claims.MIMEType, claims.Filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		p.log.WithError(err).WithField("file", claims.File).Warn("Download interrupted")
		return err
	}
	return nil
}

// SetDownloadHeaders sets the attachment headers for a file download.
func SetDownloadHeaders(h http.Header, mimeType, filename string) {
	h.Set("Content-Description", "File Transfer")
	h.Set("Content-Type", mimeType)
	h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	h.Set("Content-Transfer-Encoding", "binary")
	h.Set("Expires", "0")
	h.Set("Cache-Control", "must-revalidate, no-store, no-cache")
	h.Set("Pragma", "public")
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and joins its alphanumeric runs with hyphens.
func Slug(s string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Filename returns "<prefix>-<slug>-<YYmmddHHMMSS>.<ext>" with the timestamp
// in UTC. An empty slug becomes "export" and an empty prefix is left out.
func Filename(prefix, formName, ext string, now time.Time) string {
	slug := Slug(formName)
	if slug == "" {
		slug = "export"
	}
	parts := []string{slug, now.UTC().Format("060102150405")}
	if p := Slug(prefix); p != "" {
		parts = append([]string{p}, parts...)
	}
	return strings.Join(parts, "-") + "." + ext
}
