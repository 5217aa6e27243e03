package ticker

import (
	"context"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/domain"
	"finrag/internal/embedding"
	"finrag/internal/metrics"
)

// table is an immutable roster with its name embedding matrix.
type table struct {
	records   []domain.CompanyRecord
	dimension int
	rows      []float32
	norms     []float64
}

// Matcher ranks roster companies by cosine similarity of their name
// embedding to a query embedding. It must be initialised with Init.
type Matcher struct {
	embedder    domain.Embedder
	topN        int
	minQueryLen int
	batchSize   int
	log         zerolog.Logger
	metrics     *metrics.Metrics

	current atomic.Pointer[table]
}

type Option func(*Matcher)

// WithDefaultTopN sets the n used when a caller passes n <= 0.
func WithDefaultTopN(n int) Option { return func(m *Matcher) { m.topN = n } }

// WithMinQueryLength rejects trimmed queries shorter than n runes. Zero disables the check.
func WithMinQueryLength(n int) Option { return func(m *Matcher) { m.minQueryLen = n } }

func WithBatchSize(n int) Option { return func(m *Matcher) { m.batchSize = n } }

func WithLogger(log zerolog.Logger) Option { return func(m *Matcher) { m.log = log } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Matcher) { m.metrics = mt } }

func NewMatcher(embedder domain.Embedder, opts ...Option) *Matcher {
	m := &Matcher{embedder: embedder, topN: 5, batchSize: 64, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the roster and the cached name embeddings. The cache is
// regenerated when either file is missing or unreadable, or when it was built
// from a different roster, model or dimension.
func (m *Matcher) Init(ctx context.Context, rosterPath, cacheDir string) error {
	records, hash, err := LoadRoster(rosterPath)
	if err != nil {
		return err
	}
	entry, err := readCache(cacheDir)
	if err == nil {
		err = m.checkCache(entry, records, hash)
	}
	if err != nil {
		reason := err.Error()
		if errors.Is(err, os.ErrNotExist) {
			reason = "cache missing"
		}
		m.log.Info().Str("reason", reason).Int("companies", len(records)).Msg("rebuilding ticker cache")
		return m.rebuild(ctx, records, hash, cacheDir)
	}
	return m.install(records, entry.matrix)
}

// Rebuild regenerates the cache unconditionally.
func (m *Matcher) Rebuild(ctx context.Context, rosterPath, cacheDir string) error {
	records, hash, err := LoadRoster(rosterPath)
	if err != nil {
		return err
	}
	return m.rebuild(ctx, records, hash, cacheDir)
}

func (m *Matcher) checkCache(c *cacheEntry, records []domain.CompanyRecord, hash string) error {
	switch {
	case c.roster.SourceHash != hash:
		return errors.Wrap(domain.ErrIntegrity, "roster changed since cache was built")
	case c.roster.Model != m.embedder.Name():
		return errors.Wrapf(domain.ErrIntegrity, "cache built with %s, embedder is %s", c.roster.Model, m.embedder.Name())
	case c.roster.Dimension != m.embedder.Dimension():
		return errors.Wrapf(domain.ErrIntegrity, "cache dimension %d, embedder produces %d", c.roster.Dimension, m.embedder.Dimension())
	case len(c.roster.Names) != len(records):
		return errors.Wrapf(domain.ErrIntegrity, "cache has %d companies, roster has %d", len(c.roster.Names), len(records))
	}
	for i, r := range records {
		if c.roster.Names[i] != r.Name || c.roster.Symbols[i] != r.Symbol {
			return errors.Wrapf(domain.ErrIntegrity, "cache row %d is %q, roster has %q", i, c.roster.Names[i], r.Name)
		}
	}
	return nil
}

func (m *Matcher) rebuild(ctx context.Context, records []domain.CompanyRecord, hash, cacheDir string) error {
	names := make([]string, len(records))
	symbols := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
		symbols[i] = r.Symbol
	}
	vecs, err := embedding.EmbedAll(ctx, m.embedder, names, embedding.Options{
		BatchSize:   m.batchSize,
		Concurrency: 1,
		Log:         m.log,
		Metrics:     m.metrics,
	})
	if err != nil {
		return errors.Wrap(err, "embed company names")
	}
	dim := m.embedder.Dimension()
	data := make([]float32, 0, len(vecs)*dim)
	for _, v := range vecs {
		data = append(data, v...)
	}
	entry := &cacheEntry{
		roster: rosterFormat{
			Names:      names,
			Symbols:    symbols,
			SourceHash: hash,
			Model:      m.embedder.Name(),
			Dimension:  dim,
		},
		matrix: matrixFormat{Rows: len(vecs), Dimension: dim, Data: data},
	}
	if err := writeCache(cacheDir, entry); err != nil {
		return err
	}
	// read back what was persisted so a bad write cannot go unnoticed
	stored, err := readCache(cacheDir)
	if err != nil {
		return errors.Wrap(err, "verify ticker cache")
	}
	if err := m.checkCache(stored, records, hash); err != nil {
		return errors.Wrap(err, "verify ticker cache")
	}
	return m.install(records, stored.matrix)
}

func (m *Matcher) install(records []domain.CompanyRecord, mx matrixFormat) error {
	if mx.Rows != len(records) {
		return errors.Wrapf(domain.ErrIntegrity, "matrix has %d rows for %d companies", mx.Rows, len(records))
	}
	t := &table{
		records:   records,
		dimension: mx.Dimension,
		rows:      mx.Data,
		norms:     make([]float64, mx.Rows),
	}
	for i := range t.norms {
		t.norms[i] = norm(t.row(i))
	}
	m.current.Store(t)
	m.metrics.SetIndexSize("tickers", len(records))
	m.log.Info().Int("companies", len(records)).Msg("ticker matcher ready")
	return nil
}

func (t *table) row(i int) []float32 { return t.rows[i*t.dimension : (i+1)*t.dimension] }

// Ready reports whether Init completed.
func (m *Matcher) Ready() bool { return m.current.Load() != nil }

// Size returns the number of companies, zero before Init.
func (m *Matcher) Size() int {
	if t := m.current.Load(); t != nil {
		return len(t.records)
	}
	return 0
}

// Match returns up to topN companies ordered by descending cosine score,
// ties in roster order. Scores lie in [-1, 1]; a zero-norm vector scores 0.
func (m *Matcher) Match(ctx context.Context, query string, topN int) ([]domain.TickerMatch, error) {
	t := m.current.Load()
	if t == nil {
		return nil, domain.ErrNotInitialized
	}
	if m.minQueryLen > 0 && utf8.RuneCountInString(strings.TrimSpace(query)) < m.minQueryLen {
		m.metrics.ObserveTickerMatch(metrics.OutcomeRejected)
		return nil, errors.Wrapf(domain.ErrQueryTooShort, "need at least %d characters", m.minQueryLen)
	}
	if topN <= 0 {
		topN = m.topN
	}

	q, err := m.embedder.Embed(ctx, query)
	if err != nil {
		m.metrics.ObserveTickerMatch(metrics.OutcomeError)
		return nil, errors.Wrap(err, "embed query")
	}
	if len(q) != t.dimension {
		m.metrics.ObserveTickerMatch(metrics.OutcomeError)
		return nil, errors.Wrapf(domain.ErrDimensionMismatch, "query has %d values, matrix has %d", len(q), t.dimension)
	}
	qn := norm(q)

	scores := make([]float64, len(t.records))
	for i := range scores {
		scores[i] = cosine(q, qn, t.row(i), t.norms[i])
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	n := min(topN, len(order))
	out := make([]domain.TickerMatch, 0, n)
	for _, i := range order[:n] {
		out = append(out, domain.TickerMatch{Name: t.records[i].Name, Symbol: t.records[i].Symbol, Score: scores[i]})
	}
	m.metrics.ObserveTickerMatch(metrics.OutcomeOK)
	return out, nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	c := dot / (an * bn)
	if math.IsNaN(c) {
		return 0
	}
	return max(-1, min(1, c))
}
