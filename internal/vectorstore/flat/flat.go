package flat

import (
	"context"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"

	"finrag/internal/domain"
	"finrag/internal/vectorstore"
)

const (
	fileVersion = 1
	metricL2    = "l2"
)

// Index is an exact nearest-neighbor index using squared L2 distance over raw
// vectors. It is immutable once built, so concurrent searches need no locking.
type Index struct {
	dimension int
	count     int
	data      []float32 // count rows of dimension values, row i is chunk i
}

var _ vectorstore.Index = (*Index)(nil)

// Build copies vectors into a new index. Row i gets id i.
func Build(dimension int, vectors [][]float32) (*Index, error) {
	if dimension <= 0 {
		return nil, errors.Errorf("invalid dimension %d", dimension)
	}
	data := make([]float32, 0, dimension*len(vectors))
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, errors.Wrapf(domain.ErrDimensionMismatch, "vector %d has %d values, index expects %d", i, len(v), dimension)
		}
		data = append(data, v...)
	}
	return &Index{dimension: dimension, count: len(vectors), data: data}, nil
}

func (x *Index) Count() int     { return x.count }
func (x *Index) Dimension() int { return x.dimension }

// Search returns the k nearest rows ordered by ascending distance, ties by
// ascending id. k larger than Count is truncated; k <= 0 yields no results.
func (x *Index) Search(_ context.Context, query []float32, k int) ([]vectorstore.Neighbor, error) {
	if len(query) != x.dimension {
		return nil, errors.Wrapf(domain.ErrDimensionMismatch, "query has %d values, index expects %d", len(query), x.dimension)
	}
	if k <= 0 || x.count == 0 {
		return nil, nil
	}
	k = min(k, x.count)

	hits := make([]vectorstore.Neighbor, x.count)
	for i := 0; i < x.count; i++ {
		hits[i] = vectorstore.Neighbor{ID: i, Distance: squaredL2(x.data[i*x.dimension:(i+1)*x.dimension], query)}
	}
	slices.SortFunc(hits, func(a, b vectorstore.Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return a.ID - b.ID
	})
	return hits[:k:k], nil
}

func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

type fileFormat struct {
	Version   int
	Metric    string
	Dimension int
	Count     int
	Data      []float32
}

// Save writes the index to path through a temporary file and a rename.
func (x *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create index dir")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create index file")
	}
	err = x.Encode(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return errors.Wrap(os.Rename(tmp, path), "replace index file")
}

// Encode writes the index in the format Load reads.
func (x *Index) Encode(w io.Writer) error {
	err := gob.NewEncoder(w).Encode(fileFormat{
		Version:   fileVersion,
		Metric:    metricL2,
		Dimension: x.dimension,
		Count:     x.count,
		Data:      x.data,
	})
	return errors.Wrap(err, "encode index")
}

// Load reads an index written by Save. A file whose header disagrees with
// its payload is an integrity error.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open index")
	}
	defer f.Close()

	var ff fileFormat
	if err := gob.NewDecoder(f).Decode(&ff); err != nil {
		return nil, errors.Wrapf(domain.ErrIntegrity, "decode index %s: %v", path, err)
	}
	switch {
	case ff.Version != fileVersion:
		return nil, errors.Wrapf(domain.ErrIntegrity, "index %s has version %d, want %d", path, ff.Version, fileVersion)
	case ff.Metric != metricL2:
		return nil, errors.Wrapf(domain.ErrIntegrity, "index %s uses metric %q, want %q", path, ff.Metric, metricL2)
	case ff.Dimension <= 0 || ff.Count < 0:
		return nil, errors.Wrapf(domain.ErrIntegrity, "index %s has invalid shape %dx%d", path, ff.Count, ff.Dimension)
	case len(ff.Data) != ff.Count*ff.Dimension:
		return nil, errors.Wrapf(domain.ErrIntegrity, "index %s holds %d values for %d vectors of %d", path, len(ff.Data), ff.Count, ff.Dimension)
	}
	return &Index{dimension: ff.Dimension, count: ff.Count, data: ff.Data}, nil
}
