package ticker

import (
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"finrag/internal/domain"
)

const (
	matrixFile = "embeddings.gob"
	rosterFile = "roster.json"
)

type matrixFormat struct {
	Rows      int
	Dimension int
	Data      []float32
}

type rosterFormat struct {
	Names      []string `json:"names"`
	Symbols    []string `json:"symbols"`
	SourceHash string   `json:"source_hash"`
	Model      string   `json:"model"`
	Dimension  int      `json:"dimension"`
}

// cacheEntry is the decoded pair of cache files.
type cacheEntry struct {
	roster rosterFormat
	matrix matrixFormat
}

// readCache loads both files and checks that they agree with each other.
func readCache(dir string) (*cacheEntry, error) {
	var c cacheEntry

	data, err := os.ReadFile(filepath.Join(dir, rosterFile))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &c.roster); err != nil {
		return nil, errors.Wrapf(domain.ErrIntegrity, "decode %s: %v", rosterFile, err)
	}

	f, err := os.Open(filepath.Join(dir, matrixFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&c.matrix); err != nil {
		return nil, errors.Wrapf(domain.ErrIntegrity, "decode %s: %v", matrixFile, err)
	}

	r, m := c.roster, c.matrix
	switch {
	case len(r.Names) != len(r.Symbols):
		return nil, errors.Wrapf(domain.ErrIntegrity, "cache roster has %d names and %d symbols", len(r.Names), len(r.Symbols))
	case m.Rows != len(r.Names):
		return nil, errors.Wrapf(domain.ErrIntegrity, "cache matrix has %d rows for %d names", m.Rows, len(r.Names))
	case m.Dimension != r.Dimension || len(m.Data) != m.Rows*m.Dimension:
		return nil, errors.Wrapf(domain.ErrIntegrity, "cache matrix shape %dx%d holds %d values", m.Rows, m.Dimension, len(m.Data))
	}
	return &c, nil
}

// writeCache writes both files to temporaries before renaming either, so a
// failed write leaves the previous pair untouched.
func writeCache(dir string, c *cacheEntry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create ticker cache dir")
	}
	rosterPath := filepath.Join(dir, rosterFile)
	matrixPath := filepath.Join(dir, matrixFile)

	rosterData, err := json.MarshalIndent(c.roster, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode roster cache")
	}
	if err := os.WriteFile(rosterPath+".tmp", rosterData, 0o644); err != nil {
		return errors.Wrap(err, "write roster cache")
	}

	f, err := os.Create(matrixPath + ".tmp")
	if err != nil {
		_ = os.Remove(rosterPath + ".tmp")
		return errors.Wrap(err, "create matrix cache")
	}
	err = gob.NewEncoder(f).Encode(c.matrix)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(rosterPath + ".tmp")
		_ = os.Remove(matrixPath + ".tmp")
		return errors.Wrap(err, "encode matrix cache")
	}

	if err := os.Rename(matrixPath+".tmp", matrixPath); err != nil {
		return errors.Wrap(err, "replace matrix cache")
	}
	return errors.Wrap(os.Rename(rosterPath+".tmp", rosterPath), "replace roster cache")
}
