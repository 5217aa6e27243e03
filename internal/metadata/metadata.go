// Package metadata persists chunk text and provenance as JSON lines aligned
// with the vector index: line i describes vector i.
package metadata

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"finrag/internal/domain"
)

// maxLine bounds a single record; chunks are a few hundred characters.
const maxLine = 4 << 20

// Record is the on-disk form of one chunk.
type Record struct {
	Content  string     `json:"content"`
	Metadata Provenance `json:"metadata"`
}

type Provenance struct {
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

// Store is a read-only, index-aligned view of the chunk records.
type Store struct {
	chunks []domain.Chunk
}

// NewStore wraps chunks whose IDs must equal their positions.
func NewStore(chunks []domain.Chunk) (*Store, error) {
	for i, c := range chunks {
		if c.ID != i {
			return nil, errors.Wrapf(domain.ErrIntegrity, "chunk at position %d has id %d", i, c.ID)
		}
	}
	return &Store{chunks: chunks}, nil
}

func (s *Store) Len() int { return len(s.chunks) }

// Chunk returns the chunk with the given id, or false when id is out of range.
func (s *Store) Chunk(id int) (domain.Chunk, bool) {
	if id < 0 || id >= len(s.chunks) {
		return domain.Chunk{}, false
	}
	return s.chunks[id], true
}

// Write stores chunks in id order through a temporary file and a rename.
func Write(path string, chunks []domain.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create metadata dir")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create metadata file")
	}
	err = Encode(f, chunks)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return errors.Wrap(os.Rename(tmp, path), "replace metadata file")
}

// Encode writes one JSON record per chunk. Chunk ids must equal their positions.
func Encode(w io.Writer, chunks []domain.Chunk) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i, c := range chunks {
		if c.ID != i {
			return errors.Wrapf(domain.ErrIntegrity, "chunk at position %d has id %d", i, c.ID)
		}
		if err := enc.Encode(Record{Content: c.Text, Metadata: Provenance{Source: c.Source, URL: c.URL}}); err != nil {
			return errors.Wrapf(err, "encode record %d", i)
		}
	}
	return bw.Flush()
}

// Load reads every record; chunk ids are the line positions.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open metadata")
	}
	defer f.Close()

	var chunks []domain.Chunk
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, errors.Wrapf(domain.ErrIntegrity, "metadata %s line %d: %v", path, len(chunks)+1, err)
		}
		chunks = append(chunks, domain.Chunk{
			ID:     len(chunks),
			Text:   r.Content,
			Source: r.Metadata.Source,
			URL:    r.Metadata.URL,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read metadata %s", path)
	}
	return &Store{chunks: chunks}, nil
}
