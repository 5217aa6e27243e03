// Package ticker resolves free-form company names to ticker symbols by
// cosine similarity over cached name embeddings.
package ticker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"finrag/internal/domain"
)

// LoadRoster reads a JSON object mapping company name to symbol. Records keep
// the key order of the file. The returned hash identifies the roster content.
func LoadRoster(path string) ([]domain.CompanyRecord, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "read roster")
	}
	om := orderedmap.New[string, string]()
	if err := json.Unmarshal(data, om); err != nil {
		return nil, "", errors.Wrapf(err, "parse roster %s", path)
	}
	records := make([]domain.CompanyRecord, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		name := strings.TrimSpace(pair.Key)
		if name == "" {
			continue
		}
		records = append(records, domain.CompanyRecord{Name: name, Symbol: strings.TrimSpace(pair.Value)})
	}
	if len(records) == 0 {
		return nil, "", errors.Errorf("roster %s has no companies", path)
	}
	return records, RosterHash(records), nil
}

// RosterHash is a sha256 over names and symbols in order.
func RosterHash(records []domain.CompanyRecord) string {
	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(r.Name))
		h.Write([]byte{0})
		h.Write([]byte(r.Symbol))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
