package loader

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
)

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read text")
	}
	return strings.ToValidUTF8(string(data), "\ufffd"), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open pdf")
	}
	defer f.Close()

	var buf bytes.Buffer
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", errors.Wrapf(err, "extract pdf page %d", i)
		}
		buf.WriteString(text)
		// page boundary becomes a paragraph boundary
		buf.WriteString("\n\n")
	}
	return buf.String(), nil
}

// readDelimited renders each data row as one paragraph of "header: value" lines.
func readDelimited(sep rune) ReadFunc {
	return func(path string) (string, error) {
		f, err := os.Open(path)
		if err != nil {
			return "", errors.Wrap(err, "open table")
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.Comma = sep
		r.FieldsPerRecord = -1
		r.LazyQuotes = true

		header, err := r.Read()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", errors.Wrap(err, "read table header")
		}
		for i := range header {
			header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		}

		var rows []string
		for {
			record, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", errors.Wrap(err, "read table row")
			}
			lines := make([]string, 0, len(record))
			for i, v := range record {
				v = strings.TrimSpace(v)
				if v == "" {
					continue
				}
				name := ""
				if i < len(header) {
					name = header[i]
				}
				if name == "" {
					lines = append(lines, v)
				} else {
					lines = append(lines, name+": "+v)
				}
			}
			if len(lines) > 0 {
				rows = append(rows, strings.Join(lines, "\n"))
			}
		}
		return strings.Join(rows, "\n\n"), nil
	}
}
