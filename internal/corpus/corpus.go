// Package corpus loads documents from scraped JSON exports and PDF files.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"flightrag/internal/domain"
)

// Load reads documents from path. A .json file is a JSON array of
// {url, title, content, metadata} records, a .pdf file is a single document,
// and a directory is walked for both.
func Load(path string) ([]domain.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat corpus: %w", err)
	}
	if !info.IsDir() {
		return loadFile(path, filepath.Base(path))
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".json", ".pdf":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	sort.Strings(files)
	var docs []domain.Document
	for _, f := range files {
		d, err := loadFile(f, relName(path, f))
		if err != nil {
			return nil, err
		}
		docs = append(docs, d...)
	}
	return docs, nil
}

// relName is the slash-separated path of file below root.
func relName(root, file string) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	return filepath.ToSlash(rel)
}

// PDFURL is the document URL of a PDF known by its corpus-relative name.
// It does not depend on where the corpus is mounted, so record ids survive
// moving the corpus.
func PDFURL(name string) string {
	return "pdf:" + strings.TrimPrefix(filepath.ToSlash(name), "/")
}

func loadFile(path, name string) ([]domain.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs, err := ParseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return docs, nil
	case ".pdf":
		doc, err := readPDF(path, name)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(doc.Content) == "" {
			return nil, nil
		}
		return []domain.Document{doc}, nil
	default:
		return nil, fmt.Errorf("unsupported corpus file %s", path)
	}
}

type record struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// ParseJSON decodes a JSON array of scraped pages. Records without content
// are skipped; duplicate URLs keep the last record.
func ParseJSON(data []byte) ([]domain.Document, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(records))
	index := make(map[string]int, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		url := strings.TrimSpace(r.URL)
		if url == "" {
			return nil, fmt.Errorf("record %d has no url", i)
		}
		doc := domain.Document{
			URL:        url,
			Title:      strings.TrimSpace(r.Title),
			Content:    r.Content,
			Metadata:   flatten(r.Metadata),
			SourceType: domain.SourceJSON,
		}
		if j, ok := index[url]; ok {
			docs[j] = doc
			continue
		}
		index[url] = len(docs)
		docs = append(docs, doc)
	}
	return docs, nil
}

func flatten(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case nil:
		case string:
			out[k] = x
		case float64, bool:
			out[k] = fmt.Sprint(x)
		default:
			if b, err := json.Marshal(x); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

// LoadPDF extracts the plain text of a PDF file. The document URL is built
// from the file name.
func LoadPDF(path string) (domain.Document, error) {
	return readPDF(path, filepath.Base(path))
}

func readPDF(path, name string) (domain.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	text, err := r.GetPlainText()
	if err != nil {
		return domain.Document{}, fmt.Errorf("read pdf %s: %w", path, err)
	}
	if _, err := buf.ReadFrom(text); err != nil {
		return domain.Document{}, fmt.Errorf("read pdf %s: %w", path, err)
	}
	return domain.Document{
		URL:        PDFURL(name),
		Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content:    buf.String(),
		Metadata:   map[string]string{"pages": fmt.Sprint(r.NumPage())},
		SourceType: domain.SourcePDF,
	}, nil
}
