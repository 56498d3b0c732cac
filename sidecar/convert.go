package sidecar

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Converter turns binary documents into gzipped markdown twins.
type Converter struct {
	registry *Registry
}

// NewConverter builds a converter with the default format registry.
func NewConverter() *Converter {
	return &Converter{registry: NewRegistry()}
}

// SidecarPath derives the twin path for a source document: the same
// directory and basename with a ".md.gz" suffix appended to the
// original extension, so "spec.pdf" becomes "spec.pdf.md.gz". Keeping
// the original extension in the name avoids collisions between, say,
// "report.pdf" and "report.docx" both wanting "report.md.gz".
func SidecarPath(sourcePath string) string {
	return sourcePath + ".md.gz"
}

// ConvertResult reports what Convert did.
type ConvertResult struct {
	SidecarPath string
	ContentHash string
	Skipped     bool // true when the existing sidecar's hash already matched
}

// Convert decodes sourcePath, renders it to markdown, and writes a
// gzipped sidecar next to it. If an existing sidecar's recorded
// content hash matches the freshly computed one, the write is skipped
// entirely — the caller passes in the previously recorded hash (from
// the files table) rather than Convert re-reading the sidecar itself.
func (c *Converter) Convert(ctx context.Context, sourcePath, previousHash string) (*ConvertResult, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(sourcePath)), ".")
	p, err := c.registry.Get(ext)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("sidecar: reading %s: %w", sourcePath, err)
	}
	hash := contentHash(raw)
	if hash == previousHash {
		return &ConvertResult{SidecarPath: SidecarPath(sourcePath), ContentHash: hash, Skipped: true}, nil
	}

	result, err := p.Parse(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("sidecar: parsing %s: %w", sourcePath, err)
	}

	md := RenderMarkdown(result)
	sidecarPath := SidecarPath(sourcePath)
	if err := writeGzippedAtomic(sidecarPath, []byte(md)); err != nil {
		return nil, fmt.Errorf("sidecar: writing %s: %w", sidecarPath, err)
	}

	return &ConvertResult{SidecarPath: sidecarPath, ContentHash: hash}, nil
}

// ReadMarkdown decompresses a sidecar's markdown body.
func ReadMarkdown(sidecarPath string) (string, error) {
	f, err := os.Open(sidecarPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SweepOrphans removes sidecars under root whose source document no
// longer exists. Returns the paths it removed.
func SweepOrphans(root string) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.gz") {
			return nil
		}
		source := strings.TrimSuffix(path, ".md.gz")
		if _, err := os.Stat(source); os.IsNotExist(err) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed = append(removed, path)
		}
		return nil
	})
	return removed, err
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeGzippedAtomic compresses data and writes it via a temp file
// plus rename, so a reader never observes a partially written sidecar
// even if the process is killed mid-write.
func writeGzippedAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sidecar-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
