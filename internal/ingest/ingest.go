// Package ingest loads markdown notes into long-term memory. Files are
// split into heading-scoped sections so retrieval returns a coherent
// note fragment rather than an arbitrary slice of the file.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Memorizer is the write surface of long-term memory.
// *memory.Store satisfies it.
type Memorizer interface {
	AddWithMetadata(ctx context.Context, text, metadata string) error
}

// Ingester walks markdown files into a Memorizer.
type Ingester struct {
	store  Memorizer
	logger *slog.Logger
	md     goldmark.Markdown
}

// New builds an Ingester writing to store.
func New(store Memorizer, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:  store,
		logger: logger,
		md:     goldmark.New(),
	}
}

// Stats summarizes an ingest run.
type Stats struct {
	Files    int
	Sections int
}

// IngestPath ingests a markdown file, or every .md file under a
// directory. Per-file failures are logged and skipped; the run keeps
// going.
func (in *Ingester) IngestPath(ctx context.Context, path string) (Stats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stats{}, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		n, err := in.ingestFile(ctx, path)
		if err != nil {
			return Stats{}, err
		}
		return Stats{Files: 1, Sections: n}, nil
	}

	var stats Stats
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".md") {
			return nil
		}
		n, err := in.ingestFile(ctx, p)
		if err != nil {
			in.logger.Warn("skipping file", "path", p, "error", err)
			return nil
		}
		stats.Files++
		stats.Sections += n
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", path, err)
	}
	return stats, nil
}

// ingestFile splits one markdown file into sections and stores each
// with the file path as metadata. Returns the number of sections
// stored.
func (in *Ingester) ingestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	sections := in.Sections(data)
	if len(sections) == 0 {
		in.logger.Debug("file has no content", "path", path)
		return 0, nil
	}

	for _, s := range sections {
		if err := in.store.AddWithMetadata(ctx, s, path); err != nil {
			return 0, fmt.Errorf("store section from %s: %w", path, err)
		}
	}
	in.logger.Info("file ingested", "path", path, "sections", len(sections))
	return len(sections), nil
}

// Sections splits markdown source into heading-scoped sections. Each
// section starts at a heading and runs to the next one;
// content before the first heading becomes its own section. Sections
// are plain source text with the heading line kept, so the heading
// participates in the embedding.
func (in *Ingester) Sections(source []byte) []string {
	doc := in.md.Parser().Parse(gmtext.NewReader(source))

	type boundary struct {
		offset  int
		heading string
	}
	var bounds []boundary

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			continue
		}
		seg := lines.At(0)
		// Back the offset up to cover the "#" markers on the line.
		start := seg.Start
		for start > 0 && source[start-1] != '\n' {
			start--
		}
		bounds = append(bounds, boundary{
			offset:  start,
			heading: strings.TrimSpace(string(seg.Value(source))),
		})
	}

	var sections []string
	appendSection := func(from, to int) {
		text := strings.TrimSpace(string(source[from:to]))
		if text != "" {
			sections = append(sections, text)
		}
	}

	if len(bounds) == 0 {
		appendSection(0, len(source))
		return sections
	}

	appendSection(0, bounds[0].offset)
	for i, b := range bounds {
		end := len(source)
		if i+1 < len(bounds) {
			end = bounds[i+1].offset
		}
		appendSection(b.offset, end)
	}
	return sections
}
