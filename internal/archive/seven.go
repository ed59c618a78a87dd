package archive

import (
	"bytes"
	"fmt"

	"github.com/bodgit/sevenzip"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// extract7z handles 7z archives through the enhanced extractor. The
// primary extractor has no 7z support, so a parse failure here is a
// rejection rather than a fallback.
func (e *extractor) extract7z(data []byte, depth int) ([]models.ExtractedFile, error) {
	r, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("7z unsupported by primary extractor and enhanced extractor failed: %w", err)
	}
	e.enhancedUsed = true

	var files []models.ExtractedFile
	for _, f := range r.File {
		info := f.FileInfo()
		if info.IsDir() {
			continue
		}
		clean, err := sanitizePath(f.Name)
		if err != nil {
			return nil, err
		}

		declared := info.Size()
		if err := e.budget.reserve(declared); err != nil {
			return nil, fmt.Errorf("entry %q: %w", clean, err)
		}
		if err := e.budget.addFile(); err != nil {
			return nil, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %q: %w", clean, err)
		}
		content, err := readDeclared(rc, declared)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", clean, err)
		}
		e.budget.commit(int64(len(content)))

		files = append(files, models.ExtractedFile{Path: clean, Content: content})
	}
	return e.finish(depth, files...)
}
