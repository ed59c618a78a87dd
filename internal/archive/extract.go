package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// singleFileName is the virtual path given to the payload of a bare
// compressed stream (gzip/bzip2/xz without a tar inside).
const singleFileName = "content"

// Extract unpacks the archive into an in-memory set of files addressed
// by virtual paths. Extraction is all-or-nothing: any guard violation
// returns Rejected with a specific reason and no files.
func Extract(data []byte, format Format, limits Limits) models.ArchiveExtractionResult {
	e := &extractor{budget: budget{limits: limits}}

	files, err := e.extract(singleFileName, data, format, 0)
	if err != nil {
		return models.ArchiveExtractionResult{
			Rejected:              true,
			RejectionReason:       err.Error(),
			EnhancedExtractorUsed: e.enhancedUsed,
		}
	}
	return models.ArchiveExtractionResult{
		ExtractedFiles:        files,
		EnhancedExtractorUsed: e.enhancedUsed,
	}
}

type extractor struct {
	budget       budget
	enhancedUsed bool
}

func (e *extractor) extract(name string, data []byte, format Format, depth int) ([]models.ExtractedFile, error) {
	if depth > e.budget.limits.MaxNestingDepth {
		return nil, fmt.Errorf("archive nesting depth exceeds limit of %d", e.budget.limits.MaxNestingDepth)
	}

	switch format {
	case FormatZip:
		return e.extractZip(data, depth)
	case FormatTar:
		return e.extractTar(bytes.NewReader(data), depth)
	case FormatTarGz, FormatTarBz2, FormatTarXz:
		inner, err := e.decompress(data, format)
		if err != nil {
			return nil, err
		}
		return e.extractTar(bytes.NewReader(inner), depth)
	case FormatGzip, FormatBzip2, FormatXz:
		inner, err := e.decompress(data, format)
		if err != nil {
			return nil, err
		}
		if err := e.budget.addFile(); err != nil {
			return nil, err
		}
		e.budget.commit(int64(len(inner)))
		return e.finish(depth, models.ExtractedFile{Path: strippedName(name), Content: inner})
	case Format7z:
		return e.extract7z(data, depth)
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}

func (e *extractor) extractZip(data []byte, depth int) ([]models.ExtractedFile, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read zip: %w", err)
	}

	var files []models.ExtractedFile
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		clean, err := sanitizePath(f.Name)
		if err != nil {
			return nil, err
		}

		declared := int64(f.UncompressedSize64)
		if err := e.budget.checkRatio(int64(f.CompressedSize64), declared); err != nil {
			return nil, fmt.Errorf("entry %q: %w", clean, err)
		}
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

func (e *extractor) extractTar(r io.Reader, depth int) ([]models.ExtractedFile, error) {
	tr := tar.NewReader(r)

	var files []models.ExtractedFile
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		clean, err := sanitizePath(hdr.Name)
		if err != nil {
			return nil, err
		}

		if err := e.budget.reserve(hdr.Size); err != nil {
			return nil, fmt.Errorf("entry %q: %w", clean, err)
		}
		if err := e.budget.addFile(); err != nil {
			return nil, err
		}

		content, err := readDeclared(tr, hdr.Size)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", clean, err)
		}
		e.budget.commit(int64(len(content)))

		files = append(files, models.ExtractedFile{Path: clean, Content: content})
	}
	return e.finish(depth, files...)
}

// decompress inflates a single compressed stream within the remaining
// byte budget, guarding against bombs that carry no declared size.
func (e *extractor) decompress(data []byte, format Format) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	switch format {
	case FormatGzip, FormatTarGz:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case FormatBzip2, FormatTarBz2:
		r = bzip2.NewReader(bytes.NewReader(data))
	case FormatXz, FormatTarXz:
		r, err = xz.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported compression format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s stream: %w", format, err)
	}

	remaining := e.budget.limits.MaxTotalBytes - e.budget.totalBytes
	out, err := io.ReadAll(io.LimitReader(r, remaining+1))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", format, err)
	}
	if int64(len(out)) > remaining {
		return nil, fmt.Errorf("total uncompressed size exceeds limit of %d bytes", e.budget.limits.MaxTotalBytes)
	}
	if err := e.budget.checkRatio(int64(len(data)), int64(len(out))); err != nil {
		return nil, err
	}
	return out, nil
}

// finish recursively extracts any nested archives among the files at
// this level. Nesting beyond the depth limit rejects the whole
// archive; it is never silently truncated.
func (e *extractor) finish(depth int, files ...models.ExtractedFile) ([]models.ExtractedFile, error) {
	var out []models.ExtractedFile
	for _, f := range files {
		nestedFormat := DetectFormat(f.Path, f.Content)
		if nestedFormat == FormatUnknown {
			out = append(out, f)
			continue
		}

		nested, err := e.extract(path.Base(f.Path), f.Content, nestedFormat, depth+1)
		if err != nil {
			return nil, fmt.Errorf("nested archive %q: %w", f.Path, err)
		}
		for _, nf := range nested {
			out = append(out, models.ExtractedFile{
				Path:    f.Path + "/" + nf.Path,
				Content: nf.Content,
			})
		}
	}
	return out, nil
}

// readDeclared reads exactly up to the declared size and errors if the
// stream holds more, catching entries whose header understates their
// real payload.
func readDeclared(r io.Reader, declared int64) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, declared+1))
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	if int64(len(content)) > declared {
		return nil, fmt.Errorf("entry larger than declared size of %d bytes", declared)
	}
	return content, nil
}

// sanitizePath normalizes an entry path and rejects anything that
// would resolve outside the extraction root.
func sanitizePath(name string) (string, error) {
	normalized := strings.ReplaceAll(name, `\`, "/")
	if len(normalized) >= 2 && normalized[1] == ':' {
		return "", fmt.Errorf("path traversal attempt in entry %q: drive-prefixed path", name)
	}
	cleaned := path.Clean(normalized)
	if path.IsAbs(cleaned) {
		return "", fmt.Errorf("path traversal attempt in entry %q: absolute path", name)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal attempt in entry %q: escapes extraction root", name)
	}
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("empty entry path %q", name)
	}
	return cleaned, nil
}

// strippedName removes the final compression extension from a
// single-stream payload name (report.log.gz -> report.log).
func strippedName(name string) string {
	for _, ext := range []string{".gz", ".bz2", ".xz"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
