package archive

import "fmt"

// Limits caps resource consumption during extraction. Every ceiling is
// enforced before the offending byte is buffered.
type Limits struct {
	// MaxTotalBytes caps cumulative uncompressed output across all
	// entries, including nested archives.
	MaxTotalBytes int64
	// MaxFileCount caps the cumulative number of extracted files.
	MaxFileCount int
	// MaxRatio rejects any entry whose declared uncompressed size
	// exceeds its compressed size by this factor.
	MaxRatio int
	// MaxNestingDepth bounds recursive extraction of archives inside
	// archives. Deeper nesting rejects the whole archive.
	MaxNestingDepth int
}

// DefaultLimits returns conservative production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalBytes:   256 << 20, // 256 MiB
		MaxFileCount:    1000,
		MaxRatio:        100,
		MaxNestingDepth: 3,
	}
}

// budget tracks cumulative consumption against limits for one
// top-level Extract call, shared across nesting levels.
type budget struct {
	limits     Limits
	totalBytes int64
	fileCount  int
}

func (b *budget) addFile() error {
	b.fileCount++
	if b.fileCount > b.limits.MaxFileCount {
		return fmt.Errorf("file count exceeds limit of %d", b.limits.MaxFileCount)
	}
	return nil
}

// reserve checks that n more uncompressed bytes fit the total budget.
func (b *budget) reserve(n int64) error {
	if n < 0 {
		return fmt.Errorf("negative declared size")
	}
	if b.totalBytes+n > b.limits.MaxTotalBytes {
		return fmt.Errorf("total uncompressed size exceeds limit of %d bytes", b.limits.MaxTotalBytes)
	}
	return nil
}

func (b *budget) commit(n int64) {
	b.totalBytes += n
}

// checkRatio rejects entries whose declared expansion factor is
// implausible. Tiny compressed sizes are exempt to avoid dividing
// rounding noise.
func (b *budget) checkRatio(compressed, uncompressed int64) error {
	if compressed < 64 || b.limits.MaxRatio <= 0 {
		return nil
	}
	if uncompressed/compressed > int64(b.limits.MaxRatio) {
		return fmt.Errorf("compression ratio %d:1 exceeds limit of %d:1",
			uncompressed/compressed, b.limits.MaxRatio)
	}
	return nil
}
