// Package archive safely unpacks compressed and archived input with
// guards against decompression bombs and path traversal.
package archive

import (
	"bytes"
	"strings"
)

// Format identifies an archive or compression container.
type Format string

const (
	FormatZip      Format = "zip"
	FormatTar      Format = "tar"
	FormatGzip     Format = "gzip"
	FormatBzip2    Format = "bzip2"
	FormatXz       Format = "xz"
	FormatTarGz    Format = "tar.gz"
	FormatTarBz2   Format = "tar.bz2"
	FormatTarXz    Format = "tar.xz"
	Format7z       Format = "7z"
	FormatUnknown  Format = "unknown"
)

var (
	magicZip   = []byte{0x50, 0x4b, 0x03, 0x04}
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte{0x42, 0x5a, 0x68}
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magic7z    = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
)

// DetectFormat identifies the container from magic bytes, using the
// filename only to distinguish compressed tarballs from plain
// compressed files. Returns FormatUnknown when nothing matches.
func DetectFormat(name string, data []byte) Format {
	lower := strings.ToLower(name)

	switch {
	case bytes.HasPrefix(data, magic7z):
		return Format7z
	case bytes.HasPrefix(data, magicZip):
		return FormatZip
	case bytes.HasPrefix(data, magicXz):
		if isTarball(lower, ".xz", ".txz") {
			return FormatTarXz
		}
		return FormatXz
	case bytes.HasPrefix(data, magicBzip2):
		if isTarball(lower, ".bz2", ".tbz2") {
			return FormatTarBz2
		}
		return FormatBzip2
	case bytes.HasPrefix(data, magicGzip):
		if isTarball(lower, ".gz", ".tgz") {
			return FormatTarGz
		}
		return FormatGzip
	case isTar(data):
		return FormatTar
	}
	return FormatUnknown
}

// IsArchive reports whether the data looks like a supported container.
func IsArchive(name string, data []byte) bool {
	return DetectFormat(name, data) != FormatUnknown
}

// isTarball reports whether a compressed file name indicates a tar
// stream inside (.tar.gz, .tgz and friends).
func isTarball(lower, ext, short string) bool {
	if strings.HasSuffix(lower, short) {
		return true
	}
	return strings.HasSuffix(lower, ext) &&
		strings.HasSuffix(strings.TrimSuffix(lower, ext), ".tar")
}

// isTar checks for the ustar magic at offset 257.
func isTar(data []byte) bool {
	if len(data) < 263 {
		return false
	}
	return bytes.Equal(data[257:262], []byte("ustar"))
}
