// Package archive extracts package metadata from uploaded vcpkg binary
// cache archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

func init() {
	// This package-wide registration has no effect: archive/zip
	// pre-registers a decompressor for Deflate in its own init(), so
	// RegisterDecompressor panics on the duplicate, and the recover keeps
	// package initialization from aborting the process. The klauspost
	// reader is installed per archive in Inspect instead.
	defer func() { recover() }()
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// Sentinel errors raised by Inspect.
var (
	ErrMalformedArchive = errors.New("malformed archive")
	ErrMissingControl   = errors.New("missing CONTROL entry")
	ErrMissingAbi       = errors.New("missing vcpkg_abi_info.txt entry")
)

// KV is an ordered key/value pair, preserving the archive entry's record
// order rather than collapsing into an unordered map.
type KV struct {
	Key   string
	Value string
}

// Info is the metadata extracted from a single archive.
type Info struct {
	Package      string
	Version      string
	Architecture string
	SHA          string
	Ctrl         []KV
	Abi          []KV
	MTime        time.Time
	Size         int64
}

// ParseAbiRecords parses freeform text as space-separated ABI records, the
// same format as a vcpkg_abi_info.txt entry. Used to parse an uploaded ABI
// file outside the context of a full archive (the ABI match form).
func ParseAbiRecords(text string) []KV {
	return splitRecords(text, ' ')
}

// Get returns the last value recorded for key, or "?" if absent.
func Get(kvs []KV, key string) string {
	val := "?"
	for _, kv := range kvs {
		if kv.Key == key {
			val = kv.Value
		}
	}
	return val
}

// Inspect opens the archive at path and extracts its Info record.
func Inspect(path_ string) (Info, error) {
	fi, err := os.Stat(path_)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}

	zr, err := zip.OpenReader(path_)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	defer zr.Close()
	// klauspost/compress's flate reader is faster than the stdlib one.
	// archive/zip pre-registers a package-wide Deflate decompressor and
	// panics on a second global registration, so it is swapped in on this
	// reader only.
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	ctrlEntry := findEntry(zr.File, "CONTROL")
	if ctrlEntry == nil {
		return Info{}, ErrMissingControl
	}
	ctrlText, err := readEntry(ctrlEntry)
	if err != nil {
		return Info{}, fmt.Errorf("%w: reading CONTROL: %v", ErrMalformedArchive, err)
	}
	ctrl := splitRecords(ctrlText, ':')

	pkg := Get(ctrl, "Package")

	abiEntry := findEntry(zr.File, fmt.Sprintf("share/%s/vcpkg_abi_info.txt", pkg))
	if abiEntry == nil {
		abiEntry = findSuffixEntry(zr.File, "vcpkg_abi_info.txt")
	}
	if abiEntry == nil {
		return Info{}, ErrMissingAbi
	}
	abiText, err := readEntry(abiEntry)
	if err != nil {
		return Info{}, fmt.Errorf("%w: reading abi info: %v", ErrMalformedArchive, err)
	}
	abi := splitRecords(abiText, ' ')

	return Info{
		Package:      pkg,
		Version:      Get(ctrl, "Version"),
		Architecture: Get(ctrl, "Architecture"),
		SHA:          stem(path_),
		Ctrl:         ctrl,
		Abi:          abi,
		MTime:        fi.ModTime(),
		Size:         fi.Size(),
	}, nil
}

func findEntry(files []*zip.File, name string) *zip.File {
	for _, f := range files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func findSuffixEntry(files []*zip.File, suffix string) *zip.File {
	for _, f := range files {
		if strings.HasSuffix(f.Name, suffix) {
			return f
		}
	}
	return nil
}

func readEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// splitRecords parses newline-delimited records, splitting each on the
// first occurrence of sep, trimming whitespace, and dropping blank
// records. Order is preserved; duplicate keys are resolved last-writer-wins
// by callers via Get.
func splitRecords(text string, sep byte) []KV {
	var kvs []KV
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, sep)
		var key, val string
		if idx < 0 {
			key = line
		} else {
			key = strings.TrimSpace(line[:idx])
			val = strings.TrimSpace(line[idx+1:])
		}
		if key == "" {
			continue
		}
		kvs = append(kvs, KV{Key: key, Value: val})
	}
	return kvs
}

func stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
