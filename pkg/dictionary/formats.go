package dictionary

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// FileFormat represents the dictionary file formats ctxserve reads
type FileFormat int

const (
	FormatUnknown FileFormat = iota
	FormatSegment            // msgpack array of records
	FormatText               // tab separated source records
)

// FormatInfo contains metadata about a dictionary file format
type FormatInfo struct {
	Format      FileFormat
	Description string
	Extensions  []string
	MinSize     int64
}

// MaxSegmentEntries is the sanity limit on the record count of one segment.
const MaxSegmentEntries = 10_000_000

var supportedFormats = map[FileFormat]FormatInfo{
	FormatSegment: {
		Format:      FormatSegment,
		Description: "msgpack completion segment",
		Extensions:  []string{".msgpack"},
		MinSize:     1, // an empty array is a single byte
	},
	FormatText: {
		Format:      FormatText,
		Description: "tab separated records",
		Extensions:  []string{".tsv", ".txt"},
		MinSize:     1,
	},
}

func (f FileFormat) String() string {
	if info, ok := supportedFormats[f]; ok {
		return info.Description
	}
	return "unknown"
}

// ValidateFileFormat checks if a file matches the expected format
func ValidateFileFormat(filename string, expected FileFormat) error {
	fileInfo, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", filename, err)
	}
	formatInfo, ok := supportedFormats[expected]
	if !ok {
		return fmt.Errorf("unknown format: %v", expected)
	}
	if fileInfo.Size() < formatInfo.MinSize {
		return fmt.Errorf("file %s is too small (%d bytes) for format %s",
			filename, fileInfo.Size(), formatInfo.Description)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	validExt := false
	for _, e := range formatInfo.Extensions {
		if ext == e {
			validExt = true
			break
		}
	}
	if !validExt {
		return fmt.Errorf("file %s has invalid extension %s for format %s (expected: %v)",
			filename, ext, formatInfo.Description, formatInfo.Extensions)
	}

	switch expected {
	case FormatSegment:
		_, err := ValidateSegmentFile(filename)
		return err
	case FormatText:
		return validateTextFormat(filename)
	}
	return nil
}

// ValidateSegmentFile reads the array header of a segment and returns its
// record count.
func ValidateSegmentFile(filename string) (int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	n, err := msgpack.NewDecoder(bufio.NewReader(file)).DecodeArrayLen()
	if err != nil {
		return 0, fmt.Errorf("failed to read header from %s: %w", filename, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("segment %s is nil, expected an array", filename)
	}
	if n > MaxSegmentEntries {
		return 0, fmt.Errorf("suspicious record count in %s: %d (too large)", filename, n)
	}
	log.Debugf("Segment %s validated: %d records", filename, n)
	return n, nil
}

func validateTextFormat(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	buffer := make([]byte, 1024)
	if _, err := file.Read(buffer); err != nil {
		return fmt.Errorf("failed to read from text file %s: %w", filename, err)
	}
	return nil
}

// DetectFileFormat attempts to detect the format of a file
func DetectFileFormat(filename string) (FileFormat, error) {
	for _, format := range []FileFormat{FormatSegment, FormatText} {
		if err := ValidateFileFormat(filename, format); err == nil {
			return format, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unable to detect format for file %s", filename)
}

// GetFormatInfo returns information about a specific format
func GetFormatInfo(format FileFormat) (FormatInfo, bool) {
	info, ok := supportedFormats[format]
	return info, ok
}
