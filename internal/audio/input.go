package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/dygy/piano-grep/internal/errors"
)

const (
	MaxFileSize = 100 * 1024 * 1024 // 100MB
)

// Format represents an audio file format
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatM4A     Format = "m4a"
	FormatUnknown Format = "unknown"
)

// SupportedExtensions lists the upload extensions accepted for processing
var SupportedExtensions = []string{".mp3", ".wav", ".ogg", ".flac", ".m4a"}

// IsSupportedExtension reports whether name has an accepted audio extension
func IsSupportedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ValidateInput checks if the input file is valid for processing.
// maxSize <= 0 uses MaxFileSize.
func ValidateInput(path string, maxSize int64) (Format, error) {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return FormatUnknown, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, path)
	}
	if err != nil {
		return FormatUnknown, fmt.Errorf("stat file: %w", err)
	}

	if info.Size() > maxSize {
		return FormatUnknown, fmt.Errorf("%w: maximum size is %dMB", apperrors.ErrFileTooLarge, maxSize/(1024*1024))
	}

	format, err := detectFormat(path)
	if err != nil {
		return FormatUnknown, err
	}

	if format == FormatUnknown {
		return FormatUnknown, fmt.Errorf("%w: please provide an MP3, WAV, OGG, FLAC or M4A file", apperrors.ErrUnsupportedFormat)
	}

	return format, nil
}

// detectFormat checks file magic bytes to determine audio format
func detectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: %v", apperrors.ErrCorruptedFile, err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if n < 4 || (err != nil && err != io.ErrUnexpectedEOF) {
		return FormatUnknown, fmt.Errorf("%w: could not read file header", apperrors.ErrCorruptedFile)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("RIFF")) && n >= 12 && string(header[8:12]) == "WAVE":
		return FormatWAV, nil
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3, nil
	case header[0] == 0xFF && (header[1]&0xE0) == 0xE0:
		return FormatMP3, nil
	case bytes.HasPrefix(header, []byte("OggS")):
		return FormatOGG, nil
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC, nil
	case n >= 8 && string(header[4:8]) == "ftyp":
		return FormatM4A, nil
	}

	// Fallback: check extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	}

	return FormatUnknown, nil
}
