// Package validation provides input validation and sanitization for file
// names, paths and uploaded documents.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

// Limits on untrusted input.
const (
	MaxFileSize       = 256 << 20
	MaxFilenameLength = 255
	MaxPathLength     = 4096
)

var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNotContainer     = errors.New("not a word processing container")
)

// SanitizePath cleans userPath and checks that joining it to baseDir stays
// inside baseDir. It returns the cleaned relative path.
func SanitizePath(baseDir, userPath string) (string, error) {
	switch {
	case userPath == "":
		return "", ErrEmptyPath
	case len(userPath) > MaxPathLength:
		return "", ErrPathTooLong
	}

	rel := filepath.Clean(userPath)
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}
	if escapes(rel) {
		return "", ErrPathTraversal
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	within, err := filepath.Rel(absBase, filepath.Join(absBase, rel))
	if err != nil || escapes(within) {
		return "", ErrPathTraversal
	}
	return rel, nil
}

// escapes reports whether a cleaned relative path climbs above its root.
func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsPathSafe reports whether SanitizePath accepts userPath.
func IsPathSafe(baseDir, userPath string) bool {
	_, err := SanitizePath(baseDir, userPath)
	return err == nil
}

// ValidateFilename accepts a single path element without separators,
// control characters or a leading hyphen.
func ValidateFilename(filename string) error {
	switch {
	case filename == "":
		return ErrInvalidFilename
	case len(filename) > MaxFilenameLength:
		return ErrFilenameTooLong
	case filename == "." || filename == "..":
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	case strings.ContainsAny(filename, `/\`):
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	case strings.IndexFunc(filename, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
	case strings.HasPrefix(filename, "-"):
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// ValidatePath checks length and characters of a path given on the command
// line. Absolute paths are fine.
func ValidatePath(path string) error {
	switch {
	case path == "":
		return ErrEmptyPath
	case len(path) > MaxPathLength:
		return ErrPathTooLong
	case strings.IndexFunc(path, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
	}
	return nil
}

// SanitizeFilename turns an uploaded file name into a safe one: separators
// become underscores, control characters and leading hyphens are dropped.
func SanitizeFilename(filename string) (string, error) {
	if filename == "" {
		return "", ErrInvalidFilename
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(filename))
	cleaned = strings.TrimLeft(cleaned, "-")

	if err := ValidateFilename(cleaned); err != nil {
		return "", err
	}
	return cleaned, nil
}

// FileType is the kind of file detected by ValidateFileType.
type FileType string

const (
	FileTypeDocx    FileType = "docx" // word processing package, zip inside
	FileTypeZip     FileType = "zip"
	FileTypeYAML    FileType = "yaml"
	FileTypeJSON    FileType = "json"
	FileTypePlan    FileType = "plan"
	FileTypeXML     FileType = "xml"
	FileTypeUnknown FileType = "unknown"
)

var extensionTypes = map[string]FileType{
	".docx": FileTypeDocx,
	".docm": FileTypeDocx,
	".dotx": FileTypeDocx,
	".dotm": FileTypeDocx,
	".zip":  FileTypeZip,
	".yaml": FileTypeYAML,
	".yml":  FileTypeYAML,
	".json": FileTypeJSON,
	".plan": FileTypePlan,
	".txt":  FileTypePlan,
	".xml":  FileTypeXML,
}

// zipSignatures are a local file header and an empty archive's end record.
var zipSignatures = [][]byte{
	{0x50, 0x4b, 0x03, 0x04},
	{0x50, 0x4b, 0x05, 0x06},
}

const sniffLen = 512

// ValidateFileType sniffs the first bytes of r and checks them against the
// type implied by filename's extension. Packages must start with a zip
// header and text formats must look like text. Files with an unknown
// extension report what was sniffed.
func ValidateFileType(r io.Reader, filename string) (FileType, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]

	sniffed := detectFileTypeFromMagic(buf)
	claimed := detectFileTypeFromExtension(filename)

	switch claimed {
	case FileTypeDocx:
		if sniffed != FileTypeZip {
			return FileTypeUnknown, fmt.Errorf("%w: %s does not start with a zip header", ErrNotContainer, filename)
		}
		return FileTypeDocx, nil
	case FileTypeYAML, FileTypeJSON, FileTypePlan, FileTypeXML:
		if len(buf) == 0 || (sniffed == FileTypeUnknown && isLikelyText(buf)) {
			return claimed, nil
		}
		return FileTypeUnknown, fmt.Errorf("file type mismatch: %s should be %s text", filename, claimed)
	case FileTypeZip:
		if sniffed != FileTypeZip {
			return FileTypeUnknown, fmt.Errorf("file type mismatch: %s is not a zip archive", filename)
		}
		return FileTypeZip, nil
	}
	return sniffed, nil
}

// ValidateContainer checks an uploaded document: it must fit in maxSize
// bytes (MaxFileSize when maxSize is zero) and begin with a zip header. The
// file name, if given, must be safe. Extensionless names are accepted.
func ValidateContainer(data []byte, filename string, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), maxSize)
	}
	if filename != "" {
		if err := ValidateFilename(filename); err != nil {
			return err
		}
	}
	if detectFileTypeFromMagic(data) != FileTypeZip {
		return ErrNotContainer
	}
	switch detectFileTypeFromExtension(filename) {
	case FileTypeDocx, FileTypeZip, FileTypeUnknown:
		return nil
	}
	return fmt.Errorf("%w: unexpected extension on %s", ErrNotContainer, filename)
}

func detectFileTypeFromMagic(buf []byte) FileType {
	for _, sig := range zipSignatures {
		if bytes.HasPrefix(buf, sig) {
			return FileTypeZip
		}
	}
	return FileTypeUnknown
}

func detectFileTypeFromExtension(filename string) FileType {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return FileTypeUnknown
}

// isLikelyText reports whether buf has no NUL bytes and at most 5% control
// characters other than tab, CR and LF. Bytes above 0x7e count as neither
// so UTF-8 passes.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 || bytes.IndexByte(buf, 0) >= 0 {
		return false
	}
	var printable, control int
	for _, b := range buf {
		switch {
		case b == '\t' || b == '\n' || b == '\r' || (b >= 0x20 && b <= 0x7e):
			printable++
		case b < 0x20:
			control++
		}
	}
	return printable > 0 && float64(printable)/float64(printable+control) > 0.95
}
