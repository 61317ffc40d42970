package session

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SupportedExtensions lists the file types the backend can ingest.
var SupportedExtensions = []string{".csv", ".xlsx", ".sql"}

// SourceFile is a file picked by the user and not yet uploaded.
type SourceFile struct {
	Name    string
	Content []byte
}

// IsEmpty reports whether there is nothing to upload.
func (f SourceFile) IsEmpty() bool { return f.Name == "" || len(f.Content) == 0 }

// LoadSourceFile reads path and checks its extension. Parsing happens on the
// backend; only the name and bytes are kept.
func LoadSourceFile(path string) (SourceFile, error) {
	if path == "" {
		return SourceFile{}, &ValidationError{Reason: "no file"}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedExtensions, ext) {
		return SourceFile{}, &ValidationError{
			Reason: fmt.Sprintf("unsupported file type %q (use %s)", ext, strings.Join(SupportedExtensions, ", ")),
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return SourceFile{}, &ValidationError{Reason: fmt.Sprintf("%s is a directory", path)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("read source file: %w", err)
	}
	if len(data) == 0 {
		return SourceFile{}, &ValidationError{Reason: fmt.Sprintf("%s is empty", filepath.Base(path))}
	}
	return SourceFile{Name: filepath.Base(path), Content: data}, nil
}
