package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const maxStemLen = 80

// SanitizeName keeps letters, digits and "-_." and replaces everything else
// with '_'. Control characters are dropped and leading dots trimmed.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimLeft(strings.TrimSpace(b.String()), ".")
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	default:
		return false
	}
}

// StemOf derives a library base name from a source path:
// "PXL_20240506_070809123.MP.jpg" becomes "PXL_20240506_070809123".
func StemOf(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if strings.EqualFold(filepath.Ext(stem), ".mp") {
		stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	}
	stem = SanitizeName(stem, maxStemLen)
	if stem == "" {
		return "IMG"
	}
	return stem
}

// ValidateRoot checks that dir is a clean path without traversal. It does not
// require the directory to exist.
func ValidateRoot(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("library directory is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("library directory cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return fmt.Errorf("library directory must be a clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("invalid library directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("library path is not a directory")
	}
	return nil
}
