package captcha

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// UppercaseWhitelist limits recognition to latin capitals
const UppercaseWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// UppercaseConfig is the tesseract config name that applies UppercaseWhitelist
const UppercaseConfig = "uppercase_letters"

var tessdataCandidates = []string{
	"/usr/share/tesseract-ocr/5/tessdata",
	"/usr/share/tesseract-ocr/4.00/tessdata",
	"/usr/share/tesseract-ocr/tessdata",
	"/usr/share/tessdata",
	"/usr/local/share/tessdata",
	"/opt/homebrew/share/tessdata",
}

// ErrNoTessdata means no tessdata directory could be located
var ErrNoTessdata = errors.New("tessdata directory not found")

// TessdataDir returns TESSDATA_PREFIX when set, otherwise the first
// existing well-known tessdata directory.
func TessdataDir() (string, error) {
	if dir := os.Getenv("TESSDATA_PREFIX"); dir != "" {
		return dir, nil
	}
	for _, dir := range tessdataCandidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", ErrNoTessdata
}

// ConfigPath is where tesseract looks up a named config
func ConfigPath(tessdataDir, name string) string {
	return filepath.Join(tessdataDir, "configs", name)
}

// InstallConfig writes a tesseract config restricting recognition to
// whitelist. Installing the same config twice is a no-op.
func InstallConfig(tessdataDir, name, whitelist string) (string, error) {
	if name == "" || whitelist == "" {
		return "", errors.New("config name and whitelist are required")
	}
	path := ConfigPath(tessdataDir, name)
	content := []byte(fmt.Sprintf("tessedit_char_whitelist %s\n", whitelist))

	if existing, err := os.ReadFile(path); err == nil && string(existing) == string(content) {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create configs directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write tesseract config: %w", err)
	}
	return path, nil
}
