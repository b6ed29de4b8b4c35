// Package endpoints implements the HTTP API handlers. Each handler is a
// constructor taking the narrow interface it needs, so tests can swap in
// fakes without standing up the whole engine.
package endpoints

import (
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// tailWindowBytes bounds how much of the log file a tail request reads.
const tailWindowBytes = 1_000_000

// EncodeFileID turns a downloads-relative path into an opaque URL-safe id.
func EncodeFileID(relPath string) string {
	token := base64.URLEncoding.EncodeToString([]byte(relPath))
	return strings.TrimRight(token, "=")
}

// DecodeFileID reverses EncodeFileID, restoring the stripped padding.
func DecodeFileID(fileID string) (string, error) {
	if pad := len(fileID) % 4; pad != 0 {
		fileID += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.URLEncoding.DecodeString(fileID)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// fileIDFromPath maps an absolute file path back to its id, or "" when the
// path falls outside the downloads directory.
func fileIDFromPath(downloadsDir, path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	if !pathAllowed(abs, downloadsDir) {
		return ""
	}
	rel, err := filepath.Rel(downloadsDir, abs)
	if err != nil {
		return ""
	}
	return EncodeFileID(rel)
}

// pathAllowed reports whether path sits inside base after resolving both.
func pathAllowed(path, base string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(absBase); err == nil {
		absBase = resolved
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// safeFilename strips characters that would break a Content-Disposition
// header.
func safeFilename(name string) string {
	cleaned := strings.NewReplacer(`"`, "'", "\n", " ", "\r", " ").Replace(name)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "download"
	}
	return cleaned
}

// tailLines returns the last n lines of the file, reading at most the final
// megabyte. Missing files read as empty.
func tailLines(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return ""
	}
	window := info.Size()
	if window > tailWindowBytes {
		window = tailWindowBytes
	}
	if _, err := f.Seek(-window, io.SeekEnd); err != nil {
		return ""
	}
	buf := make([]byte, window)
	read, err := f.Read(buf)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(buf[:read]), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// normalizeDate expands a bare YYYY-MM-DD into a day boundary timestamp;
// anything else passes through untouched.
func normalizeDate(value string, endOfDay bool) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) == 10 && value[4] == '-' && value[7] == '-' {
		if endOfDay {
			return value + " 23:59:59"
		}
		return value + " 00:00:00"
	}
	return value
}
