package storage

import (
	"fmt"
	"path"
	"strings"
)

// customerImagePath returns folder/<upload id>-<file name>. Segments must not contain
// separators or "..".
func customerImagePath(folder, uploadID, fileName string) (string, error) {
	segments := []struct{ name, value string }{
		{"folder", folder},
		{"upload id", uploadID},
		{"file name", fileName},
	}
	for i, seg := range segments {
		v := strings.TrimSpace(seg.value)
		switch {
		case v == "":
			return "", fmt.Errorf("storage: %s is required", seg.name)
		case strings.ContainsAny(v, "/\\"), strings.Contains(v, ".."):
			return "", fmt.Errorf("storage: %s %q is not a single path segment", seg.name, v)
		}
		segments[i].value = v
	}
	return fmt.Sprintf("%s/%s-%s", segments[0].value, strings.ToLower(segments[1].value), segments[2].value), nil
}

// SanitizeFileName reduces a client supplied name to a safe object name
// segment carrying the extension of the content type.
func SanitizeFileName(name, contentType string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")))
	base = strings.TrimSuffix(base, path.Ext(base))

	var b strings.Builder
	lastDash := false
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteRune('-')
			lastDash = true
		}
	}
	cleaned := strings.Trim(b.String(), "-")
	if len(cleaned) > 64 {
		cleaned = strings.Trim(cleaned[:64], "-")
	}
	if cleaned == "" || cleaned == "." {
		cleaned = "image"
	}
	return cleaned + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/tiff":
		return ".tiff"
	case "image/bmp":
		return ".bmp"
	}
	return ""
}
