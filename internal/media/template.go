package media

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	placeholderTitle = "%(title)s"
	placeholderID    = "%(id)s"
	placeholderExt   = "%(ext)s"

	// OutputTemplate is the per-job filename template handed to backends.
	OutputTemplate = placeholderTitle + "." + placeholderExt

	maxTitleBytes = 180
)

// RenderTemplate fills the placeholders of an output template. The title is
// made filesystem safe first.
func RenderTemplate(tmpl, title, id, ext string) string {
	safeID := SafeFilename(id, "media")

	r := strings.NewReplacer(
		placeholderTitle, SafeFilename(title, safeID),
		placeholderID, safeID,
		placeholderExt, strings.TrimPrefix(ext, "."),
	)

	return r.Replace(tmpl)
}

// SafeFilename strips path separators, control characters and characters that
// are reserved on common filesystems. fallback is used when nothing is left.
func SafeFilename(name, fallback string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}

		return r
	}, name)

	cleaned = strings.Trim(strings.TrimSpace(cleaned), ".")

	if len(cleaned) > maxTitleBytes {
		cut := maxTitleBytes
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}

		cleaned = strings.TrimSpace(cleaned[:cut])
	}

	if cleaned == "" {
		return fallback
	}

	return cleaned
}

// ReplaceExt swaps the extension of path for ext ("mp3" or ".mp3").
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + strings.TrimPrefix(ext, ".")
}
