package documents

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxFilenameLength bounds sanitized names in bytes.
	MaxFilenameLength = 255
	minBaseLength     = 3
)

var (
	hostileChars   = regexp.MustCompile(`[\\/*?:"<>|\x00-\x1f]`)
	whitespaceRuns = regexp.MustCompile(`[\s\p{Z}]+`)
	unsafeBaseChar = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// SanitizeFilename turns an untrusted label into a single safe path
// component. The result is never empty, never longer than
// MaxFilenameLength bytes, and never contains a path separator.
func SanitizeFilename(name string) string {
	decoded, err := url.PathUnescape(name)
	if err != nil {
		decoded = name
	}

	cleaned := strings.ToValidUTF8(decoded, "_")
	cleaned = hostileChars.ReplaceAllString(cleaned, "_")
	cleaned = whitespaceRuns.ReplaceAllString(cleaned, "_")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimRight(cleaned, ".")
	if cleaned == "" {
		return "unnamed_" + randomHex(8)
	}

	if len(cleaned) <= MaxFilenameLength {
		return cleaned
	}

	base, ext := splitExt(cleaned)
	if len(ext) >= MaxFilenameLength {
		cleaned = truncateBytes(cleaned, MaxFilenameLength)
	} else {
		cleaned = truncateBytes(base, MaxFilenameLength-len(ext)) + ext
	}
	if cleaned == "" {
		return "unnamed_" + randomHex(8)
	}
	return cleaned
}

// FilenameFromURL derives a sanitized file name from the last segment of a
// URL path. URLs without a usable path fall back to the first label of the
// host with a .bin extension.
func FilenameFromURL(rawURL string) string {
	var p, host string
	if u, err := url.Parse(rawURL); err == nil {
		p = u.EscapedPath()
		host = u.Hostname()
	} else {
		p = rawURL
	}

	if p == "" || strings.HasSuffix(p, "/") {
		label, _, _ := strings.Cut(host, ".")
		p = label + ".bin"
	}
	return SanitizeFilename(path.Base(p))
}

// UniquePath builds a collision-resistant path inside dir of the form
// <base>_<6 hex>.<ext>. The validated extension wins over the one carried by
// name; with neither, "bin" is used.
func UniquePath(dir, name, validatedExt string) string {
	base, origExt := splitExt(name)
	origExt = strings.TrimPrefix(strings.ToLower(origExt), ".")

	ext := validatedExt
	if ext == "" {
		ext = origExt
	}
	ext = unsafeBaseChar.ReplaceAllString(ext, "_")
	if ext == "" {
		ext = "bin"
	}

	if utf8.RuneCountInString(base) < minBaseLength {
		base = "file"
	}
	base = unsafeBaseChar.ReplaceAllString(base, "_")

	suffix := "_" + randomHex(6) + "." + ext
	if len(base)+len(suffix) > MaxFilenameLength {
		base = base[:max(MaxFilenameLength-len(suffix), 1)]
	}
	return filepath.Join(dir, base+suffix)
}

// splitExt splits name at its last dot. A leading dot does not start an
// extension, so ".env" has none.
func splitExt(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || strings.Trim(name[:i], ".") == "" {
		return name, ""
	}
	return name[:i], name[i:]
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func randomHex(n int) string {
	buf := make([]byte, 64)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buf)
	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:])[:n]
}
