package documents

import (
	"bytes"
)

type signature struct {
	prefix    []byte
	mediaType string
	minLength int
}

// riffWildcard marks bytes 4..7 of a RIFF header (the chunk size), which
// vary per file and are skipped during matching.
const riffWildcard = 4

// signatures is checked in order; the first match wins.
var signatures = []signature{
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg", 3},
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, "image/png", 8},
	{[]byte("GIF87a"), "image/gif", 6},
	{[]byte("GIF89a"), "image/gif", 6},
	{[]byte("RIFF....WEBP"), "image/webp", 12},
	{[]byte{0x42, 0x4D}, "image/bmp", 2},
	{[]byte{0x49, 0x49, 0x2A, 0x00}, "image/tiff", 4},
	{[]byte{0x4D, 0x4D, 0x00, 0x2A}, "image/tiff", 4},
}

var mediaExtensions = map[string]string{
	"image/jpeg":               "jpg",
	"image/png":                "png",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/bmp":                "bmp",
	"image/tiff":               "tiff",
	"application/octet-stream": "bin",
}

// MaxSignatureLength is the number of bytes needed to evaluate every known
// signature.
var MaxSignatureLength = func() int {
	n := 0
	for _, s := range signatures {
		n = max(n, s.minLength)
	}
	return n
}()

// MinSignatureLength is the shortest buffer that can match any signature.
var MinSignatureLength = func() int {
	n := signatures[0].minLength
	for _, s := range signatures {
		n = min(n, s.minLength)
	}
	return n
}()

// DetectImageType determines the media type and file extension of raw image
// bytes by checking magic bytes. It returns empty strings when no signature
// matches, including for buffers too short to match anything.
func DetectImageType(data []byte) (mediaType, ext string) {
	if len(data) < MinSignatureLength {
		return "", ""
	}
	for _, sig := range signatures {
		if len(data) < sig.minLength {
			continue
		}
		if matchSignature(data, sig) {
			return sig.mediaType, ExtensionFor(sig.mediaType)
		}
	}
	return "", ""
}

func matchSignature(data []byte, sig signature) bool {
	if sig.mediaType == "image/webp" {
		return bytes.HasPrefix(data, sig.prefix[:riffWildcard]) &&
			bytes.Equal(data[8:12], sig.prefix[8:12])
	}
	return bytes.HasPrefix(data, sig.prefix)
}

// ExtensionFor maps a media type to the extension used for staged files.
// Unknown types map to "bin".
func ExtensionFor(mediaType string) string {
	if ext, ok := mediaExtensions[mediaType]; ok {
		return ext
	}
	return "bin"
}

// IsPDF checks for the %PDF header
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// DetectImageOrPDF behaves like DetectImageType but also accepts PDF
// documents, which the batch pipeline expands into page images.
func DetectImageOrPDF(data []byte) (mediaType, ext string) {
	if IsPDF(data) {
		return "application/pdf", "pdf"
	}
	return DetectImageType(data)
}

// DetectDocumentType classifies data as "pdf", an image extension, or
// "unknown".
func DetectDocumentType(data []byte) string {
	if IsPDF(data) {
		return "pdf"
	}
	if _, ext := DetectImageType(data); ext != "" {
		return ext
	}
	return "unknown"
}
