package documents

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

func assertSafeName(t *testing.T, input, got string) {
	t.Helper()
	if got == "" {
		t.Fatalf("SanitizeFilename(%q) returned empty string", input)
	}
	if len(got) > MaxFilenameLength {
		t.Fatalf("SanitizeFilename(%q) length %d exceeds %d", input, len(got), MaxFilenameLength)
	}
	if strings.ContainsAny(got, `/\`) {
		t.Fatalf("SanitizeFilename(%q) = %q contains a path separator", input, got)
	}
	if got == "." || got == ".." {
		t.Fatalf("SanitizeFilename(%q) = %q is a relative path component", input, got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("SanitizeFilename(%q) = %q is not valid UTF-8", input, got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "photo.png", "photo.png"},
		{"percent encoded", "my%20scan.jpg", "my_scan.jpg"},
		{"hostile characters", `a<b>c:d"e|f?g*h.png`, "a_b_c_d_e_f_g_h.png"},
		{"whitespace runs", "two   words\there.tiff", "two_words_here.tiff"},
		{"trailing dots", "report...", "report"},
		{"encoded separator", "..%2F..%2Fetc%2Fpasswd", ".._.._etc_passwd"},
		{"invalid escape kept", "100%zz.png", "100%zz.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			assertSafeName(t, tt.input, got)
		})
	}
}

func TestSanitizeFilename_Totality(t *testing.T) {
	unnamed := regexp.MustCompile(`^unnamed_[0-9a-f]{8}$`)
	inputs := []string{
		"",
		"/",
		"////",
		`\\\`,
		"...",
		".",
		"..",
		"   ",
		"%2F%2F",
		strings.Repeat("a", 1000),
		strings.Repeat("a", 1000) + ".jpeg",
		strings.Repeat("é", 300) + ".png",
		"x." + strings.Repeat("e", 400),
		strings.Repeat("/a", 200),
		"\x00\x01name",
		strings.Repeat("%80", 300),
		strings.Repeat("\x80", 300),
		strings.Repeat("\xff", 300) + ".png",
	}

	for _, input := range inputs {
		got := SanitizeFilename(input)
		assertSafeName(t, input, got)
	}

	for _, input := range []string{"/", "   "} {
		// Separators and blanks become placeholder characters, not an empty name.
		if got := SanitizeFilename(input); got != "_" {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", input, got, "_")
		}
	}

	for _, input := range []string{"", "...", ".", ".."} {
		got := SanitizeFilename(input)
		if !unnamed.MatchString(got) {
			t.Errorf("SanitizeFilename(%q) = %q, want unnamed_<8 hex>", input, got)
		}
	}
}

func TestSanitizeFilename_InvalidUTF8(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{strings.Repeat("%80", 300), "_"},
		{strings.Repeat("\x80", 300), "_"},
		{"scan\xffpage.png", "scan_page.png"},
	}
	for _, tt := range tests {
		got := SanitizeFilename(tt.input)
		if got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("SanitizeFilename(%q) returned invalid UTF-8 %q", tt.input, got)
		}
	}
}

func TestTruncateBytes_AllContinuationBytes(t *testing.T) {
	if got := truncateBytes(strings.Repeat("\x80", 10), 5); got != "" {
		t.Errorf("truncateBytes = %q, want empty", got)
	}
}

func TestSanitizeFilename_KeepsExtensionWhenTruncating(t *testing.T) {
	input := strings.Repeat("b", 600) + ".jpeg"
	got := SanitizeFilename(input)
	if len(got) != MaxFilenameLength {
		t.Errorf("Expected length %d, got %d", MaxFilenameLength, len(got))
	}
	if !strings.HasSuffix(got, ".jpeg") {
		t.Errorf("Expected .jpeg suffix to survive truncation, got %q", got[len(got)-10:])
	}
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://example.com/images/cat.png", "cat.png"},
		{"https://example.com/images/my%20cat.png?x=1", "my_cat.png"},
		{"https://cdn.example.com/", "cdn.bin"},
		{"https://cdn.example.com", "cdn.bin"},
		{"http://host/dir/", "host.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := FilenameFromURL(tt.url); got != tt.expected {
				t.Errorf("FilenameFromURL(%q) = %q, want %q", tt.url, got, tt.expected)
			}
		})
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	pattern := regexp.MustCompile(`^([A-Za-z0-9_-]+)_([0-9a-f]{6})\.([A-Za-z0-9_-]+)$`)

	tests := []struct {
		name     string
		file     string
		ext      string
		wantBase string
		wantExt  string
	}{
		{"validated extension wins", "scan.jpg", "png", "scan", "png"},
		{"original extension fallback", "scan.TIFF", "", "scan", "tiff"},
		{"no extension at all", "scan", "", "scan", "bin"},
		{"short base", "ab.png", "png", "file", "png"},
		{"unsafe characters", "año 2024.jpg", "jpg", "a_o_2024", "jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UniquePath(dir, tt.file, tt.ext)
			if filepath.Dir(got) != dir {
				t.Fatalf("UniquePath placed file outside %s: %s", dir, got)
			}
			m := pattern.FindStringSubmatch(filepath.Base(got))
			if m == nil {
				t.Fatalf("UniquePath(%q) = %q does not match <base>_<6hex>.<ext>", tt.file, got)
			}
			if m[1] != tt.wantBase {
				t.Errorf("base = %q, want %q", m[1], tt.wantBase)
			}
			if m[3] != tt.wantExt {
				t.Errorf("ext = %q, want %q", m[3], tt.wantExt)
			}
		})
	}
}

func TestUniquePath_NoCollisions(t *testing.T) {
	dir := t.TempDir()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		p := UniquePath(dir, "image.png", "png")
		if seen[p] {
			t.Fatalf("UniquePath produced a duplicate after %d calls: %s", i, p)
		}
		seen[p] = true
	}
}

func TestUniquePath_BoundedLength(t *testing.T) {
	p := UniquePath(t.TempDir(), strings.Repeat("z", 400)+".png", "png")
	if n := len(filepath.Base(p)); n > MaxFilenameLength {
		t.Errorf("UniquePath base length %d exceeds %d", n, MaxFilenameLength)
	}
}
