package prompts

import (
	"fmt"
	"strings"
)

// Format is the output shape requested from the model.
type Format int

const (
	Text Format = iota
	Markdown
	JSON
	Structured
	KeyValue
	Table
)

var formatNames = map[Format]string{
	Text:       "text",
	Markdown:   "markdown",
	JSON:       "json",
	Structured: "structured",
	KeyValue:   "key_value",
	Table:      "table",
}

// Formats lists every format in a stable order.
var Formats = []Format{Markdown, Text, JSON, Structured, KeyValue, Table}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return formatNames[Text]
}

// ParseFormat maps an identifier to its Format. Unknown or empty identifiers
// select Text.
func ParseFormat(s string) Format {
	name := strings.ToLower(strings.TrimSpace(s))
	for f, n := range formatNames {
		if n == name {
			return f
		}
	}
	return Text
}

// Known reports whether s names one of the formats.
func Known(s string) bool {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, n := range formatNames {
		if n == name {
			return true
		}
	}
	return false
}

var templates = map[Format]string{
	Markdown: `Extract all text content from this image in %s **exactly as it appears**, without modification, summarization, or omission.
Format the output in markdown:
- Use headers (#, ##, ###) **only if they appear in the image**
- Preserve original lists (-, *, numbered lists) as they are
- Maintain all text formatting (bold, italics, underlines) exactly as seen
- **Do not add, interpret, or restructure any content**`,

	Text: `Extract all visible text from this image in %s **without any changes**.
- **Do not summarize, paraphrase, or infer missing text.**
- Retain all spacing, punctuation, and formatting exactly as in the image.
- If text is unclear or partially visible, extract as much as possible without guessing.
- **Include all text, even if it seems irrelevant or repeated.**`,

	JSON: `Extract all text from this image in %s and format it as JSON, **strictly preserving** the structure.
- **Do not summarize, add, or modify any text.**
- Maintain hierarchical sections and subsections as they appear.
- Use keys that reflect the document's actual structure (e.g., "title", "body", "footer").
- Include all text, even if fragmented, blurry, or unclear.`,

	Structured: `Extract all text from this image in %s, **ensuring complete structural accuracy**:
- Identify and format tables **without altering content**.
- Preserve list structures (bulleted, numbered) **exactly as shown**.
- Maintain all section headings, indents, and alignments.
- **Do not add, infer, or restructure the content in any way.**`,

	KeyValue: `Extract all key-value pairs from this image in %s **exactly as they appear**:
- Identify and extract labels and their corresponding values without modification.
- Maintain the exact wording, punctuation, and order.
- Format each pair as 'key: value' **only if clearly structured that way in the image**.
- **Do not infer missing values or add any extra text.**`,

	Table: `Extract all tabular data from this image in %s **exactly as it appears**, without modification, summarization, or omission.
- **Preserve the table structure** (rows, columns, headers) as closely as possible.
- **Do not add missing values or infer content**: if a cell is empty, leave it empty.
- Maintain all numerical, textual, and special character formatting.
- If the table contains merged cells, indicate them clearly without altering their meaning.
- Output the table in a structured format such as Markdown, CSV, or JSON, based on the intended use.`,
}

// Template renders the built-in instruction for f in the given language.
func Template(f Format, language string) string {
	tmpl, ok := templates[f]
	if !ok {
		tmpl = templates[Text]
	}
	if strings.TrimSpace(language) == "" {
		language = "en"
	}
	return fmt.Sprintf(tmpl, language)
}

// Select returns custom when it has any non-whitespace content, otherwise the
// built-in template for f.
func Select(f Format, language, custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return Template(f, language)
}
