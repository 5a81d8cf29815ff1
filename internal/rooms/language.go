package rooms

import (
	"sort"
	"strings"
)

// DefaultLanguage is the tag assigned to rooms created without one and the
// fallback for unknown tags.
const DefaultLanguage = "javascript"

// Language describes an editor language a room can be set to.
type Language struct {
	Tag        string `json:"tag"`
	Label      string `json:"label"`
	Mode       string `json:"mode"`
	TypeScript bool   `json:"typescript,omitempty"`
}

var languageTable = map[string]Language{
	"javascript": {Tag: "javascript", Label: "JavaScript", Mode: "javascript"},
	"typescript": {Tag: "typescript", Label: "TypeScript", Mode: "javascript", TypeScript: true},
	"python":     {Tag: "python", Label: "Python", Mode: "python"},
	"java":       {Tag: "java", Label: "Java", Mode: "java"},
	"cpp":        {Tag: "cpp", Label: "C++", Mode: "cpp"},
	"html":       {Tag: "html", Label: "HTML", Mode: "html"},
	"css":        {Tag: "css", Label: "CSS", Mode: "css"},
	"json":       {Tag: "json", Label: "JSON", Mode: "json"},
	"markdown":   {Tag: "markdown", Label: "Markdown", Mode: "markdown"},
	"rust":       {Tag: "rust", Label: "Rust", Mode: "rust"},
	"go":         {Tag: "go", Label: "Go", Mode: "go"},
	"php":        {Tag: "php", Label: "PHP", Mode: "php"},
}

var languageAliases = map[string]string{
	"c":  "cpp",
	"md": "markdown",
}

// NormalizeLanguageTag lowercases and trims a tag. Empty tags become DefaultLanguage;
// unknown tags are kept so that clients with a larger table round-trip them.
func NormalizeLanguageTag(tag string) string {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	if normalized == "" {
		return DefaultLanguage
	}
	return normalized
}

// LookupLanguage resolves a tag, following aliases. Unknown tags resolve to the
// default language and report false.
func LookupLanguage(tag string) (Language, bool) {
	normalized := NormalizeLanguageTag(tag)
	if language, ok := languageTable[normalized]; ok {
		return language, true
	}
	if target, ok := languageAliases[normalized]; ok {
		language := languageTable[target]
		language.Tag = normalized
		return language, true
	}
	return languageTable[DefaultLanguage], false
}

// Languages lists the registered languages ordered by tag.
func Languages() []Language {
	languages := make([]Language, 0, len(languageTable))
	for _, language := range languageTable {
		languages = append(languages, language)
	}
	sort.Slice(languages, func(i, j int) bool {
		return languages[i].Tag < languages[j].Tag
	})
	return languages
}
