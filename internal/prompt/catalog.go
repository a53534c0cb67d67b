// Package prompt holds the supported language catalog and renders the tutor
// persona for a language pair.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var defaultCatalog []byte

// Language is one selectable language
type Language struct {
	Code       string `yaml:"code" json:"code"`
	Name       string `yaml:"name" json:"name"`
	NativeName string `yaml:"native_name" json:"nativeName"`
}

// Catalog is the set of supported languages and the system prompt template
type Catalog struct {
	Languages    []Language `yaml:"languages"`
	SystemPrompt string     `yaml:"system_prompt"`

	byCode map[string]Language
	tmpl   *template.Template
}

// Default returns the built-in catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or the built-in catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read languages file %s: %w", path, err)
	}

	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("languages file %s: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}
	return &c, nil
}

// Validate checks the catalog and prepares lookups
func (c *Catalog) Validate() error {
	if len(c.Languages) == 0 {
		return fmt.Errorf("at least one language is required")
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("system_prompt cannot be empty")
	}

	c.byCode = make(map[string]Language, len(c.Languages))
	for i, lang := range c.Languages {
		code := strings.ToLower(strings.TrimSpace(lang.Code))
		if code == "" {
			return fmt.Errorf("language %d: code cannot be empty", i)
		}
		if lang.Name == "" {
			return fmt.Errorf("language %s: name cannot be empty", code)
		}
		if _, dup := c.byCode[code]; dup {
			return fmt.Errorf("language %s: duplicate code", code)
		}
		lang.Code = code
		c.Languages[i] = lang
		c.byCode[code] = lang
	}

	tmpl, err := template.New("system_prompt").Option("missingkey=error").Parse(c.SystemPrompt)
	if err != nil {
		return fmt.Errorf("system_prompt: %w", err)
	}
	c.tmpl = tmpl
	return nil
}

// Lookup finds a language by code, case-insensitively
func (c *Catalog) Lookup(code string) (Language, bool) {
	lang, ok := c.byCode[strings.ToLower(strings.TrimSpace(code))]
	return lang, ok
}

// UnsupportedLanguageError reports a language code missing from the catalog
type UnsupportedLanguageError struct {
	Code string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language %q", e.Code)
}

// Pair is a resolved native/target language pair
type Pair struct {
	Native Language
	Target Language
}

// Resolve validates a native/target pair
func (c *Catalog) Resolve(native, target string) (Pair, error) {
	n, ok := c.Lookup(native)
	if !ok {
		return Pair{}, &UnsupportedLanguageError{Code: native}
	}
	t, ok := c.Lookup(target)
	if !ok {
		return Pair{}, &UnsupportedLanguageError{Code: target}
	}
	if n.Code == t.Code {
		return Pair{}, fmt.Errorf("native and target language are both %s", n.Name)
	}
	return Pair{Native: n, Target: t}, nil
}

// Build renders the system prompt for a language pair
func (c *Catalog) Build(native, target string) (string, error) {
	pair, err := c.Resolve(native, target)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, pair); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
