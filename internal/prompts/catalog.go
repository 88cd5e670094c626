package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

//go:embed catalog/*.toml
var catalogFS embed.FS

// DefaultLocale is used when a user's language is not supported.
const DefaultLocale = "en"

type catalogFile struct {
	Locale   string            `toml:"locale"`
	Labels   map[string]string `toml:"labels"`
	Messages map[string]string `toml:"messages"`
	Errors   map[string]string `toml:"errors"`
}

type bundle struct {
	labels map[string]string
	texts  map[string]string
}

// Catalog holds localized texts for every supported locale.
type Catalog struct {
	locales []string
	bundles map[string]bundle
	matcher language.Matcher
	// labelIndex maps any localized label back to its key.
	labelIndex map[string]string
}

// Load reads the embedded catalog.
func Load() (*Catalog, error) {
	return loadFS(catalogFS, "catalog")
}

func loadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c := &Catalog{bundles: make(map[string]bundle), labelIndex: make(map[string]string)}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".toml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", entry.Name(), err)
		}
		var file catalogFile
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", entry.Name(), err)
		}
		locale := strings.TrimSpace(file.Locale)
		if locale == "" {
			locale = strings.TrimSuffix(entry.Name(), ".toml")
		}
		texts := make(map[string]string, len(file.Messages)+len(file.Errors))
		for k, v := range file.Messages {
			texts[k] = v
		}
		for k, v := range file.Errors {
			texts[k] = v
		}
		c.bundles[locale] = bundle{labels: file.Labels, texts: texts}
		c.locales = append(c.locales, locale)
		for key, label := range file.Labels {
			c.labelIndex[normalizeLabel(label)] = key
		}
	}
	if _, ok := c.bundles[DefaultLocale]; !ok {
		return nil, fmt.Errorf("catalog is missing the %q locale", DefaultLocale)
	}

	// The default locale must come first so the matcher falls back to it.
	slices.Sort(c.locales)
	c.locales = slices.DeleteFunc(c.locales, func(l string) bool { return l == DefaultLocale })
	c.locales = append([]string{DefaultLocale}, c.locales...)
	tags := make([]language.Tag, 0, len(c.locales))
	for _, l := range c.locales {
		tags = append(tags, language.Make(l))
	}
	c.matcher = language.NewMatcher(tags)
	return c, nil
}

// Locales lists the supported locales, default first.
func (c *Catalog) Locales() []string {
	return slices.Clone(c.locales)
}

// Locale maps a user's language code (e.g. "ru-RU", "en") to a supported
// locale.
func (c *Catalog) Locale(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return DefaultLocale
	}
	if _, ok := c.bundles[code]; ok {
		return code
	}
	tag, err := language.Parse(code)
	if err != nil {
		return DefaultLocale
	}
	_, idx, confidence := c.matcher.Match(tag)
	if confidence == language.No {
		return DefaultLocale
	}
	return c.locales[idx]
}

// Label returns the localized button label for key.
func (c *Catalog) Label(locale, key string) string {
	if text, ok := c.lookup(locale, key, true); ok {
		return text
	}
	return key
}

// Text returns the localized message for key with {name} placeholders
// substituted from args.
func (c *Catalog) Text(locale, key string, args map[string]string) string {
	text, ok := c.lookup(locale, key, false)
	if !ok {
		return ""
	}
	if len(args) == 0 {
		return text
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// MatchLabel maps user text to a label key in any supported locale.
func (c *Catalog) MatchLabel(text string) (string, bool) {
	key, ok := c.labelIndex[normalizeLabel(text)]
	return key, ok
}

// Render localizes p.
func (c *Catalog) Render(p Prompt) Rendered {
	locale := p.Locale
	if _, ok := c.bundles[locale]; !ok {
		locale = DefaultLocale
	}
	out := Rendered{
		UserID:     p.UserID,
		Key:        p.Key,
		Text:       c.Text(locale, p.Key, p.Args),
		Attachment: p.Attachment,
	}
	if len(p.Keyboard) > 0 {
		out.Keyboard = make([][]string, len(p.Keyboard))
		for i, row := range p.Keyboard {
			out.Keyboard[i] = make([]string, len(row))
			for j, key := range row {
				out.Keyboard[i][j] = c.Label(locale, key)
			}
		}
	}
	if p.Link != nil {
		out.LinkLabel = c.Label(locale, p.Link.LabelKey)
		out.LinkURL = p.Link.URL
	}
	return out
}

func (c *Catalog) lookup(locale, key string, label bool) (string, bool) {
	for _, l := range []string{locale, DefaultLocale} {
		b, ok := c.bundles[l]
		if !ok {
			continue
		}
		table := b.texts
		if label {
			table = b.labels
		}
		if text, ok := table[key]; ok {
			return text, true
		}
	}
	return "", false
}

func normalizeLabel(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
