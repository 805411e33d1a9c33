package content

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/conneroisu/helpdeck/internal/errors"
)

// Document is the decoded, not yet validated content file.
type Document struct {
	Title      string        `mapstructure:"title" yaml:"title"`
	Subtitle   string        `mapstructure:"subtitle" yaml:"subtitle,omitempty"`
	Footer     string        `mapstructure:"footer" yaml:"footer"`
	Triggers   []string      `mapstructure:"triggers" yaml:"triggers"`
	Theme      ThemeDoc      `mapstructure:"theme" yaml:"theme"`
	Categories []CategoryDoc `mapstructure:"category" yaml:"category"`
}

// ThemeDoc mirrors Theme with optional fields.
type ThemeDoc struct {
	Primary     string   `mapstructure:"primary" yaml:"primary,omitempty"`
	BgStart     string   `mapstructure:"bg_start" yaml:"bg_start,omitempty"`
	BgEnd       string   `mapstructure:"bg_end" yaml:"bg_end,omitempty"`
	CardOpacity *float64 `mapstructure:"card_opacity" yaml:"card_opacity,omitempty"`
}

// CategoryDoc is one [[category]] table.
type CategoryDoc struct {
	Name    string      `mapstructure:"name" yaml:"name"`
	Icon    string      `mapstructure:"icon" yaml:"icon,omitempty"`
	Color   string      `mapstructure:"color" yaml:"color,omitempty"`
	Plugins []PluginDoc `mapstructure:"plugins" yaml:"plugins"`
}

// PluginDoc is one [[category.plugins]] table.
type PluginDoc struct {
	Name     string   `mapstructure:"name" yaml:"name"`
	Desc     string   `mapstructure:"desc" yaml:"desc,omitempty"`
	Icon     string   `mapstructure:"icon" yaml:"icon,omitempty"`
	Commands []string `mapstructure:"commands" yaml:"commands"`
}

// Colors end up inside inline CSS, so only three shapes are accepted: hex,
// a bare color keyword, and rgb/hsl functions whose arguments hold no
// quotes, parentheses, semicolons or braces.
var colorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`),
	regexp.MustCompile(`^[a-zA-Z]{3,20}$`),
	regexp.MustCompile(`^(?i:rgba?|hsla?)\([0-9a-zA-Z.%,/+\- ]{1,64}\)$`),
}

const colorHint = "color must be hex (#6366f1), a color name or an rgb()/hsl() value"

// ValidColor reports whether v is an accepted CSS color.
func ValidColor(v string) bool {
	for _, re := range colorPatterns {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// Build validates doc, applies defaults and returns the resulting Model.
// Validation failures come back as a single config error listing every
// offending field.
func Build(doc Document, origin string) (*Model, error) {
	var vec errors.ValidationErrorCollection

	m := &Model{
		title:    strings.TrimSpace(doc.Title),
		subtitle: strings.TrimSpace(doc.Subtitle),
		footer:   strings.TrimSpace(doc.Footer),
		theme:    buildTheme(doc.Theme, &vec),
		loadedAt: time.Now(),
		origin:   origin,
	}
	if m.title == "" {
		m.title = DefaultTitle
	}
	if m.footer == "" {
		m.footer = DefaultFooter
	}

	m.triggers = buildTriggers(doc.Triggers, &vec)

	m.categories = make([]Category, 0, len(doc.Categories))
	for ci, cd := range doc.Categories {
		field := fmt.Sprintf("category[%d]", ci)
		c := Category{
			Name:  strings.TrimSpace(cd.Name),
			Icon:  strings.TrimSpace(cd.Icon),
			Color: strings.TrimSpace(cd.Color),
		}
		if c.Name == "" {
			vec.AddField(field+".name", cd.Name, "category name must not be empty")
		}
		if c.Color != "" && !ValidColor(c.Color) {
			vec.AddField(field+".color", cd.Color, colorHint)
		}

		c.Plugins = make([]Plugin, 0, len(cd.Plugins))
		for pi, pd := range cd.Plugins {
			p := Plugin{
				Name:     strings.TrimSpace(pd.Name),
				Desc:     strings.TrimSpace(pd.Desc),
				Icon:     strings.TrimSpace(pd.Icon),
				Commands: make([]string, 0, len(pd.Commands)),
			}
			if p.Name == "" {
				vec.AddField(fmt.Sprintf("%s.plugins[%d].name", field, pi), pd.Name, "plugin name must not be empty")
			}
			for _, cmd := range pd.Commands {
				if cmd = strings.TrimSpace(cmd); cmd != "" {
					p.Commands = append(p.Commands, cmd)
				}
			}
			c.Plugins = append(c.Plugins, p)
		}
		m.categories = append(m.categories, c)
	}

	if vec.HasErrors() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			"invalid help content", vec.ToHelpdeckError()).WithContext("origin", origin)
	}

	m.digest = m.computeDigest()
	return m, nil
}

func buildTheme(td ThemeDoc, vec *errors.ValidationErrorCollection) Theme {
	t := DefaultTheme()
	if v := strings.TrimSpace(td.Primary); v != "" {
		t.Primary = v
	}
	if v := strings.TrimSpace(td.BgStart); v != "" {
		t.BgStart = v
	}
	if v := strings.TrimSpace(td.BgEnd); v != "" {
		t.BgEnd = v
	}
	if td.CardOpacity != nil {
		t.CardOpacity = *td.CardOpacity
	}

	for _, c := range []struct{ field, value string }{
		{"theme.primary", t.Primary},
		{"theme.bg_start", t.BgStart},
		{"theme.bg_end", t.BgEnd},
	} {
		if !ValidColor(c.value) {
			vec.AddField(c.field, c.value, colorHint)
		}
	}
	if t.CardOpacity < 0 || t.CardOpacity > 1 {
		vec.AddField("theme.card_opacity", t.CardOpacity, "opacity must be between 0 and 1")
	}
	return t
}

// buildTriggers trims, drops blanks and removes case-insensitive duplicates,
// keeping the first spelling.
func buildTriggers(in []string, vec *errors.ValidationErrorCollection) []string {
	if len(in) == 0 {
		return append([]string(nil), DefaultTriggers...)
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		folded := strings.ToLower(t)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		vec.AddField("triggers", in, "at least one non-blank trigger is required")
	}
	return out
}

// ToDocument converts a model back to its document form. Defaults that Build
// filled in are written out explicitly.
func (m *Model) ToDocument() Document {
	opacity := m.theme.CardOpacity
	doc := Document{
		Title:    m.title,
		Subtitle: m.subtitle,
		Footer:   m.footer,
		Triggers: m.Triggers(),
		Theme: ThemeDoc{
			Primary:     m.theme.Primary,
			BgStart:     m.theme.BgStart,
			BgEnd:       m.theme.BgEnd,
			CardOpacity: &opacity,
		},
		Categories: make([]CategoryDoc, 0, len(m.categories)),
	}
	for _, c := range m.categories {
		cd := CategoryDoc{Name: c.Name, Icon: c.Icon, Color: c.Color}
		for _, p := range c.Plugins {
			cd.Plugins = append(cd.Plugins, PluginDoc{
				Name:     p.Name,
				Desc:     p.Desc,
				Icon:     p.Icon,
				Commands: append([]string(nil), p.Commands...),
			})
		}
		doc.Categories = append(doc.Categories, cd)
	}
	return doc
}
