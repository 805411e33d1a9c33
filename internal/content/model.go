// Package content holds the immutable help-content model: title, theme and
// the ordered category/plugin/command tree a help menu is rendered from.
//
// A Model is built once from a Document and never mutated afterwards. Reloads
// produce a new Model; callers swap pointers, never fields. Slice accessors
// return copies so no caller can reach into a live snapshot.
package content

import (
	"strings"
	"time"

	"github.com/conneroisu/helpdeck/internal/fingerprint"
)

// Defaults applied when the content file leaves a field unset.
const (
	DefaultTitle        = "📚 帮助中心"
	DefaultSubtitle     = "Command Reference"
	DefaultFooter       = "Powered by Kovi Framework"
	DefaultCategoryIcon = "📦"
	DefaultPluginIcon   = "⚡"
	DefaultPrimary      = "#6366f1"
	DefaultBgStart      = "#e0e7ff"
	DefaultBgEnd        = "#fdf4ff"
	DefaultCardOpacity  = 0.85
)

// DefaultTriggers are the words that open the full menu.
var DefaultTriggers = []string{"help", "帮助", "菜单", "menu", "指令", "功能"}

// Theme holds the presentation parameters that reach the rendered image.
type Theme struct {
	Primary     string  `json:"primary" yaml:"primary"`
	BgStart     string  `json:"bg_start" yaml:"bg_start"`
	BgEnd       string  `json:"bg_end" yaml:"bg_end"`
	CardOpacity float64 `json:"card_opacity" yaml:"card_opacity"`
}

// DefaultTheme returns the stock indigo theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:     DefaultPrimary,
		BgStart:     DefaultBgStart,
		BgEnd:       DefaultBgEnd,
		CardOpacity: DefaultCardOpacity,
	}
}

// WriteCanonical implements fingerprint.Canonical.
func (t Theme) WriteCanonical(w *fingerprint.Writer) {
	w.String(t.Primary)
	w.String(t.BgStart)
	w.String(t.BgEnd)
	w.Float(t.CardOpacity)
}

// Plugin is one entry inside a category. Commands may be empty.
type Plugin struct {
	Name     string   `json:"name" yaml:"name"`
	Desc     string   `json:"desc,omitempty" yaml:"desc,omitempty"`
	Icon     string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Commands []string `json:"commands" yaml:"commands"`
}

// DisplayIcon returns the icon to draw, falling back to the default.
func (p Plugin) DisplayIcon() string {
	if p.Icon == "" {
		return DefaultPluginIcon
	}
	return p.Icon
}

func (p Plugin) clone() Plugin {
	p.Commands = append([]string(nil), p.Commands...)
	return p
}

// Category groups plugins under a heading. Color, when set, overrides the
// theme primary for that section.
type Category struct {
	Name    string   `json:"name" yaml:"name"`
	Icon    string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Color   string   `json:"color,omitempty" yaml:"color,omitempty"`
	Plugins []Plugin `json:"plugins" yaml:"plugins"`
}

// DisplayIcon returns the icon to draw, falling back to the default.
func (c Category) DisplayIcon() string {
	if c.Icon == "" {
		return DefaultCategoryIcon
	}
	return c.Icon
}

func (c Category) clone() Category {
	plugins := make([]Plugin, len(c.Plugins))
	for i, p := range c.Plugins {
		plugins[i] = p.clone()
	}
	c.Plugins = plugins
	return c
}

// Ref addresses a plugin by declaration position. It is a lookup key into
// the Model that produced it, never an owner.
type Ref struct {
	Category int
	Plugin   int
}

// Less orders refs by declaration order.
func (r Ref) Less(o Ref) bool {
	if r.Category != o.Category {
		return r.Category < o.Category
	}
	return r.Plugin < o.Plugin
}

// Model is an immutable snapshot of the help content.
type Model struct {
	title      string
	subtitle   string
	footer     string
	triggers   []string
	theme      Theme
	categories []Category

	generation uint64
	digest     fingerprint.Digest
	loadedAt   time.Time
	origin     string
}

// Title returns the menu heading.
func (m *Model) Title() string { return m.title }

// Subtitle returns the configured subtitle, possibly empty.
func (m *Model) Subtitle() string { return m.subtitle }

// DisplaySubtitle returns the subtitle to draw.
func (m *Model) DisplaySubtitle() string {
	if m.subtitle == "" {
		return DefaultSubtitle
	}
	return m.subtitle
}

// Footer returns the footer line.
func (m *Model) Footer() string { return m.footer }

// Theme returns the presentation theme.
func (m *Model) Theme() Theme { return m.theme }

// Triggers returns the trigger words in declaration order.
func (m *Model) Triggers() []string {
	return append([]string(nil), m.triggers...)
}

// IsTrigger reports whether text (already trimmed) is one of the trigger
// words, ignoring case.
func (m *Model) IsTrigger(text string) bool {
	for _, t := range m.triggers {
		if strings.EqualFold(t, text) {
			return true
		}
	}
	return false
}

// Categories returns a deep copy of the category tree.
func (m *Model) Categories() []Category {
	out := make([]Category, len(m.categories))
	for i, c := range m.categories {
		out[i] = c.clone()
	}
	return out
}

// CategoryNames returns category names in declaration order.
func (m *Model) CategoryNames() []string {
	names := make([]string, len(m.categories))
	for i, c := range m.categories {
		names[i] = c.Name
	}
	return names
}

// NumCategories returns the number of categories.
func (m *Model) NumCategories() int { return len(m.categories) }

// NumPlugins returns the number of plugins across all categories.
func (m *Model) NumPlugins() int {
	n := 0
	for _, c := range m.categories {
		n += len(c.Plugins)
	}
	return n
}

// Lookup resolves a Ref to copies of its category (without plugins) and
// plugin.
func (m *Model) Lookup(r Ref) (Category, Plugin, bool) {
	if r.Category < 0 || r.Category >= len(m.categories) {
		return Category{}, Plugin{}, false
	}
	c := m.categories[r.Category]
	if r.Plugin < 0 || r.Plugin >= len(c.Plugins) {
		return Category{}, Plugin{}, false
	}
	p := c.Plugins[r.Plugin].clone()
	c.Plugins = nil
	return c, p, true
}

// Walk calls fn for every plugin in declaration order. The values passed are
// copies.
func (m *Model) Walk(fn func(r Ref, c Category, p Plugin)) {
	for ci, c := range m.categories {
		head := c
		head.Plugins = nil
		for pi, p := range c.Plugins {
			fn(Ref{Category: ci, Plugin: pi}, head, p.clone())
		}
	}
}

// Subset returns a copy of the model restricted to the given refs, grouped by
// category in first-appearance order and keeping the order of refs inside each
// group. Invalid refs are skipped. The subset keeps title, theme and footer and
// takes the given subtitle.
func (m *Model) Subset(refs []Ref, subtitle string) *Model {
	order := make([]int, 0)
	groups := make(map[int][]Plugin)
	for _, r := range refs {
		_, p, ok := m.Lookup(r)
		if !ok {
			continue
		}
		if _, seen := groups[r.Category]; !seen {
			order = append(order, r.Category)
		}
		groups[r.Category] = append(groups[r.Category], p)
	}

	cats := make([]Category, 0, len(order))
	for _, ci := range order {
		c := m.categories[ci]
		c.Plugins = groups[ci]
		cats = append(cats, c)
	}

	sub := *m
	sub.subtitle = subtitle
	sub.categories = cats
	sub.digest = sub.computeDigest()
	return &sub
}

// Generation returns the reload generation this model was installed as.
// Zero means the model was never installed.
func (m *Model) Generation() uint64 { return m.generation }

// WithGeneration returns a copy of m tagged with generation gen. The copy
// shares the immutable category data.
func (m *Model) WithGeneration(gen uint64) *Model {
	c := *m
	c.generation = gen
	return &c
}

// Digest identifies every render-relevant field of the model. Triggers are
// not part of it because they never reach the image.
func (m *Model) Digest() fingerprint.Digest { return m.digest }

// LoadedAt returns when the model was built.
func (m *Model) LoadedAt() time.Time { return m.loadedAt }

// Origin names where the model came from: a file path or "embedded".
func (m *Model) Origin() string { return m.origin }

func (m *Model) computeDigest() fingerprint.Digest {
	w := fingerprint.NewWriter("helpdeck/content/v1")
	w.String(m.title)
	w.String(m.subtitle)
	w.String(m.footer)
	w.Value(m.theme)
	w.List(len(m.categories))
	for _, c := range m.categories {
		w.String(c.Name)
		w.String(c.Icon)
		w.String(c.Color)
		w.List(len(c.Plugins))
		for _, p := range c.Plugins {
			w.String(p.Name)
			w.String(p.Desc)
			w.String(p.Icon)
			w.Strings(p.Commands)
		}
	}
	return w.Sum()
}
