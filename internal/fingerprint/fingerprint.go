// Package fingerprint derives cache keys for rendered help views.
//
// A key is a blake3 sum over a canonical serialization of everything that
// can change the rendered pixels: the content digest, the view being
// rendered, the theme, and the render target (renderer command and output
// settings). Nothing address- or time-dependent enters the hash, so keys are
// stable across calls and across process restarts.
package fingerprint

import (
	"encoding/hex"
	"fmt"
)

// Key is an opaque, fixed-size cache key.
type Key [Size]byte

// String returns the lowercase hex form of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns the first 16 hex characters, enough for file names and logs.
func (k Key) Short() string {
	return k.String()[:16]
}

// ParseKey decodes the hex form produced by String.
func ParseKey(s string) (Key, error) {
	d, err := ParseDigest(s)
	if err != nil {
		return Key{}, fmt.Errorf("parse key: %w", err)
	}
	return Key(d), nil
}

// ViewKind selects which logical view is rendered.
type ViewKind uint8

const (
	ViewFullMenu ViewKind = iota + 1
	ViewSearchResult
	ViewCategoryList
)

// String returns the string representation of the ViewKind
func (k ViewKind) String() string {
	switch k {
	case ViewFullMenu:
		return "full_menu"
	case ViewSearchResult:
		return "search_result"
	case ViewCategoryList:
		return "category_list"
	default:
		return "unknown"
	}
}

// View identifies what is being rendered. Query is only meaningful for
// search results and must already be normalized.
type View struct {
	Kind  ViewKind
	Query string
}

// FullMenu selects the complete help menu.
func FullMenu() View {
	return View{Kind: ViewFullMenu}
}

// SearchResult selects the menu subset matching a normalized query.
func SearchResult(normalizedQuery string) View {
	return View{Kind: ViewSearchResult, Query: normalizedQuery}
}

// CategoryList selects the category listing.
func CategoryList() View {
	return View{Kind: ViewCategoryList}
}

// String returns a log-friendly description of the view.
func (v View) String() string {
	if v.Kind == ViewSearchResult {
		return fmt.Sprintf("%s(%q)", v.Kind, v.Query)
	}
	return v.Kind.String()
}

// WriteCanonical implements Canonical.
func (v View) WriteCanonical(w *Writer) {
	w.Uint(uint64(v.Kind))
	if v.Kind == ViewSearchResult {
		w.String(v.Query)
	}
}

// Compute derives the cache key for rendering view of the content identified
// by digest with the given theme on the given render target.
func Compute(digest Digest, view View, theme Canonical, target string) Key {
	w := NewWriter("helpdeck/render-key/v1")
	w.String(digest.String())
	w.Value(view)
	if theme != nil {
		w.Bool(true)
		w.Value(theme)
	} else {
		w.Bool(false)
	}
	w.String(target)
	return Key(w.Sum())
}
