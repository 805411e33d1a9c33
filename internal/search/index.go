// Package search builds a read-only keyword index over a content model.
//
// An Index is derived from exactly one content.Model and is never updated in
// place; a reload builds a new one. Matching is exact first (plugin name or
// command), then substring (name, command, description, category name).
// Scores are fixed per match kind and ties keep declaration order, so the
// same query against the same model always yields the same slice.
package search

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/conneroisu/helpdeck/internal/content"
)

// Scores per match kind. A plugin takes the score of its best match.
const (
	ScoreExactName    = 100
	ScoreExactCommand = 90
	ScoreName         = 60
	ScoreCommand      = 50
	ScoreDesc         = 30
	ScoreCategory     = 20
)

// MatchKind names what part of a plugin matched.
type MatchKind string

const (
	MatchExactName    MatchKind = "exact_name"
	MatchExactCommand MatchKind = "exact_command"
	MatchName         MatchKind = "name"
	MatchCommand      MatchKind = "command"
	MatchDesc         MatchKind = "description"
	MatchCategory     MatchKind = "category"
)

// DefaultMemoSize is how many distinct queries an index remembers.
const DefaultMemoSize = 256

// Result is one matching plugin.
type Result struct {
	Ref            content.Ref    `json:"-" yaml:"-"`
	Category       string         `json:"category" yaml:"category"`
	Plugin         content.Plugin `json:"plugin" yaml:"plugin"`
	Score          int            `json:"score" yaml:"score"`
	Match          MatchKind      `json:"match" yaml:"match"`
	MatchedCommand string         `json:"matched_command,omitempty" yaml:"matched_command,omitempty"`
}

func (r Result) clone() Result {
	r.Plugin.Commands = append([]string(nil), r.Plugin.Commands...)
	return r
}

type entry struct {
	ref      content.Ref
	category string
	plugin   content.Plugin

	name     string
	desc     string
	commands []string
	catName  string
}

// Index answers keyword queries for one model.
type Index struct {
	model   *content.Model
	entries []entry

	exactName map[string][]int
	exactCmd  map[string][]int
	grams     map[string][]int

	memo *lru.Cache
}

// Build indexes every plugin of m in one pass.
func Build(m *content.Model) *Index {
	return BuildWithMemo(m, DefaultMemoSize)
}

// BuildWithMemo is Build with an explicit query memo size. A size below one
// disables the memo.
func BuildWithMemo(m *content.Model, memoSize int) *Index {
	idx := &Index{
		model:     m,
		entries:   make([]entry, 0, m.NumPlugins()),
		exactName: make(map[string][]int),
		exactCmd:  make(map[string][]int),
		grams:     make(map[string][]int),
	}

	m.Walk(func(r content.Ref, c content.Category, p content.Plugin) {
		id := len(idx.entries)
		e := entry{
			ref:      r,
			category: c.Name,
			plugin:   p,
			name:     Normalize(p.Name),
			desc:     Normalize(p.Desc),
			catName:  Normalize(c.Name),
		}
		for _, cmd := range p.Commands {
			e.commands = append(e.commands, Normalize(cmd))
		}
		idx.entries = append(idx.entries, e)

		idx.exactName[e.name] = appendID(idx.exactName[e.name], id)
		for _, cmd := range e.commands {
			idx.exactCmd[cmd] = appendID(idx.exactCmd[cmd], id)
		}

		fields := append([]string{e.name, e.desc, e.catName}, e.commands...)
		for _, f := range fields {
			for _, g := range grams(f) {
				idx.grams[g] = appendID(idx.grams[g], id)
			}
		}
	})

	if memoSize > 0 {
		if memo, err := lru.New(memoSize); err == nil {
			idx.memo = memo
		}
	}
	return idx
}

// appendID adds id to a posting list. Ids arrive in increasing order, so the
// last element is the only possible duplicate.
func appendID(list []int, id int) []int {
	if n := len(list); n > 0 && list[n-1] == id {
		return list
	}
	return append(list, id)
}

// grams returns the distinct unigrams and bigrams of s, by rune.
func grams(s string) []string {
	rs := []rune(s)
	seen := make(map[string]struct{}, 2*len(rs))
	out := make([]string, 0, 2*len(rs))
	add := func(g string) {
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	for i := range rs {
		add(string(rs[i]))
		if i+1 < len(rs) {
			add(string(rs[i : i+2]))
		}
	}
	return out
}

// queryGrams returns the grams every field containing q must also contain.
func queryGrams(q string) []string {
	rs := []rune(q)
	if len(rs) == 1 {
		return []string{q}
	}
	out := make([]string, 0, len(rs)-1)
	for i := 0; i+1 < len(rs); i++ {
		out = append(out, string(rs[i:i+2]))
	}
	return out
}

// Model returns the model the index was built from.
func (idx *Index) Model() *content.Model {
	return idx.model
}

// Len returns the number of indexed plugins.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Search returns matching plugins, best first. A blank query or no match
// yields an empty slice.
func (idx *Index) Search(query string) []Result {
	q := Normalize(query)
	if q == "" {
		return []Result{}
	}

	if idx.memo != nil {
		if v, ok := idx.memo.Get(q); ok {
			return cloneResults(v.([]Result))
		}
	}

	results := idx.search(q)
	if idx.memo != nil {
		idx.memo.Add(q, results)
	}
	return cloneResults(results)
}

func (idx *Index) search(q string) []Result {
	best := make(map[int]Result)
	consider := func(id int, score int, kind MatchKind, cmd string) {
		if cur, ok := best[id]; ok && cur.Score >= score {
			return
		}
		e := idx.entries[id]
		best[id] = Result{
			Ref:            e.ref,
			Category:       e.category,
			Plugin:         e.plugin,
			Score:          score,
			Match:          kind,
			MatchedCommand: cmd,
		}
	}

	for _, id := range idx.exactName[q] {
		consider(id, ScoreExactName, MatchExactName, "")
	}
	for _, id := range idx.exactCmd[q] {
		consider(id, ScoreExactCommand, MatchExactCommand, idx.commandFor(id, q, true))
	}

	for _, id := range idx.candidates(q) {
		e := idx.entries[id]
		switch {
		case strings.Contains(e.name, q):
			consider(id, ScoreName, MatchName, "")
		case idx.commandFor(id, q, false) != "":
			consider(id, ScoreCommand, MatchCommand, idx.commandFor(id, q, false))
		case strings.Contains(e.desc, q):
			consider(id, ScoreDesc, MatchDesc, "")
		case strings.Contains(e.catName, q):
			consider(id, ScoreCategory, MatchCategory, "")
		}
	}

	results := make([]Result, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Ref.Less(results[j].Ref)
	})
	return results
}

// commandFor returns the original spelling of the first command of entry id
// that equals (exact) or contains q.
func (idx *Index) commandFor(id int, q string, exact bool) string {
	e := idx.entries[id]
	for i, c := range e.commands {
		if (exact && c == q) || (!exact && strings.Contains(c, q)) {
			return e.plugin.Commands[i]
		}
	}
	return ""
}

// candidates intersects the posting lists of the query grams. Every entry
// with a field containing q is returned; some returned entries may not match.
func (idx *Index) candidates(q string) []int {
	qg := queryGrams(q)

	lists := make([][]int, 0, len(qg))
	for _, g := range qg {
		list, ok := idx.grams[g]
		if !ok {
			return nil
		}
		lists = append(lists, list)
	}
	sort.Slice(lists, func(i, j int) bool { return len(lists[i]) < len(lists[j]) })

	out := append([]int(nil), lists[0]...)
	for _, list := range lists[1:] {
		out = intersect(out, list)
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

func intersect(a, b []int) []int {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func cloneResults(in []Result) []Result {
	out := make([]Result, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}

// Refs returns the refs of results in result order.
func Refs(results []Result) []content.Ref {
	refs := make([]content.Ref, len(results))
	for i, r := range results {
		refs[i] = r.Ref
	}
	return refs
}
