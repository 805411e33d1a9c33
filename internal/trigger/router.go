// Package trigger maps chat lines onto help requests.
package trigger

import (
	"context"
	"strings"

	"github.com/conneroisu/helpdeck/internal/cache"
	"github.com/conneroisu/helpdeck/internal/help"
)

// Action is what a chat line asks for.
type Action string

const (
	ActionNone       Action = "none"
	ActionMenu       Action = "menu"
	ActionSearch     Action = "search"
	ActionCategories Action = "categories"
	ActionReload     Action = "reload"
)

// Fixed command words. Trigger words for the full menu come from the live
// content instead.
var (
	SearchPrefixes = []string{"帮助 ", "help ", "搜索 ", "search "}
	ReloadWords    = []string{"重载帮助", "reload help", "帮助重载"}
	CategoryWords  = []string{"分类", "分类列表", "categories"}
)

// Route is the decoded intent of one chat line.
type Route struct {
	Action  Action `json:"action"`
	Keyword string `json:"keyword,omitempty"`
}

// Dispatcher is the part of the help service the router drives.
type Dispatcher interface {
	IsTrigger(text string) bool
	FullMenu(ctx context.Context) (*cache.Artifact, error)
	Search(ctx context.Context, keyword string) (*help.SearchOutcome, error)
	CategoryList() string
	Reload(ctx context.Context) (*help.ReloadResult, error)
}

// Router routes chat lines to a Dispatcher.
type Router struct {
	d Dispatcher
}

// NewRouter creates a Router.
func NewRouter(d Dispatcher) *Router {
	return &Router{d: d}
}

// Match decodes text. Matching is case-insensitive on the trimmed line and
// checked in this order: search prefix with a non-empty keyword, reload
// words, category words, then the live trigger words.
func (r *Router) Match(text string) Route {
	text = strings.TrimSpace(text)
	if text == "" {
		return Route{Action: ActionNone}
	}

	for _, prefix := range SearchPrefixes {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			if kw := strings.TrimSpace(text[len(prefix):]); kw != "" {
				return Route{Action: ActionSearch, Keyword: kw}
			}
		}
	}
	if equalsAny(text, ReloadWords) {
		return Route{Action: ActionReload}
	}
	if equalsAny(text, CategoryWords) {
		return Route{Action: ActionCategories}
	}
	if r.d.IsTrigger(text) {
		return Route{Action: ActionMenu}
	}
	return Route{Action: ActionNone}
}

// Reply is the answer to a routed line. Exactly one of Text and Artifact is
// set for a handled line.
type Reply struct {
	Route    Route
	Text     string
	Artifact *cache.Artifact
	Search   *help.SearchOutcome
}

// Handle routes text and runs the matching request. Lines that match nothing
// return a nil reply. Reload failures are answered with a text reply rather
// than an error, so the chat user sees what went wrong.
func (r *Router) Handle(ctx context.Context, text string) (*Reply, error) {
	route := r.Match(text)
	reply := &Reply{Route: route}

	switch route.Action {
	case ActionMenu:
		a, err := r.d.FullMenu(ctx)
		if err != nil {
			return nil, err
		}
		reply.Artifact = a

	case ActionSearch:
		out, err := r.d.Search(ctx, route.Keyword)
		if err != nil {
			return nil, err
		}
		reply.Search = out
		if out.NotFound {
			reply.Text = out.Text()
		} else {
			reply.Artifact = out.Artifact
		}

	case ActionCategories:
		reply.Text = r.d.CategoryList()

	case ActionReload:
		if _, err := r.d.Reload(ctx); err != nil {
			reply.Text = help.ReloadFailedText(err)
		} else {
			reply.Text = help.ReloadOKText
		}

	default:
		return nil, nil
	}

	return reply, nil
}

func equalsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.EqualFold(text, w) {
			return true
		}
	}
	return false
}
