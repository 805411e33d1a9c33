package markup

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/conneroisu/helpdeck/internal/content"
)

// SearchTip is the hint printed under the footer.
const SearchTip = "💡 发送「帮助 关键词」可搜索指令"

// NoCommands is shown for plugins without commands.
const NoCommands = "暂无指令"

// writer collects the first write error so components can emit markup
// without checking every call.
type writer struct {
	w   io.Writer
	err error
}

func (p *writer) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *writer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *writer) child(ctx context.Context, c templ.Component) {
	if p.err != nil {
		return
	}
	p.err = c.Render(ctx, p.w)
}

// Page is the complete help menu document for m.
func Page(m *content.Model) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &writer{w: w}
		p.raw(`<!DOCTYPE html><html lang="zh-CN"><head><meta charset="UTF-8"><title>`)
		p.text(m.Title())
		p.raw(`</title><style>`)
		p.raw(themeVars(m.Theme()))
		p.raw(stylesheet)
		p.raw(`</style></head><body><main class="menu">`)
		p.child(ctx, Header(m.Title(), m.DisplaySubtitle()))
		for _, c := range m.Categories() {
			p.child(ctx, Section(c))
		}
		p.child(ctx, Footer(m.Footer()))
		p.raw(`</main></body></html>`)
		return p.err
	})
}

// Header renders the title block.
func Header(title, subtitle string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &writer{w: w}
		p.raw(`<header class="menu-header"><h1 class="menu-title">`)
		p.text(title)
		p.raw(`</h1><div class="menu-subtitle">`)
		p.text(subtitle)
		p.raw(`</div></header>`)
		return p.err
	})
}

// Section renders one category with its plugin cards.
func Section(c content.Category) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &writer{w: w}
		p.raw(`<section class="section"`)
		if c.Color != "" {
			// Colors are checked against content.ValidColor when the model is built.
			p.raw(` style="--primary:`)
			p.text(c.Color)
			p.raw(`"`)
		}
		p.raw(`><div class="section-head"><div class="section-icon">`)
		p.text(c.DisplayIcon())
		p.raw(`</div><span class="section-name">`)
		p.text(c.Name)
		p.raw(`</span><span class="section-count">`)
		p.text(strconv.Itoa(len(c.Plugins)) + " 个插件")
		p.raw(`</span></div><div class="grid">`)
		for _, plugin := range c.Plugins {
			p.child(ctx, Card(plugin))
		}
		p.raw(`</div></section>`)
		return p.err
	})
}

// Card renders one plugin.
func Card(pl content.Plugin) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &writer{w: w}
		p.raw(`<div class="card"><div class="card-head"><span class="card-icon">`)
		p.text(pl.DisplayIcon())
		p.raw(`</span><div class="card-info"><div class="card-name">`)
		p.text(pl.Name)
		p.raw(`</div>`)
		if pl.Desc != "" {
			p.raw(`<div class="card-desc">`)
			p.text(pl.Desc)
			p.raw(`</div>`)
		}
		p.raw(`</div></div><div class="cmds">`)
		if len(pl.Commands) == 0 {
			p.raw(`<span class="cmd cmd-empty">`)
			p.text(NoCommands)
			p.raw(`</span>`)
		}
		for _, cmd := range pl.Commands {
			p.raw(`<span class="cmd">`)
			p.text(cmd)
			p.raw(`</span>`)
		}
		p.raw(`</div></div>`)
		return p.err
	})
}

// Footer renders the footer line and the search tip.
func Footer(text string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &writer{w: w}
		p.raw(`<footer class="menu-footer"><div class="rule"></div><div>`)
		p.text(text)
		p.raw(`</div><div class="tip">`)
		p.text(SearchTip)
		p.raw(`</div></footer>`)
		return p.err
	})
}

func themeVars(t content.Theme) string {
	return ":root{--primary:" + templ.EscapeString(t.Primary) +
		";--bg-start:" + templ.EscapeString(t.BgStart) +
		";--bg-end:" + templ.EscapeString(t.BgEnd) +
		";--card-opacity:" + strconv.FormatFloat(t.CardOpacity, 'f', -1, 64) + "}"
}

const stylesheet = `
*{margin:0;padding:0;box-sizing:border-box}
body{
  font-family:'HarmonyOS Sans SC','PingFang SC','Microsoft YaHei',sans-serif;
  background:linear-gradient(135deg,var(--bg-start) 0%,var(--bg-end) 100%);
  min-height:100vh;padding:32px;width:900px;
}
.menu{display:flex;flex-direction:column;gap:24px}
.menu-header{text-align:center;padding:24px 0;position:relative}
.menu-header::before{
  content:'';position:absolute;top:50%;left:50%;transform:translate(-50%,-50%);
  width:200px;height:200px;border-radius:50%;opacity:.15;z-index:0;
  background:radial-gradient(circle,var(--primary) 0%,transparent 70%);
}
.menu-title{
  font-size:36px;font-weight:800;letter-spacing:2px;position:relative;z-index:1;
  background:linear-gradient(135deg,var(--primary) 0%,#a855f7 100%);
  -webkit-background-clip:text;background-clip:text;-webkit-text-fill-color:transparent;
}
.menu-subtitle{font-size:14px;color:#64748b;margin-top:8px;letter-spacing:4px;text-transform:uppercase}
.section{
  background:rgba(255,255,255,var(--card-opacity));
  backdrop-filter:blur(20px);-webkit-backdrop-filter:blur(20px);
  border-radius:20px;padding:24px;border:1px solid rgba(255,255,255,.5);
  box-shadow:0 4px 24px rgba(0,0,0,.06),inset 0 1px 0 rgba(255,255,255,.8);
}
.section-head{
  display:flex;align-items:center;gap:12px;margin-bottom:20px;padding-bottom:12px;
  border-bottom:2px solid rgba(99,102,241,.1);
}
.section-icon{
  font-size:24px;width:44px;height:44px;display:flex;align-items:center;justify-content:center;
  border-radius:12px;box-shadow:0 4px 12px rgba(99,102,241,.3);
  background:linear-gradient(135deg,var(--primary) 0%,#a855f7 100%);
}
.section-name{font-size:20px;font-weight:700;color:#1e293b}
.section-count{font-size:12px;color:#94a3b8;background:#f1f5f9;padding:4px 10px;border-radius:20px;margin-left:auto}
.grid{display:grid;grid-template-columns:repeat(2,1fr);gap:16px}
.card{background:rgba(255,255,255,.7);border-radius:14px;padding:16px;border:1px solid rgba(255,255,255,.8)}
.card-head{display:flex;align-items:center;gap:10px;margin-bottom:12px}
.card-icon{font-size:20px}
.card-info{flex:1;min-width:0}
.card-name{font-size:15px;font-weight:600;color:#334155;white-space:nowrap;overflow:hidden;text-overflow:ellipsis}
.card-desc{font-size:12px;color:#64748b;margin-top:2px}
.cmds{display:flex;flex-wrap:wrap;gap:6px}
.cmd{
  font-family:'JetBrains Mono','Fira Code',monospace;font-size:11px;font-weight:500;
  padding:5px 10px;border-radius:8px;color:var(--primary);
  background:linear-gradient(135deg,rgba(99,102,241,.1) 0%,rgba(168,85,247,.1) 100%);
  border:1px solid rgba(99,102,241,.15);
}
.cmd-empty{color:#94a3b8;font-style:italic}
.menu-footer{text-align:center;padding:20px 0 8px;color:#94a3b8;font-size:12px}
.rule{
  width:60px;height:3px;margin:0 auto 12px;border-radius:2px;opacity:.5;
  background:linear-gradient(90deg,transparent,var(--primary),transparent);
}
.tip{margin-top:8px;font-size:11px;color:#cbd5e1}
`
