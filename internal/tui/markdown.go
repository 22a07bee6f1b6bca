package tui

import (
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

var (
	mdRendererMu sync.Mutex
	// Keyed by style and wrap width. Fixed styles only: auto style queries
	// the terminal and can block.
	mdRenderers = map[string]*glamour.TermRenderer{}
)

// RenderMarkdown renders md with the named glamour style, falling back to
// the raw text when rendering fails.
func RenderMarkdown(md, style string, width int) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return ""
	}
	if width < 10 {
		width = 10
	}

	key := style + ":" + strconv.Itoa(width)
	mdRendererMu.Lock()
	r := mdRenderers[key]
	if r == nil {
		rr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			mdRendererMu.Unlock()
			return md
		}
		mdRenderers[key] = rr
		r = rr
	}
	mdRendererMu.Unlock()

	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}
