package render

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// Options controls markdown rendering behaviour.
type Options struct {
	NoColor bool
	Width   int
}

var (
	renderersMu sync.Mutex
	renderers   = map[Options]*glamour.TermRenderer{}
)

// Markdown renders markdown for terminal output. It returns the input
// unchanged when rendering fails.
func Markdown(markdown string, opts Options) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	renderersMu.Lock()
	defer renderersMu.Unlock()

	r, err := rendererFor(opts)
	if err != nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return normalizeSpacing(out)
}

// rendererFor returns a cached renderer. Callers hold renderersMu; a
// TermRenderer is not safe for concurrent use.
func rendererFor(opts Options) (*glamour.TermRenderer, error) {
	if r, ok := renderers[opts]; ok {
		return r, nil
	}

	options := []glamour.TermRendererOption{
		glamour.WithEmoji(),
	}
	if opts.NoColor {
		options = append(options,
			glamour.WithStandardStyle("notty"),
			glamour.WithColorProfile(termenv.Ascii),
		)
	} else {
		options = append(options,
			glamour.WithAutoStyle(),
			glamour.WithColorProfile(termenv.TrueColor),
		)
	}
	if opts.Width > 0 {
		options = append(options, glamour.WithWordWrap(opts.Width))
	}

	r, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil, err
	}
	renderers[opts] = r
	return r, nil
}

func normalizeSpacing(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
		if i == 0 {
			lines[i] = strings.TrimLeft(lines[i], " ")
		}
	}
	return strings.Join(lines, "\n")
}
