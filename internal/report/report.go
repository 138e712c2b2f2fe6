// ABOUTME: Renders a network status summary as Markdown and as a goldmark-converted HTML page
// ABOUTME: Shared by the gateway /status endpoint and the CLI status command

package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/fieldnet-gateway/internal/network"
)

//go:embed templates/*.html
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/status.html"))

// Markdown writes st as a Markdown document.
func Markdown(st *network.Status) []byte {
	var b bytes.Buffer
	f := st.Field

	fmt.Fprintf(&b, "# Field status\n\n")
	fmt.Fprintf(&b, "_Generated %s_\n\n", st.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Active agents | %d |\n", f.ActiveAgents)
	fmt.Fprintf(&b, "| Active work | %d |\n", len(st.ActiveWork))
	fmt.Fprintf(&b, "| Field coherence | %.1f%% |\n", f.Coherence*100)
	fmt.Fprintf(&b, "| Average coherence | %.1f |\n", f.AverageCoherence)
	fmt.Fprintf(&b, "| Love field | %.1f%% |\n", f.LoveFieldStrength*100)
	fmt.Fprintf(&b, "| Dominant harmony | %s |\n", orDash(f.DominantHarmony))
	fmt.Fprintf(&b, "| Pattern | %s |\n\n", f.Pattern)
	if f.Notes != "" {
		fmt.Fprintf(&b, "> %s\n\n", f.Notes)
	}

	if len(f.ActiveHarmonies) > 0 {
		b.WriteString("## Harmonies\n\n")
		names := make([]string, 0, len(f.ActiveHarmonies))
		for h := range f.ActiveHarmonies {
			names = append(names, h)
		}
		sort.Strings(names)
		for _, h := range names {
			fmt.Fprintf(&b, "- %s: %d\n", h, f.ActiveHarmonies[h])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Agents\n\n")
	if len(st.Agents) == 0 {
		b.WriteString("No agents are online.\n\n")
	} else {
		b.WriteString("| Name | Role | Harmony | Presence | Coherence | Sent | Done |\n|---|---|---|---|---|---|---|\n")
		for _, a := range st.Agents {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %.0f | %d | %d |\n",
				cell(a.Name), cell(a.Role), a.PrimaryHarmony, a.Presence, a.CoherenceLevel, a.MessagesSent, a.WorkCompleted)
		}
		b.WriteString("\n")
	}

	if len(st.Collectives) > 0 {
		b.WriteString("## Collectives\n\n")
		b.WriteString("| Name | Harmony | Members | Coherence |\n|---|---|---|---|\n")
		for _, c := range st.Collectives {
			fmt.Fprintf(&b, "| %s | %s | %d | %.1f%% |\n",
				cell(c.Collective.Name), c.Collective.PrimaryHarmony, c.Collective.MemberCount, c.Coherence*100)
		}
		b.WriteString("\n")
	}

	if len(st.ActiveWork) > 0 {
		b.WriteString("## Active work\n\n")
		b.WriteString("| Title | Status | Progress | Harmony | Growth |\n|---|---|---|---|---|\n")
		for _, w := range st.ActiveWork {
			fmt.Fprintf(&b, "| %s | %s | %d%% | %s | %.0f%% |\n",
				cell(w.Title), w.Status, w.Progress, w.PrimaryHarmony, w.GrowthPotential*100)
		}
		b.WriteString("\n")
	}

	if len(st.RecentMessages) > 0 {
		b.WriteString("## Recent messages\n\n")
		for _, m := range st.RecentMessages {
			fmt.Fprintf(&b, "- `%s` %s → %s: %s\n",
				m.Harmony, m.FromAgent, m.ToAgent, cell(truncate(m.Content, 80)))
		}
		b.WriteString("\n")
	}
	return b.Bytes()
}

// Renderer converts status Markdown into a standalone HTML page.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer with GFM tables enabled.
func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// HTML writes st as an HTML page.
func (r *Renderer) HTML(w io.Writer, st *network.Status) error {
	var body bytes.Buffer
	if err := r.md.Convert(Markdown(st), &body); err != nil {
		return fmt.Errorf("converting markdown: %w", err)
	}
	data := struct {
		Title   string
		Refresh int
		Body    template.HTML
	}{
		Title:   "fieldnet status",
		Refresh: 30,
		// goldmark escapes raw HTML unless WithUnsafe is set.
		Body: template.HTML(body.String()),
	}
	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("rendering status page: %w", err)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// cell keeps user text from breaking table rows.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
