// Package report summarises a crawl run as markdown and renders it to HTML.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"rccrawler/internal/models"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(html.WithXHTML()),
)

// Markdown builds the run summary. harvests should be the run's harvests;
// they are only counted.
func Markdown(run models.CrawlRun, harvests []models.Harvest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Crawl run %s\n\n", escape(run.ID))
	fmt.Fprintf(&b, "- Platform: **%s**\n", escape(run.Platform))
	fmt.Fprintf(&b, "- Status: **%s**\n", run.Status)
	fmt.Fprintf(&b, "- Run timestamp: %d\n", run.RunTimestamp)
	if !run.Started.IsZero() {
		fmt.Fprintf(&b, "- Started: %s\n", run.Started.UTC().Format(time.RFC3339))
	}
	if !run.Finished.IsZero() {
		fmt.Fprintf(&b, "- Finished: %s (took %s)\n",
			run.Finished.UTC().Format(time.RFC3339),
			run.Finished.Sub(run.Started).Round(time.Second))
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "- Error: `%s`\n", strings.ReplaceAll(run.Error, "`", "'"))
	}
	if len(run.Keywords) > 0 {
		fmt.Fprintf(&b, "- Keywords: %s\n", escape(strings.Join(run.Keywords, ", ")))
	}

	b.WriteString("\n## Stats\n\n| counter | value |\n|---|---:|\n")
	stats := []struct {
		name  string
		value int64
	}{
		{"fetched", run.Stats.Fetched},
		{"from saved pages", run.Stats.FromCache},
		{"harvested", run.Stats.Harvested},
		{"failed", run.Stats.Failed},
		{"retried", run.Stats.Retried},
		{"anti scraping", run.Stats.AntiScraping},
		{"captchas", run.Stats.Captchas},
		{"agent switches", run.Stats.AgentSwitches},
	}
	for _, s := range stats {
		fmt.Fprintf(&b, "| %s | %s |\n", s.name, humanize.Comma(s.value))
	}

	byCategory := map[string]int64{}
	byKeyword := map[string]int64{}
	for _, h := range harvests {
		byCategory[string(h.Category)]++
		kw := h.Keyword
		if kw == "" {
			kw = "(none)"
		}
		byKeyword[kw]++
	}
	writeCounts(&b, "Harvests by category", "category", byCategory)
	writeCounts(&b, "Harvests by keyword", "keyword", byKeyword)
	return b.String()
}

func writeCounts(b *strings.Builder, heading, column string, counts map[string]int64) {
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	if len(counts) == 0 {
		b.WriteString("No harvests.\n")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "| %s | harvests |\n|---|---:|\n", column)
	for _, k := range keys {
		fmt.Fprintf(b, "| %s | %s |\n", escape(k), humanize.Comma(counts[k]))
	}
}

// escape keeps user supplied text from breaking the table or emphasis
func escape(s string) string {
	r := strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`, "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// HTML renders the run summary as an HTML fragment
func HTML(run models.CrawlRun, harvests []models.Harvest) ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(run, harvests)), &buf); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}
