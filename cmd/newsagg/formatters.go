package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"

	"github.com/pevans/newsagg/discovery"
	"github.com/pevans/newsagg/history"
	"github.com/pevans/newsagg/newsfeed"
	"github.com/pevans/newsagg/scraper"
)

// Output formats accepted by --format.
const (
	formatTable   = "table"
	formatJSON    = "json"
	formatCompact = "compact"
)

const (
	titleWidth   = 60
	summaryWidth = 100
	textWidth    = 80
)

func validFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatCompact:
		return nil
	}
	return fmt.Errorf("unknown format %q (want table, json or compact)", format)
}

// truncateWidth shortens s to at most width terminal columns, ending with
// "..." when anything was cut.
func truncateWidth(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// printPage prints one page of a listing or search
func printPage(w io.Writer, page *newsfeed.PageResult, format string) error {
	switch format {
	case formatJSON:
		return printJSON(w, page)
	case formatCompact:
		for _, a := range page.Articles {
			fmt.Fprintf(w, "%s %s (%s)\n", a.PublishedAt, a.Title, a.Source)
		}
		return nil
	}

	if len(page.Articles) == 0 {
		if page.Query != "" {
			fmt.Fprintf(w, "No articles match %q.\n", page.Query)
		} else {
			fmt.Fprintln(w, "No articles to display.")
		}
		return nil
	}

	start := (page.CurrentPage-1)*page.PerPage + 1
	fmt.Fprintf(w, "Showing %d-%d of %d articles (page %d of %d)\n\n",
		start, start+len(page.Articles)-1, page.Total, page.CurrentPage, page.Pages)

	t := newTable(w)
	header := table.Row{"Published", "Source", "Title", "Slug"}
	if page.Query != "" {
		header = append(header, "Score")
	}
	t.AppendHeader(header)
	for _, a := range page.Articles {
		row := table.Row{a.PublishedAt, a.Source, truncateWidth(a.Title, titleWidth), a.Slug}
		if page.Query != "" {
			row = append(row, a.RelevanceScore)
		}
		t.AppendRow(row)
	}
	t.Render()

	if page.HasNext {
		fmt.Fprintf(w, "\nNext page: --page %d\n", *page.NextPage)
	}
	return nil
}

// printArticle prints a single article in full
func printArticle(w io.Writer, a *newsfeed.Article, format string) error {
	if format == formatJSON {
		return printJSON(w, a)
	}

	fmt.Fprintln(w, a.Title)
	fmt.Fprintln(w, strings.Repeat("=", min(runewidth.StringWidth(a.Title), textWidth)))
	fmt.Fprintf(w, "Source:    %s\n", a.Source)
	fmt.Fprintf(w, "Published: %s\n", a.PublishedAt)
	fmt.Fprintf(w, "URL:       %s\n", a.URL)
	if a.ImageURL != "" {
		fmt.Fprintf(w, "Image:     %s\n", a.ImageURL)
	}
	fmt.Fprintf(w, "Slug:      %s\n", a.Slug)

	if format == formatCompact {
		return nil
	}

	if a.Summary != "" && a.Summary != a.Title {
		fmt.Fprintln(w)
		fmt.Fprintln(w, wrapText(a.Summary, textWidth))
	}
	if a.Content != "" && a.Content != a.Summary {
		fmt.Fprintln(w)
		fmt.Fprintln(w, wrapText(a.Content, textWidth))
	}
	return nil
}

// printCrawlReport prints the summary of a finished crawl run
func printCrawlReport(w io.Writer, stats *discovery.CrawlStats) {
	failed := len(stats.FailedSources)

	fmt.Fprintln(w, "CRAWL COMPLETED")
	fmt.Fprintf(w, "Run ID:     %s\n", stats.RunID)
	fmt.Fprintf(w, "Started:    %s\n", stats.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration:   %.2f seconds\n", stats.Duration.Seconds())
	fmt.Fprintf(w, "Processed:  %d\n", stats.TotalProcessed)
	fmt.Fprintf(w, "Saved:      %d\n", stats.TotalSaved)
	fmt.Fprintf(w, "Errors:     %d\n", stats.TotalErrors)
	fmt.Fprintf(w, "Sources:    %d ok, %d failed\n", len(stats.Order)-failed, failed)

	if len(stats.Order) == 0 {
		return
	}

	fmt.Fprintln(w)
	t := newTable(w)
	t.AppendHeader(table.Row{"", "Source", "Processed", "Saved", "Errors", "Notes"})
	for _, name := range stats.Order {
		src := stats.Sources[name]
		if src == nil {
			continue
		}
		t.AppendRow(table.Row{statusMark(src.Failed()), name, src.Processed, src.Saved, src.Errors, sourceNotes(src)})
	}
	t.AppendFooter(table.Row{"", "Total", stats.TotalProcessed, stats.TotalSaved, stats.TotalErrors, ""})
	t.Render()
}

func statusMark(failed bool) string {
	if failed {
		return "✗"
	}
	return "✓"
}

// sourceNotes explains a source row: the failure, or how many processed
// articles were duplicates.
func sourceNotes(src *discovery.SourceStats) string {
	if src.ErrorMessage != "" {
		return "ERROR: " + truncateWidth(src.ErrorMessage, summaryWidth)
	}
	if dup := src.Processed - src.Saved; dup > 0 {
		return fmt.Sprintf("%d duplicates skipped", dup)
	}
	return ""
}

// printSources prints the configured sources
func printSources(w io.Writer, list []scraper.Source, format string) error {
	switch format {
	case formatJSON:
		return printJSON(w, list)
	case formatCompact:
		for _, src := range list {
			fmt.Fprintf(w, "%s %s\n", src.Name, src.ListingURL())
		}
		return nil
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No sources configured.")
		return nil
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Name", "Type", "Enabled", "Listing URL"})
	for _, src := range list {
		kind := src.Type
		if kind == "" {
			kind = scraper.TypeHTML
		}
		t.AppendRow(table.Row{src.Name, kind, src.IsEnabled(), src.ListingURL()})
	}
	t.Render()
	return nil
}

// printRuns prints a list of recorded crawl runs
func printRuns(w io.Writer, runs []history.Run, format string) error {
	switch format {
	case formatJSON:
		return printJSON(w, runs)
	case formatCompact:
		for _, run := range runs {
			fmt.Fprintf(w, "%s %s saved=%d failed=%d\n",
				run.RunID, run.StartedAt.Local().Format("2006-01-02 15:04"), run.TotalSaved, len(run.FailedSources))
		}
		return nil
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No crawl runs recorded.")
		return nil
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Run ID", "Started", "Duration", "Processed", "Saved", "Errors", "Failed Sources"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.RunID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Duration.Round(time.Millisecond),
			run.TotalProcessed,
			run.TotalSaved,
			run.TotalErrors,
			truncateWidth(strings.Join(run.FailedSources, ", "), titleWidth),
		})
	}
	t.Render()
	return nil
}

// printRun prints one crawl run with its per-source rows
func printRun(w io.Writer, run *history.Run, format string) error {
	if format == formatJSON {
		return printJSON(w, run)
	}

	fmt.Fprintf(w, "Run ID:     %s\n", run.RunID)
	fmt.Fprintf(w, "Started:    %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration:   %s\n", run.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Processed:  %d\n", run.TotalProcessed)
	fmt.Fprintf(w, "Saved:      %d\n", run.TotalSaved)
	fmt.Fprintf(w, "Errors:     %d\n", run.TotalErrors)

	if len(run.Sources) == 0 || format == formatCompact {
		return nil
	}

	fmt.Fprintln(w)
	t := newTable(w)
	t.AppendHeader(table.Row{"", "Source", "Processed", "Saved", "Errors", "Error"})
	for _, src := range run.Sources {
		message := ""
		if src.ErrorMessage != nil {
			message = truncateWidth(*src.ErrorMessage, summaryWidth)
		}
		t.AppendRow(table.Row{statusMark(src.ErrorMessage != nil), src.Source, src.Processed, src.Saved, src.Errors, message})
	}
	t.Render()
	return nil
}

// wrapText wraps text to a maximum line width, measured in terminal
// columns. Paragraph breaks are kept.
func wrapText(text string, width int) string {
	paragraphs := strings.Split(text, "\n\n")
	wrapped := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		wrapped = append(wrapped, wrapParagraph(p, width))
	}
	return strings.Join(wrapped, "\n\n")
}

func wrapParagraph(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range words {
		wordWidth := runewidth.StringWidth(word)
		if currentLine.Len() == 0 {
			currentLine.WriteString(word)
			lineWidth = wordWidth
		} else if lineWidth+1+wordWidth <= width {
			currentLine.WriteString(" ")
			currentLine.WriteString(word)
			lineWidth += 1 + wordWidth
		} else {
			lines = append(lines, currentLine.String())
			currentLine.Reset()
			currentLine.WriteString(word)
			lineWidth = wordWidth
		}
	}

	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	return strings.Join(lines, "\n")
}
