// Package cli renders build reports, search results and index summaries for
// the docsearch command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/docsearch/internal/manager"
	"github.com/hyperjump/docsearch/internal/models"
	"github.com/hyperjump/docsearch/pkg/utils"
)

// OutputFormat selects human-readable or JSON output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetLen = 200

// ParseFormat maps a --output value to a format.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n", len(resp.Results), resp.QueryTime)
	if resp.Degraded {
		fmt.Fprintf(w, "Warning: degraded result, unavailable branches: %s\n", strings.Join(resp.DegradedBranches, ", "))
	}
	fmt.Fprintln(w)
	for _, r := range resp.Results {
		writeOneResult(w, r)
	}
	return nil
}

func writeOneResult(w io.Writer, r *models.RankedChunk) {
	c := r.Chunk
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (BM25: %.4f, Semantic: %.4f)\n",
		r.Rank, r.HybridScore, r.BM25Score, r.SemanticScore)
	fmt.Fprintf(w, "ID: %s\n", c.ID)
	fmt.Fprintf(w, "Source: %s [%s]\n", c.SourcePath, techLabel(c))
	if len(c.Breadcrumb) > 0 {
		fmt.Fprintf(w, "Section: %s\n", strings.Join(c.Breadcrumb, " > "))
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(c.Text, snippetLen))
}

func techLabel(c *models.Chunk) string {
	if c.Component == "" {
		return c.Tech
	}
	return c.Tech + "/" + c.Component
}

// WriteChunk writes one chunk in full.
func WriteChunk(w io.Writer, c *models.Chunk, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, c)
	}
	fmt.Fprintf(w, "ID: %s\n", c.ID)
	fmt.Fprintf(w, "Source: %s [%s] bytes %d-%d\n", c.SourcePath, techLabel(c), c.CharStart, c.CharEnd)
	if len(c.Breadcrumb) > 0 {
		fmt.Fprintf(w, "Section: %s\n", strings.Join(c.Breadcrumb, " > "))
	}
	fmt.Fprintf(w, "Tokens: %d | Vector indexed: %t\n\n%s\n", c.TokenCount, c.VectorIndexed, c.Text)
	return nil
}

// WriteReport writes a build job report.
func WriteReport(w io.Writer, r *models.JobReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, r)
	}
	scope := r.TechFilter
	if scope == "" {
		scope = "all technologies"
	}
	fmt.Fprintf(w, "Build %s (%s) finished in %s\n", r.JobID, scope, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Files: %d scanned, %d failed\n", r.FilesScanned, r.FilesFailed)
	fmt.Fprintf(w, "Chunks: %d created, %d updated, %d skipped, %d failed, %d deleted\n",
		r.Created, r.Updated, r.Skipped, r.Failed, r.Deleted)
	for _, e := range r.Errors {
		if e.ChunkID != "" {
			fmt.Fprintf(w, "  %s: %s (%s): %s\n", e.Kind, e.SourcePath, e.ChunkID, e.Message)
		} else {
			fmt.Fprintf(w, "  %s: %s: %s\n", e.Kind, e.SourcePath, e.Message)
		}
	}
	return nil
}

// WriteStats writes an index summary.
func WriteStats(w io.Writer, s *models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "Chunks: %d\n", s.TotalChunks)
	techs := make([]string, 0, len(s.PerTech))
	for t := range s.PerTech {
		techs = append(techs, t)
	}
	sort.Strings(techs)
	for _, t := range techs {
		fmt.Fprintf(w, "  %-12s %d\n", t, s.PerTech[t])
	}
	fmt.Fprintf(w, "Vectors: %d\n", s.VectorIndexSize)
	fmt.Fprintf(w, "Keyword documents: %d\n", s.KeywordDocCount)
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(s.DiskUsageBytes))
	return nil
}

// WriteCheck writes a consistency check result.
func WriteCheck(w io.Writer, r *manager.CheckResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, r)
	}
	if r.Consistent() {
		fmt.Fprintf(w, "Consistent: %d chunks checked\n", r.Checked)
		return nil
	}
	fmt.Fprintf(w, "Found %d inconsistencies in %d chunks\n", len(r.Inconsistencies), r.Checked)
	for _, inc := range r.Inconsistencies {
		fmt.Fprintf(w, "  %-16s %s\n", inc.Type, inc.ChunkID)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
