package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/matsen/semlib/internal/search"
)

// Title truncation lengths by context
const (
	SearchTitleMaxLen = 70 // Used in search result summaries
	DetailTitleMaxLen = 70 // Used in similar-papers source display
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// printResultsHuman prints ranked papers in human-readable format.
// Used by both search and similar-papers commands.
func printResultsHuman(results []search.PaperResult) {
	for _, r := range results {
		fmt.Printf("%d. [%.2f] %s\n", r.Rank, r.Score, r.PaperID)
		fmt.Printf("   %s\n", truncateString(r.Title, SearchTitleMaxLen))
		if r.Authors != "" {
			fmt.Printf("   %s (%d)\n", r.Authors, r.Year)
		} else {
			fmt.Printf("   (%d)\n", r.Year)
		}
		fmt.Printf("   matched %s: %s\n\n", r.ChunkType, truncateString(r.MatchedText, SearchTitleMaxLen))
	}
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
