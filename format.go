package main

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// statusf writes a progress line to the command's stderr unless --quiet.
func statusf(cmd *cobra.Command, format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
	}
}

// formatExpiry renders an expiry as a short timestamp plus its distance
// from now, e.g. "Mar  1 12:30 (29 minutes from now)".
func formatExpiry(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	stamp := t.Local().Format("Jan _2  2006")
	if t.Year() == now.Year() {
		stamp = t.Local().Format("Jan _2 15:04")
	}

	return fmt.Sprintf("%s (%s)", stamp, humanize.RelTime(t, now, "ago", "from now"))
}

// printTokenStatus writes the store backend followed by one row per token.
func printTokenStatus(w io.Writer, st tokenStatus, now time.Time) {
	expires := "-"
	if st.ExpiresAt != nil {
		expires = formatExpiry(*st.ExpiresAt, now)
	}

	fmt.Fprintf(w, "Store: %s\n\n", st.Backend)
	writeTable(w, []string{"TOKEN", "KEY", "STATE", "EXPIRES"}, [][]string{
		{"access", st.AccessKey, st.AccessState, expires},
		{"refresh", st.RefreshKey, st.RefreshState, "-"},
	})
}

// writeTable aligns cells into columns two spaces apart. The last column is
// not padded.
func writeTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))

	for _, row := range append([][]string{headers}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	for _, row := range append([][]string{headers}, rows...) {
		var b strings.Builder

		for i, cell := range row {
			b.WriteString(cell)

			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)+2))
			}
		}

		fmt.Fprintln(w, b.String())
	}
}
