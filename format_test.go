package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "-", formatExpiry(time.Time{}, now))
	})

	t.Run("same year", func(t *testing.T) {
		got := formatExpiry(now.Add(30*time.Minute), now)
		assert.Equal(t, "Mar  1 12:30 (30 minutes from now)", got)
	})

	t.Run("past", func(t *testing.T) {
		got := formatExpiry(now.Add(-2*time.Hour), now)
		assert.Equal(t, "Mar  1 10:00 (2 hours ago)", got)
	})

	t.Run("different year", func(t *testing.T) {
		got := formatExpiry(time.Date(2024, time.December, 25, 8, 0, 0, 0, time.Local), now)
		assert.True(t, strings.HasPrefix(got, "Dec 25  2024 ("), got)
	})
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer

	writeTable(&buf, []string{"TOKEN", "STATE"}, [][]string{
		{"access", "valid"},
		{"refresh", "missing"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "TOKEN    STATE", lines[0])
	assert.Equal(t, "access   valid", lines[1])
	assert.Equal(t, "refresh  missing", lines[2])
}

func TestWriteTable_WideRunes(t *testing.T) {
	var buf bytes.Buffer

	writeTable(&buf, []string{"K", "V"}, [][]string{{"clé", "x"}, {"ab", "y"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "clé  x", lines[1])
	assert.Equal(t, "ab   y", lines[2])
}

func TestPrintTokenStatus(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	exp := now.Add(30 * time.Minute)

	var buf bytes.Buffer
	printTokenStatus(&buf, tokenStatus{
		Backend:      "redis",
		AccessKey:    "access_token",
		AccessState:  tokenStateValid,
		ExpiresAt:    &exp,
		RefreshKey:   "refresh_token",
		RefreshState: tokenStateMissing,
	}, now)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Store: redis\n\n"))
	assert.Contains(t, out, "access   access_token   valid    Mar  1 12:30 (30 minutes from now)")
	assert.Contains(t, out, "refresh  refresh_token  missing  -")
}

func TestStatusf_Quiet(t *testing.T) {
	cmd := &cobra.Command{}

	var buf bytes.Buffer
	cmd.SetErr(&buf)

	statusf(cmd, "hello %d\n", 1)
	assert.Equal(t, "hello 1\n", buf.String())

	flagQuiet = true
	t.Cleanup(func() { flagQuiet = false })

	statusf(cmd, "hidden\n")
	assert.Equal(t, "hello 1\n", buf.String())
}
