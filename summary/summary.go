// Package summary renders a plain statistical report of email records for
// runs that skip the language model.
package summary

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dhcgn/mail-digest/model"
)

// TopSenders is the number of senders listed in the report.
const TopSenders = 5

// SenderCount is how many records a sender appears in.
type SenderCount struct {
	Sender string
	Count  int
}

// Render builds the report. records are expected newest first, so the period
// runs from the last dated record to the first one.
func Render(records []model.EmailRecord) string {
	if len(records) == 0 {
		return "No emails to analyze."
	}

	var sb strings.Builder
	sb.WriteString("=== AUTOMATIC EMAIL REPORT ===\n")
	fmt.Fprintf(&sb, "Emails analyzed : %d\n", len(records))
	if oldest, newest, ok := Period(records); ok {
		fmt.Fprintf(&sb, "Period covered  : from %s to %s\n", oldest, newest)
	}

	sb.WriteString("\nMost frequent senders:\n")
	for _, sc := range Senders(records, TopSenders) {
		fmt.Fprintf(&sb, "  - %s : %d email(s)\n", sc.Sender, sc.Count)
	}

	sb.WriteString("\nRecent subjects:\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "  - %s (from %s)\n", orDefault(r.Subject, "(no subject)"), orDefault(r.Sender, "Unknown"))
	}

	sb.WriteString("\nEnd of report.")
	return sb.String()
}

// Period returns the dates of the last and first records that carry one.
func Period(records []model.EmailRecord) (oldest, newest string, ok bool) {
	for _, r := range records {
		if r.Date == "" {
			continue
		}
		if !ok {
			newest = r.Date
			ok = true
		}
		oldest = r.Date
	}
	return oldest, newest, ok
}

// Senders counts non-empty senders and returns at most limit of them, most
// frequent first. Ties keep the order in which senders first appear.
func Senders(records []model.EmailRecord, limit int) []SenderCount {
	var counts []SenderCount
	index := make(map[string]int)
	for _, r := range records {
		if r.Sender == "" {
			continue
		}
		if i, ok := index[r.Sender]; ok {
			counts[i].Count++
			continue
		}
		index[r.Sender] = len(counts)
		counts = append(counts, SenderCount{Sender: r.Sender, Count: 1})
	}

	slices.SortStableFunc(counts, func(a, b SenderCount) int {
		return b.Count - a.Count
	})
	if limit >= 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
