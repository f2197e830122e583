package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"dvault/internal/dv"
)

// table writes aligned columns. Headers are only printed when stdout is a
// terminal, so piped output stays easy to cut and grep.
type table struct {
	tw      *tabwriter.Writer
	headers bool
}

func newTable(w io.Writer, headers bool, columns ...any) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0), headers: headers}
	if headers {
		t.row(columns...)
	}
	return t
}

func stdoutTable(columns ...any) *table {
	return newTable(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())), columns...)
}

func (t *table) row(cells ...any) {
	for i, c := range cells {
		if i > 0 {
			fmt.Fprint(t.tw, "\t")
		}
		fmt.Fprint(t.tw, c)
	}
	fmt.Fprintln(t.tw)
}

func (t *table) flush() {
	t.tw.Flush()
}

// coverageWarning describes a partial walk, or returns "" when nothing failed.
func coverageWarning(what string, cov dv.Coverage) string {
	switch {
	case cov.AllFailed():
		return fmt.Sprintf("all %d %s failed to load; the list above is not a real empty result", cov.Failed, what)
	case cov.Partial():
		return fmt.Sprintf("%d of %d %s could not be read and are not shown", cov.Failed, cov.Attempted-cov.Excluded, what)
	default:
		return ""
	}
}

func warnCoverage(w io.Writer, what string, cov dv.Coverage) {
	if msg := coverageWarning(what, cov); msg != "" {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}
}

// limitLabel renders a vault's storage limit; zero is unlimited.
func limitLabel(v *dv.VaultRecord) string {
	if v.StorageLimitBytes() == 0 {
		return "unlimited"
	}
	return dv.SizeLabel(v.StorageLimitBytes())
}

// usageLabel renders used/limit with a percentage when there is a limit.
func usageLabel(used int64, v *dv.VaultRecord) string {
	limit := v.StorageLimitBytes()
	if limit == 0 {
		return dv.SizeLabel(used)
	}
	return fmt.Sprintf("%s / %s (%s%%)", dv.SizeLabel(used), dv.SizeLabel(limit),
		humanize.FtoaWithDigits(float64(used)*100/float64(limit), 1))
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
