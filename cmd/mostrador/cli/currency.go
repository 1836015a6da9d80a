package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mostrador/mostrador/internal/catalog"
	"github.com/mostrador/mostrador/internal/reminders"
)

// ExitStale is returned by CurrencyCheck when at least one rate is stale.
const ExitStale = 10

// CurrencyCheckOptions defines the flags of the currency-check command.
type CurrencyCheckOptions struct {
	MaxAge     time.Duration
	JSONOutput bool
	Now        time.Time
	Stdout     io.Writer
	Stderr     io.Writer
}

// CurrencyCheckSummary is the JSON output of currency-check.
type CurrencyCheckSummary struct {
	OK     bool            `json:"ok"`
	Cutoff time.Time       `json:"cutoff"`
	Stale  []StaleCurrency `json:"stale"`
}

// StaleCurrency is one currency whose rate is older than the cutoff.
type StaleCurrency struct {
	Code      string    `json:"code"`
	Rate      string    `json:"rate"`
	UpdatedAt time.Time `json:"updated_at"`
	Age       string    `json:"age"`
}

// CurrencyCheck lists stale exchange rates and returns the process exit code.
func CurrencyCheck(ctx context.Context, source reminders.CurrencySource, opts CurrencyCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.MaxAge <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "currency-check: --max-age must be positive")
		return 1
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-opts.MaxAge)
	currencies, err := source.ListStaleCurrencies(ctx, cutoff)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "currency-check: %v\n", err)
		return 1
	}
	summary := buildSummary(currencies, cutoff, now)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "currency-check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return ExitStale
	}
	return 0
}

func buildSummary(currencies []catalog.Currency, cutoff, now time.Time) CurrencyCheckSummary {
	summary := CurrencyCheckSummary{OK: len(currencies) == 0, Cutoff: cutoff, Stale: []StaleCurrency{}}
	for _, c := range currencies {
		summary.Stale = append(summary.Stale, StaleCurrency{
			Code:      c.Code,
			Rate:      c.Rate.String(),
			UpdatedAt: c.UpdatedAt,
			Age:       now.Sub(c.UpdatedAt).Truncate(time.Minute).String(),
		})
	}
	return summary
}

func renderHuman(w io.Writer, summary CurrencyCheckSummary) {
	if summary.OK {
		_, _ = fmt.Fprintf(w, "all exchange rates updated since %s\n", summary.Cutoff.Format(time.RFC3339))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CODE\tRATE\tUPDATED\tAGE")
	for _, s := range summary.Stale {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Code, s.Rate, s.UpdatedAt.Format(time.RFC3339), s.Age)
	}
	_ = tw.Flush()
}
