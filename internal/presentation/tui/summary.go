package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
)

// RunSummary renders the end-of-run report as markdown.
func RunSummary(r scheduler.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- **Trials:** %d\n", r.Stats.Trials)
	fmt.Fprintf(&b, "- **Coverage dumps:** %d\n", r.Stats.Coverage)
	fmt.Fprintf(&b, "- **Elapsed:** %s\n", r.Elapsed.Round(time.Millisecond))
	if r.StopReason != "" {
		fmt.Fprintf(&b, "- **Stopped:** %s\n", r.StopReason)
	}

	writeStats(&b, r.Stats)

	if len(r.Remaining) > 0 {
		b.WriteString("\n## Remaining files\n\n| Pair | Files |\n|---|---:|\n")
		for _, rem := range r.Remaining {
			fmt.Fprintf(&b, "| %s | %d |\n", rem.Pair, rem.Files)
		}
	}
	return b.String()
}

// LedgerSummary renders persisted ledger stats as markdown.
func LedgerSummary(stats domain.RunStats) string {
	var b strings.Builder
	b.WriteString("# Ledger\n\n")
	fmt.Fprintf(&b, "- **Trials:** %d\n", stats.Trials)
	fmt.Fprintf(&b, "- **Coverage dumps:** %d\n", stats.Coverage)
	writeStats(&b, stats)
	return b.String()
}

// BaselineSummary renders baseline results as markdown.
func BaselineSummary(results []domain.TrialResult) string {
	var b strings.Builder
	b.WriteString("# Baseline\n\n| State | Media | Outcome | Sent | Coverage |\n|---|---|---|---:|---|\n")
	for _, res := range results {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n",
			res.Trial.State, dash(res.Trial.Media), res.Outcome, res.MessagesSent(), dash(res.Coverage))
	}
	return b.String()
}

// TrialSummary renders one trial and its conversation as markdown.
func TrialSummary(res domain.TrialResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trial %s\n\n", res.Trial.ID())
	fmt.Fprintf(&b, "- **Injected at:** %s (index %d)\n", res.Trial.State, res.Trial.Index)
	fmt.Fprintf(&b, "- **Outcome:** %s\n", res.Outcome)
	if res.Err != nil {
		fmt.Fprintf(&b, "- **Error:** %v\n", res.Err)
	}
	if res.Session.Token != "" {
		fmt.Fprintf(&b, "- **Session:** %s\n", res.Session.Token)
	}
	if res.Coverage != "" {
		fmt.Fprintf(&b, "- **Coverage:** %s\n", res.Coverage)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&b, "- **Skipped:** %s\n", strings.Join(res.Skipped, ", "))
	}

	if len(res.Sent) > 0 {
		b.WriteString("\n| # | State | Phase | CSeq | Answered |\n|---:|---|---|---:|---|\n")
		for _, m := range res.Sent {
			fmt.Fprintf(&b, "| %d | %s | %s | %d | %t |\n", m.Index, m.State, m.Phase, m.CSeq, m.Responded)
		}
	}
	return b.String()
}

func writeStats(b *strings.Builder, stats domain.RunStats) {
	if len(stats.ByOutcome) > 0 {
		b.WriteString("\n## Outcomes\n\n| Outcome | Trials |\n|---|---:|\n")
		for _, k := range sortedKeys(stats.ByOutcome) {
			fmt.Fprintf(b, "| %s | %d |\n", k, stats.ByOutcome[domain.Outcome(k)])
		}
	}
	if len(stats.ByPair) > 0 {
		b.WriteString("\n## Pairs\n\n| Pair | Trials |\n|---|---:|\n")
		for _, k := range sortedKeys(stats.ByPair) {
			fmt.Fprintf(b, "| %s | %d |\n", k, stats.ByPair[k])
		}
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
