package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// Overlay carries ledger data to visualize on the transcript.
type Overlay struct {
	// Trials counts recorded trials per state, summed over media variants.
	Trials map[string]int
}

// NewOverlay folds per-pair ledger stats into per-state counters.
func NewOverlay(stats domain.RunStats) *Overlay {
	o := &Overlay{Trials: make(map[string]int)}
	for pair, n := range stats.ByPair {
		state, _, _ := strings.Cut(pair, "/")
		o.Trials[state] += n
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of the transcript. States are
// chained in replay order and each edge is labelled with the response marker the
// recording saw:
// - First state: ((Circle))
// - Empty marker: dotted edge, no response expected
// - Default: [Rectangle]
// With an overlay, each state shows its trial count and is styled visited or untested.
func GenerateMermaid(tr domain.Transcript, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for i, t := range tr {
		safeID := nodeID(i, t.State)

		opener, closer := "[", "]"
		if i == 0 {
			opener, closer = "((", "))"
		}

		text := t.State
		if overlay != nil {
			text = fmt.Sprintf("%s <br/> %d trials", t.State, overlay.Trials[t.State])
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, text, closer)

		if i+1 == len(tr) {
			continue
		}
		safeTo := nodeID(i+1, tr[i+1].State)
		if t.Expect == "" {
			fmt.Fprintf(&sb, "    %s -.-> %s\n", safeID, safeTo)
			continue
		}
		marker := strings.ReplaceAll(t.Expect, "\"", "'")
		fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, marker, safeTo)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef untested fill:#fff3e0,stroke:#e65100,stroke-dasharray:4,color:#000;\n")
		for i, t := range tr {
			class := "untested"
			if overlay.Trials[t.State] > 0 {
				class = "visited"
			}
			fmt.Fprintf(&sb, "    class %s %s;\n", nodeID(i, t.State), class)
		}
	}

	return sb.String()
}

// nodeID keeps repeated states distinct by prefixing the position.
func nodeID(i int, state string) string {
	return fmt.Sprintf("s%d_%s", i, sanitizeMermaidID(state))
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
