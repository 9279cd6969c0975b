package cli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/aretw0/replayfuzz/internal/config"
	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/pkg/adapters/file"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
)

// PayloadCheck tells whether a recorded message exists for a pair.
type PayloadCheck struct {
	State   string `json:"state"`
	Media   string `json:"media,omitempty"`
	Present bool   `json:"present"`
}

// ValidationReport is what a run would start from.
type ValidationReport struct {
	Target     string                `json:"target"`
	Command    string                `json:"command"`
	Protocol   string                `json:"protocol"`
	Transcript []string              `json:"transcript"`
	Payloads   []PayloadCheck        `json:"payloads"`
	Corpus     []scheduler.Remaining `json:"corpus"`
}

// Missing returns the pairs without a recorded payload. They are skipped at run time.
func (r ValidationReport) Missing() []PayloadCheck {
	var out []PayloadCheck
	for _, p := range r.Payloads {
		if !p.Present {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration, the transcript, the target binary and the
// recorded payloads without starting a server.
func Validate(ctx context.Context, cfg config.Config, opts RunOptions) error {
	report, err := Check(ctx, cfg)
	if err != nil {
		return err
	}
	return emit(opts, report, validationMarkdown(report))
}

// Check builds the validation report.
func Check(ctx context.Context, cfg config.Config) (ValidationReport, error) {
	var report ValidationReport
	if err := cfg.Validate(true); err != nil {
		return report, err
	}

	dialect, err := cfg.Dialect()
	if err != nil {
		return report, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	var tr domain.Transcript
	if cfg.Transcript.Path != "" {
		tr, err = file.ParseTranscriptFile(cfg.Transcript.Path)
	} else {
		tr, err = loadTranscript(cfg, dialect, logging.NewNop())
	}
	if err != nil {
		return report, err
	}

	command, err := resolveCommand(cfg.Target.Command, cfg.Target.Dir)
	if err != nil {
		return report, fmt.Errorf("%w: target command: %v", config.ErrInvalid, err)
	}

	report.Target = cfg.Target.Addr
	report.Command = command
	report.Protocol = dialect.Name()
	report.Transcript = tr.States()

	store := file.NewStore(cfg.Store.Dir)
	corpus := file.NewCorpus(cfg.Corpus.Root)
	corpus.Ext = cfg.Corpus.Ext

	seen := make(map[string]bool)
	for _, state := range tr.States() {
		if seen[state] {
			continue
		}
		seen[state] = true
		for _, media := range cfg.Medias() {
			_, perr := store.Payload(state, media)
			if perr != nil && !errors.Is(perr, domain.ErrMissingPayload) {
				return report, perr
			}
			report.Payloads = append(report.Payloads, PayloadCheck{State: state, Media: media, Present: perr == nil})

			key := domain.PairKey{State: state, Media: media}
			paths, err := corpus.List(ctx, key)
			if err != nil {
				return report, err
			}
			report.Corpus = append(report.Corpus, scheduler.Remaining{Pair: key, Files: len(paths)})
		}
	}
	return report, nil
}

func resolveCommand(command, dir string) (string, error) {
	if strings.ContainsRune(command, filepath.Separator) && !filepath.IsAbs(command) && dir != "" {
		command = filepath.Join(dir, command)
	}
	return exec.LookPath(command)
}

func validationMarkdown(r ValidationReport) string {
	var b strings.Builder
	b.WriteString("# Configuration OK\n\n")
	fmt.Fprintf(&b, "- **Target:** %s (`%s`)\n", r.Target, r.Command)
	fmt.Fprintf(&b, "- **Protocol:** %s\n", r.Protocol)
	fmt.Fprintf(&b, "- **Transcript:** %s\n", strings.Join(r.Transcript, " → "))

	if missing := r.Missing(); len(missing) > 0 {
		b.WriteString("\n## Missing recorded messages\n\nThese messages are skipped during replay.\n\n")
		for _, m := range missing {
			fmt.Fprintf(&b, "- %s\n", domain.PairKey{State: m.State, Media: m.Media})
		}
	}

	b.WriteString("\n## Corpus\n\n| Pair | Files |\n|---|---:|\n")
	for _, c := range r.Corpus {
		fmt.Fprintf(&b, "| %s | %d |\n", c.Pair, c.Files)
	}
	return b.String()
}
