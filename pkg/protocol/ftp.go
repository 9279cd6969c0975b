package protocol

import (
	"bytes"
	"strings"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// FTPOptions configures the FTP dialect.
type FTPOptions struct {
	BusyMarker   string `mapstructure:"busy_marker"`
	AbortCommand string `mapstructure:"abort_command"`
}

// FTP sends one command line per message and reads the server greeting first.
type FTP struct {
	opts FTPOptions
}

// NewFTP builds the dialect. Defaults target LightFTP.
func NewFTP(raw map[string]any) (*FTP, error) {
	opts := FTPOptions{
		BusyMarker:   "Another action is in progress",
		AbortCommand: "ABOR",
	}
	if err := decodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	return &FTP{opts: opts}, nil
}

// Name returns the registry name of the dialect.
func (d *FTP) Name() string { return "ftp" }

// Prepare trims the recorded line and terminates it with CRLF.
func (d *FTP) Prepare(payload []byte, _ domain.SessionState) []byte {
	line := bytes.TrimSpace(payload)
	out := make([]byte, 0, len(line)+2)
	out = append(out, line...)
	return append(out, crlf...)
}

func (d *FTP) ExtractToken([]byte) string { return "" }

// Classify returns the three digit reply code.
func (d *FTP) Classify(resp []byte) string {
	s := strings.TrimSpace(string(resp))
	if len(s) < 3 {
		return ""
	}
	for _, c := range s[:3] {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return s[:3]
}

// Greets is true: the server sends a 220 banner before the first command.
func (d *FTP) Greets() bool { return true }

// Recover aborts the transfer the server is still busy with.
func (d *FTP) Recover(resp []byte) []byte {
	if d.opts.BusyMarker == "" || !bytes.Contains(resp, []byte(d.opts.BusyMarker)) {
		return nil
	}
	return []byte(d.opts.AbortCommand + "\r\n")
}

// DefaultTranscript logs in and lists the root directory.
func (d *FTP) DefaultTranscript() domain.Transcript {
	return domain.NewTranscript(
		[2]string{"USER", "331"},
		[2]string{"PASS", "230"},
		[2]string{"PWD", "257"},
		[2]string{"TYPE", "200"},
		[2]string{"PASV", "227"},
		[2]string{"LIST", "150"},
		[2]string{"QUIT", "221"},
	)
}
