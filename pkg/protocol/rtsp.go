package protocol

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// RTSPOptions configures the RTSP dialect.
type RTSPOptions struct {
	SeqHeader     string   `mapstructure:"seq_header"`
	TokenHeader   string   `mapstructure:"token_header"`
	OriginMethods []string `mapstructure:"origin_methods"`
}

// RTSP rewrites CSeq and Session headers of text requests.
type RTSP struct {
	opts    RTSPOptions
	tokenRe *regexp.Regexp
}

// NewRTSP builds the dialect. Defaults: CSeq, Session, and SETUP as the method
// that establishes the session.
func NewRTSP(raw map[string]any) (*RTSP, error) {
	opts := RTSPOptions{
		SeqHeader:     "CSeq",
		TokenHeader:   "Session",
		OriginMethods: []string{"SETUP"},
	}
	if err := decodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	return &RTSP{
		opts:    opts,
		tokenRe: regexp.MustCompile(`(?im)^` + regexp.QuoteMeta(opts.TokenHeader) + `:[ \t]*(\S+)`),
	}, nil
}

// Name returns the registry name of the dialect.
func (d *RTSP) Name() string { return "rtsp" }

// Prepare applies the sequence rule to every message and the token rule to every
// message that does not itself establish the session. A header block without its
// blank line gets one, or the server would wait for the rest of the request.
func (d *RTSP) Prepare(payload []byte, st domain.SessionState) []byte {
	msg := Parse(payload)
	msg.Terminate()

	seq := strconv.Itoa(st.CSeq)
	if !msg.SetHeader(d.opts.SeqHeader, seq) {
		msg.InsertFirst(d.opts.SeqHeader, seq)
	}

	if d.isOrigin(msg.Method()) {
		return msg.Bytes()
	}
	msg.RemoveHeader(d.opts.TokenHeader)
	if st.Token != "" {
		msg.Append(d.opts.TokenHeader, st.Token)
	}
	return msg.Bytes()
}

// ExtractToken returns the Session value up to its first parameter.
func (d *RTSP) ExtractToken(resp []byte) string {
	m := d.tokenRe.FindSubmatch(resp)
	if m == nil {
		return ""
	}
	token, _, _ := strings.Cut(string(m[1]), ";")
	return token
}

// Classify returns the status code of an "RTSP/1.0 200 OK" line.
func (d *RTSP) Classify(resp []byte) string {
	line, _, _ := strings.Cut(string(resp), "\r\n")
	fields := strings.Fields(line)
	if len(fields) >= 2 && strings.HasPrefix(fields[0], "RTSP/") {
		return fields[1]
	}
	return ""
}

// Greets is false: RTSP servers speak only when asked.
func (d *RTSP) Greets() bool { return false }

// Recover never sends anything; RTSP has no busy state to abort.
func (d *RTSP) Recover([]byte) []byte { return nil }

// DefaultTranscript is a live555 playback of one stream.
func (d *RTSP) DefaultTranscript() domain.Transcript {
	return domain.NewTranscript(
		[2]string{"OPTIONS", "200"},
		[2]string{"DESCRIBE", "200"},
		[2]string{"SETUP", "200"},
		[2]string{"PLAY", "200"},
		[2]string{"TEARDOWN", "200"},
	)
}

func (d *RTSP) isOrigin(method string) bool {
	for _, m := range d.opts.OriginMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
