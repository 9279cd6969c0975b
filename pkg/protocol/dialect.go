package protocol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Dialect holds the protocol-specific rules of a session.
type Dialect interface {
	// Name is the registry key, e.g. "rtsp".
	Name() string

	// Prepare stamps the session state into an outgoing payload.
	Prepare(payload []byte, st domain.SessionState) []byte

	// ExtractToken returns the session token carried by a response, or "".
	ExtractToken(resp []byte) string

	// Classify names a response so it can be compared with a transcript marker.
	Classify(resp []byte) string

	// Greets reports whether the server speaks first after the connection opens.
	Greets() bool

	// Recover returns a message that unblocks the server after resp, or nil.
	Recover(resp []byte) []byte

	// DefaultTranscript is used when no transcript file can be loaded.
	DefaultTranscript() domain.Transcript
}

// Factory builds a dialect from its free-form options.
type Factory func(opts map[string]any) (Dialect, error)

var registry = map[string]Factory{
	"rtsp": func(opts map[string]any) (Dialect, error) { return NewRTSP(opts) },
	"mqtt": func(opts map[string]any) (Dialect, error) { return NewMQTT(opts) },
	"ftp":  func(opts map[string]any) (Dialect, error) { return NewFTP(opts) },
}

// New returns the dialect registered under name.
func New(name string, opts map[string]any) (Dialect, error) {
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts)
}

// Names lists the registered dialects.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Matches reports whether a classified response satisfies a transcript marker.
// An empty marker matches anything.
func Matches(expect, class string) bool {
	if expect == "" {
		return true
	}
	if class == "" {
		return false
	}
	return strings.EqualFold(expect, class) || strings.Contains(strings.ToUpper(expect), strings.ToUpper(class))
}

func decodeOptions(opts map[string]any, out any) error {
	if len(opts) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("invalid protocol options: %w", err)
	}
	return nil
}
