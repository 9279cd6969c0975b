package protocol_test

import (
	"testing"

	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTSP_Prepare(t *testing.T) {
	d, err := protocol.NewRTSP(nil)
	require.NoError(t, err)

	t.Run("replaces sequence and attaches token", func(t *testing.T) {
		out := d.Prepare([]byte("PLAY rtsp://h/a RTSP/1.0\r\nCSeq: 99\r\nSession: STALE\r\nRange: npt=0-\r\n\r\n"),
			domain.SessionState{CSeq: 4, Token: "5A3F"})
		assert.Equal(t, "PLAY rtsp://h/a RTSP/1.0\r\nCSeq: 4\r\nRange: npt=0-\r\nSession: 5A3F\r\n\r\n", string(out))
	})

	t.Run("origin method keeps its own headers", func(t *testing.T) {
		in := "SETUP rtsp://h/a RTSP/1.0\r\nCSeq: 1\r\nSession: FROM-RECORDING\r\n\r\n"
		out := d.Prepare([]byte(in), domain.SessionState{CSeq: 2, Token: "5A3F"})
		assert.Equal(t, "SETUP rtsp://h/a RTSP/1.0\r\nCSeq: 2\r\nSession: FROM-RECORDING\r\n\r\n", string(out))
	})

	t.Run("no token strips stale ones", func(t *testing.T) {
		out := d.Prepare([]byte("OPTIONS x RTSP/1.0\r\nSession: STALE\r\n\r\n"), domain.SessionState{CSeq: 1})
		assert.Equal(t, "OPTIONS x RTSP/1.0\r\nCSeq: 1\r\n\r\n", string(out))
	})

	t.Run("lone start line gets a header block terminator", func(t *testing.T) {
		out := d.Prepare([]byte("OPTIONS rtsp://h/a RTSP/1.0"), domain.SessionState{CSeq: 3, Token: "abc"})
		assert.Equal(t, "OPTIONS rtsp://h/a RTSP/1.0\r\nCSeq: 3\r\nSession: abc\r\n\r\n", string(out))
	})

	t.Run("headers without blank line are terminated", func(t *testing.T) {
		out := d.Prepare([]byte("PLAY rtsp://h/a RTSP/1.0\r\nCSeq: 9\r\n"), domain.SessionState{CSeq: 4})
		assert.Equal(t, "PLAY rtsp://h/a RTSP/1.0\r\nCSeq: 4\r\n\r\n", string(out))

		out = d.Prepare([]byte("PLAY rtsp://h/a RTSP/1.0\r\nRange: npt=0-"), domain.SessionState{CSeq: 5})
		assert.Equal(t, "PLAY rtsp://h/a RTSP/1.0\r\nCSeq: 5\r\nRange: npt=0-\r\n\r\n", string(out))
	})

	t.Run("leading whitespace before method", func(t *testing.T) {
		out := d.Prepare([]byte("  SETUP x RTSP/1.0\r\n\r\n"), domain.SessionState{CSeq: 2, Token: "T"})
		assert.NotContains(t, string(out), "Session:")
	})
}

func TestRTSP_ExtractToken(t *testing.T) {
	d, err := protocol.NewRTSP(nil)
	require.NoError(t, err)

	assert.Equal(t, "5A3F9C21", d.ExtractToken([]byte("RTSP/1.0 200 OK\r\nCSeq: 3\r\nSession: 5A3F9C21;timeout=65\r\n\r\n")))
	assert.Equal(t, "ABC", d.ExtractToken([]byte("RTSP/1.0 200 OK\r\nSession:ABC\r\n\r\n")))
	assert.Equal(t, "", d.ExtractToken([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n")))
}

func TestRTSP_CustomHeaders(t *testing.T) {
	d, err := protocol.NewRTSP(map[string]any{
		"seq_header":     "Seq",
		"token_header":   "X-Sid",
		"origin_methods": "LOGIN,SETUP",
	})
	require.NoError(t, err)

	out := d.Prepare([]byte("GET / X/1\r\n\r\n"), domain.SessionState{CSeq: 7, Token: "s1"})
	assert.Equal(t, "GET / X/1\r\nSeq: 7\r\nX-Sid: s1\r\n\r\n", string(out))

	out = d.Prepare([]byte("LOGIN / X/1\r\n\r\n"), domain.SessionState{CSeq: 1, Token: "s1"})
	assert.NotContains(t, string(out), "X-Sid")

	_, err = protocol.NewRTSP(map[string]any{"unknown_knob": true})
	assert.Error(t, err)
}

func TestRTSP_Classify(t *testing.T) {
	d, _ := protocol.NewRTSP(nil)
	assert.Equal(t, "200", d.Classify([]byte("RTSP/1.0 200 OK\r\n\r\n")))
	assert.Equal(t, "454", d.Classify([]byte("RTSP/1.0 454 Session Not Found\r\n\r\n")))
	assert.Equal(t, "", d.Classify([]byte("garbage")))
}

func TestMQTT(t *testing.T) {
	d, err := protocol.NewMQTT(nil)
	require.NoError(t, err)

	pkt := []byte{0x10, 0x0c, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x02, 0x00, 0x3c}
	assert.Equal(t, pkt, d.Prepare(pkt, domain.SessionState{CSeq: 5}), "binary payloads pass through")
	assert.Equal(t, "CONNACK", d.Classify([]byte{0x20, 0x02, 0x00, 0x00}))
	assert.Equal(t, "PINGRESP", d.Classify([]byte{0xd0, 0x00}))
	assert.Equal(t, "UNKNOWN", d.Classify([]byte{0x20}))
	assert.Equal(t, "CONNECT", d.DefaultTranscript()[0].State)
}

func TestFTP(t *testing.T) {
	d, err := protocol.NewFTP(nil)
	require.NoError(t, err)

	assert.Equal(t, "USER anonymous\r\n", string(d.Prepare([]byte("USER anonymous \n"), domain.SessionState{})))
	assert.Equal(t, "331", d.Classify([]byte("331 User anonymous OK. Password required\r\n")))
	assert.Equal(t, "", d.Classify([]byte("hi")))
	assert.True(t, d.Greets())

	assert.Equal(t, "ABOR\r\n", string(d.Recover([]byte("550 Another action is in progress, use ABOR command first\r\n"))))
	assert.Nil(t, d.Recover([]byte("200 OK\r\n")))
}

func TestNew_Registry(t *testing.T) {
	for _, name := range protocol.Names() {
		d, err := protocol.New(name, nil)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
		assert.NotEmpty(t, d.DefaultTranscript())
	}

	_, err := protocol.New("gopher", nil)
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	assert.True(t, protocol.Matches("", "anything"))
	assert.True(t, protocol.Matches("200", "200"))
	assert.True(t, protocol.Matches("RTSP/1.0 200 OK", "200"))
	assert.True(t, protocol.Matches("connack", "CONNACK"))
	assert.False(t, protocol.Matches("200", "454"))
	assert.False(t, protocol.Matches("CONNACK", ""))
}
