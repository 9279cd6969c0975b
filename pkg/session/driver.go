package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
	"github.com/aretw0/replayfuzz/pkg/protocol"
)

// DefaultBufferSize is the size of a single response read.
const DefaultBufferSize = 4096

// Driver runs sessions-with-injection against a listening server.
type Driver struct {
	addr    string
	dialect protocol.Dialect
	store   ports.MessageStore

	connectTimeout time.Duration
	readTimeout    time.Duration
	bufferSize     int
	pace           time.Duration
	recoverDelay   time.Duration
	validate       bool
	closing        string

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// Option configures the Driver.
type Option func(*Driver)

// WithConnectTimeout bounds the connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		dr.connectTimeout = d
	}
}

// WithReadTimeout bounds the wait for each response.
func WithReadTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		dr.readTimeout = d
	}
}

// WithBufferSize sets the single-read response buffer.
func WithBufferSize(n int) Option {
	return func(dr *Driver) {
		if n > 0 {
			dr.bufferSize = n
		}
	}
}

// WithPace waits between consecutive messages.
func WithPace(d time.Duration) Option {
	return func(dr *Driver) {
		dr.pace = d
	}
}

// WithRecoverDelay waits after a recovery message before continuing.
func WithRecoverDelay(d time.Duration) Option {
	return func(dr *Driver) {
		dr.recoverDelay = d
	}
}

// WithValidation compares every response with the transcript marker and counts
// mismatches in TrialResult.Desyncs. It never aborts a trial.
func WithValidation(enabled bool) Option {
	return func(dr *Driver) {
		dr.validate = enabled
	}
}

// WithClosing names the state sent at the end of a baseline run, when recorded.
func WithClosing(state string) Option {
	return func(dr *Driver) {
		dr.closing = state
	}
}

// WithHooks registers lifecycle hooks. Only OnMessage is used by the driver.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(dr *Driver) {
		dr.hooks = hooks
	}
}

// WithLogger configures a logger for the Driver.
func WithLogger(logger *slog.Logger) Option {
	return func(dr *Driver) {
		dr.logger = logger
	}
}

// NewDriver creates a driver for the server at addr.
func NewDriver(addr string, dialect protocol.Dialect, store ports.MessageStore, opts ...Option) *Driver {
	d := &Driver{
		addr:           addr,
		dialect:        dialect,
		store:          store,
		connectTimeout: 2 * time.Second,
		readTimeout:    time.Second,
		bufferSize:     DefaultBufferSize,
		recoverDelay:   200 * time.Millisecond,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunTrial replays transcript[0:index], sends payload in place of transcript[index]
// and, if the server answered it, replays the rest. The outcome is always set;
// Err is set only for connection failures.
func (d *Driver) RunTrial(ctx context.Context, tr domain.Transcript, index int, payload []byte, media string) (res domain.TrialResult) {
	res = domain.TrialResult{
		Trial:     domain.Trial{Index: index, Media: media},
		StartedAt: time.Now(),
	}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	if index < 0 || index >= tr.Len() {
		res.Outcome = domain.OutcomeAborted
		res.Err = fmt.Errorf("injection index %d outside transcript of %d", index, tr.Len())
		return res
	}
	res.Trial.State = tr[index].State

	c, err := d.open(ctx, tr, &res)
	if err != nil {
		res.Outcome = domain.OutcomeConnectionError
		res.Err = err
		return res
	}
	defer c.close()

	for i := 0; i < index; i++ {
		if err := c.replay(ctx, i, domain.PhasePrefix); err != nil {
			res.Outcome = domain.OutcomeConnectionError
			res.Err = fmt.Errorf("%w: lost during prefix at %s: %v", domain.ErrConnection, tr[i].State, err)
			return res
		}
	}

	responded, err := c.send(ctx, index, domain.PhaseMutation, payload)
	if err != nil {
		res.Outcome = domain.OutcomeConnectionError
		res.Err = fmt.Errorf("%w: sending mutation: %v", domain.ErrConnection, err)
		return res
	}
	if !responded {
		d.logger.Info("No response to mutated message", "state", tr[index].State, "media", media)
		res.Outcome = domain.OutcomeNoResponseToMutation
		return res
	}

	res.Outcome = domain.OutcomeCompleted
	for i := index + 1; i < tr.Len(); i++ {
		if err := c.replay(ctx, i, domain.PhaseSuffix); err != nil {
			d.logger.Info("Conversation ended during suffix", "state", tr[i].State, "err", err)
			break
		}
	}
	return res
}

// RunBaseline replays transcript[0:upto] inclusive without any mutation, then the
// closing message if one is configured and recorded.
func (d *Driver) RunBaseline(ctx context.Context, tr domain.Transcript, upto int, media string) (res domain.TrialResult) {
	res = domain.TrialResult{
		Trial:     domain.Trial{Index: upto, Media: media},
		StartedAt: time.Now(),
	}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	if upto < 0 || upto >= tr.Len() {
		res.Outcome = domain.OutcomeAborted
		res.Err = fmt.Errorf("baseline index %d outside transcript of %d", upto, tr.Len())
		return res
	}
	res.Trial.State = tr[upto].State

	c, err := d.open(ctx, tr, &res)
	if err != nil {
		res.Outcome = domain.OutcomeConnectionError
		res.Err = err
		return res
	}
	defer c.close()

	res.Outcome = domain.OutcomeCompleted
	for i := 0; i <= upto; i++ {
		if err := c.replay(ctx, i, domain.PhaseBaseline); err != nil {
			res.Outcome = domain.OutcomeConnectionError
			res.Err = fmt.Errorf("%w: lost during baseline at %s: %v", domain.ErrConnection, tr[i].State, err)
			return res
		}
	}

	if d.closing == "" {
		return res
	}
	closing, err := d.store.Payload(d.closing, media)
	if err != nil {
		d.logger.Debug("No closing message recorded", "state", d.closing)
		return res
	}
	if _, err := c.sendAs(ctx, -1, d.closing, domain.PhaseClosing, closing); err != nil {
		d.logger.Info("Closing message not delivered", "state", d.closing, "err", err)
	}
	return res
}

func (d *Driver) open(ctx context.Context, tr domain.Transcript, res *domain.TrialResult) (*conversation, error) {
	dialer := net.Dialer{Timeout: d.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConnection, d.addr, err)
	}

	c := &conversation{
		d:     d,
		tr:    tr,
		conn:  conn,
		res:   res,
		state: domain.NewSessionState(),
		buf:   make([]byte, d.bufferSize),
	}
	if d.dialect.Greets() {
		greeting, ok, err := c.read()
		if err != nil || !ok {
			d.logger.Warn("No greeting from server", "err", err)
		} else {
			d.logger.Debug("Server greeting", "response", summarize(greeting))
		}
	}
	return c, nil
}

// conversation is the state of one connection. It lives for exactly one trial.
type conversation struct {
	d     *Driver
	tr    domain.Transcript
	conn  net.Conn
	res   *domain.TrialResult
	state *domain.SessionState
	buf   []byte
	sent  int

	// closed holds the error that ended the connection from the server side.
	closed error
}

func (c *conversation) close() {
	c.res.Session = *c.state
	_ = c.conn.Close()
}

// replay sends the recorded payload of transcript index i. A missing recording is
// skipped without touching the sequence counter. It returns an error once the
// connection is unusable.
func (c *conversation) replay(ctx context.Context, i int, phase domain.Phase) error {
	state := c.tr[i].State
	payload, err := c.d.store.Payload(state, c.res.Trial.Media)
	if err != nil {
		c.d.logger.Warn("Recorded message missing, skipping", "state", state, "media", c.res.Trial.Media, "err", err)
		c.res.Skipped = append(c.res.Skipped, state)
		return nil
	}
	if _, err := c.send(ctx, i, phase, payload); err != nil {
		return err
	}
	return c.closed
}

func (c *conversation) send(ctx context.Context, i int, phase domain.Phase, payload []byte) (bool, error) {
	return c.sendAs(ctx, i, c.tr[i].State, phase, payload)
}

// sendAs transmits one message and waits for its response. Only write failures
// are returned; a server hang-up is kept in c.closed.
func (c *conversation) sendAs(ctx context.Context, i int, state string, phase domain.Phase, payload []byte) (bool, error) {
	d := c.d
	if c.closed != nil {
		return false, c.closed
	}
	if c.sent > 0 && d.pace > 0 {
		time.Sleep(d.pace)
	}

	out := d.dialect.Prepare(payload, *c.state)
	msg := domain.SentMessage{
		Index:   i,
		State:   state,
		Phase:   phase,
		CSeq:    c.state.CSeq,
		Token:   c.state.Token,
		Payload: out,
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(d.readTimeout + d.connectTimeout))
	if _, err := c.conn.Write(out); err != nil {
		return false, fmt.Errorf("write %s: %w", state, err)
	}
	c.sent++
	c.state.Advance()

	resp, ok, readErr := c.read()
	msg.Response = resp
	msg.Responded = ok
	c.res.Sent = append(c.res.Sent, msg)

	if ok {
		if c.state.Stick(d.dialect.ExtractToken(resp)) {
			d.logger.Debug("Session token established", "session", c.state.Token, "state", state)
		}
		if d.validate && i >= 0 {
			expect := c.tr[i].Expect
			if class := d.dialect.Classify(resp); !protocol.Matches(expect, class) {
				c.res.Desyncs++
				d.logger.Warn("Response does not match transcript", "state", state, "expect", expect, "got", class)
			}
		}
		if rec := d.dialect.Recover(resp); rec != nil {
			c.recover(rec)
		}
	} else if readErr != nil {
		c.closed = readErr
		d.logger.Info("Server closed the connection", "state", state, "cseq", msg.CSeq, "err", readErr)
	} else {
		d.logger.Debug("No response before timeout", "state", state, "cseq", msg.CSeq)
	}

	d.logger.Debug("Message sent", "state", state, "phase", phase, "cseq", msg.CSeq, "session", msg.Token,
		"responded", ok, "response", summarize(resp))
	if d.hooks.OnMessage != nil {
		d.hooks.OnMessage(ctx, &domain.MessageEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventMessage},
			Message:   msg,
			Media:     c.res.Trial.Media,
		})
	}
	return ok, nil
}

// read waits for one response. A timeout is not an error; a closed connection is.
func (c *conversation) read() ([]byte, bool, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.d.readTimeout))
	n, err := c.conn.Read(c.buf)
	if n > 0 {
		resp := make([]byte, n)
		copy(resp, c.buf[:n])
		return resp, true, nil
	}
	if err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, false, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil, false, nil
	}
	return nil, false, err
}

func (c *conversation) recover(msg []byte) {
	c.d.logger.Info("Server busy, sending recovery command", "command", summarize(msg))
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.d.readTimeout))
	if _, err := c.conn.Write(msg); err != nil {
		return
	}
	_, _, _ = c.read()
	time.Sleep(c.d.recoverDelay)
}
