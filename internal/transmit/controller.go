package transmit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Options tune a Controller. The zero value disables rate limiting and
// auto-reconnect and uses the default health parameters.
type Options struct {
	MinInterval   time.Duration
	AutoReconnect bool
	HealthWindow  int
	FailureRun    int
	EchoTimeout   time.Duration
}

// Controller owns the transmit session and is the only type external
// callers drive. All methods are safe for concurrent use.
//
// State machine: DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED.
// While CONNECTED a single burst may be in flight and the listen loop may
// run independently of sending.
type Controller struct {
	opts Options

	// listenMu serializes StartListening and StopListening so one worker
	// is fully stopped before the next is started on the same socket.
	listenMu sync.Mutex

	mu            sync.Mutex
	state         ConnState
	gen           uint64
	cfg           Config
	lastCfg       *Config
	autoReconnect bool
	session       *Session
	listener      *ListenWorker
	burstCancel   context.CancelFunc
	burstDone     chan struct{}
	lastErr       string

	sent        atomic.Uint64
	failed      atomic.Uint64
	rateLimited atomic.Uint64
	received    atomic.Uint64
	lastHealth  atomic.Int32

	scheduler BurstScheduler
	health    *HealthMonitor
	events    publisher
}

// NewController returns a disconnected controller.
func NewController(opts Options) *Controller {
	return &Controller{
		opts:          opts,
		autoReconnect: opts.AutoReconnect,
		health:        NewHealthMonitor(opts.HealthWindow, opts.FailureRun, opts.EchoTimeout),
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// Connect validates cfg, opens a session and moves to CONNECTED. It fails
// with ErrAlreadyConnected unless the controller is DISCONNECTED.
func (c *Controller) Connect(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.cfg = cfg
	remembered := cfg
	c.lastCfg = &remembered
	c.mu.Unlock()
	c.publishState()

	slog.Debug("Connecting", "host", cfg.Host, "port", cfg.Port)
	s, err := OpenSession(ctx, cfg.Host, cfg.Port, NewRateLimiter(c.opts.MinInterval))

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if s != nil {
			s.Close()
		}
		return ErrConnectAborted
	}
	if err != nil {
		c.state = StateDisconnected
		c.lastErr = err.Error()
		c.mu.Unlock()
		slog.Debug("Connect failed", "error", err)
		c.publishState()
		return err
	}
	c.session = s
	c.state = StateConnected
	c.lastErr = ""
	c.mu.Unlock()

	c.updateHealth(c.health.SetConnected(true))
	c.publishState()
	return nil
}

// Disconnect cancels any burst, stops listening and closes the session.
// It is valid in every state and idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	wasDisconnected := c.state == StateDisconnected
	c.gen++
	cancel, done := c.burstCancel, c.burstDone
	listener, session := c.listener, c.session
	c.burstCancel, c.burstDone = nil, nil
	c.listener, c.session = nil, nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if session != nil {
		session.Close()
	}
	if listener != nil {
		listener.Stop()
	}
	if wasDisconnected {
		return
	}

	slog.Debug("Disconnected")
	c.updateHealth(c.health.SetConnected(false))
	c.publishState()
}

// Reconfigure applies cfg. Connected to the same destination, only the
// payload settings are swapped in and the session is kept. Otherwise any
// session is closed and cfg is connected.
func (c *Controller) Reconfigure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateConnected && c.cfg.Address() == cfg.Address() {
		c.cfg = cfg
		remembered := cfg
		c.lastCfg = &remembered
		c.mu.Unlock()
		slog.Debug("Payload settings updated", "host", cfg.Host, "port", cfg.Port)
		c.publishState()
		return nil
	}
	active := c.state != StateDisconnected
	c.mu.Unlock()

	if active {
		c.Disconnect()
	}
	return c.Connect(ctx, cfg)
}

// Close disconnects and closes every subscription.
func (c *Controller) Close() {
	c.Disconnect()
	c.events.close()
}

// Trigger performs one rate-limited send. Send failures are reported in the
// outcome; the error is non-nil only when the controller is not connected.
func (c *Controller) Trigger() (SendOutcome, error) {
	c.mu.Lock()
	s, cfg, state := c.session, c.cfg, c.state
	c.mu.Unlock()

	if state != StateConnected || s == nil {
		return SendOutcome{}, ErrNotConnected
	}
	return c.sendOne(s, cfg, 0), nil
}

// Burst runs a burst and blocks until it completes, ctx is cancelled or the
// controller disconnects.
func (c *Controller) Burst(ctx context.Context, spec BurstSpec) ([]SendOutcome, error) {
	ctx, s, cfg, finish, err := c.beginBurst(ctx)
	if err != nil {
		return nil, err
	}
	defer finish()
	return c.runBurst(ctx, s, cfg, spec)
}

// StartBurst launches a burst in the background. Progress is reported
// through events.
func (c *Controller) StartBurst(spec BurstSpec) error {
	ctx, s, cfg, finish, err := c.beginBurst(context.Background())
	if err != nil {
		return err
	}
	go func() {
		defer finish()
		c.runBurst(ctx, s, cfg, spec)
	}()
	return nil
}

func (c *Controller) beginBurst(parent context.Context) (context.Context, *Session, Config, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.session == nil {
		return nil, nil, Config{}, nil, ErrNotConnected
	}
	if c.burstDone != nil || c.scheduler.IsSending() {
		return nil, nil, Config{}, nil, ErrBurstInProgress
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	c.burstCancel, c.burstDone = cancel, done

	finish := func() {
		cancel()
		c.mu.Lock()
		if c.burstDone == done {
			c.burstCancel, c.burstDone = nil, nil
		}
		c.mu.Unlock()
		close(done)
		c.publishState()
	}
	return ctx, c.session, c.cfg, finish, nil
}

func (c *Controller) runBurst(ctx context.Context, s *Session, cfg Config, spec BurstSpec) ([]SendOutcome, error) {
	spec = spec.Normalize()
	spec.Enabled = true
	c.events.publish(Event{
		Type:   EventBurstStarted,
		Time:   time.Now(),
		Health: c.health.State(),
		Burst:  &BurstSummary{Spec: spec},
	})

	outcomes, err := c.scheduler.Run(ctx, spec, func(index int) SendOutcome {
		return c.sendOne(s, cfg, index)
	})

	summary := &BurstSummary{
		Spec:      spec,
		Sent:      len(outcomes),
		Cancelled: errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded),
	}
	for _, o := range outcomes {
		if o.Success {
			summary.Succeeded++
		}
	}
	slog.Debug("Burst finished", "sent", summary.Sent, "succeeded", summary.Succeeded, "cancelled", summary.Cancelled)
	c.events.publish(Event{
		Type:   EventBurstFinished,
		Time:   time.Now(),
		Health: c.health.State(),
		Burst:  summary,
	})
	return outcomes, err
}

func (c *Controller) sendOne(s *Session, cfg Config, burstIndex int) SendOutcome {
	now := time.Now()
	payload, err := BuildPacket(cfg, burstIndex, now)
	if err == nil {
		c.health.ExpectEcho(payload, now)
		err = s.Send(payload, now)
	}
	o := newOutcome(now, payload, burstIndex, err)

	switch {
	case o.Success:
		c.sent.Add(1)
	case o.ErrorKind == KindRateLimited:
		c.rateLimited.Add(1)
	default:
		c.failed.Add(1)
	}

	h := c.health.RecordSend(o)
	c.events.publish(Event{Type: EventSent, Time: now, Outcome: &o, Health: h})
	c.updateHealth(h)
	return o
}

// StartListening starts the receive loop. It is a no-op when already
// listening.
func (c *Controller) StartListening() error {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	c.mu.Lock()
	if c.state != StateConnected || c.session == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.listener != nil {
		c.mu.Unlock()
		return nil
	}
	c.listener = startListenWorker(c.session, c.onDatagram, c.onReceiveError)
	c.mu.Unlock()

	slog.Debug("Listening started")
	c.publishState()
	return nil
}

// StopListening stops the receive loop, leaving the session open.
func (c *Controller) StopListening() {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	c.mu.Lock()
	listener := c.listener
	c.listener = nil
	c.mu.Unlock()

	if listener == nil {
		return
	}
	listener.Stop()
	slog.Debug("Listening stopped")
	c.publishState()
}

func (c *Controller) onDatagram(d ReceivedDatagram) {
	c.received.Add(1)
	h, rtt := c.health.recordReceive(d)
	d.EchoRTT = rtt
	c.events.publish(Event{Type: EventReceived, Time: d.Timestamp, Datagram: &d, Health: h})
	c.updateHealth(h)
}

func (c *Controller) onReceiveError(err error) {
	c.events.publish(Event{
		Type:   EventReceiveError,
		Time:   time.Now(),
		Health: c.health.State(),
		Error:  err.Error(),
	})
}

// SetAutoReconnect toggles reconnecting on ConnectivityRegained.
func (c *Controller) SetAutoReconnect(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = enabled
}

// ConnectivityRegained makes one connect attempt with the last used config
// when auto-reconnect is enabled and the controller is disconnected. It
// never retries; repeated signals make repeated attempts.
func (c *Controller) ConnectivityRegained(ctx context.Context) error {
	c.mu.Lock()
	if !c.autoReconnect || c.state != StateDisconnected || c.lastCfg == nil {
		c.mu.Unlock()
		return nil
	}
	cfg := *c.lastCfg
	c.mu.Unlock()

	slog.Debug("Connectivity regained, reconnecting", "host", cfg.Host, "port", cfg.Port)
	return c.Connect(ctx, cfg)
}

// LastConfig returns the config of the most recent connect attempt.
func (c *Controller) LastConfig() (Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCfg == nil {
		return Config{}, false
	}
	return *c.lastCfg, true
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:     c.state,
		Listening: c.listener != nil,
		LastError: c.lastErr,
	}
	if c.state != StateDisconnected {
		cfg := c.cfg
		st.Config = &cfg
	}
	if c.session != nil {
		info := c.session.Info()
		st.Session = &info
	}
	c.mu.Unlock()

	st.Bursting = c.scheduler.IsSending()
	st.Health = c.health.Snapshot()
	st.Sent = c.sent.Load()
	st.Failed = c.failed.Load()
	st.RateLimited = c.rateLimited.Load()
	st.Received = c.received.Load()
	return st
}

func (c *Controller) publishState() {
	st := c.Status()
	c.events.publish(Event{Type: EventState, Time: time.Now(), Status: &st, Health: st.Health.State})
}

// updateHealth publishes a health event when the classification changed.
func (c *Controller) updateHealth(h HealthState) {
	if prev := HealthState(c.lastHealth.Swap(int32(h))); prev != h {
		c.events.publish(Event{Type: EventHealth, Time: time.Now(), Health: h})
	}
}
