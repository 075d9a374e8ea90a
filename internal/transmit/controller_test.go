package transmit

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"
)

func connectedController(t *testing.T, p *udpPeer, opts Options, mutate func(*Config)) *Controller {
	t.Helper()
	c := NewController(opts)
	cfg := p.config()
	if mutate != nil {
		mutate(&cfg)
	}
	if err := c.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// waitFor returns the first event satisfying match, failing after 2s.
func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestController_Trigger(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)

	o, err := c.Trigger()
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !o.Success || o.ByteLength != 4 {
		t.Errorf("Trigger outcome = %+v, want success with 4 bytes", o)
	}
	if got := string(p.next(t)); got != "ping" {
		t.Errorf("peer received %q, want %q", got, "ping")
	}

	st := c.Status()
	if !st.Connected() || st.Sent != 1 {
		t.Errorf("Status() = %+v, want connected with one send", st)
	}
	if st.Health.State == HealthDisconnected {
		t.Error("health still DISCONNECTED after a successful send")
	}
	if st.Config == nil || st.Config.Port != p.port() {
		t.Errorf("Status().Config = %+v", st.Config)
	}
}

func TestController_NotConnected(t *testing.T) {
	c := NewController(Options{})
	defer c.Close()

	if _, err := c.Trigger(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Trigger = %v, want ErrNotConnected", err)
	}
	if err := c.StartBurst(NewBurstSpec(3, 10*time.Millisecond)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartBurst = %v, want ErrNotConnected", err)
	}
	if _, err := c.Burst(context.Background(), NewBurstSpec(3, 10*time.Millisecond)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Burst = %v, want ErrNotConnected", err)
	}
	if err := c.StartListening(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartListening = %v, want ErrNotConnected", err)
	}
	if got := c.Status().Health.State; got != HealthDisconnected {
		t.Errorf("health = %v, want DISCONNECTED", got)
	}
}

func TestController_ConnectInvalidConfig(t *testing.T) {
	c := NewController(Options{})
	defer c.Close()

	tests := []Config{
		{Host: "127.0.0.1", Port: 0},
		{Host: "127.0.0.1", Port: 70000},
		{Host: "", Port: 5000},
		{Host: "example.com", Port: 5000},
	}
	for _, cfg := range tests {
		if err := c.Connect(context.Background(), cfg); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Connect(%+v) = %v, want ErrConfiguration", cfg, err)
		}
	}
	if c.Status().State != StateDisconnected {
		t.Error("invalid config left the controller out of DISCONNECTED")
	}
	if _, ok := c.LastConfig(); ok {
		t.Error("invalid config was remembered")
	}
}

func TestController_DoubleConnect(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)

	if err := c.Connect(context.Background(), p.config()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestController_ConnectAbortedByDisconnect(t *testing.T) {
	orig := lookupNetIP
	defer func() { lookupNetIP = orig }()
	release := make(chan struct{})
	lookupNetIP = func(context.Context, string, string) ([]netip.Addr, error) {
		<-release
		return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, nil
	}

	c := NewController(Options{})
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Connect(context.Background(), Config{Host: "slowhost", Port: 9})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Status().State != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("controller never entered CONNECTING")
		}
		time.Sleep(time.Millisecond)
	}
	c.Disconnect()
	close(release)

	if err := <-errCh; !errors.Is(err, ErrConnectAborted) {
		t.Errorf("Connect = %v, want ErrConnectAborted", err)
	}
	if got := c.Status().State; got != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED", got)
	}
}

func TestController_StateEvents(t *testing.T) {
	p := startPeer(t, false)
	c := NewController(Options{})
	defer c.Close()
	events, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.Connect(context.Background(), p.config()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()
	c.Disconnect()

	isState := func(ev Event) bool { return ev.Type == EventState }
	for _, want := range []ConnState{StateConnecting, StateConnected, StateDisconnected} {
		ev := waitFor(t, events, isState)
		if ev.Status.State != want {
			t.Errorf("state event = %v, want %v", ev.Status.State, want)
		}
	}
	select {
	case ev := <-events:
		if ev.Type == EventState {
			t.Errorf("unexpected state event %v after idempotent Disconnect", ev.Status.State)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_RateLimited(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{MinInterval: 500 * time.Millisecond}, nil)

	if o, _ := c.Trigger(); !o.Success {
		t.Fatalf("first Trigger failed: %s", o.Error)
	}
	o, err := c.Trigger()
	if err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if o.Success || o.ErrorKind != KindRateLimited {
		t.Errorf("second Trigger = %+v, want rate limited", o)
	}
	if o.RetryAfter <= 0 || o.RetryAfter > 500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want within (0,500ms]", o.RetryAfter)
	}

	st := c.Status()
	if st.Sent != 1 || st.RateLimited != 1 || st.Failed != 0 {
		t.Errorf("counters sent=%d limited=%d failed=%d, want 1/1/0", st.Sent, st.RateLimited, st.Failed)
	}
	if st.Health.Samples != 1 {
		t.Errorf("health samples = %d, want 1; rate limited sends are not recorded", st.Health.Samples)
	}
}

func TestController_EncodingFailure(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, func(cfg *Config) {
		cfg.HexMode = true
		cfg.PacketContent = "zz"
	})

	o, err := c.Trigger()
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if o.Success || o.ErrorKind != KindEncoding {
		t.Errorf("Trigger = %+v, want encoding failure", o)
	}
	if c.Status().Failed != 1 {
		t.Errorf("Failed = %d, want 1", c.Status().Failed)
	}
}

func TestController_Burst(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, func(cfg *Config) {
		cfg.IncludeBurstIndex = true
	})

	outcomes, err := c.Burst(context.Background(), NewBurstSpec(3, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("Burst: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("Burst returned %d outcomes, want 3", len(outcomes))
	}
	for i, want := range []string{"1|ping", "2|ping", "3|ping"} {
		if outcomes[i].BurstIndex != i+1 {
			t.Errorf("outcome %d BurstIndex = %d", i, outcomes[i].BurstIndex)
		}
		if got := string(p.next(t)); got != want {
			t.Errorf("datagram %d = %q, want %q", i, got, want)
		}
	}
	if c.Status().Bursting {
		t.Error("Bursting still set after Burst returned")
	}
}

func TestController_BurstEvents(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)
	events, cancel := c.Subscribe(256)
	defer cancel()

	if err := c.StartBurst(NewBurstSpec(2, 10*time.Millisecond)); err != nil {
		t.Fatalf("StartBurst: %v", err)
	}
	started := waitFor(t, events, func(ev Event) bool { return ev.Type == EventBurstStarted })
	if started.Burst.Spec.PacketCount != 2 {
		t.Errorf("burst_started count = %d, want 2", started.Burst.Spec.PacketCount)
	}
	finished := waitFor(t, events, func(ev Event) bool { return ev.Type == EventBurstFinished })
	if finished.Burst.Sent != 2 || finished.Burst.Succeeded != 2 || finished.Burst.Cancelled {
		t.Errorf("burst_finished = %+v, want 2 sent, 2 succeeded", finished.Burst)
	}
}

func TestController_BurstInProgress(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)

	if err := c.StartBurst(NewBurstSpec(100, 50*time.Millisecond)); err != nil {
		t.Fatalf("StartBurst: %v", err)
	}
	if err := c.StartBurst(NewBurstSpec(5, 10*time.Millisecond)); !errors.Is(err, ErrBurstInProgress) {
		t.Errorf("second StartBurst = %v, want ErrBurstInProgress", err)
	}
	if _, err := c.Burst(context.Background(), NewBurstSpec(5, 10*time.Millisecond)); !errors.Is(err, ErrBurstInProgress) {
		t.Errorf("Burst during StartBurst = %v, want ErrBurstInProgress", err)
	}
}

func TestController_DisconnectCancelsBurst(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)

	if err := c.StartBurst(NewBurstSpec(100, 20*time.Millisecond)); err != nil {
		t.Fatalf("StartBurst: %v", err)
	}
	p.next(t)
	c.Disconnect()

	st := c.Status()
	if st.Bursting {
		t.Error("Bursting still set after Disconnect")
	}
	attempts := st.Sent + st.Failed
	time.Sleep(100 * time.Millisecond)
	st = c.Status()
	if st.Sent+st.Failed != attempts {
		t.Errorf("sends continued after Disconnect: %d then %d", attempts, st.Sent+st.Failed)
	}
	if attempts >= 100 {
		t.Errorf("burst ran to completion (%d sends)", attempts)
	}
}

func TestController_BurstContextCancel(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	outcomes, err := c.Burst(ctx, NewBurstSpec(100, 20*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Burst = %v, want context.DeadlineExceeded", err)
	}
	if len(outcomes) == 0 || len(outcomes) >= 100 {
		t.Errorf("Burst returned %d outcomes, want a partial burst", len(outcomes))
	}
	if !c.Status().Connected() {
		t.Error("cancelling a burst disconnected the controller")
	}
	if err := c.StartBurst(NewBurstSpec(1, 10*time.Millisecond)); err != nil {
		t.Errorf("StartBurst after cancel: %v", err)
	}
}

func TestController_ListenEcho(t *testing.T) {
	p := startPeer(t, true)
	c := connectedController(t, p, Options{}, nil)
	events, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if err := c.StartListening(); err != nil {
		t.Errorf("second StartListening = %v, want nil", err)
	}
	if _, err := c.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventReceived })
	if string(ev.Datagram.Payload) != "ping" || ev.Datagram.SourcePort != p.port() {
		t.Errorf("received %q from port %d", ev.Datagram.Payload, ev.Datagram.SourcePort)
	}

	st := c.Status()
	if !st.Listening || st.Received != 1 {
		t.Errorf("Status() listening=%v received=%d, want true/1", st.Listening, st.Received)
	}
	if st.Health.AvgRTT <= 0 {
		t.Errorf("AvgRTT = %v, want an echo sample", st.Health.AvgRTT)
	}
	if ev.Datagram.EchoRTT <= 0 {
		t.Errorf("EchoRTT = %v, want the matched round trip", ev.Datagram.EchoRTT)
	}
}

func TestController_StopListening(t *testing.T) {
	p := startPeer(t, true)
	c := connectedController(t, p, Options{}, nil)
	events, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	c.StopListening()
	c.StopListening()
	if c.Status().Listening {
		t.Fatal("Listening still set after StopListening")
	}

	if o, _ := c.Trigger(); !o.Success {
		t.Fatalf("Trigger after StopListening failed: %s", o.Error)
	}
	p.next(t)

	if err := c.StartListening(); err != nil {
		t.Fatalf("restart StartListening: %v", err)
	}
	if _, err := c.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, events, func(ev Event) bool { return ev.Type == EventReceived })
}

func TestController_ConcurrentListenToggle(t *testing.T) {
	p := startPeer(t, true)
	c := connectedController(t, p, Options{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if err := c.StartListening(); err != nil {
						t.Errorf("StartListening: %v", err)
						return
					}
					c.StopListening()
				}
			}()
		}
		wg.Wait()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent StartListening/StopListening did not finish")
	}

	events, cancel := c.Subscribe(64)
	defer cancel()
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if _, err := c.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, events, func(ev Event) bool { return ev.Type == EventReceived })
}

func TestController_DisconnectStopsListening(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)

	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	done := make(chan struct{})
	go func() {
		c.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on the listen loop")
	}
	if st := c.Status(); st.Listening || st.Connected() {
		t.Errorf("Status() = %+v after Disconnect", st)
	}
}

func TestController_ConnectivityRegained(t *testing.T) {
	p := startPeer(t, false)

	t.Run("no saved config", func(t *testing.T) {
		c := NewController(Options{AutoReconnect: true})
		defer c.Close()
		if err := c.ConnectivityRegained(context.Background()); err != nil {
			t.Errorf("ConnectivityRegained = %v, want nil", err)
		}
		if c.Status().Connected() {
			t.Error("connected without a saved config")
		}
	})

	t.Run("enabled", func(t *testing.T) {
		c := connectedController(t, p, Options{AutoReconnect: true}, nil)
		c.Disconnect()
		if err := c.ConnectivityRegained(context.Background()); err != nil {
			t.Fatalf("ConnectivityRegained: %v", err)
		}
		st := c.Status()
		if !st.Connected() || st.Config.Port != p.port() {
			t.Errorf("Status() = %+v, want reconnected to the peer", st)
		}
		if o, _ := c.Trigger(); !o.Success {
			t.Errorf("Trigger after reconnect failed: %s", o.Error)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		c := connectedController(t, p, Options{AutoReconnect: true}, nil)
		c.SetAutoReconnect(false)
		c.Disconnect()
		if err := c.ConnectivityRegained(context.Background()); err != nil {
			t.Errorf("ConnectivityRegained = %v, want nil", err)
		}
		if c.Status().Connected() {
			t.Error("reconnected with auto-reconnect disabled")
		}
	})

	t.Run("already connected", func(t *testing.T) {
		c := connectedController(t, p, Options{AutoReconnect: true}, nil)
		if err := c.ConnectivityRegained(context.Background()); err != nil {
			t.Errorf("ConnectivityRegained while connected = %v, want nil", err)
		}
	})
}

func TestController_ConcurrentTriggerAndDisconnect(t *testing.T) {
	p := startPeer(t, false)
	c := connectedController(t, p, Options{}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				o, err := c.Trigger()
				switch {
				case errors.Is(err, ErrNotConnected):
				case err != nil:
					t.Errorf("Trigger = %v", err)
					return
				case !o.Success && o.ErrorKind != KindSocketClosed:
					t.Errorf("Trigger outcome kind = %q, want success or socket_closed", o.ErrorKind)
					return
				}
			}
		}()
	}
	time.Sleep(2 * time.Millisecond)
	c.Disconnect()
	wg.Wait()
}

func TestController_CloseEndsSubscriptions(t *testing.T) {
	c := NewController(Options{})
	events, _ := c.Subscribe(1)
	c.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("received an event, want closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by Close")
	}
	late, _ := c.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}
}

func TestController_Reconfigure(t *testing.T) {
	p1 := startPeer(t, false)
	p2 := startPeer(t, false)
	c := NewController(Options{})
	defer c.Close()

	// Disconnected: connects
	if err := c.Reconfigure(context.Background(), p1.config()); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if !c.Status().Connected() {
		t.Fatal("Reconfigure did not connect")
	}
	local := c.Status().Session.LocalAddr

	// Same destination: session kept, content swapped
	cfg := p1.config()
	cfg.PacketContent = "pong"
	if err := c.Reconfigure(context.Background(), cfg); err != nil {
		t.Fatalf("Reconfigure payload: %v", err)
	}
	if got := c.Status().Session.LocalAddr; got != local {
		t.Errorf("session replaced on payload change: %s -> %s", local, got)
	}
	c.Trigger()
	if got := string(p1.next(t)); got != "pong" {
		t.Errorf("peer received %q, want %q", got, "pong")
	}

	// New destination: reconnects
	if err := c.Reconfigure(context.Background(), p2.config()); err != nil {
		t.Fatalf("Reconfigure destination: %v", err)
	}
	c.Trigger()
	if got := string(p2.next(t)); got != "ping" {
		t.Errorf("new peer received %q, want %q", got, "ping")
	}
	if last, _ := c.LastConfig(); last.Port != p2.port() {
		t.Errorf("LastConfig().Port = %d, want %d", last.Port, p2.port())
	}

	if err := c.Reconfigure(context.Background(), Config{Host: "127.0.0.1"}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Reconfigure invalid = %v, want ErrConfiguration", err)
	}
	if !c.Status().Connected() {
		t.Error("invalid Reconfigure dropped the session")
	}
}
