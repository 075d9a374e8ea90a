package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/jackpal/gateway"
	"golang.org/x/term"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/automation"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/config"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/metrics"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/output"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/pkg/ptr"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/pkg/route"
)

const (
	eventBuffer       = 256
	routePollInterval = 2 * time.Second
	shutdownTimeout   = 5 * time.Second

	// interactiveBurst is used by the burst key when no --burst was given
	interactiveBurst = 10
)

// fallbackProbe is polled for a route when the destination has never been
// resolved and no default gateway is known. Nothing is sent to it.
var fallbackProbe = netip.MustParseAddr("192.0.2.1")

// discoverGateway is a variable for mocking in tests.
var discoverGateway = gateway.DiscoverGateway

type app struct {
	args    config.Args
	ctrl    *transmit.Controller
	handler *automation.Handler
	outputs *output.OutputManager

	ctx    context.Context
	cancel context.CancelFunc
}

func newApp(args config.Args) *app {
	ctrl := transmit.NewController(transmit.Options{
		MinInterval:   args.MinInterval,
		AutoReconnect: args.AutoReconnect,
	})

	configs := &automation.MemoryConfigStore{}
	if args.Host != "" {
		configs.SaveConfig(args.TransmitConfig())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &app{
		args:    args,
		ctrl:    ctrl,
		handler: automation.NewHandler(ctrl, configs, nil),
		outputs: &output.OutputManager{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Stop interrupts Run, which then shuts down and returns.
func (a *app) Stop() {
	a.cancel()
}

func (a *app) Run() error {
	defer a.cancel()

	var pm *ptr.PtrManager
	if !a.args.NoResolve {
		pm = ptr.NewPtrManager()
	}

	tui, err := a.setupOutputs(pm)
	if err != nil {
		return err
	}

	events, _ := a.ctrl.Subscribe(eventBuffer)
	outputsDone := make(chan struct{})
	go func() {
		defer close(outputsDone)
		a.outputs.Run(events)
	}()
	defer func() {
		// Closing the controller ends every subscription
		a.ctrl.Close()
		<-outputsDone
		a.outputs.Close()
	}()

	if a.args.AutoReconnect {
		go route.Watch(a.ctx, routePollInterval, a.routeTarget, func() {
			if err := a.ctrl.ConnectivityRegained(a.ctx); err != nil {
				slog.Debug("Reconnect failed", "error", err)
			}
		})
	}

	if a.args.Serve != "" {
		stop, err := a.startServer()
		if err != nil {
			return err
		}
		defer stop()
	}

	if a.args.Link != "" {
		if err := a.executeLink(); err != nil && tui == nil && a.args.Serve == "" {
			return err
		}
	} else if a.args.Host != "" {
		if err := a.ctrl.Connect(a.ctx, a.args.TransmitConfig()); err != nil {
			if tui == nil && a.args.Serve == "" && !a.args.AutoReconnect {
				return err
			}
			slog.Warn("Connect failed", "error", err)
		}
	}

	if a.args.Listen && a.ctrl.Status().Connected() {
		if err := a.ctrl.StartListening(); err != nil {
			slog.Warn("Listen failed", "error", err)
		}
	}

	switch {
	case tui != nil:
		tui.Start()
		select {
		case <-tui.QuitChan():
		case <-a.ctx.Done():
		}
		return nil
	case a.args.Serve != "":
		<-a.ctx.Done()
		return nil
	case a.args.Link != "":
		a.linger()
		return nil
	}

	if !a.waitConnected() {
		return nil
	}
	if a.args.Listen && !a.ctrl.Status().Listening {
		if err := a.ctrl.StartListening(); err != nil {
			slog.Warn("Listen failed", "error", err)
		}
	}

	sendErr := a.send()
	a.linger()
	return sendErr
}

func (a *app) setupOutputs(pm *ptr.PtrManager) (*output.BubbleTUIOutput, error) {
	var tui *output.BubbleTUIOutput
	switch a.args.Mode() {
	case "tui":
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, errors.New("interactive mode requires a terminal")
		}
		tui = output.NewBubbleTUIOutput(a.ctrl, a.controls(), pm)
		a.outputs.Register(tui)
	case "json":
		j, err := output.NewJSONOutput("")
		if err != nil {
			return nil, err
		}
		a.outputs.Register(j)
	default:
		a.outputs.Register(output.NewTextOutput(os.Stdout, pm))
	}

	if a.args.JsonFile != "" {
		j, err := output.NewJSONOutput(a.args.JsonFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create JSON output: %w", err)
		}
		a.outputs.Register(j)
	}
	return tui, nil
}

// controls binds the interactive keys to the controller.
func (a *app) controls() output.Controls {
	return output.Controls{
		Trigger: func() error {
			res := a.handler.Trigger(a.ctx)
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		},
		Burst: func() error {
			spec := a.args.BurstSpec()
			if !spec.Enabled {
				spec = transmit.NewBurstSpec(interactiveBurst, a.args.BurstDelay)
			}
			return a.ctrl.StartBurst(spec)
		},
		ToggleListen: func() error {
			if a.ctrl.Status().Listening {
				a.ctrl.StopListening()
				return nil
			}
			return a.ctrl.StartListening()
		},
		Connect: func() error {
			if res := a.handler.Connect(a.ctx); res.Error != "" {
				return errors.New(res.Error)
			}
			return nil
		},
		Disconnect: func() error {
			a.handler.Disconnect()
			return nil
		},
	}
}

func (a *app) startServer() (func(), error) {
	m := metrics.NewMetrics()
	events, _ := a.ctrl.Subscribe(eventBuffer)
	go m.Run(events)

	srv := automation.NewServer(a.handler, automation.ServerOptions{Addr: a.args.Serve})
	addr, err := srv.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start automation server: %w", err)
	}
	slog.Info("Automation server listening", "addr", addr.String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			slog.Warn("Automation server shutdown", "error", err)
		}
	}, nil
}

// executeLink runs --link and prints its result as JSON.
func (a *app) executeLink() error {
	res, err := a.handler.ExecuteLink(a.ctx, a.args.Link)
	if err != nil {
		return fmt.Errorf("deep link: %w", err)
	}
	if a.args.Mode() != "tui" {
		out, _ := json.Marshal(res)
		fmt.Println(string(out))
	}
	if res.Packet != nil && !res.Packet.Success {
		return errors.New(res.Packet.Error)
	}
	return nil
}

// send performs the one-shot trigger or burst.
func (a *app) send() error {
	spec := a.args.BurstSpec()
	if !spec.Enabled {
		o, err := a.ctrl.Trigger()
		if err != nil {
			return err
		}
		if !o.Success {
			return errors.New(o.Error)
		}
		return nil
	}

	outcomes, err := a.ctrl.Burst(a.ctx, spec)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d burst packets failed", failed, len(outcomes))
	}
	return nil
}

// waitConnected blocks until the controller is connected. Only
// auto-reconnect can get there from a failed connect.
func (a *app) waitConnected() bool {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !a.ctrl.Status().Connected() {
		select {
		case <-a.ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

// linger keeps listening after sending: for --listen-for, or until
// interrupted for --listen.
func (a *app) linger() {
	switch {
	case !a.ctrl.Status().Listening:
	case a.args.ListenFor > 0:
		select {
		case <-time.After(a.args.ListenFor):
		case <-a.ctx.Done():
		}
	default:
		<-a.ctx.Done()
	}
}

// routeTarget is the address polled for connectivity changes.
func (a *app) routeTarget() netip.Addr {
	st := a.ctrl.Status()
	if st.Session != nil {
		return st.Session.Destination.Addr()
	}
	if st.Config != nil {
		if ip, err := netip.ParseAddr(st.Config.Host); err == nil {
			return ip
		}
	}
	if ip, err := netip.ParseAddr(a.args.Host); err == nil {
		return ip
	}
	// A hostname target: being able to reach the gateway is the best hint
	if gw, err := discoverGateway(); err == nil {
		if ip, ok := netip.AddrFromSlice(gw); ok {
			return ip.Unmap()
		}
	}
	return fallbackProbe
}
