package automation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/deeplink"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

var (
	ErrNoSavedConfig = errors.New("no saved configuration")
	ErrUnknownPreset = errors.New("unknown preset")
)

// Controller is the subset of *transmit.Controller the automation surface
// drives.
type Controller interface {
	Reconfigure(ctx context.Context, cfg transmit.Config) error
	Disconnect()
	Trigger() (transmit.SendOutcome, error)
	StartBurst(spec transmit.BurstSpec) error
	StartListening() error
	StopListening()
	ConnectivityRegained(ctx context.Context) error
	Status() transmit.Status
	Subscribe(buffer int) (<-chan transmit.Event, func())
}

// Handler executes automation commands. Commands are serialized so a
// SEND_PACKET that reconnects is not interleaved with another command.
type Handler struct {
	ctrl    Controller
	configs ConfigStore
	presets PresetStore
	mu      sync.Mutex
}

// NewHandler returns a Handler. Nil stores are replaced with empty
// in-memory ones.
func NewHandler(ctrl Controller, configs ConfigStore, presets PresetStore) *Handler {
	if configs == nil {
		configs = &MemoryConfigStore{}
	}
	if presets == nil {
		presets = NewMemoryPresetStore()
	}
	return &Handler{ctrl: ctrl, configs: configs, presets: presets}
}

// SendPacket merges req into the saved config, connects or reconnects as
// needed and sends one packet. On success the merged config is saved.
func (h *Handler) SendPacket(ctx context.Context, req SendRequest) PacketResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sendLocked(ctx, req)
}

func (h *Handler) sendLocked(ctx context.Context, req SendRequest) PacketResult {
	cfg, _ := h.configs.LoadConfig()
	if req.Host != nil {
		cfg.Host = strings.TrimSpace(*req.Host)
	}
	if req.Port != nil {
		cfg.Port = *req.Port
	}
	if req.Data != nil {
		cfg.PacketContent = *req.Data
	}
	if req.Hex != nil {
		cfg.HexMode = *req.Hex
	}

	res := PacketResult{Host: cfg.Host, Port: cfg.Port}
	if err := cfg.Validate(); err != nil {
		res.Error = err.Error()
		return res
	}
	if err := h.ctrl.Reconfigure(ctx, cfg); err != nil {
		res.Error = err.Error()
		return res
	}

	o, err := h.ctrl.Trigger()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !o.Success {
		res.Error = o.Error
		return res
	}

	h.configs.SaveConfig(cfg)
	res.Success = true
	res.DataSent = dataSent(cfg, o.Payload())
	slog.Debug("SEND_PACKET", "host", cfg.Host, "port", cfg.Port, "bytes", o.ByteLength)
	return res
}

func dataSent(cfg transmit.Config, payload []byte) string {
	if cfg.HexMode {
		return strings.ToUpper(hex.EncodeToString(payload))
	}
	return string(payload)
}

// Trigger sends one packet with the current config, connecting with the
// saved config first when disconnected.
func (h *Handler) Trigger(ctx context.Context) PacketResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.triggerLocked(ctx)
}

func (h *Handler) triggerLocked(ctx context.Context) PacketResult {
	st := h.ctrl.Status()
	if !st.Connected() || st.Config == nil {
		return h.sendLocked(ctx, SendRequest{})
	}

	cfg := *st.Config
	res := PacketResult{Host: cfg.Host, Port: cfg.Port}
	o, err := h.ctrl.Trigger()
	switch {
	case err != nil:
		res.Error = err.Error()
	case !o.Success:
		res.Error = o.Error
	default:
		res.Success = true
		res.DataSent = dataSent(cfg, o.Payload())
	}
	return res
}

// Connect connects with the saved config.
func (h *Handler) Connect(ctx context.Context) StatusResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, ok := h.configs.LoadConfig()
	if !ok {
		return h.statusLocked(ErrNoSavedConfig)
	}
	return h.statusLocked(h.ctrl.Reconfigure(ctx, cfg))
}

// Disconnect closes the session.
func (h *Handler) Disconnect() StatusResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ctrl.Disconnect()
	return h.statusLocked(nil)
}

// ConnectivityRegained forwards the signal to the controller.
func (h *Handler) ConnectivityRegained(ctx context.Context) StatusResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(h.ctrl.ConnectivityRegained(ctx))
}

// ConnectionStatus answers GET_CONNECTION_STATUS.
func (h *Handler) ConnectionStatus() StatusResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(nil)
}

// statusLocked builds a StatusResult. err, when set, overrides the
// controller's last error.
func (h *Handler) statusLocked(err error) StatusResult {
	st := h.ctrl.Status()
	res := StatusResult{IsConnected: st.Connected(), Error: st.LastError}
	if st.Config != nil {
		res.Host, res.Port = st.Config.Host, st.Config.Port
	} else if cfg, ok := h.configs.LoadConfig(); ok {
		res.Host, res.Port = cfg.Host, cfg.Port
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// ExecuteLink parses and runs a deep link. Malformed links are returned as
// errors; command failures are reported inside the result.
func (h *Handler) ExecuteLink(ctx context.Context, raw string) (LinkResult, error) {
	link, err := deeplink.Parse(raw)
	if err != nil {
		return LinkResult{Action: link.Action}, err
	}
	slog.Debug("Executing deep link", "action", link.Action)

	h.mu.Lock()
	defer h.mu.Unlock()

	res := LinkResult{Action: link.Action}
	switch link.Action {
	case deeplink.ActionSend:
		pr := h.sendLocked(ctx, sendRequestFromLink(link))
		res.Packet = &pr

	case deeplink.ActionTrigger:
		pr := h.triggerLocked(ctx)
		res.Packet = &pr

	case deeplink.ActionConnect:
		cfg, _ := h.configs.LoadConfig()
		cfg.Host, cfg.Port = link.Config.Host, link.Config.Port
		st := h.applyLocked(ctx, cfg, true)
		res.Status = &st

	case deeplink.ActionDisconnect:
		h.ctrl.Disconnect()
		st := h.statusLocked(nil)
		res.Status = &st

	case deeplink.ActionConfig:
		st := h.applyLocked(ctx, link.Config, h.ctrl.Status().Connected())
		res.Status = &st

	case deeplink.ActionPreset:
		cfg, ok := h.presets.Preset(link.Preset)
		if !ok {
			return res, fmt.Errorf("%w %q", ErrUnknownPreset, link.Preset)
		}
		st := h.applyLocked(ctx, cfg, true)
		res.Status = &st
	}
	return res, nil
}

// Presets returns the saved preset names in sorted order.
func (h *Handler) Presets() PresetList {
	return PresetList{Presets: h.presets.Names()}
}

// SavePreset stores cfg under name. The config must be valid so a preset
// link can always connect.
func (h *Handler) SavePreset(name string, cfg transmit.Config) error {
	if name = strings.TrimSpace(name); name == "" {
		return fmt.Errorf("%w: empty preset name", transmit.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.presets.Put(name, cfg)
	slog.Debug("Preset saved", "name", name, "host", cfg.Host, "port", cfg.Port)
	return nil
}

// DeletePreset removes name, failing with ErrUnknownPreset when absent.
func (h *Handler) DeletePreset(name string) error {
	if !h.presets.Delete(name) {
		return fmt.Errorf("%w %q", ErrUnknownPreset, name)
	}
	slog.Debug("Preset deleted", "name", name)
	return nil
}

// applyLocked validates and saves cfg, then reconfigures the controller
// when connect is set.
func (h *Handler) applyLocked(ctx context.Context, cfg transmit.Config, connect bool) StatusResult {
	if err := cfg.Validate(); err != nil {
		return h.statusLocked(err)
	}
	h.configs.SaveConfig(cfg)
	if !connect {
		return h.statusLocked(nil)
	}
	return h.statusLocked(h.ctrl.Reconfigure(ctx, cfg))
}

func sendRequestFromLink(link deeplink.Link) SendRequest {
	var req SendRequest
	cfg := link.Config
	if cfg.Host != "" {
		req.Host = &cfg.Host
	}
	if cfg.Port != 0 {
		req.Port = &cfg.Port
	}
	if cfg.PacketContent != "" {
		req.Data = &cfg.PacketContent
	}
	if link.HexSet {
		req.Hex = &cfg.HexMode
	}
	return req
}
