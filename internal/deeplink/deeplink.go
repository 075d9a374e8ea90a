// Package deeplink parses and generates udptrigger:// URIs, the external
// representation of the automation actions.
//
//	udptrigger://send?host=&port=&content=&hex=
//	udptrigger://connect?host=&port=
//	udptrigger://disconnect
//	udptrigger://trigger
//	udptrigger://preset?name=
//	udptrigger://config?host=&port=&content=&hex=&ts=&burst=
package deeplink

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

const Scheme = "udptrigger"

type Action string

const (
	ActionSend       Action = "send"
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionTrigger    Action = "trigger"
	ActionPreset     Action = "preset"
	ActionConfig     Action = "config"
	ActionUnknown    Action = "unknown"
)

// Query parameter names.
const (
	ParamHost       = "host"
	ParamPort       = "port"
	ParamContent    = "content"
	ParamHex        = "hex"
	ParamTimestamp  = "ts"
	ParamBurstIndex = "burst"
	ParamName       = "name"
)

var (
	ErrInvalidScheme    = errors.New("invalid deep link scheme")
	ErrUnknownAction    = errors.New("unknown deep link action")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidParameter = errors.New("invalid parameter value")
)

// Link is a parsed deep link.
//
// For send links every Config field is optional: an empty Host, a zero Port
// or empty PacketContent mean "use the saved value", and HexSet reports
// whether the hex parameter was present. Connect and config links always
// carry host and port.
type Link struct {
	Action Action
	Config transmit.Config
	HexSet bool
	Preset string
}

// Parse decodes a deep link. An unrecognised action yields a Link with
// ActionUnknown together with an error wrapping ErrUnknownAction.
func Parse(raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Link{Action: ActionUnknown}, fmt.Errorf("parse deep link: %w", err)
	}
	if u.Scheme != Scheme {
		return Link{Action: ActionUnknown}, fmt.Errorf("%w %q, want %q", ErrInvalidScheme, u.Scheme, Scheme)
	}

	name := u.Host
	if name == "" {
		// udptrigger:trigger
		name = u.Opaque
	}
	name = strings.ToLower(strings.Trim(name, "/"))
	q := u.Query()

	link := Link{Action: Action(name)}
	switch link.Action {
	case ActionDisconnect, ActionTrigger:
		return link, nil

	case ActionSend:
		link.Config.Host = q.Get(ParamHost)
		link.Config.PacketContent = q.Get(ParamContent)
		if q.Has(ParamPort) {
			if link.Config.Port, err = portParam(q); err != nil {
				return link, err
			}
		}
		if q.Has(ParamHex) {
			if link.Config.HexMode, err = boolParam(q, ParamHex); err != nil {
				return link, err
			}
			link.HexSet = true
		}
		return link, nil

	case ActionConnect:
		if link.Config.Host, err = requiredParam(q, ParamHost); err != nil {
			return link, err
		}
		if err := requireParam(q, ParamPort); err != nil {
			return link, err
		}
		link.Config.Port, err = portParam(q)
		return link, err

	case ActionConfig:
		if link.Config.Host, err = requiredParam(q, ParamHost); err != nil {
			return link, err
		}
		if err := requireParam(q, ParamPort); err != nil {
			return link, err
		}
		if link.Config.Port, err = portParam(q); err != nil {
			return link, err
		}
		link.Config.PacketContent = q.Get(ParamContent)
		flags := []struct {
			param string
			dst   *bool
		}{
			{ParamHex, &link.Config.HexMode},
			{ParamTimestamp, &link.Config.IncludeTimestamp},
			{ParamBurstIndex, &link.Config.IncludeBurstIndex},
		}
		for _, f := range flags {
			if !q.Has(f.param) {
				continue
			}
			if *f.dst, err = boolParam(q, f.param); err != nil {
				return link, err
			}
		}
		return link, nil

	case ActionPreset:
		link.Preset, err = requiredParam(q, ParamName)
		return link, err
	}

	return Link{Action: ActionUnknown}, fmt.Errorf("%w %q", ErrUnknownAction, name)
}

func requireParam(q url.Values, name string) error {
	if strings.TrimSpace(q.Get(name)) == "" {
		return fmt.Errorf("%w %q", ErrMissingParameter, name)
	}
	return nil
}

func requiredParam(q url.Values, name string) (string, error) {
	if err := requireParam(q, name); err != nil {
		return "", err
	}
	return q.Get(name), nil
}

func portParam(q url.Values) (int, error) {
	v := q.Get(ParamPort)
	port, err := strconv.Atoi(v)
	if err != nil || !transmit.IsValidPort(port) {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, ParamPort, v)
	}
	return port, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, name, v)
	}
	return b, nil
}

// Generate encodes link. Generate and Parse round-trip for every action.
func Generate(link Link) string {
	q := url.Values{}
	cfg := link.Config

	switch link.Action {
	case ActionSend:
		if cfg.Host != "" {
			q.Set(ParamHost, cfg.Host)
		}
		if cfg.Port != 0 {
			q.Set(ParamPort, strconv.Itoa(cfg.Port))
		}
		if cfg.PacketContent != "" {
			q.Set(ParamContent, cfg.PacketContent)
		}
		if link.HexSet {
			q.Set(ParamHex, strconv.FormatBool(cfg.HexMode))
		}
	case ActionConnect:
		q.Set(ParamHost, cfg.Host)
		q.Set(ParamPort, strconv.Itoa(cfg.Port))
	case ActionConfig:
		q.Set(ParamHost, cfg.Host)
		q.Set(ParamPort, strconv.Itoa(cfg.Port))
		if cfg.PacketContent != "" {
			q.Set(ParamContent, cfg.PacketContent)
		}
		q.Set(ParamHex, strconv.FormatBool(cfg.HexMode))
		q.Set(ParamTimestamp, strconv.FormatBool(cfg.IncludeTimestamp))
		q.Set(ParamBurstIndex, strconv.FormatBool(cfg.IncludeBurstIndex))
	case ActionPreset:
		q.Set(ParamName, link.Preset)
	}

	u := url.URL{Scheme: Scheme, Host: string(link.Action), RawQuery: q.Encode()}
	return u.String()
}

// ConfigLink returns a config link describing cfg.
func ConfigLink(cfg transmit.Config) string {
	return Generate(Link{Action: ActionConfig, Config: cfg})
}

// ConnectLink returns a connect link for host and port.
func ConnectLink(host string, port int) string {
	return Generate(Link{Action: ActionConnect, Config: transmit.Config{Host: host, Port: port}})
}

// PresetLink returns a preset link for name.
func PresetLink(name string) string {
	return Generate(Link{Action: ActionPreset, Preset: name})
}
