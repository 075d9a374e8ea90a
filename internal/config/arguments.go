package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/version"
)

type Args struct {
	Host string
	Port uint

	// Payload
	Content    string
	Hex        bool
	Timestamp  bool
	BurstIndex bool

	// Sending
	Burst       uint          // burst packet count, 0 sends a single trigger
	BurstDelay  time.Duration // delay between burst packets
	MinInterval time.Duration // minimum interval between sends, 0 disables

	// Receiving
	Listen    bool
	ListenFor time.Duration // keep listening this long after sending

	// Modes
	Interactive   bool   // run the TUI
	Serve         string // automation server listen address
	AutoReconnect bool
	Link          string // deep link to execute

	// Output
	Json      bool   // output json to stdout
	JsonFile  string // output json to file
	NoResolve bool   // do not resolve datagram sources

	// Logging
	Log      string // log file path, empty means no logging
	LogLevel string // log level: debug, info, warn, error
}

func ParseArgs() (Args, error) {
	var args Args
	var showVersion bool

	// Set custom usage message
	flag.Usage = func() {
		println("udptrigger - UDP trigger transmitter")
		println()
		println("Sends low-latency UDP trigger packets, single or in bursts, and")
		println("monitors connection health from echoed replies.")
		println()
		println("Usage:")
		println("  udptrigger [OPTIONS] HOST")
		println()
		println("Examples:")
		println("  udptrigger 192.168.1.50                         # Single trigger to port 5000")
		println("  udptrigger -p 9000 -c GO 192.168.1.50           # Custom port and content")
		println("  udptrigger -x -c 'de ad be ef' 192.168.1.50     # Raw hex payload")
		println("  udptrigger -b 10 -d 50ms --timestamp camera     # Timestamped burst")
		println("  udptrigger -i -L 192.168.1.50                   # Interactive console")
		println("  udptrigger --serve 127.0.0.1:8787 192.168.1.50  # Automation server")
		println("  udptrigger --link 'udptrigger://send?host=10.0.0.2&port=5000'")
		println()
		println("Options:")
		flag.PrintDefaults()
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.UintVarP(&args.Port, "port", "p", 5000, "Destination port")
	flag.StringVarP(&args.Content, "content", "c", "", "Packet content (default: TRIGGER:<nanos>)")
	flag.BoolVarP(&args.Hex, "hex", "x", false, "Treat content as hex-encoded bytes")
	flag.BoolVar(&args.Timestamp, "timestamp", false, "Prefix packets with a nanosecond timestamp")
	flag.BoolVar(&args.BurstIndex, "burst-index", false, "Prefix burst packets with their index")
	flag.UintVarP(&args.Burst, "burst", "b", 0, "Burst packet count (0 = single trigger)")
	flag.DurationVarP(&args.BurstDelay, "burst-delay", "d", 100*time.Millisecond, "Delay between burst packets")
	flag.DurationVarP(&args.MinInterval, "min-interval", "r", 0, "Minimum interval between sends (0 = no rate limit)")
	flag.BoolVarP(&args.Listen, "listen", "L", false, "Listen for datagrams on the sending socket")
	flag.DurationVar(&args.ListenFor, "listen-for", 0, "Keep listening for this long after sending (implies --listen)")
	flag.BoolVarP(&args.Interactive, "interactive", "i", false, "Interactive console")
	flag.StringVar(&args.Serve, "serve", "", "Run the automation server on this address")
	flag.BoolVar(&args.AutoReconnect, "auto-reconnect", false, "Reconnect when connectivity is regained")
	flag.StringVar(&args.Link, "link", "", "Execute a udptrigger:// deep link")
	flag.StringVarP(&args.JsonFile, "json-file", "j", "", "Write JSON events to file")
	flag.BoolVarP(&args.Json, "json", "J", false, "Write JSON events to stdout")
	flag.BoolVarP(&args.NoResolve, "no-resolve", "n", false, "Do not resolve datagram sources to hostnames")
	flag.StringVarP(&args.Log, "log", "l", "", "Diagnostic log file (empty = no logging)")
	flag.StringVar(&args.LogLevel, "log-level", "error", "Log level: debug, info, warn, error")
	flag.Parse()

	// Handle version flag
	if showVersion {
		fmt.Println(version.FullVersion())
		os.Exit(0)
	}

	args.Host = flag.Arg(0)
	if args.ListenFor > 0 {
		args.Listen = true
	}

	switch {
	case args.Host == "" && args.Link == "" && args.Serve == "":
		return args, errors.New("host is required")
	case args.Host != "" && !transmit.IsValidHost(args.Host):
		return args, fmt.Errorf("invalid host %q", args.Host)
	case args.Port < transmit.MinPort || args.Port > transmit.MaxPort:
		return args, errors.New("port must be between 1 and 65535")
	case args.Json && args.JsonFile != "":
		return args, errors.New("cannot use both --json and --json-file")
	case args.Interactive && args.Json:
		return args, errors.New("cannot use both --interactive and --json")
	case args.Burst > transmit.MaxBurstPackets:
		return args, errors.New("burst count must be between 0 and 100")
	case args.BurstDelay < transmit.MinBurstDelay || args.BurstDelay > transmit.MaxBurstDelay:
		return args, errors.New("burst delay must be between 10ms and 5s")
	case args.MinInterval < 0 || args.MinInterval > transmit.MaxMinInterval:
		return args, errors.New("min interval must be between 0 and 5s")
	case args.ListenFor < 0:
		return args, errors.New("listen duration must not be negative")
	}

	return args, nil
}

// TransmitConfig returns the destination and payload settings.
func (a Args) TransmitConfig() transmit.Config {
	return transmit.Config{
		Host:              a.Host,
		Port:              int(a.Port),
		PacketContent:     a.Content,
		HexMode:           a.Hex,
		IncludeTimestamp:  a.Timestamp,
		IncludeBurstIndex: a.BurstIndex,
	}
}

// BurstSpec returns the burst to send. It is disabled when a single
// trigger was requested.
func (a Args) BurstSpec() transmit.BurstSpec {
	if a.Burst == 0 {
		return transmit.BurstSpec{PacketCount: 1, Delay: a.BurstDelay}
	}
	return transmit.NewBurstSpec(int(a.Burst), a.BurstDelay)
}

// Mode names the output mode: tui, json or text.
func (a Args) Mode() string {
	switch {
	case a.Interactive:
		return "tui"
	case a.Json:
		return "json"
	default:
		return "text"
	}
}
