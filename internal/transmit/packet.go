package transmit

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
)

// Delimiter separates the optional timestamp and burst index fields from the
// packet content.
const Delimiter = "|"

// DefaultContentPrefix is used when no packet content is configured.
const DefaultContentPrefix = "TRIGGER:"

// BuildPacket assembles the wire bytes for one datagram:
//
//	[<unix_nanos>|][<burst_index>|]<content>
//
// burstIndex <= 0 means the packet is not part of a burst. In hex mode the
// content is decoded to raw bytes; otherwise it is sent as UTF-8 text.
func BuildPacket(cfg Config, burstIndex int, now time.Time) ([]byte, error) {
	nanos := strconv.FormatInt(now.UnixNano(), 10)

	var content []byte
	switch {
	case cfg.HexMode:
		raw, err := DecodeHex(cfg.PacketContent)
		if err != nil {
			return nil, err
		}
		content = raw
	case cfg.PacketContent == "":
		content = []byte(DefaultContentPrefix + nanos)
	default:
		content = []byte(cfg.PacketContent)
	}

	// SerializeLayers prepends in reverse order, so layers are listed in
	// the order they appear on the wire.
	var fields []gopacket.SerializableLayer
	if cfg.IncludeTimestamp {
		fields = append(fields, gopacket.Payload(nanos+Delimiter))
	}
	if cfg.IncludeBurstIndex && burstIndex > 0 {
		fields = append(fields, gopacket.Payload(strconv.Itoa(burstIndex)+Delimiter))
	}
	fields = append(fields, gopacket.Payload(content))

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, fields...); err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeHex parses a hex string into bytes. Whitespace, ':' and '-'
// separators and an optional 0x prefix are ignored.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, s)
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of hex digits (%d)", ErrEncoding, len(cleaned))
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return b, nil
}
