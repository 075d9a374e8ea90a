package automation

import (
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/deeplink"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

// SendRequest is the SEND_PACKET payload. Nil fields fall back to the last
// saved config.
type SendRequest struct {
	Host *string `json:"host,omitempty"`
	Port *int    `json:"port,omitempty"`
	Data *string `json:"data,omitempty"`
	Hex  *bool   `json:"hex,omitempty"`
}

// PacketResult is the PACKET_RESULT reply.
type PacketResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DataSent string `json:"data_sent"`
}

// StatusResult is the STATUS_RESULT reply. Detail is only filled in by
// GET /status.
type StatusResult struct {
	IsConnected bool             `json:"is_connected"`
	Host        string           `json:"host,omitempty"`
	Port        int              `json:"port,omitempty"`
	Error       string           `json:"error,omitempty"`
	Detail      *transmit.Status `json:"detail,omitempty"`
}

// LinkResult reports an executed deep link. Packet is set for send and
// trigger links, Status for everything else.
type LinkResult struct {
	Action deeplink.Action `json:"action"`
	Packet *PacketResult   `json:"packet,omitempty"`
	Status *StatusResult   `json:"status,omitempty"`
}

type LinkRequest struct {
	URI string `json:"uri"`
}

// BurstRequest starts a background burst. Values are clamped to the burst
// limits.
type BurstRequest struct {
	PacketCount int `json:"packet_count"`
	DelayMS     int `json:"delay_ms"`
}

type BurstResponse struct {
	Started bool               `json:"started"`
	Spec    transmit.BurstSpec `json:"spec"`
}

type PresetList struct {
	Presets []string `json:"presets"`
}

type APIError struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}
