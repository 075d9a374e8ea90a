package output

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

// JSONOutput writes events as JSON lines to a file or stdout. Only the
// event types it was created for are written; none means all.
type JSONOutput struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	toStdout bool
	types    map[transmit.EventType]bool
}

func NewJSONOutput(filename string, types ...transmit.EventType) (*JSONOutput, error) {
	j := &JSONOutput{}
	if filename == "" {
		j.file, j.toStdout = os.Stdout, true
	} else {
		f, err := os.Create(filename)
		if err != nil {
			return nil, err
		}
		j.file = f
	}
	j.enc = json.NewEncoder(j.file)
	if len(types) > 0 {
		j.types = make(map[transmit.EventType]bool, len(types))
		for _, t := range types {
			j.types[t] = true
		}
	}
	return j, nil
}

// newJSONWriterOutput writes to w, for tests.
func newJSONWriterOutput(w io.Writer) *JSONOutput {
	return &JSONOutput{enc: json.NewEncoder(w), toStdout: true}
}

func (j *JSONOutput) HandleEvent(ev transmit.Event) {
	if j.types != nil && !j.types[ev.Type] {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(ev)
}

func (j *JSONOutput) Close() error {
	if j.toStdout {
		return nil
	}
	return j.file.Close()
}
