package output

import "github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"

// Output interface for different output types
type Output interface {
	HandleEvent(ev transmit.Event)
	Close() error
}

// OutputManager manages multiple outputs
type OutputManager struct {
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) HandleEvent(ev transmit.Event) {
	for _, o := range om.outputs {
		o.HandleEvent(ev)
	}
}

// Run forwards events until the channel is closed.
func (om *OutputManager) Run(events <-chan transmit.Event) {
	for ev := range events {
		om.HandleEvent(ev)
	}
}

func (om *OutputManager) Close() {
	for _, o := range om.outputs {
		o.Close()
	}
}
