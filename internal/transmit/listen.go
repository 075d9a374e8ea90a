package transmit

import (
	"errors"
	"log/slog"
	"sync/atomic"
)

const maxDatagramSize = 65535

// ListenWorker drains inbound datagrams from a session until stopped or
// until the session closes.
type ListenWorker struct {
	session    *Session
	onDatagram func(ReceivedDatagram)
	onError    func(error)
	stopping   atomic.Bool
	done       chan struct{}
}

func startListenWorker(s *Session, onDatagram func(ReceivedDatagram), onError func(error)) *ListenWorker {
	w := &ListenWorker{
		session:    s,
		onDatagram: onDatagram,
		onError:    onError,
		done:       make(chan struct{}),
	}
	// A previous worker's interrupt may have left a past read deadline.
	s.resumeReceive()
	go w.run()
	return w
}

func (w *ListenWorker) run() {
	defer close(w.done)
	buf := make([]byte, maxDatagramSize)

	for {
		d, err := w.session.Receive(buf)
		if w.stopping.Load() {
			slog.Debug("Listen loop stopped")
			return
		}
		switch {
		case err == nil:
			w.onDatagram(d)
		case errors.Is(err, ErrSocketClosed):
			slog.Debug("Listen loop exiting, session closed")
			return
		case errors.Is(err, errReceiveInterrupted):
		default:
			w.onError(err)
		}
	}
}

// Stop interrupts a pending receive and waits for the loop to exit. The
// socket stays open for sending. The read deadline is left in the past
// and is cleared by the next worker started on the session.
func (w *ListenWorker) Stop() {
	if !w.stopping.Swap(true) {
		w.session.interruptReceive()
	}
	<-w.done
}

// Done is closed when the loop has exited.
func (w *ListenWorker) Done() <-chan struct{} {
	return w.done
}
