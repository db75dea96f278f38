package webrtc

import (
	"context"
	"sync"

	"audiorelay/internal/core/domain"

	"github.com/looplab/fsm"
)

const (
	eventConnect   = "connect"
	eventEstablish = "establish"
	eventInterrupt = "interrupt"
	eventClose     = "close"
)

func newConnectivityMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(domain.StateNew),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(domain.StateNew)}, Dst: string(domain.StateConnecting)},
			{Name: eventEstablish, Src: []string{string(domain.StateConnecting), string(domain.StateDisconnected)}, Dst: string(domain.StateConnected)},
			{Name: eventInterrupt, Src: []string{string(domain.StateConnected)}, Dst: string(domain.StateDisconnected)},
			{Name: eventClose, Src: []string{
				string(domain.StateNew),
				string(domain.StateConnecting),
				string(domain.StateConnected),
				string(domain.StateDisconnected),
			}, Dst: string(domain.StateClosed)},
		},
		fsm.Callbacks{},
	)
}

// connectivityState tracks a transport's lifecycle and delivers every
// transition, in order, to observers on a dedicated goroutine. Engine
// callbacks only enqueue, so they never block on observers.
type connectivityState struct {
	mu       sync.Mutex
	machine  *fsm.FSM
	handlers map[int]domain.StateHandler
	nextID   int
	queue    []domain.ConnectivityState

	wake chan struct{}
	done chan struct{}
}

func newConnectivityState() *connectivityState {
	s := &connectivityState{
		machine:  newConnectivityMachine(),
		handlers: make(map[int]domain.StateHandler),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// fire applies event and reports whether it caused a transition. Events not
// valid in the current state are ignored.
func (s *connectivityState) fire(event string) bool {
	s.mu.Lock()
	if err := s.machine.Event(context.Background(), event); err != nil {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, domain.ConnectivityState(s.machine.Current()))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *connectivityState) current() domain.ConnectivityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ConnectivityState(s.machine.Current())
}

func (s *connectivityState) subscribe(handler domain.StateHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.handlers[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// closed is done once the closed transition has been delivered.
func (s *connectivityState) closed() <-chan struct{} {
	return s.done
}

func (s *connectivityState) dispatch() {
	defer close(s.done)

	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			state := s.queue[0]
			s.queue = s.queue[1:]
			handlers := make([]domain.StateHandler, 0, len(s.handlers))
			for id := 0; id < s.nextID; id++ {
				if h, ok := s.handlers[id]; ok {
					handlers = append(handlers, h)
				}
			}
			s.mu.Unlock()

			for _, h := range handlers {
				h(state)
			}

			if state == domain.StateClosed {
				return
			}
		}
	}
}
