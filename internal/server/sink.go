package server

import (
	"errors"
	"sync"
)

var (
	errSinkClosed     = errors.New("connection sink closed")
	errSendBufferFull = errors.New("send buffer full")
)

// wsSink is the buffered path between everything that writes to a client
// and the single goroutine allowed to touch the websocket. Send never
// blocks: a full buffer means the client is not keeping up, and dropping
// with an error beats stalling a fan-out pass. The client recovers lost
// ground through a session.sync request.
type wsSink struct {
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newWSSink(buffer int) *wsSink {
	return &wsSink{send: make(chan []byte, buffer)}
}

func (s *wsSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *wsSink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close closes the send channel, which tells the write pump to finish
// the socket. Safe to call more than once.
func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.send)
	return nil
}
