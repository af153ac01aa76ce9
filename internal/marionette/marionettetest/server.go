// Package marionettetest provides an in-process Marionette server for tests.
package marionettetest

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/seantiz/fathom-train/internal/marionette"
)

// Handler answers one command. Returning a non-nil *marionette.ProtocolError
// sends an error response; otherwise result is sent as the response body.
// A handler that blocks must also select on Server.Done so Close can return.
type Handler func(name string, params json.RawMessage) (result any, perr *marionette.ProtocolError)

// Server is a Marionette server listening on a loopback TCP port.
type Server struct {
	Listener net.Listener
	Greeting marionette.Greeting

	handler Handler
	done    chan struct{}

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
	wg       sync.WaitGroup
}

// NewServer starts a server that answers every command with handler.
func NewServer(handler Handler) *Server {
	return NewServerWithGreeting(marionette.Greeting{ApplicationType: "gecko", MarionetteProtocol: 3}, handler)
}

// NewServerWithGreeting starts a server that sends greeting on connect.
func NewServerWithGreeting(greeting marionette.Greeting, handler Handler) *Server {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("marionettetest: listen: " + err.Error())
	}
	s := &Server{
		Listener: l,
		Greeting: greeting,
		handler:  handler,
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.Listener.Addr().String()
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.Listener.Addr().(*net.TCPAddr).Port
}

// Commands returns the names of all commands received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Done is closed when the server shuts down. Blocking handlers select on it.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.Listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	if err := marionette.WriteMessage(conn, s.Greeting); err != nil {
		return
	}

	reader := bufio.NewReader(conn)
	for {
		var packet []json.RawMessage
		if err := marionette.ReadMessage(reader, &packet); err != nil {
			return
		}
		if len(packet) != 4 {
			return
		}
		var id uint32
		var name string
		if json.Unmarshal(packet[1], &id) != nil || json.Unmarshal(packet[2], &name) != nil {
			return
		}

		s.mu.Lock()
		s.commands = append(s.commands, name)
		s.mu.Unlock()

		result, perr := s.handler(name, packet[3])

		var reply []any
		if perr != nil {
			reply = []any{1, id, perr, nil}
		} else {
			if result == nil {
				result = map[string]any{"value": nil}
			}
			reply = []any{1, id, nil, result}
		}
		if err := marionette.WriteMessage(conn, reply); err != nil {
			return
		}
	}
}
