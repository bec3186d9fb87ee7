package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/tsnstream/internal/core"
	"firestige.xyz/tsnstream/internal/errors"
)

const (
	// maxRequestSize bounds a single request line.
	maxRequestSize = 1 << 20
	// idleTimeout closes connections that send nothing for this long.
	idleTimeout    = 5 * time.Minute
	// probeTimeout bounds the liveness dial against an existing socket.
	probeTimeout   = 200 * time.Millisecond
)

// JSONRPCRequest is one line sent by a control client.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// JSONRPCResponse is one line written back to a control client.
type JSONRPCResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// UDSServer serves the control channel: newline-delimited JSON-RPC 2.0
// over a Unix socket, one request in flight per connection.
type UDSServer struct {
	path    string
	handler *CommandHandler
	ready   chan struct{}

	mu       sync.Mutex
	ln       net.Listener
	sessions map[net.Conn]string
	closing  bool
	wg       sync.WaitGroup

	served atomic.Uint64
}

// NewUDSServer binds handler to the socket at path. Nothing is opened
// until Start.
func NewUDSServer(path string, handler *CommandHandler) *UDSServer {
	return &UDSServer{
		path:     path,
		handler:  handler,
		ready:    make(chan struct{}),
		sessions: make(map[net.Conn]string),
	}
}

// Ready is closed once the socket accepts connections.
func (s *UDSServer) Ready() <-chan struct{} { return s.ready }

// Served returns the number of requests answered so far.
func (s *UDSServer) Served() uint64 { return s.served.Load() }

// Sessions returns the number of open client connections.
func (s *UDSServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Start listens on the socket and serves until ctx is cancelled. A stale
// socket file is replaced; one that still answers belongs to another
// daemon and is left alone.
func (s *UDSServer) Start(ctx context.Context) error {
	if err := s.claimPath(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	slog.Info("control socket listening", "socket", s.path)
	close(s.ready)

	go s.accept(ctx, ln)

	<-ctx.Done()
	return s.Stop()
}

func (s *UDSServer) claimPath() error {
	if _, err := os.Lstat(s.path); os.IsNotExist(err) {
		return nil
	}
	if c, err := net.DialTimeout("unix", s.path, probeTimeout); err == nil {
		c.Close()
		return errors.Wrapf(core.ErrDaemonRunning, errors.KindConflict, "control socket %s is in use", s.path)
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("remove stale socket %s: %w", s.path, err)
	}
	return nil
}

func (s *UDSServer) accept(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return
			}
			slog.Warn("control socket accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		session := uuid.NewString()[:8]
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions[conn] = session
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serve(ctx, conn, session)
	}
}

func (s *UDSServer) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// serve answers requests on conn until the client hangs up, idles out or
// the server stops.
func (s *UDSServer) serve(ctx context.Context, conn net.Conn, session string) {
	logger := slog.With("session", session)
	defer func() {
		s.mu.Lock()
		delete(s.sessions, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
		logger.Debug("control session closed")
	}()
	logger.Debug("control session opened")

	in := bufio.NewScanner(conn)
	in.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
	out := json.NewEncoder(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !in.Scan() {
			break
		}
		resp := s.dispatch(ctx, in.Bytes(), logger)
		if err := out.Encode(resp); err != nil {
			logger.Warn("control response not delivered", "error", err)
			return
		}
		s.served.Add(1)
	}

	if err := in.Err(); err != nil && !s.isClosing() {
		logger.Debug("control session read ended", "error", err)
	}
}

// dispatch decodes one request line and runs it through the handler.
func (s *UDSServer) dispatch(ctx context.Context, line []byte, logger *slog.Logger) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return rpcError(nil, ErrCodeParseError, fmt.Sprintf("parse error: %v", err))
	}
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return rpcError(req.ID, ErrCodeInvalidRequest, fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC))
	}
	if req.Method == "" {
		return rpcError(req.ID, ErrCodeInvalidRequest, "missing method")
	}

	id := ""
	if req.ID != nil {
		id = fmt.Sprint(req.ID)
	}
	logger.Debug("control request", "method", req.Method, "id", id)

	resp := s.handler.Handle(ctx, Command{Method: req.Method, Params: req.Params, ID: id})
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: resp.Result, Error: resp.Error}
}

func rpcError(id any, code int, msg string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

// Stop closes the listener and every open session, waits for in-flight
// requests and removes the socket file. It is safe to call more than once.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.ln
	if ln != nil {
		ln.Close()
	}
	for conn := range s.sessions {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if ln != nil {
		os.Remove(s.path)
	}
	slog.Info("control socket closed", "served", s.served.Load())
	return nil
}
