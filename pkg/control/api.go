// Package control implements the local control API a CLI process uses to
// talk to a running orchestrator over a Unix domain socket.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/monocore-go/monocore/internal/config"
	"github.com/monocore-go/monocore/internal/orchestrator"
)

// Request is one JSON-RPC-shaped call sent down the control socket.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the matching reply; exactly one of Result/Error is set.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server dispatches control requests onto an Orchestrator.
type Server struct {
	mu   sync.RWMutex
	orch *orchestrator.Orchestrator
}

// NewServer creates a control API server bound to orch.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	return &Server{orch: orch}
}

// Serve accepts connections on listener until ctx is canceled, handling
// each on its own goroutine.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var request Request
		if err := decoder.Decode(&request); err != nil {
			return
		}

		response := s.handleRequest(ctx, request)

		if err := encoder.Encode(response); err != nil {
			return
		}
	}
}

// handleRequest dispatches one request to the matching orchestrator
// operation.
func (s *Server) handleRequest(ctx context.Context, request Request) Response {
	switch request.Method {
	case "Up":
		return s.handleUp(ctx, request)
	case "Down":
		return s.handleDown(ctx, request)
	case "Status":
		return s.handleStatus(request)
	default:
		return Response{ID: request.ID, Error: fmt.Sprintf("unknown method: %s", request.Method)}
	}
}

type upParams struct {
	Config config.MonocoreConfig `json:"config"`
}

func (s *Server) handleUp(ctx context.Context, request Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	var params upParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("invalid params: %v", err)}
	}

	if err := s.orch.Up(ctx, params.Config); err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"success": true}}
}

type downParams struct {
	Service string `json:"service,omitempty"`
}

func (s *Server) handleDown(ctx context.Context, request Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	var params downParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return Response{ID: request.ID, Error: fmt.Sprintf("invalid params: %v", err)}
		}
	}

	if err := s.orch.Down(ctx, params.Service); err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"success": true}}
}

func (s *Server) handleStatus(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states, err := s.orch.Status()
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"sandboxes": states}}
}
