package remote

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rex-rbx/lune-but-weird/internal/journal"
	"github.com/rex-rbx/lune-but-weird/internal/vm"
)

// Server accepts WebSocket debugger clients and serializes their
// introspection requests against one VM. Requests mutate shared VM state,
// so they are run one at a time under a single mutex; the VM itself is
// expected to be paused (at a breakpoint) while clients operate.
type Server struct {
	vm      *vm.VM
	journal *journal.Journal // optional

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	addr     string

	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

// NewServer creates a debug server for the given VM. journal may be nil.
func NewServer(machine *vm.VM, jnl *journal.Journal) *Server {
	return &Server{
		vm:      machine,
		journal: jnl,
		clients: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve listens on addr and blocks until the listener fails or Close is
// called. The WebSocket endpoint is /debug.
func (s *Server) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug", s.handleUpgrade)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("debug server listen failed: %w", err)
	}

	s.httpSrv = &http.Server{Handler: mux}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	log.Info("debug server listening", "addr", ln.Addr().String())

	err = s.httpSrv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the bound address once Serve has started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close shuts the server down and disconnects all clients
func (s *Server) Close() error {
	s.mu.Lock()
	for id, conn := range s.clients {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.clients[id] = conn
	s.mu.Unlock()

	log.Info("debugger client connected", "client", id, "remote", r.RemoteAddr)
	go s.serveClient(id, conn)
}

func (s *Server) serveClient(id string, conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		conn.Close()
		log.Info("debugger client disconnected", "client", id)
	}()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("debugger client read failed", "client", id, "error", err)
			}
			return
		}

		resp := s.handle(&req)
		if err := conn.WriteJSON(resp); err != nil {
			log.Warn("debugger client write failed", "client", id, "error", err)
			return
		}
	}
}

// handle runs one request against the VM under the server mutex
func (s *Server) handle(req *Request) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &Response{ID: req.ID}
	if s.journal != nil {
		resp.Session = s.journal.Session()
	}

	switch req.Op {
	case OpGetConstant:
		if s.vm.GetConstant(req.FuncIndex, req.Index) {
			v, _ := s.vm.Pop()
			resp.OK = true
			resp.Value = ToWire(v)
		}

	case OpGetConstantCount:
		resp.OK = true
		resp.Count = s.vm.GetConstantCount(req.FuncIndex)

	case OpSetConstant:
		s.handleSetConstant(req, resp)

	case OpGetProto:
		if s.vm.GetProto(req.FuncIndex, req.Index, req.Activated) {
			v, _ := s.vm.Pop()
			resp.OK = true
			resp.Value = ToWire(v)
		}

	case OpGetProtoCount:
		resp.OK = true
		resp.Count = s.vm.GetProtoCount(req.FuncIndex)

	case OpGetStackValue:
		if s.vm.GetStackValue(req.Level, req.Index) {
			v, _ := s.vm.Pop()
			resp.OK = true
			resp.Value = ToWire(v)
		}

	case OpSetStackValue:
		s.handleSetStackValue(req, resp)

	case OpCallDepth:
		resp.OK = true
		resp.Count = s.vm.CallDepth()

	case OpBacktrace:
		for _, f := range s.vm.GetDebugger().GetCallStack(s.vm) {
			resp.Frames = append(resp.Frames, WireFrame{
				Level:    len(resp.Frames),
				Function: f.FunctionName,
				File:     f.File,
				Line:     f.Line,
			})
		}
		resp.OK = true

	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
	}

	return resp
}

func (s *Server) handleSetConstant(req *Request, resp *Response) {
	if req.Value == nil {
		resp.Error = "set_constant requires a value"
		return
	}
	v, err := req.Value.FromWire()
	if err != nil {
		resp.Error = err.Error()
		return
	}

	// Capture the old value for the journal before overwriting
	var oldRepr string
	if s.vm.GetConstant(req.FuncIndex, req.Index) {
		old, _ := s.vm.Pop()
		oldRepr = old.Inspect()
	}

	s.vm.Push(v)
	if !s.vm.SetConstant(req.FuncIndex, req.Index) {
		return
	}
	resp.OK = true

	if s.journal != nil {
		name := s.vm.FunctionNameAt(req.FuncIndex)
		if err := s.journal.RecordConstant(name, req.Index, oldRepr, v.Inspect()); err != nil {
			log.Warn("journal write failed", "error", err)
		}
	}
}

func (s *Server) handleSetStackValue(req *Request, resp *Response) {
	if req.Value == nil {
		resp.Error = "set_stack_value requires a value"
		return
	}
	v, err := req.Value.FromWire()
	if err != nil {
		resp.Error = err.Error()
		return
	}

	var oldRepr string
	if s.vm.GetStackValue(req.Level, req.Index) {
		old, _ := s.vm.Pop()
		oldRepr = old.Inspect()
	}

	s.vm.Push(v)
	if !s.vm.SetStackValue(req.Level, req.Index) {
		return
	}
	resp.OK = true

	if s.journal != nil {
		if err := s.journal.RecordStackValue(req.Level, req.Index, oldRepr, v.Inspect()); err != nil {
			log.Warn("journal write failed", "error", err)
		}
	}
}
