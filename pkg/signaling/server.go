package signaling

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
)

// Path is the HTTP path the server upgrades on.
const Path = "/signal"

// Handler receives delivered signals. *cmtspeech.Connection implements it.
type Handler interface {
	HandleSignal(sig cmtspeech.Signal)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(sig cmtspeech.Signal)

// HandleSignal implements Handler.
func (f HandlerFunc) HandleSignal(sig cmtspeech.Signal) { f(sig) }

// ServerOptions configures a Server.
type ServerOptions struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// or as the "token" query parameter.
	Token string

	Logger cmtspeech.Logger
}

// Server accepts signalling connections and forwards signals to a Handler.
// It is an http.Handler.
type Server struct {
	handler  Handler
	token    string
	logger   cmtspeech.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	delivered atomic.Uint64
	rejected  atomic.Uint64
}

// NewServer creates a Server delivering to h.
func NewServer(h Handler, opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = cmtspeech.SlogLogger(slog.Default())
	}
	return &Server{
		handler: h,
		token:   opts.Token,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Counts returns how many signals were delivered and rejected.
func (s *Server) Counts() (delivered, rejected uint64) {
	return s.delivered.Load(), s.rejected.Load()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	tok := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) == 1
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnPrintf("signaling: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	s.mu.Lock()
	s.conns[ws] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		ws.Close()
	}()

	s.logger.InfoPrintf("signaling: client %s connected", r.RemoteAddr)
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.DebugPrintf("signaling: read from %s: %v", r.RemoteAddr, err)
			}
			return
		}
		ack := s.deliver(mt, data)
		out, err := encode(mt, ack)
		if err != nil {
			s.logger.ErrorPrintf("signaling: encode ack: %v", err)
			return
		}
		if err := ws.WriteMessage(mt, out); err != nil {
			s.logger.DebugPrintf("signaling: write to %s: %v", r.RemoteAddr, err)
			return
		}
	}
}

func (s *Server) deliver(mt int, data []byte) Ack {
	var env Envelope
	err := decode(mt, data, &env)
	if err == nil {
		err = validate(env.Signal)
	}
	if err != nil {
		s.rejected.Add(1)
		s.logger.WarnPrintf("signaling: rejected message %q: %v", env.ID, err)
		return Ack{ID: env.ID, Error: err.Error()}
	}
	s.logger.DebugPrintf("signaling: %s %v", env.ID, env.Signal)
	s.handler.HandleSignal(env.Signal)
	s.delivered.Add(1)
	return Ack{ID: env.ID}
}

// CloseClients closes every open client connection.
func (s *Server) CloseClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.conns {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		ws.Close()
	}
}

// ListenAndServe serves s on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves s on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.InfoPrintf("signaling: listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.CloseClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
