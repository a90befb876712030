/*Package simsrv serves the chamber simulator to front-ends over a websocket.

Every connection gets its own chamber.Simulator.  The status message is
pushed on a fixed interval; text frames from the client are console commands
whose responses are written back on the same socket.

Besides the websocket, the router carries

	/list-of-routes          JSON list of routes
	/metrics                 Prometheus metrics
	/bench/...               thermal controller bindings, if a bench is attached
	/ui/...                  static front-end files, if a directory is configured
*/
package simsrv

import (
	"context"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/chamber"
	"github.com/ptcchamber/chamberlab/generichttp/thermal"
	"github.com/ptcchamber/chamberlab/server"
	"github.com/ptcchamber/chamberlab/server/middleware/locker"
)

// DefaultInterval is the status broadcast period
const DefaultInterval = 500 * time.Millisecond

// Server hands out websocket sessions and the auxiliary HTTP routes
type Server struct {
	Interval time.Duration

	// Static is a directory served under /ui/, disabled if empty
	Static string

	// SimOptions are applied to the simulator of every new session
	SimOptions []chamber.Option

	Metrics *Metrics
	Mirror  Mirror
	Log     logrus.FieldLogger

	bench    thermal.Controller
	lock     *locker.Locker
	upgrader websocket.Upgrader
}

// Option configures a Server
type Option func(*Server)

// WithBench exposes c under /bench
func WithBench(c thermal.Controller) Option {
	return func(s *Server) { s.bench = c }
}

// WithMirror copies every broadcast status to m
func WithMirror(m Mirror) Option {
	return func(s *Server) { s.Mirror = m }
}

// WithStatic serves dir under /ui/
func WithStatic(dir string) Option {
	return func(s *Server) { s.Static = dir }
}

// New returns a Server broadcasting every interval
func New(interval time.Duration, log logrus.FieldLogger, opts ...Option) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Server{
		Interval: interval,
		Metrics:  NewMetrics(),
		Mirror:   nopMirror{},
		Log:      log,
		lock:     locker.New(),
		upgrader: websocket.Upgrader{
			// the front-end is usually served from a dev server on another port
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock returns the locker guarding writes to /bench
func (s *Server) Lock() *locker.Locker {
	return s.lock
}

// Router builds the chi router with every route bound
func (s *Server) Router() chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	rt := server.RouteTable{
		server.Get("/"):   s.ServeWS,
		server.Get("/ws"): s.ServeWS,
	}
	rt[server.Get("/metrics")] = s.Metrics.Handler().ServeHTTP
	if s.Static != "" {
		rt[server.Get("/ui/*")] = s.serveStatic
	}
	rt.Bind(root)

	listing := server.RouteTable{}
	for k, h := range rt {
		listing[k] = h
	}
	if s.bench != nil {
		bench := thermal.NewHTTPThermal(s.bench)
		locker.Inject(bench.RT(), s.lock)
		stem := server.SubMuxSanitize("bench")
		r := chi.NewRouter()
		r.Use(s.lock.Check)
		bench.RT().Bind(r)
		root.Mount(stem, r)
		for k, h := range bench.RT() {
			listing[server.MethodPath{Method: k.Method, Path: stem + k.Path}] = h
		}
	}
	list := server.ListOfRoutes(listing)
	listing[server.Get("/list-of-routes")] = list
	root.Get("/list-of-routes", list)
	return root
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	fn := path.Clean("/" + chi.URLParam(r, "*"))
	if fn == "/" {
		fn = "/index.html"
	}
	server.ReplyWithFile(w, r, strings.TrimPrefix(fn, "/"), s.Static)
}

// ServeWS upgrades the request and runs a session until either side hangs up
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) && s.Static != "" {
		http.Redirect(w, r, "/ui/", http.StatusFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.Log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	log := s.Log.WithField("session", id)
	sess := NewSession(id, conn, s.Interval, s.Log, s.SimOptions...)
	sess.metrics = s.Metrics
	sess.mirror = s.Mirror

	s.Metrics.Sessions.Inc()
	defer s.Metrics.Sessions.Dec()
	log.WithField("remote", r.RemoteAddr).Info("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	inbound := make(chan string)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(ctx, inbound); err != nil {
			s.Metrics.SendErrors.Inc()
			log.WithError(err).Debug("session ended")
		}
		cancel()
	}()
	go func() {
		// unblock ReadMessage once the session is over
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		select {
		case inbound <- string(data):
		case <-ctx.Done():
		}
	}
	cancel()
	<-done
	conn.Close()
	log.Info("client disconnected")
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
		// hijacked websocket connections are not tracked by Shutdown,
		// deriving requests from ctx ends their sessions
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	s.Log.WithField("addr", addr).Info("now listening for requests")
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}
