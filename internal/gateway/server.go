package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// The hybrid app shell connects from an app-local origin.
		return true
	},
}

// Server is the embedded HTTP surface: a health probe and the single
// websocket the hybrid app drives the voice core through.
type Server struct {
	echo     *echo.Echo
	hub      *Hub
	controls Controls
	feeder   AudioFeeder
	password string
	logger   *logrus.Entry
}

// NewServer wires routes. password empty disables auth (local development).
func NewServer(hub *Hub, controls Controls, feeder AudioFeeder, password string) *Server {
	s := &Server{
		hub:      hub,
		controls: controls,
		feeder:   feeder,
		password: password,
		logger:   log.Component("gateway"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/session", s.handleSession)

	s.echo = e
	return s
}

// Start blocks serving on addr.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleSession(c echo.Context) error {
	r := c.Request()
	w := c.Response().Writer

	preAuthed := s.password == "" || checkAuthHeaderOrQuery(r, s.password)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return nil
	}

	id := uuid.NewString()
	sess := &session{
		id:       id,
		conn:     conn,
		hub:      s.hub,
		controls: s.controls,
		feeder:   s.feeder,
		logger:   s.logger.WithField("session_id", id),
	}

	// Credentials may also arrive as the first frame, the way the app
	// shell sends them when it cannot set headers on a websocket.
	if !preAuthed {
		if !awaitAuthFrame(conn, s.password) {
			sess.close("unauthorized")
			return nil
		}
	}

	s.hub.attach(sess)
	sess.readLoop()
	return nil
}

func awaitAuthFrame(conn *websocket.Conn, password string) bool {
	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		return false
	}
	var ev clientEvent
	if json.Unmarshal(data, &ev) != nil {
		return false
	}
	return strings.ToLower(ev.Type) == "auth" && ev.Password == password
}

func checkAuthHeaderOrQuery(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}
