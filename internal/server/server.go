package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-platform/internal/engine"
	"github.com/fathima-sithara/chat-platform/internal/identity"
	"github.com/fathima-sithara/chat-platform/internal/tenant"
	"github.com/fathima-sithara/chat-platform/internal/ws"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	maxFrameSize  = 32 * 1024
)

type Server struct {
	eng    *engine.Engine
	router *tenant.Router
	ids    identity.Resolver
	log    *zap.SugaredLogger
}

func New(eng *engine.Engine, router *tenant.Router, ids identity.Resolver, log *zap.SugaredLogger) *fiber.App {
	s := &Server{eng: eng, router: router, ids: ids, log: log}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			// carry handshake fields across the upgrade
			c.Locals("token", bearerToken(c))
			c.Locals("tenant_id", c.Query("tenantId"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handle))

	return app
}

func bearerToken(c *fiber.Ctx) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.Get("Authorization")
	const pref = "Bearer "
	if strings.HasPrefix(h, pref) {
		return h[len(pref):]
	}
	return ""
}

// handle runs one connection through the lifecycle: authenticate, resolve
// the tenant, join, then pump events until disconnect. Establishment
// failures reject the connection with a descriptive close before any
// handler runs.
func (s *Server) handle(conn *websocket.Conn) {
	ctx := context.Background()
	sess := ws.NewSession()
	defer conn.Close()

	token, _ := conn.Locals("token").(string)
	claims, err := s.ids.VerifyToken(ctx, token)
	if err != nil {
		s.reject(conn, "authentication failed")
		return
	}
	sess.UserID = claims.UserID
	sess.TenantID = claims.TenantID
	if sess.TenantID == "" {
		if t, _ := conn.Locals("tenant_id").(string); t != "" {
			sess.TenantID = t
		}
	}
	if sess.TenantID == "" {
		s.reject(conn, "tenant unresolved")
		return
	}
	if _, err := s.router.Resolve(ctx, sess.TenantID); err != nil {
		s.log.Warnw("tenant resolve", "tenant", sess.TenantID, "err", err)
		s.reject(conn, "tenant store unavailable")
		return
	}
	sess.SetState(ws.StateAuthenticated)

	go sess.WritePump(conn, pingInterval, writeDeadline)
	defer close(sess.Send)
	defer s.eng.Disconnect(ctx, sess)

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	s.log.Infow("connection authenticated", "user", sess.UserID, "tenant", sess.TenantID, "conn", sess.ID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var env engine.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// ignore invalid JSON, keep the connection
			continue
		}
		if env.Type == engine.EvJoin {
			if err := s.eng.Join(ctx, sess, env.Payload); err != nil {
				s.log.Errorw("join failed", "user", sess.UserID, "err", err)
			}
			continue
		}
		s.eng.HandleEvent(ctx, sess, raw)
	}
}

func (s *Server) reject(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
