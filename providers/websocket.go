package providers

import (
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/quickna/socket/src/hub"
	"github.com/quickna/socket/src/types"
	"github.com/valyala/fasthttp"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler returns the root fasthttp handler: WebSocket upgrades on /ws,
// everything else through the Fiber app.
func (s *Server) Handler(app *fiber.App) fasthttp.RequestHandler {
	appHandler := app.Handler()
	wsHandler := s.upgradeHandler()

	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			wsHandler(ctx)
			return
		}
		appHandler(ctx)
	}
}

// upgradeHandler performs the WebSocket upgrade and runs the session
// protocol over the connection.
func (s *Server) upgradeHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		clientID := uuid.New().String()
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(clientID, &wsConn{conn})
			s.session.Connected(client)
			go client.WritePump()
			client.ReadPump(s.session)
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// wsConn adapts fasthttp/websocket.Conn to types.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, frame, err := w.conn.ReadMessage()
	return frame, err
}

func (w *wsConn) WriteJSON(v any) error { return w.conn.WriteJSON(v) }
func (w *wsConn) Close() error          { return w.conn.Close() }

var _ types.Conn = (*wsConn)(nil)
