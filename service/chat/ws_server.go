package chat

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ntpoppe/sharply-sub000/logger"
	"github.com/ntpoppe/sharply-sub000/tools/errs"
	"github.com/ntpoppe/sharply-sub000/tools/safe"
	"github.com/ntpoppe/sharply-sub000/tools/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeDeadline = 5 * time.Second
	readDeadline  = 120 * time.Second
)

// WsGateway is the websocket transport in front of the core Server.
// It authenticates the upgrade, runs one reader loop and one writer
// goroutine per connection, and maps wire frames onto core operations.
type WsGateway struct {
	srv     *Server
	jwtOpts security.Options
}

func NewWsGateway(srv *Server, jwtOpts security.Options) *WsGateway {
	return &WsGateway{srv: srv, jwtOpts: jwtOpts}
}

// HandleWS upgrades the HTTP request and services the connection until
// it drops. Disconnect cleanup is unconditional: it runs the same way
// for clean closes, read errors and handler panics.
func (g *WsGateway) HandleWS(c *gin.Context) {
	userID, err := g.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	client := NewClient(uuid.NewString(), userID, ws, g.srv.Options().SendQueueSize)
	ctx := c.Request.Context()

	if err := g.srv.Connect(ctx, client); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connect rejected"),
			time.Now().Add(writeDeadline))
		_ = ws.Close()
		return
	}

	safe.Go(func() { g.writePump(client) })
	g.readLoop(ctx, client)

	g.srv.Disconnect(ctx, client.ConnID)
	_ = ws.Close()
}

func (g *WsGateway) authenticate(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if token == "" {
		return "", errs.ErrTokenInvalid.WithDetail("missing token")
	}
	return security.Verify(g.jwtOpts, token)
}

// readLoop parses inbound frames and routes them to the core. Client
// input errors are reported back on the same connection and never kill
// it; only transport errors end the loop.
func (g *WsGateway) readLoop(ctx context.Context, client *Client) {
	ws := client.WS
	for {
		_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", client.ConnID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s", client.ConnID)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", client.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame conn=%s err=%v sample=%q", client.ConnID, perr, sample)
			client.push(BuildErrorFramePayload(400, "malformed frame"))
			continue
		}

		if err := g.handleFrame(ctx, client, frame); err != nil {
			client.push(BuildErrorFrame(err))
		}
	}
}

func (g *WsGateway) handleFrame(ctx context.Context, client *Client, frame *Frame) error {
	switch frame.Type {
	case FramePing:
		client.push(MarshalFrame(FramePong, nil))
		return nil
	case FrameJoin:
		p, err := FramePayload[JoinPayload](frame)
		if err != nil {
			return err
		}
		return g.srv.JoinChannel(client.ConnID, p.ChannelID)
	case FrameLeave:
		p, err := FramePayload[LeavePayload](frame)
		if err != nil {
			return err
		}
		g.srv.LeaveChannel(client.ConnID, p.ChannelID)
		return nil
	case FrameSend:
		p, err := FramePayload[SendPayload](frame)
		if err != nil {
			return err
		}
		_, err = g.srv.SendMessage(ctx, p.ChannelID, client.UserID, p.Content)
		return err
	default:
		return errs.New("unknown frame type", "type", frame.Type)
	}
}

// writePump is the single writer for a connection. It drains the send
// queue until the client is torn down, cutting connections that have
// stopped draining long enough to pile up misses.
func (g *WsGateway) writePump(client *Client) {
	ws := client.WS
	maxMisses := g.srv.Options().MaxMisses
	for {
		select {
		case payload := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[ws] write err conn=%s err=%v", client.ConnID, err)
				_ = ws.Close() // unblocks the read loop, which runs Disconnect
				return
			}
		case <-client.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeDeadline))
			return
		}
		if client.consecutiveMisses() > maxMisses {
			logger.Warnf("[ws] cutting stuck conn=%s user=%s", client.ConnID, client.UserID)
			_ = ws.Close()
			return
		}
	}
}
