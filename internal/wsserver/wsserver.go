// Package wsserver is the WebSocket Multiplexer (spec §4.H), adapted
// directly from the teacher's network.go: same upgrader tuning, same
// ReadPump/WritePump split, same ping/pong deadline discipline. The
// teacher's write path batches multiple queued messages into one binary
// frame (slither.io-style); this spec's wire format is one JSON object per
// text frame (spec §6), so the egress task here writes messages
// individually instead of concatenating them — the one deliberate
// deviation from the teacher's batching idiom, chosen over copying it.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sailrace/internal/config"
	"sailrace/internal/race"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    2048,
	WriteBufferSize:   4096,
	EnableCompression: true,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// Client is one connection's lifecycle state: it owns the consumer side
// of the player's outbound queue (spec §3 Ownership invariant).
type Client struct {
	ID       string
	conn     *websocket.Conn
	outbound *race.OutboundQueue
	engine   *race.Engine
	log      zerolog.Logger

	currentRace *race.Race
}

// NewHandler returns an http.HandlerFunc that upgrades to a WebSocket and
// spawns the read/write pumps for each new connection (spec §4.H step 1).
func NewHandler(engine *race.Engine, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("wsserver: upgrade failed")
			return
		}

		c := &Client{
			ID:       race.NewPlayerID(),
			conn:     conn,
			outbound: race.NewOutboundQueue(),
			engine:   engine,
			log:      log,
		}

		go c.writePump()
		go c.readPump()
	}
}

// readPump decodes inbound text frames and dispatches to the engine.
// Binary frames are ignored (spec §4.H step 2); on close or read error it
// invokes LeaveRace (spec §4.H step 3).
func (c *Client) readPump() {
	defer c.disconnect()

	c.conn.SetReadDeadline(time.Now().Add(config.ReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.ReadDeadline))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Str("client", c.ID).Msg("wsserver: connection closed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg race.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Str("client", c.ID).Msg("wsserver: malformed JSON, ignoring")
			continue
		}
		c.dispatch(msg)
	}
}

// writePump drains the outbound queue and writes one JSON text frame per
// message; a periodic ping keeps the read deadline alive on the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbound.Chan():
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("wsserver: marshal outbound message")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(msg race.ClientMessage) {
	ctx := context.Background()
	switch msg.Type {
	case race.MsgCreateRace:
		c.handleCreateRace(ctx, msg)
	case race.MsgJoinRace:
		c.handleJoinRace(msg)
	case race.MsgLeaveRace:
		c.handleLeaveRace()
	case race.MsgStartRace:
		c.handleStartRace()
	case race.MsgPositionUpdate:
		c.handlePositionUpdate(msg)
	case race.MsgGateCrossed:
		c.handleGateCrossed(ctx, msg)
	default:
		c.log.Warn().Str("type", msg.Type).Msg("wsserver: unknown message type, ignoring")
	}
}

func (c *Client) sendError(message string) {
	c.outbound.Push(race.ServerMessage{Type: race.MsgError, Payload: race.ErrorPayload{Message: message}})
}

func (c *Client) handleCreateRace(ctx context.Context, msg race.ClientMessage) {
	if c.currentRace != nil {
		c.sendError("already in a race")
		return
	}
	r, err := c.engine.CreateRace(ctx, c.ID, msg.Name, msg.CourseKey, c.outbound)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.currentRace = r
	c.outbound.Push(race.ServerMessage{Type: race.MsgRaceCreated, Payload: race.RaceCreatedPayload{RaceID: r.ID, Course: r.Course.Key}})
}

func (c *Client) handleJoinRace(msg race.ClientMessage) {
	if c.currentRace != nil {
		c.sendError("already in a race")
		return
	}
	r, ok := c.engine.Store().Get(msg.RaceID)
	if !ok {
		c.sendError("race not found")
		return
	}
	if err := c.engine.JoinRace(r, c.ID, msg.Name, c.outbound); err != nil {
		c.sendError(err.Error())
		return
	}
	c.currentRace = r

	summaries := make([]race.PlayerSummary, 0)
	r.ForEachPlayer(func(p *race.Player) {
		summaries = append(summaries, race.PlayerSummary{ID: p.ID, Name: p.Name})
	})
	rasters := make([]race.WindReportSummary, 0, len(r.WindRasters))
	for _, rep := range r.WindRasters {
		rasters = append(rasters, race.WindReportSummary{Time: rep.Time.UnixMilli(), PNGURL: rep.PNGPath})
	}

	c.outbound.Push(race.ServerMessage{Type: race.MsgRaceJoined, Payload: race.RaceJoinedPayload{
		RaceID:      r.ID,
		Players:     summaries,
		WindRasters: rasters,
	}})
}

func (c *Client) handleLeaveRace() {
	if c.currentRace == nil {
		return
	}
	c.engine.LeaveRace(c.currentRace, c.ID)
	c.currentRace = nil
}

func (c *Client) handleStartRace() {
	if c.currentRace == nil {
		c.sendError("not in a race")
		return
	}
	if err := c.engine.StartRace(c.currentRace, c.ID); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handlePositionUpdate(msg race.ClientMessage) {
	if c.currentRace == nil {
		return
	}
	c.engine.PositionUpdate(c.currentRace, c.ID, msg.Lng, msg.Lat, msg.Heading)
}

func (c *Client) handleGateCrossed(ctx context.Context, msg race.ClientMessage) {
	if c.currentRace == nil {
		return
	}
	c.engine.GateCrossed(ctx, c.currentRace, c.ID, msg.GateIndex, msg.CourseTime)
}

// disconnect always invokes LeaveRace (spec §4.H step 3/4): cancellation
// of the connection drops the producer handle but never terminates the
// race, only the player slot.
func (c *Client) disconnect() {
	c.conn.Close()
	if c.currentRace != nil {
		c.engine.LeaveRace(c.currentRace, c.ID)
		c.currentRace = nil
	}
	c.outbound.Close()
}
