package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/session"
)

const sendBuffer = 64

// Client owns the write side of one socket. Messages are queued and written
// by WritePump so session callbacks never wait on the network.
type Client struct {
	conn   *websocket.Conn
	send   chan any
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan any, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues v. It reports false when the client is closed or too slow.
func (c *Client) Send(v any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- v:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().Msg("Client send buffer full, dropping message")
		return false
	}
}

// WritePump writes queued messages until the client is closed.
func (c *Client) WritePump() {
	for {
		select {
		case <-c.done:
			return
		case v := <-c.send:
			if err := WriteTyped(c.conn, v); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				c.Close()
				return
			}
		}
	}
}

// Close stops the pump and closes the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// SendError queues an error event.
func (c *Client) SendError(msg string) {
	c.Send(ErrorResponse{Event: EventError, Error: msg})
}

func (c *Client) OnState(s model.SessionSnapshot) {
	c.Send(StateResponse{Event: EventState, Session: s})
}

func (c *Client) OnTick(t session.TimerState) {
	c.Send(TickResponse{Event: EventTick, TimerState: t})
}

func (c *Client) OnNotice(n session.Notice) {
	c.Send(NoticeResponse{Event: EventNotice, Notice: n})
}

func (c *Client) OnResult(o session.Outcome) {
	c.Send(ResultResponse{Event: EventResult, Outcome: o})
}
