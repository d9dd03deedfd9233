// ABOUTME: WebSocket navigation stream holding one table session per connection.
// ABOUTME: Each command moves the session and loads a page; superseded loads are dropped.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apierrors "github.com/2389/megatable/internal/errors"
	"github.com/2389/megatable/internal/navigate"
	"github.com/2389/megatable/internal/record"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: checkOrigin,
}

// checkOrigin accepts clients without an Origin header and browsers on a
// loopback host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Command is one client request on the stream.
type Command struct {
	ID       int     `json:"id"`
	Type     string  `json:"type"` // scroll, move, row, search, sort, refresh
	Fraction float64 `json:"fraction,omitempty"`
	Move     string  `json:"move,omitempty"`
	Row      int     `json:"row,omitempty"`
	Query    string  `json:"q,omitempty"`
	Sort     string  `json:"sort,omitempty"`
	Dir      string  `json:"dir,omitempty"`
}

// Frame is one server message: a page for command ID, or an error.
type Frame struct {
	ID       int                      `json:"id"`
	Type     string                   `json:"type"` // page or error
	Offset   int                      `json:"offset"`
	Fraction float64                  `json:"fraction"`
	Total    int                      `json:"total"`
	HasMore  bool                     `json:"hasMore"`
	Page     []record.Record          `json:"page,omitempty"`
	Error    *apierrors.ErrorResponse `json:"error,omitempty"`
}

type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	pager  *navigate.Pager
	total  func(ctx context.Context, search string) (int, error)
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	lastSent int // highest command id delivered, keeps frames in order

	closeConn sync.Once
}

// stream upgrades GET /api/stream and serves navigation commands.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &streamClient{
		conn: conn,
		send: make(chan []byte, 16),
		pager: navigate.NewPager(navigate.Session{
			PageSize: h.pageSize,
			Total:    h.engine.Total(),
			Sort:     record.FieldID,
			Dir:      record.Asc,
		}, h.engine.Query),
		total:  h.total,
		ctx:    ctx,
		cancel: cancel,
	}

	go client.writePump()
	go client.readPump()

	// initial page
	client.load(0)
}

func (c *streamClient) readPump() {
	defer func() {
		c.cancel()
		c.closeConn.Do(func() { c.conn.Close() })
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "err", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendError(cmd.ID, http.StatusBadRequest, apierrors.ErrInvalidRequest, "malformed command")
			continue
		}
		c.handle(cmd)
	}
}

// handle applies cmd to the session synchronously and loads the page in the
// background, so a burst of commands only renders the last one.
func (c *streamClient) handle(cmd Command) {
	// the match count is resolved before later commands are validated
	// against it
	var searchTotal int
	if cmd.Type == "search" {
		n, err := c.total(c.ctx, cmd.Query)
		if err != nil {
			c.sendError(cmd.ID, http.StatusInternalServerError, apierrors.ErrQueryFailed, err.Error())
			return
		}
		searchTotal = n
	}

	var applyErr error
	c.pager.Update(func(s *navigate.Session) {
		switch cmd.Type {
		case "scroll":
			s.Scroll(cmd.Fraction)
		case "move":
			m, err := navigate.ParseMove(cmd.Move)
			if err != nil {
				applyErr = err
				return
			}
			s.Step(m)
		case "row":
			_, applyErr = s.JumpToRow(cmd.Row)
		case "search":
			s.Search = strings.TrimSpace(cmd.Query)
			s.Total = searchTotal
			s.Offset = 0
		case "sort":
			f, err := record.ParseField(cmd.Sort)
			if err != nil {
				applyErr = err
				return
			}
			d, err := record.ParseDirection(cmd.Dir)
			if err != nil {
				applyErr = err
				return
			}
			s.Sort, s.Dir = f, d
		case "refresh":
		default:
			applyErr = errors.New("unknown command " + cmd.Type)
		}
	})

	if applyErr != nil {
		if errors.Is(applyErr, navigate.ErrOutOfRange) {
			c.sendError(cmd.ID, http.StatusUnprocessableEntity, apierrors.ErrOutOfRange, applyErr.Error())
		} else {
			c.sendError(cmd.ID, http.StatusBadRequest, apierrors.ErrInvalidRequest, applyErr.Error())
		}
		return
	}
	go c.load(cmd.ID)
}

func (c *streamClient) load(id int) {
	page, err := c.pager.Load(c.ctx)
	if errors.Is(err, navigate.ErrSuperseded) {
		slog.Debug("stream load superseded", "id", id)
		return
	}
	if err != nil {
		c.sendError(id, http.StatusInternalServerError, apierrors.ErrQueryFailed, err.Error())
		return
	}

	s := c.pager.Session()
	c.sendFrame(Frame{
		ID:       id,
		Type:     "page",
		Offset:   s.Offset,
		Fraction: s.Fraction(),
		Total:    page.Total,
		HasMore:  page.HasMore,
		Page:     page.Records,
	})
}

func (c *streamClient) sendError(id, status int, code, message string) {
	c.sendFrame(Frame{
		ID:    id,
		Type:  "error",
		Error: &apierrors.ErrorResponse{Code: code, Message: message, Status: status},
	})
}

func (c *streamClient) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("failed to marshal stream frame", "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Type == "page" && f.ID < c.lastSent {
		return
	}
	c.lastSent = max(c.lastSent, f.ID)

	select {
	case <-c.ctx.Done():
	case c.send <- data:
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn.Do(func() { c.conn.Close() })
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
