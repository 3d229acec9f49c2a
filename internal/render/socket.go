package render

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Input event kinds sent by a display.
const (
	EventPointerDown = "pointerdown"
	EventPointerMove = "pointermove"
	EventPointerUp   = "pointerup"
	EventWheel       = "wheel"
	EventKey         = "key"
	EventClick       = "click"
	EventResize      = "resize"
)

// InputEvent is one user input reported by a display, in screen pixels.
type InputEvent struct {
	Kind   string  `json:"kind"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Delta  float64 `json:"delta,omitempty"`
	Key    string  `json:"key,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

type socketMessage struct {
	Type   string `json:"type"`
	Batch  *Batch `json:"batch,omitempty"`
	Patch  *Patch `json:"patch,omitempty"`
	Status string `json:"status,omitempty"`
}

const socketWriteWait = 5 * time.Second

// SocketSurface streams frames as JSON messages to a display over a
// websocket and reads the display's input events back.
type SocketSurface struct {
	conn   *websocket.Conn
	logger *log.Logger
	events chan InputEvent
	done   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	width  float64
	height float64
	closed bool
}

// DialSocket connects to a display at url (ws:// or wss://). width and
// height are used until the display reports its own size.
func DialSocket(ctx context.Context, url string, width, height float64, logger *log.Logger) (*SocketSurface, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing display: %w", err)
	}
	s := &SocketSurface{
		conn:   conn,
		logger: logger,
		events: make(chan InputEvent, 64),
		done:   make(chan struct{}),
		width:  width,
		height: height,
	}
	go s.readLoop()
	return s, nil
}

// Events delivers input from the display. The channel is closed when the
// connection ends.
func (s *SocketSurface) Events() <-chan InputEvent {
	return s.events
}

func (s *SocketSurface) Size() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *SocketSurface) DrawBatch(b *Batch) error {
	return s.send(socketMessage{Type: "batch", Batch: b})
}

func (s *SocketSurface) ApplyPatch(p *Patch) error {
	return s.send(socketMessage{Type: "patch", Patch: p})
}

// SendStatus shows a transient hint on the display.
func (s *SocketSurface) SendStatus(text string) error {
	return s.send(socketMessage{Type: "status", Status: text})
}

func (s *SocketSurface) send(m socketMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := s.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("sending %s: %w", m.Type, err)
	}
	return nil
}

func (s *SocketSurface) readLoop() {
	defer close(s.events)
	for {
		var ev InputEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.isClosed() {
				s.logger.Printf("display connection ended: %v", err)
			}
			return
		}
		if ev.Kind == EventResize && ev.Width > 0 && ev.Height > 0 {
			s.mu.Lock()
			s.width, s.height = ev.Width, ev.Height
			s.mu.Unlock()
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *SocketSurface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close sends a close frame and releases the connection.
func (s *SocketSurface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)

	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
