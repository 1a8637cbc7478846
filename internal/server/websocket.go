package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/signportal/signportal"
	"github.com/signportal/signportal/internal/dialog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// ActionEnvelope is one visitor interaction forwarded by the client
// runtime: a trigger click, a backdrop click, a form submission.
type ActionEnvelope struct {
	Page   string          `json:"page"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// PatchEnvelope answers an action with the patches the client must apply.
type PatchEnvelope struct {
	Action string         `json:"action"` // always "patches"
	Data   []dialog.Patch `json:"data"`
	Meta   *PatchMeta     `json:"meta,omitempty"`
}

// PatchMeta echoes what produced the patches, for client-side debugging.
type PatchMeta struct {
	Action string `json:"action"`
	Seq    int64  `json:"seq"`
}

// errorEnvelope reports a bad action without dropping the session.
type errorEnvelope struct {
	Action string    `json:"action"` // always "error"
	Data   errorBody `json:"data"`
}

type errorBody struct {
	Message string `json:"message"`
}

// reloadEnvelope tells the client to reload after a content change.
type reloadEnvelope struct {
	Action string `json:"action"` // always "reload"
	Path   string `json:"path,omitempty"`
}

// wsClient wraps a WebSocket connection with a write lock. The session's
// read loop and the server's reload broadcast both write; gorilla allows
// one writer at a time.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsClient) close() {
	c.conn.Close()
}

// session is one connected visitor on one page. It owns the dialog
// controller; actions are handled strictly in arrival order.
type session struct {
	page   *signportal.Page
	ctrl   *dialog.Controller
	client *wsClient
	seq    int64
	debug  bool
}

// serveWebSocket upgrades the connection and runs the session loop until
// the client goes away.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	route := s.findRoute(r.URL.Query().Get("page"))
	if route == nil {
		http.Error(w, "Unknown page", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Failed to upgrade connection: %v", err)
		return
	}

	client := &wsClient{conn: conn}
	s.RegisterClient(client)
	defer func() {
		s.UnregisterClient(client)
		client.close()
	}()

	if s.debug {
		log.Printf("[WS] Client connected: %s (page %s)", conn.RemoteAddr(), route.Page.ID)
	}

	sess := &session{
		page:   route.Page,
		client: client,
		debug:  s.debug,
		ctrl: dialog.New(&route.Page.Bindings, dialog.Hooks{
			AccountSubmit: s.accountSubmit,
			FormSubmit:    s.formSubmit,
		}),
	}
	sess.run()

	if s.debug {
		log.Printf("[WS] Client disconnected: %s", conn.RemoteAddr())
	}
}

// run reads actions one at a time. A malformed message gets an error
// envelope and the loop continues; only a closed connection ends it.
func (sess *session) run() {
	for {
		_, message, err := sess.client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Unexpected close: %v", err)
			}
			return
		}

		if sess.debug {
			log.Printf("[WS] Received: %s", message)
		}
		sess.handle(message)
	}
}

func (sess *session) handle(message []byte) {
	var env ActionEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		sess.sendError("malformed action envelope")
		return
	}

	var data map[string]interface{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			sess.sendError("malformed action data")
			return
		}
	}

	patches, err := sess.ctrl.HandleAction(env.Action, data)
	if err != nil {
		sess.sendError(err.Error())
		return
	}
	if patches == nil {
		patches = []dialog.Patch{}
	}

	sess.seq++
	sess.send(PatchEnvelope{
		Action: "patches",
		Data:   patches,
		Meta:   &PatchMeta{Action: env.Action, Seq: sess.seq},
	})
}

func (sess *session) sendError(message string) {
	sess.send(errorEnvelope{Action: "error", Data: errorBody{Message: message}})
}

func (sess *session) send(v interface{}) {
	if err := sess.client.send(v); err != nil {
		log.Printf("[WS] Failed to send message: %v", err)
	}
}
