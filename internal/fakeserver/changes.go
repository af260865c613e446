package fakeserver

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type changeEvent struct {
	Type         string
	ID           string
	Collection   string
	ChangeVector string
}

type socket struct {
	conn     *websocket.Conn
	database string

	writeMu  sync.Mutex
	watching bool
}

func (sock *socket) writeJSON(v any) error {
	sock.writeMu.Lock()
	defer sock.writeMu.Unlock()
	return sock.conn.WriteJSON(v)
}

// hub tracks open changes sockets and fans committed changes out to them.
type hub struct {
	mu      sync.Mutex
	sockets map[*socket]struct{}
}

func newHub() *hub {
	return &hub{sockets: map[*socket]struct{}{}}
}

func (h *hub) add(sock *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sockets[sock] = struct{}{}
}

func (h *hub) remove(sock *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sockets, sock)
}

func (h *hub) publish(database string, events []changeEvent) {
	if len(events) == 0 {
		return
	}
	msgs := make([]any, len(events))
	for i, e := range events {
		msgs[i] = map[string]any{
			"Type": "DocumentChange",
			"Value": map[string]any{
				"Type":           e.Type,
				"Id":             e.ID,
				"CollectionName": e.Collection,
				"ChangeVector":   e.ChangeVector,
			},
		}
	}

	h.mu.Lock()
	targets := make([]*socket, 0, len(h.sockets))
	for sock := range h.sockets {
		if sock.database == database {
			targets = append(targets, sock)
		}
	}
	h.mu.Unlock()

	for _, sock := range targets {
		sock.writeMu.Lock()
		watching := sock.watching
		sock.writeMu.Unlock()
		if watching {
			_ = sock.writeJSON(msgs)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sock := range h.sockets {
		sock.conn.Close()
		delete(h.sockets, sock)
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type changesCommand struct {
	CommandId int
	Command   string
	Param     string
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sock := &socket{conn: conn, database: mux.Vars(r)["database"]}
	s.changes.add(sock)
	defer func() {
		s.changes.remove(sock)
		conn.Close()
	}()

	for {
		var cmd changesCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if strings.HasPrefix(cmd.Command, "watch-") {
			sock.writeMu.Lock()
			sock.watching = true
			sock.writeMu.Unlock()
		}
		if err := sock.writeJSON([]any{map[string]any{"Type": "Confirm", "CommandId": cmd.CommandId}}); err != nil {
			return
		}
	}
}
