package ws

import (
	"sync"
	"time"

	"github.com/antonmedv/expr/vm"
	lru "github.com/hashicorp/golang-lru"
	"github.com/robfig/cron/v3"

	"github.com/negohq/negochat/agent"
	"github.com/negohq/negochat/config"
	"github.com/negohq/negochat/filter"
	"github.com/negohq/negochat/globals"
	"github.com/negohq/negochat/persistence"
	"github.com/negohq/negochat/registry"
	"github.com/negohq/negochat/types"
)

const filterCacheSize = 128

// Hub owns every live connection and the per-room broadcast groups.
// Connections exist before (and without) room membership, so there is one
// hub per process, not one per room. Handler methods are called from the
// clients' read loops; hub state is guarded by the embedded lock, and
// sections that mutate membership or persist-then-fan-out hold emitMu, so
// capacity checks are atomic against concurrent admissions and every
// member observes room events in the order they were emitted.
type Hub struct {
	Cfg       *config.Config
	Persister persistence.Persister
	Registry  *registry.Registry
	Generator agent.Generator

	clients map[string]*Client
	rooms   map[string]map[string]*Client

	// emitMu serializes admission, removal and the message pipeline.
	emitMu sync.Mutex

	filterCache *lru.Cache
	done        chan struct{}
	closeOnce   sync.Once

	sync.RWMutex
}

// NewHub creates a hub. The generator may be nil, which disables agent
// auto-replies.
func NewHub(cfg *config.Config, persister persistence.Persister, generator agent.Generator) *Hub {
	cache, _ := lru.New(filterCacheSize)
	return &Hub{
		Cfg:         cfg,
		Persister:   persister,
		Registry:    registry.New(),
		Generator:   generator,
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		filterCache: cache,
		done:        make(chan struct{}),
	}
}

// Run starts the background janitor that expires stale join requests and
// blocks until Close is called.
func (h *Hub) Run() {
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := cronRunner.AddFunc(h.Cfg.JanitorSpec(), h.expireStaleRequests)
	if err != nil {
		globals.AppLogger.Error("could not schedule join request janitor", "error", err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()
	<-h.done
}

// expireStaleRequests drops join requests older than the configured TTL and
// tells each requester the request was declined.
func (h *Hub) expireStaleRequests() {
	cutoff := time.Now().Add(-h.Cfg.RequestTTL())
	stale, err := h.Persister.DeleteJoinRequestsBefore(cutoff)
	if err != nil {
		globals.AppLogger.Error("could not expire join requests", "error", err)
		return
	}
	for _, req := range stale {
		notice := types.RoomNoticeData{RoomId: req.RoomId}
		if room, err := h.Persister.GetRoom(req.RoomId); err == nil {
			notice.RoomName = room.Name
		}
		h.sendToConn(req.RequesterConn, types.EventJoinDeclined, notice)
	}
	if len(stale) > 0 {
		globals.AppLogger.Info("expired stale join requests", "count", len(stale))
	}
}

// Close stops Run.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Attach makes a freshly upgraded connection known to the hub.
func (h *Hub) Attach(c *Client) {
	h.Lock()
	defer h.Unlock()
	h.clients[c.Id] = c
}

func (h *Hub) joinGroup(roomId string, c *Client) {
	h.Lock()
	defer h.Unlock()
	group, ok := h.rooms[roomId]
	if !ok {
		group = make(map[string]*Client)
		h.rooms[roomId] = group
	}
	group[c.Id] = c
}

func (h *Hub) leaveGroup(roomId, connId string) {
	h.Lock()
	defer h.Unlock()
	if group, ok := h.rooms[roomId]; ok {
		delete(group, connId)
		if len(group) == 0 {
			delete(h.rooms, roomId)
		}
	}
}

// detach removes the connection from the hub and closes its send channel.
// Reports false when the connection was already gone, so a double
// disconnect is harmless.
func (h *Hub) detach(c *Client) bool {
	h.Lock()
	defer h.Unlock()
	if _, ok := h.clients[c.Id]; !ok {
		return false
	}
	delete(h.clients, c.Id)
	for roomId, group := range h.rooms {
		delete(group, c.Id)
		if len(group) == 0 {
			delete(h.rooms, roomId)
		}
	}
	close(c.Send)
	return true
}

func (h *Hub) client(connId string) *Client {
	h.RLock()
	defer h.RUnlock()
	return h.clients[connId]
}

func (h *Hub) push(c *Client, frame []byte) {
	select {
	case c.Send <- frame:
	default:
		globals.AppLogger.Warn("send buffer full, dropping frame", "connection", c.Id)
	}
}

func (h *Hub) send(c *Client, event string, payload interface{}) {
	frame, err := types.MarshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.push(c, frame)
}

func (h *Hub) sendToConn(connId, event string, payload interface{}) bool {
	c := h.client(connId)
	if c == nil {
		return false
	}
	h.send(c, event, payload)
	return true
}

func (h *Hub) sendError(c *Client, err error) {
	h.send(c, types.EventError, types.ErrorData{Message: err.Error()})
}

// broadcastRoom delivers one event to every connection in the room's
// broadcast group, except skipConn when non-empty.
func (h *Hub) broadcastRoom(roomId, event string, payload interface{}, skipConn string) {
	frame, err := types.MarshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for id, c := range h.rooms[roomId] {
		if id == skipConn {
			continue
		}
		h.push(c, frame)
	}
}

// broadcastMessage delivers a chat message to the room, optionally gated by
// a per-recipient filter expression. A filter that fails to compile is
// ignored and the message goes to everyone.
func (h *Hub) broadcastMessage(room *types.Room, wm types.WireMessage, filterSrc string) {
	frame, err := types.MarshalEvent(types.EventNewMessage, wm)
	if err != nil {
		globals.AppLogger.Error("could not marshal message", "error", err)
		return
	}
	var prog *vm.Program
	if filterSrc != "" {
		prog = h.filterProgram(filterSrc)
	}
	env := filter.Env{
		Room:   filter.Room{Id: room.Id, Name: room.Name, Creator: room.CreatedBy, Tags: room.Tags},
		Sender: filter.User{Name: wm.Sender},
	}
	h.RLock()
	defer h.RUnlock()
	for id, c := range h.rooms[room.Id] {
		if prog != nil {
			env.Target = filter.User{}
			if b, ok := h.Registry.Binding(id); ok {
				env.Target.Name = b.Name
			}
			if !filter.Match(prog, env) {
				continue
			}
		}
		h.push(c, frame)
	}
}

func (h *Hub) filterProgram(src string) *vm.Program {
	if cached, ok := h.filterCache.Get(src); ok {
		return cached.(*vm.Program)
	}
	prog, err := filter.Compile(src)
	if err != nil {
		globals.AppLogger.Warn("could not compile message filter", "filter", src, "error", err)
		return nil
	}
	h.filterCache.Add(src, prog)
	return prog
}

// roomUpdate broadcasts the current presence snapshot to the whole room.
func (h *Hub) roomUpdate(roomId string) {
	names, err := h.Persister.MemberNames(roomId)
	if err != nil {
		globals.AppLogger.Error("could not read room members", "room", roomId, "error", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	h.broadcastRoom(roomId, types.EventRoomUpdate, types.RoomUpdateData{UserCount: len(names), Users: names}, "")
}
