package ws

import (
	"sync"
	"time"

	"github.com/negohq/negochat/persistence"
	"github.com/negohq/negochat/types"
)

// fakePersister is an in-memory Persister for hub tests.
type fakePersister struct {
	mu        sync.Mutex
	rooms     map[string]*types.Room
	members   []types.Member
	requests  map[uint]*types.JoinRequest
	nextReq   uint
	messages  map[string][]*types.Message
	nextMsg   int64
	deals     map[string][]*types.DealEvent
	templates map[string]*types.AgentTemplate
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		rooms:     make(map[string]*types.Room),
		requests:  make(map[uint]*types.JoinRequest),
		messages:  make(map[string][]*types.Message),
		deals:     make(map[string][]*types.DealEvent),
		templates: make(map[string]*types.AgentTemplate),
	}
}

func (p *fakePersister) CreateRoom(room *types.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if room.Id == "" {
		room.Id = types.NewRoomId()
	}
	if room.InviteToken == "" {
		room.InviteToken = types.NewInviteToken()
	}
	if room.Code == 0 {
		room.Code = types.NewRoomCode()
	}
	if room.MaxUsers <= 0 {
		room.MaxUsers = 2
	}
	room.CreatedAt = time.Now()
	stored := *room
	p.rooms[room.Id] = &stored
	return nil
}

func (p *fakePersister) GetRoom(id string) (*types.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	room, ok := p.rooms[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (p *fakePersister) GetRoomByCode(code int) (*types.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, room := range p.rooms {
		if room.Code == code {
			cp := *room
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (p *fakePersister) GetRoomByInviteToken(token string) (*types.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, room := range p.rooms {
		if room.InviteToken == token {
			cp := *room
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (p *fakePersister) GetRooms() ([]*types.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Room, 0, len(p.rooms))
	for _, room := range p.rooms {
		cp := *room
		out = append(out, &cp)
	}
	return out, nil
}

func (p *fakePersister) StoreRoom(room types.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms[room.Id] = &room
	return nil
}

func (p *fakePersister) RotateInviteToken(roomId string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	room, ok := p.rooms[roomId]
	if !ok {
		return "", persistence.ErrNotFound
	}
	room.InviteToken = types.NewInviteToken()
	return room.InviteToken, nil
}

func (p *fakePersister) EnsureRoomCreator(roomId, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if room, ok := p.rooms[roomId]; ok && room.CreatedBy == "" {
		room.CreatedBy = name
	}
	return nil
}

func (p *fakePersister) AddMember(member types.Member) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	for i, m := range p.members {
		if m.ConnId == member.ConnId {
			p.members[i] = member
			return nil
		}
	}
	p.members = append(p.members, member)
	return nil
}

func (p *fakePersister) RemoveMemberByConn(connId string) (*types.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, m := range p.members {
		if m.ConnId == connId {
			removed := m
			p.members = append(p.members[:i], p.members[i+1:]...)
			return &removed, nil
		}
	}
	return nil, nil
}

func (p *fakePersister) RemoveMemberByName(roomId, name string) (*types.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, m := range p.members {
		if m.RoomId == roomId && m.Name == name {
			removed := m
			p.members = append(p.members[:i], p.members[i+1:]...)
			return &removed, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (p *fakePersister) MemberByConn(connId string) (*types.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		if m.ConnId == connId {
			cp := m
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (p *fakePersister) MemberByName(roomId, name string) (*types.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		if m.RoomId == roomId && m.Name == name {
			cp := m
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (p *fakePersister) MemberNames(roomId string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := map[string]struct{}{}
	var names []string
	for _, m := range p.members {
		if m.RoomId != roomId {
			continue
		}
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *fakePersister) CountMembers(roomId string) (int, error) {
	names, err := p.MemberNames(roomId)
	return len(names), err
}

func (p *fakePersister) AddJoinRequest(req *types.JoinRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextReq++
	req.Id = p.nextReq
	req.Status = types.JoinRequestPending
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	stored := *req
	p.requests[req.Id] = &stored
	return nil
}

func (p *fakePersister) GetJoinRequest(id uint) (*types.JoinRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (p *fakePersister) TakeJoinRequest(id uint) (*types.JoinRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	delete(p.requests, id)
	cp := *req
	return &cp, nil
}

func (p *fakePersister) DeleteJoinRequest(id uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.requests, id)
	return nil
}

func (p *fakePersister) DeleteJoinRequestsBefore(cutoff time.Time) ([]*types.JoinRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stale []*types.JoinRequest
	for id, req := range p.requests {
		if req.CreatedAt.Before(cutoff) {
			r := *req
			stale = append(stale, &r)
			delete(p.requests, id)
		}
	}
	return stale, nil
}

func (p *fakePersister) SaveMessage(msg *types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextMsg++
	msg.Id = p.nextMsg
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	stored := *msg
	p.messages[msg.RoomId] = append(p.messages[msg.RoomId], &stored)
	if room, ok := p.rooms[msg.RoomId]; ok {
		at := msg.CreatedAt
		room.LastMessageAt = &at
		room.LastMessageFrom = msg.Sender
		room.LastMessagePreview = types.PreviewOf(msg.Body)
	}
	return nil
}

func (p *fakePersister) GetMessages(roomId string, limit int) ([]*types.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.messages[roomId]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (p *fakePersister) messageCount(roomId string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[roomId])
}

func (p *fakePersister) pendingRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakePersister) AddDealEvent(ev *types.DealEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev.Id = int64(len(p.deals[ev.RoomId]) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	stored := *ev
	p.deals[ev.RoomId] = append(p.deals[ev.RoomId], &stored)
	return nil
}

func (p *fakePersister) GetDealEvents(roomId string, limit int) ([]*types.DealEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.deals[roomId]
	if len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	out := make([]*types.DealEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func (p *fakePersister) GetAgentTemplate(key string) (*types.AgentTemplate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tpl, ok := p.templates[key]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (p *fakePersister) StoreAgentTemplate(tpl types.AgentTemplate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[tpl.Template] = &tpl
	return nil
}

func (p *fakePersister) Close() error { return nil }
