package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/folkengine/goname"
	"github.com/mitchellh/mapstructure"

	"github.com/negohq/negochat/agent"
	"github.com/negohq/negochat/globals"
	"github.com/negohq/negochat/persistence"
	"github.com/negohq/negochat/types"
)

func decodeData(data json.RawMessage, out interface{}) error {
	raw := map[string]interface{}{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	return mapstructure.WeakDecode(raw, out)
}

// Dispatch routes one inbound frame to its handler. A returned error is the
// user-facing failure for this operation.
func (h *Hub) Dispatch(c *Client, m types.WebsocketMessage) error {
	switch m.Event {
	case types.EventSetUsername:
		d := types.SetUsernameData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		h.SetUsername(c, d)
		return nil
	case types.EventJoinRoom:
		d := types.JoinRoomData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		return h.JoinRoom(c, d)
	case types.EventRequestJoinRoom:
		d := types.RequestJoinData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		return h.RequestJoin(c, d)
	case types.EventJoinRequestAccept:
		d := types.RequestActionData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		return h.AcceptJoinRequest(c, d)
	case types.EventJoinRequestDecline:
		d := types.RequestActionData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		return h.DeclineJoinRequest(c, d)
	case types.EventRemoveMember:
		d := types.RemoveMemberData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		return h.RemoveMember(c, d)
	case types.EventUpdateDealTerm:
		d := types.DealTermUpdateData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		return h.UpdateDealTerm(c, d)
	case types.EventSendMessage:
		d := types.SendMessageData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		return h.SendMessage(c, d)
	case types.EventTyping:
		d := types.TypingData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		h.Typing(c, d, types.EventUserTyping)
		return nil
	case types.EventStopTyping:
		d := types.TypingData{}
		if err := decodeData(m.Data, &d); err != nil {
			return err
		}
		h.Typing(c, d, types.EventUserStopTyping)
		return nil
	}
	globals.AppLogger.Debug("unknown event", "event", m.Event)
	return nil
}

// SetUsername registers a display name for a connection that has not joined
// any room, so it can already receive join request notifications.
func (h *Hub) SetUsername(c *Client, d types.SetUsernameData) {
	name := strings.TrimSpace(d.DisplayName)
	if name == "" {
		return
	}
	h.Registry.RegisterName(c.Id, name)
}

func guestName() string {
	return goname.New(goname.FantasyMap).FirstLast() + " (guest)"
}

func wireHistory(msgs []*types.Message) []types.WireMessage {
	out := make([]types.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, types.Reconstruct(m))
	}
	return out
}

// JoinRoom is the direct admission path. Checks run in a fixed order: room
// existence, capacity, then idempotence, so joining a full room fails even
// for a connection that is already a member. The whole admission holds
// emitMu, so two concurrent joins cannot both pass the capacity check.
func (h *Hub) JoinRoom(c *Client, d types.JoinRoomData) error {
	name := strings.TrimSpace(d.DisplayName)
	if name == "" {
		name = guestName()
	}
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	room, err := h.Persister.GetRoom(d.RoomId)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	count, err := h.Persister.CountMembers(room.Id)
	if err != nil {
		return err
	}
	if count >= room.MaxUsers {
		return ErrRoomFull
	}
	existing, err := h.Persister.MemberByConn(c.Id)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	already := existing != nil && existing.RoomId == room.Id
	if existing != nil && existing.RoomId != room.Id {
		// the connection moves rooms, leave the old one first
		if _, err := h.Persister.RemoveMemberByConn(c.Id); err != nil {
			return err
		}
		h.leaveGroup(existing.RoomId, c.Id)
		h.broadcastRoom(existing.RoomId, types.EventUserLeft, types.UserEventData{DisplayName: existing.Name}, "")
		h.roomUpdate(existing.RoomId)
	}
	if already {
		name = existing.Name
	} else {
		member := types.Member{RoomId: room.Id, ConnId: c.Id, Name: name, JoinedAt: time.Now()}
		if err := h.Persister.AddMember(member); err != nil {
			return err
		}
		if room.CreatedBy == "" {
			// a room without a creator adopts its first joiner
			if err := h.Persister.EnsureRoomCreator(room.Id, name); err != nil {
				globals.AppLogger.Error("could not adopt room creator", "room", room.Id, "error", err)
			} else {
				room.CreatedBy = name
			}
		}
	}
	h.Registry.Bind(c.Id, room.Id, name)
	h.joinGroup(room.Id, c)
	if !already {
		h.broadcastRoom(room.Id, types.EventUserJoined, types.UserEventData{DisplayName: name}, c.Id)
	}
	msgs, err := h.Persister.GetMessages(room.Id, h.Cfg.HistorySize())
	if err != nil {
		globals.AppLogger.Error("could not read history", "room", room.Id, "error", err)
	}
	h.send(c, types.EventMessageHistory, wireHistory(msgs))
	h.roomUpdate(room.Id)
	return nil
}

// RequestJoin opens the invite handshake. The request is stored first and
// rolled back when no creator connection is reachable, so an unreachable
// creator leaves no pending state behind.
func (h *Hub) RequestJoin(c *Client, d types.RequestJoinData) error {
	name := strings.TrimSpace(d.DisplayName)
	token := strings.TrimSpace(d.InviteToken)
	if name == "" || token == "" {
		return ErrNameRequired
	}
	room, err := h.Persister.GetRoomByInviteToken(token)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrInvalidInvite
	}
	if err != nil {
		return err
	}
	count, err := h.Persister.CountMembers(room.Id)
	if err != nil {
		return err
	}
	if count >= room.MaxUsers {
		return ErrRoomFull
	}
	h.Registry.RegisterName(c.Id, name)
	req := &types.JoinRequest{RoomId: room.Id, RequesterName: name, RequesterConn: c.Id}
	if err := h.Persister.AddJoinRequest(req); err != nil {
		return err
	}
	notice := types.JoinRequestData{
		RequestId:     req.Id,
		RoomId:        room.Id,
		RoomName:      room.Name,
		RequesterName: name,
	}
	targets := map[string]struct{}{}
	if m, err := h.Persister.MemberByName(room.Id, room.CreatedBy); err == nil {
		targets[m.ConnId] = struct{}{}
	}
	for _, id := range h.Registry.LookupByName(room.CreatedBy) {
		targets[id] = struct{}{}
	}
	notified := false
	for id := range targets {
		if h.sendToConn(id, types.EventJoinRequest, notice) {
			notified = true
		}
	}
	if !notified {
		if err := h.Persister.DeleteJoinRequest(req.Id); err != nil {
			globals.AppLogger.Error("could not roll back join request", "request", req.Id, "error", err)
		}
		return ErrCreatorUnreachable
	}
	return nil
}

// isCreatorConn checks whether the acting connection is currently bound
// into a room under the creator's name. The creator is re-read at
// resolution time, so creator adoption after the request was filed is
// honored. Connections that only registered a name are notification
// targets and cannot resolve requests.
func (h *Hub) isCreatorConn(connId string, room *types.Room) bool {
	if room.CreatedBy == "" {
		return false
	}
	b, ok := h.Registry.Binding(connId)
	return ok && b.Name == room.CreatedBy
}

// AcceptJoinRequest resolves a pending invite request. Authorization is
// checked before the request is consumed, so a rejected accept leaves the
// request pending. Capacity is re-checked after consumption under emitMu;
// a full room turns the accept into a decline for the requester.
func (h *Hub) AcceptJoinRequest(c *Client, d types.RequestActionData) error {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	req, err := h.Persister.GetJoinRequest(d.RequestId)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	room, err := h.Persister.GetRoom(req.RoomId)
	if errors.Is(err, persistence.ErrNotFound) {
		if err := h.Persister.DeleteJoinRequest(req.Id); err != nil {
			globals.AppLogger.Error("could not delete orphaned join request", "request", req.Id, "error", err)
		}
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	if !h.isCreatorConn(c.Id, room) {
		return ErrNotAuthorized
	}
	req, err = h.Persister.TakeJoinRequest(d.RequestId)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	count, err := h.Persister.CountMembers(room.Id)
	if err != nil {
		return err
	}
	if count >= room.MaxUsers {
		h.sendToConn(req.RequesterConn, types.EventJoinDeclined, types.RoomNoticeData{RoomId: room.Id, RoomName: room.Name})
		return ErrRoomFull
	}
	member := types.Member{RoomId: room.Id, ConnId: req.RequesterConn, Name: req.RequesterName, JoinedAt: time.Now()}
	if err := h.Persister.AddMember(member); err != nil {
		return err
	}
	h.Registry.Bind(req.RequesterConn, room.Id, req.RequesterName)
	if rc := h.client(req.RequesterConn); rc != nil {
		h.joinGroup(room.Id, rc)
		msgs, err := h.Persister.GetMessages(room.Id, h.Cfg.HistorySize())
		if err != nil {
			globals.AppLogger.Error("could not read history", "room", room.Id, "error", err)
		}
		names, err := h.Persister.MemberNames(room.Id)
		if err != nil {
			globals.AppLogger.Error("could not read room members", "room", room.Id, "error", err)
		}
		h.send(rc, types.EventJoinApproved, types.JoinApprovedData{
			RoomId:      room.Id,
			RoomName:    room.Name,
			RoomCode:    room.Code,
			Description: room.Description,
			MaxUsers:    room.MaxUsers,
			CreatedBy:   room.CreatedBy,
			Messages:    wireHistory(msgs),
			Users:       names,
			UserCount:   len(names),
		})
	}
	h.broadcastRoom(room.Id, types.EventUserJoined, types.UserEventData{DisplayName: req.RequesterName}, req.RequesterConn)
	h.roomUpdate(room.Id)
	return nil
}

// DeclineJoinRequest resolves a pending request negatively. Declining a
// request that no longer exists is a silent no-op.
func (h *Hub) DeclineJoinRequest(c *Client, d types.RequestActionData) error {
	req, err := h.Persister.GetJoinRequest(d.RequestId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	room, err := h.Persister.GetRoom(req.RoomId)
	if errors.Is(err, persistence.ErrNotFound) {
		return h.Persister.DeleteJoinRequest(req.Id)
	}
	if err != nil {
		return err
	}
	if !h.isCreatorConn(c.Id, room) {
		return ErrNotAuthorized
	}
	req, err = h.Persister.TakeJoinRequest(d.RequestId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	h.sendToConn(req.RequesterConn, types.EventJoinDeclined, types.RoomNoticeData{RoomId: room.Id, RoomName: room.Name})
	return nil
}

// RemoveMember is the creator-only forced removal of a member by display
// name.
func (h *Hub) RemoveMember(c *Client, d types.RemoveMemberData) error {
	room, err := h.Persister.GetRoom(d.RoomId)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	binding, ok := h.Registry.Binding(c.Id)
	if !ok || binding.RoomId != room.Id || binding.Name != room.CreatedBy {
		return ErrNotAuthorized
	}
	target := strings.TrimSpace(d.TargetName)
	if target == binding.Name {
		return ErrSelfRemoval
	}
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	removed, err := h.Persister.RemoveMemberByName(room.Id, target)
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}
	h.Registry.Unbind(removed.ConnId)
	h.leaveGroup(room.Id, removed.ConnId)
	h.sendToConn(removed.ConnId, types.EventRemovedFromRoom, types.RoomNoticeData{RoomId: room.Id, RoomName: room.Name})
	h.broadcastRoom(room.Id, types.EventUserLeft, types.UserEventData{DisplayName: target}, c.Id)
	h.roomUpdate(room.Id)
	return nil
}

// UpdateDealTerm appends an audit entry for a negotiated-term change and
// fans out both the full record and the compact current-value event.
// Submissions without a binding in the named room are dropped.
func (h *Hub) UpdateDealTerm(c *Client, d types.DealTermUpdateData) error {
	binding, ok := h.Registry.Binding(c.Id)
	if !ok || binding.RoomId != d.RoomId {
		globals.AppLogger.Debug("deal term update without room binding", "connection", c.Id)
		return nil
	}
	room, err := h.Persister.GetRoom(d.RoomId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ev := &types.DealEvent{
		RoomId:   room.Id,
		Actor:    binding.Name,
		Field:    d.Field,
		OldValue: d.OldValue,
		NewValue: d.NewValue,
	}
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	if err := h.Persister.AddDealEvent(ev); err != nil {
		return err
	}
	h.broadcastRoom(room.Id, types.EventDealEvent, ev, "")
	h.broadcastRoom(room.Id, types.EventDealTermUpdated, types.DealTermUpdatedData{Field: d.Field, NewValue: d.NewValue}, "")
	return nil
}

func envelopeFromSubmission(d types.SendMessageData) types.Envelope {
	if d.Type == types.KindLocation && d.Location != nil {
		return types.Envelope{Kind: types.KindLocation, Text: d.Message, Location: d.Location}
	}
	if d.Type == types.KindAnnouncement {
		return types.Envelope{Kind: types.KindAnnouncement, Text: d.Message}
	}
	env := types.Envelope{Kind: d.Type, Text: d.Message}
	if d.Payload == nil {
		return types.Envelope{Kind: types.KindText, Text: d.Message}
	}
	var err error
	switch d.Type {
	case types.KindDealTerms:
		dt := types.DealTerms{}
		if err = mapstructure.WeakDecode(d.Payload, &dt); err == nil {
			env.DealTerms = &dt
		}
	case types.KindDocument:
		doc := types.Document{}
		if err = mapstructure.WeakDecode(d.Payload, &doc); err == nil {
			env.Document = &doc
		}
	case types.KindRedline:
		rl := types.Redline{}
		if err = mapstructure.WeakDecode(d.Payload, &rl); err == nil {
			env.Redline = &rl
		}
	case types.KindSignature:
		sig := types.Signature{}
		if err = mapstructure.WeakDecode(d.Payload, &sig); err == nil {
			env.Signature = &sig
		}
	case types.KindPaymentRequest:
		pr := types.PaymentRequest{}
		if err = mapstructure.WeakDecode(d.Payload, &pr); err == nil {
			env.Payment = &pr
		}
	default:
		return types.Envelope{Kind: types.KindText, Text: d.Message}
	}
	if err != nil {
		globals.AppLogger.Warn("could not decode message payload", "type", d.Type, "error", err)
		return types.Envelope{Kind: types.KindText, Text: d.Message}
	}
	return env
}

// SendMessage accepts a chat submission from a bound connection. Unbound
// submissions are dropped without an error event.
func (h *Hub) SendMessage(c *Client, d types.SendMessageData) error {
	binding, ok := h.Registry.Binding(c.Id)
	if !ok {
		globals.AppLogger.Debug("message without room binding", "connection", c.Id)
		return nil
	}
	room, err := h.Persister.GetRoom(binding.RoomId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return h.publish(room, binding.Name, d)
}

// publish is the pipeline core shared by user submissions and agent
// replies: encode, persist, reconstruct, fan out, maybe trigger an agent.
// It holds emitMu across the persist and fanout steps, so recipients see
// messages in id order even when pipelines run from concurrent read loops.
func (h *Hub) publish(room *types.Room, sender string, d types.SendMessageData) error {
	env := envelopeFromSubmission(d)
	body, err := env.EncodeBody()
	if err != nil {
		return err
	}
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	msg := &types.Message{RoomId: room.Id, Sender: sender, Body: body, ReplyTo: d.ReplyTo}
	if err := h.Persister.SaveMessage(msg); err != nil {
		return err
	}
	wm := types.Reconstruct(msg)
	wm.ClientId = d.ClientId
	h.broadcastMessage(room, wm, d.Filter)
	h.maybeAgentReply(room, sender, env)
	return nil
}

// maybeAgentReply triggers the auto-reply when a human posts plain text in
// a room assigned to an agent persona. The sender check breaks the loop
// when the agent's own reply re-enters the pipeline.
func (h *Hub) maybeAgentReply(room *types.Room, sender string, env types.Envelope) {
	if h.Generator == nil {
		return
	}
	if env.Kind != types.KindText {
		return
	}
	if !types.IsAgentTemplate(room.AssignedTo) {
		return
	}
	if sender == types.AgentDisplayName(room.AssignedTo) || types.IsAgentName(sender) {
		return
	}
	go h.agentReply(room.Id)
}

func (h *Hub) agentReply(roomId string) {
	room, err := h.Persister.GetRoom(roomId)
	if err != nil {
		globals.AppLogger.Warn("agent reply skipped, room gone", "room", roomId, "error", err)
		return
	}
	tpl, err := h.Persister.GetAgentTemplate(room.AssignedTo)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		globals.AppLogger.Warn("could not load agent template", "template", room.AssignedTo, "error", err)
	}
	msgs, err := h.Persister.GetMessages(room.Id, h.Cfg.HistorySize())
	if err != nil {
		globals.AppLogger.Warn("could not load history for agent", "room", room.Id, "error", err)
	}
	history := make([]agent.Utterance, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, agent.Utterance{Sender: m.Sender, Text: types.DecodeBody(m.Body).Text})
	}
	req := agent.ReplyRequest{
		RoomId:   room.Id,
		RoomName: room.Name,
		Template: room.AssignedTo,
		Prompt:   agent.BuildPrompt(tpl, room.Name, history),
		History:  history,
	}
	if tpl != nil {
		req.Product = tpl.Product
	}
	type result struct {
		reply string
		err   error
	}
	resChan := make(chan result, 1)
	go func() {
		reply, err := h.Generator.Generate(req)
		resChan <- result{reply: reply, err: err}
	}()
	select {
	case res := <-resChan:
		if res.err != nil {
			globals.AppLogger.Warn("agent generation failed", "room", room.Id, "error", res.err)
			return
		}
		reply := strings.TrimSpace(res.reply)
		if reply == "" {
			return
		}
		submission := types.SendMessageData{Message: reply, Type: types.KindText}
		if err := h.publish(room, types.AgentDisplayName(room.AssignedTo), submission); err != nil {
			globals.AppLogger.Warn("could not publish agent reply", "room", room.Id, "error", err)
		}
	case <-time.After(h.Cfg.AgentTimeout()):
		globals.AppLogger.Warn("agent generation timed out", "room", room.Id)
	}
}

// Typing relays typing indicators to the rest of the room without storing
// anything.
func (h *Hub) Typing(c *Client, d types.TypingData, outEvent string) {
	roomId := d.RoomId
	name := d.DisplayName
	if binding, ok := h.Registry.Binding(c.Id); ok {
		if roomId == "" {
			roomId = binding.RoomId
		}
		if name == "" {
			name = binding.Name
		}
	}
	if roomId == "" || name == "" {
		return
	}
	h.broadcastRoom(roomId, outEvent, types.UserEventData{DisplayName: name}, c.Id)
}

// Disconnect tears down all state of a closed connection: name index first,
// then the durable membership with its announcements, the room binding
// last.
func (h *Hub) Disconnect(c *Client) {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	h.Registry.DropNames(c.Id)
	removed, err := h.Persister.RemoveMemberByConn(c.Id)
	if err != nil {
		globals.AppLogger.Error("could not remove membership", "connection", c.Id, "error", err)
	}
	if !h.detach(c) {
		return
	}
	if removed != nil {
		h.broadcastRoom(removed.RoomId, types.EventUserLeft, types.UserEventData{DisplayName: removed.Name}, "")
		h.roomUpdate(removed.RoomId)
	}
	h.Registry.Unbind(c.Id)
}
