package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/negohq/negochat/config"
	"github.com/negohq/negochat/types"
)

// BuntPersister is the embedded key/value backend. Records are stored as
// JSON values; secondary lookups (join code, invite token, room membership)
// go through buntdb JSON indexes.
//
// Key layout:
//
//	room:<roomId>
//	member:<connId>
//	joinreq:<id, zero padded>
//	message:<roomId>:<id, zero padded>
//	deal:<roomId>:<id, zero padded>
//	agenttpl:<template>
//	seq:<name>
type BuntPersister struct {
	db *buntdb.DB
}

// NewBuntPersister opens the database file and sets up the indexes.
func NewBuntPersister(cfg *config.Config) (*BuntPersister, error) {
	dsn := cfg.PersistenceConfig.DSN
	if dsn == "" {
		dsn = "negochat.buntdb"
	}
	db, err := buntdb.Open(dsn)
	if err != nil {
		return nil, err
	}
	indexes := []struct {
		name, pattern, path string
	}{
		{"roomcode", "room:*", "code"},
		{"roominvite", "room:*", "inviteToken"},
		{"membersroom", "member:*", "roomId"},
	}
	for _, idx := range indexes {
		err = db.CreateIndex(idx.name, idx.pattern, buntdb.IndexJSON(idx.path))
		if err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
			_ = db.Close()
			return nil, err
		}
	}
	return &BuntPersister{db: db}, nil
}

func buntErr(err error) error {
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func nextSeq(tx *buntdb.Tx, name string) (int64, error) {
	key := "seq:" + name
	n := int64(0)
	val, err := tx.Get(key)
	if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
		return 0, err
	}
	if err == nil {
		n, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, err
		}
	}
	n++
	_, _, err = tx.Set(key, strconv.FormatInt(n, 10), nil)
	return n, err
}

func padId(id int64) string {
	return fmt.Sprintf("%012d", id)
}

func setJSON(tx *buntdb.Tx, key string, val interface{}) error {
	ba, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(ba), nil)
	return err
}

func (p *BuntPersister) getRoomTx(tx *buntdb.Tx, id string) (*types.Room, error) {
	val, err := tx.Get("room:" + id)
	if err != nil {
		return nil, buntErr(err)
	}
	room := types.Room{}
	if err := json.Unmarshal([]byte(val), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (p *BuntPersister) codeTaken(tx *buntdb.Tx, code int) (bool, error) {
	taken := false
	err := tx.AscendEqual("roomcode", fmt.Sprintf(`{"code":%d}`, code), func(key, val string) bool {
		taken = true
		return false
	})
	return taken, err
}

func (p *BuntPersister) CreateRoom(room *types.Room) error {
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
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		taken, err := p.codeTaken(tx, room.Code)
		if err != nil {
			return err
		}
		if taken {
			room.Code = types.NewRoomCode()
			taken, err = p.codeTaken(tx, room.Code)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("could not allocate a unique room code")
			}
		}
		return setJSON(tx, "room:"+room.Id, room)
	})
}

func (p *BuntPersister) GetRoom(id string) (*types.Room, error) {
	var room *types.Room
	err := p.db.View(func(tx *buntdb.Tx) error {
		r, err := p.getRoomTx(tx, id)
		room = r
		return err
	})
	return room, err
}

func (p *BuntPersister) findRoom(index, pivot string) (*types.Room, error) {
	var room *types.Room
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendEqual(index, pivot, func(key, val string) bool {
			r := types.Room{}
			if innerErr = json.Unmarshal([]byte(val), &r); innerErr == nil {
				room = &r
			}
			return false
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrNotFound
	}
	return room, nil
}

func (p *BuntPersister) GetRoomByCode(code int) (*types.Room, error) {
	return p.findRoom("roomcode", fmt.Sprintf(`{"code":%d}`, code))
}

func (p *BuntPersister) GetRoomByInviteToken(token string) (*types.Room, error) {
	ba, err := json.Marshal(map[string]string{"inviteToken": token})
	if err != nil {
		return nil, err
	}
	return p.findRoom("roominvite", string(ba))
}

func (p *BuntPersister) GetRooms() ([]*types.Room, error) {
	var rooms []*types.Room
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys("room:*", func(key, val string) bool {
			r := types.Room{}
			if innerErr = json.Unmarshal([]byte(val), &r); innerErr != nil {
				return false
			}
			rooms = append(rooms, &r)
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

func (p *BuntPersister) StoreRoom(room types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, "room:"+room.Id, room)
	})
}

func (p *BuntPersister) RotateInviteToken(roomId string) (string, error) {
	token := types.NewInviteToken()
	err := p.db.Update(func(tx *buntdb.Tx) error {
		room, err := p.getRoomTx(tx, roomId)
		if err != nil {
			return err
		}
		room.InviteToken = token
		return setJSON(tx, "room:"+room.Id, room)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (p *BuntPersister) EnsureRoomCreator(roomId, name string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		room, err := p.getRoomTx(tx, roomId)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if room.CreatedBy != "" {
			return nil
		}
		room.CreatedBy = name
		return setJSON(tx, "room:"+room.Id, room)
	})
}

func (p *BuntPersister) AddMember(member types.Member) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, "member:"+member.ConnId, member)
	})
}

func (p *BuntPersister) RemoveMemberByConn(connId string) (*types.Member, error) {
	var member *types.Member
	err := p.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get("member:" + connId)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		m := types.Member{}
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return err
		}
		if _, err := tx.Delete("member:" + connId); err != nil {
			return err
		}
		member = &m
		return nil
	})
	return member, err
}

func (p *BuntPersister) roomMembersTx(tx *buntdb.Tx, roomId string) ([]types.Member, error) {
	ba, err := json.Marshal(map[string]string{"roomId": roomId})
	if err != nil {
		return nil, err
	}
	var members []types.Member
	var innerErr error
	err = tx.AscendEqual("membersroom", string(ba), func(key, val string) bool {
		m := types.Member{}
		if innerErr = json.Unmarshal([]byte(val), &m); innerErr != nil {
			return false
		}
		members = append(members, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	if innerErr != nil {
		return nil, innerErr
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

func (p *BuntPersister) RemoveMemberByName(roomId, name string) (*types.Member, error) {
	var member *types.Member
	err := p.db.Update(func(tx *buntdb.Tx) error {
		members, err := p.roomMembersTx(tx, roomId)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.Name == name {
				found := m
				member = &found
				break
			}
		}
		if member == nil {
			return ErrNotFound
		}
		_, err = tx.Delete("member:" + member.ConnId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (p *BuntPersister) MemberByConn(connId string) (*types.Member, error) {
	var member *types.Member
	err := p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get("member:" + connId)
		if err != nil {
			return buntErr(err)
		}
		m := types.Member{}
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return err
		}
		member = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (p *BuntPersister) MemberByName(roomId, name string) (*types.Member, error) {
	var member *types.Member
	err := p.db.View(func(tx *buntdb.Tx) error {
		members, err := p.roomMembersTx(tx, roomId)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.Name == name {
				found := m
				member = &found
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (p *BuntPersister) MemberNames(roomId string) ([]string, error) {
	var names []string
	err := p.db.View(func(tx *buntdb.Tx) error {
		members, err := p.roomMembersTx(tx, roomId)
		if err != nil {
			return err
		}
		seen := map[string]struct{}{}
		for _, m := range members {
			if _, ok := seen[m.Name]; ok {
				continue
			}
			seen[m.Name] = struct{}{}
			names = append(names, m.Name)
		}
		return nil
	})
	return names, err
}

func (p *BuntPersister) CountMembers(roomId string) (int, error) {
	names, err := p.MemberNames(roomId)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (p *BuntPersister) AddJoinRequest(req *types.JoinRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.Status == "" {
		req.Status = types.JoinRequestPending
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		seq, err := nextSeq(tx, "joinreq")
		if err != nil {
			return err
		}
		req.Id = uint(seq)
		return setJSON(tx, "joinreq:"+padId(seq), req)
	})
}

func (p *BuntPersister) GetJoinRequest(id uint) (*types.JoinRequest, error) {
	var req *types.JoinRequest
	err := p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get("joinreq:" + padId(int64(id)))
		if err != nil {
			return buntErr(err)
		}
		r := types.JoinRequest{}
		if err := json.Unmarshal([]byte(val), &r); err != nil {
			return err
		}
		req = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (p *BuntPersister) TakeJoinRequest(id uint) (*types.JoinRequest, error) {
	var req *types.JoinRequest
	err := p.db.Update(func(tx *buntdb.Tx) error {
		key := "joinreq:" + padId(int64(id))
		val, err := tx.Get(key)
		if err != nil {
			return buntErr(err)
		}
		r := types.JoinRequest{}
		if err := json.Unmarshal([]byte(val), &r); err != nil {
			return err
		}
		if _, err := tx.Delete(key); err != nil {
			return buntErr(err)
		}
		req = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (p *BuntPersister) DeleteJoinRequest(id uint) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("joinreq:" + padId(int64(id)))
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (p *BuntPersister) DeleteJoinRequestsBefore(cutoff time.Time) ([]*types.JoinRequest, error) {
	var stale []*types.JoinRequest
	err := p.db.Update(func(tx *buntdb.Tx) error {
		var staleKeys []string
		var innerErr error
		err := tx.AscendKeys("joinreq:*", func(key, val string) bool {
			r := types.JoinRequest{}
			if innerErr = json.Unmarshal([]byte(val), &r); innerErr != nil {
				return false
			}
			if r.CreatedAt.Before(cutoff) {
				staleKeys = append(staleKeys, key)
				stale = append(stale, &r)
			}
			return true
		})
		if err != nil {
			return err
		}
		if innerErr != nil {
			return innerErr
		}
		for _, key := range staleKeys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

func (p *BuntPersister) SaveMessage(msg *types.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		seq, err := nextSeq(tx, "message")
		if err != nil {
			return err
		}
		msg.Id = seq
		if err := setJSON(tx, "message:"+msg.RoomId+":"+padId(seq), msg); err != nil {
			return err
		}
		room, err := p.getRoomTx(tx, msg.RoomId)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		at := msg.CreatedAt
		room.LastMessageAt = &at
		room.LastMessageFrom = msg.Sender
		room.LastMessagePreview = types.PreviewOf(msg.Body)
		return setJSON(tx, "room:"+room.Id, room)
	})
}

func (p *BuntPersister) GetMessages(roomId string, limit int) ([]*types.Message, error) {
	var msgs []*types.Message
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.DescendKeys("message:"+roomId+":*", func(key, val string) bool {
			m := types.Message{}
			if innerErr = json.Unmarshal([]byte(val), &m); innerErr != nil {
				return false
			}
			msgs = append(msgs, &m)
			return len(msgs) < limit
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (p *BuntPersister) AddDealEvent(ev *types.DealEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		seq, err := nextSeq(tx, "deal")
		if err != nil {
			return err
		}
		ev.Id = seq
		return setJSON(tx, "deal:"+ev.RoomId+":"+padId(seq), ev)
	})
}

func (p *BuntPersister) GetDealEvents(roomId string, limit int) ([]*types.DealEvent, error) {
	var evs []*types.DealEvent
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.DescendKeys("deal:"+roomId+":*", func(key, val string) bool {
			ev := types.DealEvent{}
			if innerErr = json.Unmarshal([]byte(val), &ev); innerErr != nil {
				return false
			}
			evs = append(evs, &ev)
			return len(evs) < limit
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	return evs, nil
}

func (p *BuntPersister) GetAgentTemplate(key string) (*types.AgentTemplate, error) {
	var tpl *types.AgentTemplate
	err := p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get("agenttpl:" + key)
		if err != nil {
			return buntErr(err)
		}
		t := types.AgentTemplate{}
		if err := json.Unmarshal([]byte(val), &t); err != nil {
			return err
		}
		tpl = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

func (p *BuntPersister) StoreAgentTemplate(tpl types.AgentTemplate) error {
	tpl.UpdatedAt = time.Now()
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, "agenttpl:"+tpl.Template, tpl)
	})
}

func (p *BuntPersister) Close() error {
	return p.db.Close()
}
