package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negohq/negochat/config"
	"github.com/negohq/negochat/types"
)

func newTestPersister(t *testing.T) *GormPersister {
	t.Helper()
	cfg := &config.Config{}
	cfg.PersistenceConfig.DSN = filepath.Join(t.TempDir(), "test.db")
	p, err := NewGormPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func createTestRoom(t *testing.T, p Persister, maxUsers int, createdBy string) *types.Room {
	t.Helper()
	room := &types.Room{Name: "Test Room", MaxUsers: maxUsers, CreatedBy: createdBy}
	require.NoError(t, p.CreateRoom(room))
	return room
}

func TestCreateRoomGeneratesIdentifiers(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 2, "Ann")

	assert.NotEmpty(t, room.Id)
	assert.Len(t, room.InviteToken, 32)
	assert.GreaterOrEqual(t, room.Code, 100000)
	assert.Less(t, room.Code, 1000000)

	byCode, err := p.GetRoomByCode(room.Code)
	require.NoError(t, err)
	assert.Equal(t, room.Id, byCode.Id)

	byToken, err := p.GetRoomByInviteToken(room.InviteToken)
	require.NoError(t, err)
	assert.Equal(t, room.Id, byToken.Id)

	_, err = p.GetRoomByInviteToken("no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateInviteToken(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 2, "Ann")

	token, err := p.RotateInviteToken(room.Id)
	require.NoError(t, err)
	assert.NotEqual(t, room.InviteToken, token)

	_, err = p.GetRoomByInviteToken(room.InviteToken)
	assert.ErrorIs(t, err, ErrNotFound)
	found, err := p.GetRoomByInviteToken(token)
	require.NoError(t, err)
	assert.Equal(t, room.Id, found.Id)

	_, err = p.RotateInviteToken("no-such-room")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureRoomCreator(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 2, "")

	require.NoError(t, p.EnsureRoomCreator(room.Id, "Ann"))
	got, err := p.GetRoom(room.Id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.CreatedBy)

	// a second caller does not take over
	require.NoError(t, p.EnsureRoomCreator(room.Id, "Bob"))
	got, err = p.GetRoom(room.Id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.CreatedBy)
}

func TestMembershipIsPerConnection(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 4, "Ann")

	require.NoError(t, p.AddMember(types.Member{RoomId: room.Id, ConnId: "c1", Name: "Ann"}))
	require.NoError(t, p.AddMember(types.Member{RoomId: room.Id, ConnId: "c1", Name: "Ann"}))
	require.NoError(t, p.AddMember(types.Member{RoomId: room.Id, ConnId: "c2", Name: "Ann"}))
	require.NoError(t, p.AddMember(types.Member{RoomId: room.Id, ConnId: "c3", Name: "Bob"}))

	// the same name on two connections counts once
	count, err := p.CountMembers(room.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	names, err := p.MemberNames(room.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, names)

	// re-adding a connection in another room moves it
	room2 := createTestRoom(t, p, 4, "Ann")
	require.NoError(t, p.AddMember(types.Member{RoomId: room2.Id, ConnId: "c3", Name: "Bob"}))
	count, err = p.CountMembers(room.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := p.RemoveMemberByConn("c2")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "Ann", removed.Name)

	removed, err = p.RemoveMemberByConn("c2")
	require.NoError(t, err)
	assert.Nil(t, removed)

	byName, err := p.RemoveMemberByName(room2.Id, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "c3", byName.ConnId)
	_, err = p.RemoveMemberByName(room2.Id, "Bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTakeJoinRequestConsumesOnce(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 2, "Ann")

	req := &types.JoinRequest{RoomId: room.Id, RequesterName: "Bob", RequesterConn: "c9"}
	require.NoError(t, p.AddJoinRequest(req))
	require.NotZero(t, req.Id)
	assert.Equal(t, types.JoinRequestPending, req.Status)

	got, err := p.GetJoinRequest(req.Id)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.RequesterName)

	taken, err := p.TakeJoinRequest(req.Id)
	require.NoError(t, err)
	assert.Equal(t, "c9", taken.RequesterConn)

	_, err = p.TakeJoinRequest(req.Id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.GetJoinRequest(req.Id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteJoinRequestsBefore(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 2, "Ann")

	old := &types.JoinRequest{RoomId: room.Id, RequesterName: "Bob", RequesterConn: "c1", CreatedAt: time.Now().Add(-time.Hour)}
	fresh := &types.JoinRequest{RoomId: room.Id, RequesterName: "Cid", RequesterConn: "c2"}
	require.NoError(t, p.AddJoinRequest(old))
	require.NoError(t, p.AddJoinRequest(fresh))

	stale, err := p.DeleteJoinRequestsBefore(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "Bob", stale[0].RequesterName)

	_, err = p.GetJoinRequest(old.Id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.GetJoinRequest(fresh.Id)
	assert.NoError(t, err)
}

func TestSaveMessageUpdatesRoomCache(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 2, "Ann")

	for _, text := range []string{"first", "second", "third"} {
		msg := &types.Message{RoomId: room.Id, Sender: "Ann", Body: text}
		require.NoError(t, p.SaveMessage(msg))
		require.NotZero(t, msg.Id)
	}

	msgs, err := p.GetMessages(room.Id, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// most recent messages, ascending
	assert.Equal(t, "second", msgs[0].Body)
	assert.Equal(t, "third", msgs[1].Body)
	assert.Less(t, msgs[0].Id, msgs[1].Id)

	got, err := p.GetRoom(room.Id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.LastMessageFrom)
	assert.Equal(t, "third", got.LastMessagePreview)
	require.NotNil(t, got.LastMessageAt)
}

func TestDealEventsAppendInOrder(t *testing.T) {
	p := newTestPersister(t)
	room := createTestRoom(t, p, 2, "Ann")

	old := "90"
	require.NoError(t, p.AddDealEvent(&types.DealEvent{RoomId: room.Id, Actor: "Ann", Field: "price", NewValue: "90"}))
	require.NoError(t, p.AddDealEvent(&types.DealEvent{RoomId: room.Id, Actor: "Bob", Field: "price", OldValue: &old, NewValue: "85"}))

	evs, err := p.GetDealEvents(room.Id, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "90", evs[0].NewValue)
	assert.Nil(t, evs[0].OldValue)
	assert.Equal(t, "85", evs[1].NewValue)
	require.NotNil(t, evs[1].OldValue)
	assert.Equal(t, "90", *evs[1].OldValue)
}

func TestAgentTemplateUpsert(t *testing.T) {
	p := newTestPersister(t)

	tpl := types.AgentTemplate{Template: "sales-engineer", Product: "Widget", Instructions: "Be brief."}
	require.NoError(t, p.StoreAgentTemplate(tpl))

	tpl.Product = "Widget Pro"
	require.NoError(t, p.StoreAgentTemplate(tpl))

	got, err := p.GetAgentTemplate("sales-engineer")
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", got.Product)

	_, err = p.GetAgentTemplate("no-such-template")
	assert.ErrorIs(t, err, ErrNotFound)
}
