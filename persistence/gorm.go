package persistence

import (
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/negohq/negochat/config"
	"github.com/negohq/negochat/types"
)

// GormPersister stores everything in a relational database. The DSN decides
// the dialect: postgres URLs and key/value DSNs go to the postgres driver,
// everything else is treated as an sqlite file path.
type GormPersister struct {
	db *gorm.DB
}

// NewGormPersister opens the database and migrates the schema.
func NewGormPersister(cfg *config.Config) (*GormPersister, error) {
	dsn := cfg.PersistenceConfig.DSN
	if dsn == "" {
		dsn = "negochat.db"
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	err = db.AutoMigrate(&types.Room{}, &types.Member{}, &types.JoinRequest{}, &types.Message{}, &types.DealEvent{}, &types.AgentTemplate{})
	if err != nil {
		return nil, err
	}
	return &GormPersister{db: db}, nil
}

func gormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersister) CreateRoom(room *types.Room) error {
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
	err := p.db.Create(room).Error
	if err != nil {
		// join codes are short and can collide, retry with a fresh one
		room.Code = types.NewRoomCode()
		err = p.db.Create(room).Error
	}
	return err
}

func (p *GormPersister) GetRoom(id string) (*types.Room, error) {
	room := types.Room{}
	if err := p.db.First(&room, "id = ?", id).Error; err != nil {
		return nil, gormErr(err)
	}
	return &room, nil
}

func (p *GormPersister) GetRoomByCode(code int) (*types.Room, error) {
	room := types.Room{}
	if err := p.db.First(&room, "code = ?", code).Error; err != nil {
		return nil, gormErr(err)
	}
	return &room, nil
}

func (p *GormPersister) GetRoomByInviteToken(token string) (*types.Room, error) {
	room := types.Room{}
	if err := p.db.First(&room, "invite_token = ?", token).Error; err != nil {
		return nil, gormErr(err)
	}
	return &room, nil
}

func (p *GormPersister) GetRooms() ([]*types.Room, error) {
	var rooms []*types.Room
	if err := p.db.Order("created_at asc").Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (p *GormPersister) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&room).Error
}

func (p *GormPersister) RotateInviteToken(roomId string) (string, error) {
	token := types.NewInviteToken()
	res := p.db.Model(&types.Room{}).Where("id = ?", roomId).Update("invite_token", token)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	return token, nil
}

func (p *GormPersister) EnsureRoomCreator(roomId, name string) error {
	return p.db.Model(&types.Room{}).
		Where("id = ? AND (created_by IS NULL OR created_by = '')", roomId).
		Update("created_by", name).Error
}

func (p *GormPersister) AddMember(member types.Member) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conn_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"room_id", "name", "joined_at"}),
	}).Create(&member).Error
}

func (p *GormPersister) RemoveMemberByConn(connId string) (*types.Member, error) {
	member := types.Member{}
	err := p.db.First(&member, "conn_id = ?", connId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := p.db.Delete(&types.Member{}, member.Id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (p *GormPersister) RemoveMemberByName(roomId, name string) (*types.Member, error) {
	member := types.Member{}
	err := p.db.Order("joined_at asc").First(&member, "room_id = ? AND name = ?", roomId, name).Error
	if err != nil {
		return nil, gormErr(err)
	}
	if err := p.db.Delete(&types.Member{}, member.Id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (p *GormPersister) MemberByConn(connId string) (*types.Member, error) {
	member := types.Member{}
	if err := p.db.First(&member, "conn_id = ?", connId).Error; err != nil {
		return nil, gormErr(err)
	}
	return &member, nil
}

func (p *GormPersister) MemberByName(roomId, name string) (*types.Member, error) {
	member := types.Member{}
	err := p.db.Order("joined_at asc").First(&member, "room_id = ? AND name = ?", roomId, name).Error
	if err != nil {
		return nil, gormErr(err)
	}
	return &member, nil
}

func (p *GormPersister) MemberNames(roomId string) ([]string, error) {
	var members []types.Member
	err := p.db.Order("joined_at asc, id asc").Find(&members, "room_id = ?", roomId).Error
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	names := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *GormPersister) CountMembers(roomId string) (int, error) {
	names, err := p.MemberNames(roomId)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (p *GormPersister) AddJoinRequest(req *types.JoinRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.Status == "" {
		req.Status = types.JoinRequestPending
	}
	return p.db.Create(req).Error
}

func (p *GormPersister) GetJoinRequest(id uint) (*types.JoinRequest, error) {
	req := types.JoinRequest{}
	if err := p.db.First(&req, "id = ?", id).Error; err != nil {
		return nil, gormErr(err)
	}
	return &req, nil
}

func (p *GormPersister) TakeJoinRequest(id uint) (*types.JoinRequest, error) {
	req := types.JoinRequest{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, "id = ?", id).Error; err != nil {
			return gormErr(err)
		}
		res := tx.Delete(&types.JoinRequest{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (p *GormPersister) DeleteJoinRequest(id uint) error {
	return p.db.Delete(&types.JoinRequest{}, id).Error
}

func (p *GormPersister) DeleteJoinRequestsBefore(cutoff time.Time) ([]*types.JoinRequest, error) {
	var stale []*types.JoinRequest
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("created_at < ?", cutoff).Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		return tx.Where("created_at < ?", cutoff).Delete(&types.JoinRequest{}).Error
	})
	return stale, err
}

func (p *GormPersister) SaveMessage(msg *types.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&types.Room{}).Where("id = ?", msg.RoomId).Updates(map[string]interface{}{
			"last_message_at":      msg.CreatedAt,
			"last_message_from":    msg.Sender,
			"last_message_preview": types.PreviewOf(msg.Body),
		}).Error
	})
}

func (p *GormPersister) GetMessages(roomId string, limit int) ([]*types.Message, error) {
	var msgs []*types.Message
	err := p.db.Where("room_id = ?", roomId).Order("id desc").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (p *GormPersister) AddDealEvent(ev *types.DealEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return p.db.Create(ev).Error
}

func (p *GormPersister) GetDealEvents(roomId string, limit int) ([]*types.DealEvent, error) {
	var evs []*types.DealEvent
	err := p.db.Where("room_id = ?", roomId).Order("id desc").Limit(limit).Find(&evs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	return evs, nil
}

func (p *GormPersister) GetAgentTemplate(key string) (*types.AgentTemplate, error) {
	tpl := types.AgentTemplate{}
	if err := p.db.First(&tpl, "template = ?", key).Error; err != nil {
		return nil, gormErr(err)
	}
	return &tpl, nil
}

func (p *GormPersister) StoreAgentTemplate(tpl types.AgentTemplate) error {
	tpl.UpdatedAt = time.Now()
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "template"}},
		UpdateAll: true,
	}).Create(&tpl).Error
}

func (p *GormPersister) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
