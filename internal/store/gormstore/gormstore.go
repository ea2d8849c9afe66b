// Package gormstore implements the Gateway on PostgreSQL through gorm.
package gormstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/model"
	"github.com/nzlov/relay/internal/store"
)

type Store struct {
	db *gorm.DB
}

var _ store.Gateway = (*Store)(nil)

// Open connects to PostgreSQL and migrates the message and notification
// tables. The users table belongs to the platform and is only read.
func Open(dsn string, logSQL bool) (*Store, error) {
	loglevel := logger.Error
	if logSQL {
		loglevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		CreateBatchSize: 10,
		Logger: logger.New(zap.NewStdLog(zap.L()), logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      loglevel,
		}),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(new(model.Message), new(model.Notification)); err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already configured gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func messageScope(f store.MessageFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if a, b := f.Between[0], f.Between[1]; a != "" && b != "" {
			q = q.Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))", a, b, b, a)
		}
		if f.Participant != "" {
			q = q.Where("(sender_id = ? OR receiver_id = ?)", f.Participant, f.Participant)
		}
		if f.SenderID != "" {
			q = q.Where("sender_id = ?", f.SenderID)
		}
		if f.ReceiverID != "" {
			q = q.Where("receiver_id = ?", f.ReceiverID)
		}
		if f.ExcludeParty != "" {
			q = q.Where("sender_id <> ? AND receiver_id <> ?", f.ExcludeParty, f.ExcludeParty)
		}
		if f.UnreadOnly {
			q = q.Where("is_read = ?", false)
		}
		return q
	}
}

func notificationScope(f store.NotificationFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if len(f.Owners) > 0 {
			q = q.Where("user_id IN ?", f.Owners)
		}
		if len(f.IDs) > 0 {
			q = q.Where("id IN ?", f.IDs)
		}
		if f.UnreadOnly {
			q = q.Where("is_read = ?", false)
		}
		return q
	}
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) ListMessages(ctx context.Context, f store.MessageFilter) ([]model.Message, error) {
	ms := []model.Message{}
	q := s.db.WithContext(ctx).Scopes(messageScope(f))
	if f.Limit <= 0 {
		err := q.Order("timestamp asc").Find(&ms).Error
		return ms, err
	}
	if err := q.Order("timestamp desc").Limit(f.Limit).Find(&ms).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
	return ms, nil
}

func (s *Store) CountMessages(ctx context.Context, f store.MessageFilter) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(new(model.Message)).Scopes(messageScope(f)).Count(&n).Error
	return n, err
}

func (s *Store) MarkMessagesRead(ctx context.Context, f store.MessageFilter) (int64, error) {
	f.UnreadOnly = true
	res := s.db.WithContext(ctx).Model(new(model.Message)).Scopes(messageScope(f)).Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *Store) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]model.Notification, error) {
	ns := []model.Notification{}
	q := s.db.WithContext(ctx).Scopes(notificationScope(f)).Order("created_at desc")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	err := q.Find(&ns).Error
	return ns, err
}

func (s *Store) CountNotifications(ctx context.Context, f store.NotificationFilter) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(new(model.Notification)).Scopes(notificationScope(f)).Count(&n).Error
	return n, err
}

func (s *Store) MarkNotificationsRead(ctx context.Context, f store.NotificationFilter) ([]identity.UserID, error) {
	f.UnreadOnly = true
	var owners []identity.UserID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(new(model.Notification)).Scopes(notificationScope(f)).
			Distinct("user_id").Pluck("user_id", &owners).Error; err != nil {
			return err
		}
		if len(owners) == 0 {
			return nil
		}
		return tx.Model(new(model.Notification)).Scopes(notificationScope(f)).Update("is_read", true).Error
	})
	return owners, err
}

func (s *Store) Profiles(ctx context.Context, ids []identity.UserID) (map[identity.UserID]store.Profile, error) {
	out := make(map[identity.UserID]store.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users := []model.User{}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return out, err
	}
	for _, u := range users {
		out[u.ID] = store.Profile{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
