package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coinpilot/coinpilot/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresBotRepo struct {
	db *gorm.DB
}

func NewPostgresBotRepo(db *gorm.DB) *PostgresBotRepo {
	return &PostgresBotRepo{db: db}
}

// UpsertByName creates the bot or refreshes its metadata, keeping the id stable.
func (r *PostgresBotRepo) UpsertByName(ctx context.Context, bot *model.Bot) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "exchange", "asset_types", "updated_at"}),
	}).Create(bot).Error
	if err != nil {
		return fmt.Errorf("upsert bot %s: %w", bot.Name, err)
	}
	// ON CONFLICT does not always return the existing id through gorm.
	if bot.ID == 0 {
		var existing model.Bot
		if err := r.db.WithContext(ctx).Where("name = ?", bot.Name).Take(&existing).Error; err != nil {
			return notFound(err)
		}
		bot.ID = existing.ID
	}
	return nil
}

func (r *PostgresBotRepo) Get(ctx context.Context, id int64) (*model.Bot, error) {
	var bot model.Bot
	if err := r.db.WithContext(ctx).Take(&bot, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

func (r *PostgresBotRepo) List(ctx context.Context) ([]model.Bot, error) {
	var bots []model.Bot
	if err := r.db.WithContext(ctx).Order("id").Find(&bots).Error; err != nil {
		return nil, err
	}
	return bots, nil
}

type MemoryBotStore struct {
	mu     sync.RWMutex
	nextID int64
	bots   map[int64]model.Bot
}

func NewMemoryBotStore() *MemoryBotStore {
	return &MemoryBotStore{bots: make(map[int64]model.Bot)}
}

func (s *MemoryBotStore) UpsertByName(_ context.Context, bot *model.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, b := range s.bots {
		if b.Name == bot.Name {
			bot.ID = id
			bot.CreatedAt = b.CreatedAt
			bot.UpdatedAt = now
			s.bots[id] = *bot
			return nil
		}
	}
	s.nextID++
	bot.ID = s.nextID
	bot.CreatedAt, bot.UpdatedAt = now, now
	s.bots[bot.ID] = *bot
	return nil
}

func (s *MemoryBotStore) Get(_ context.Context, id int64) (*model.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryBotStore) List(_ context.Context) ([]model.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
