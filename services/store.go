// services/store.go
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/devvspaces/zk-chess-clash/models"
)

// GormGameStore is the Postgres-backed GameStore. All mutations besides
// Create go through UpdateIfVersion so two racing transitions can never both
// win.
type GormGameStore struct {
	DB *gorm.DB
}

func NewGormGameStore(db *gorm.DB) *GormGameStore {
	return &GormGameStore{DB: db}
}

func (s *GormGameStore) Get(ctx context.Context, id string) (*models.Game, error) {
	var game models.Game
	if err := s.DB.WithContext(ctx).First(&game, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "game %s not found", id)
		}
		return nil, WrapErr(KindStorage, err, "failed to load game")
	}
	return &game, nil
}

func (s *GormGameStore) GetByJoinCode(ctx context.Context, code string) (*models.Game, error) {
	var game models.Game
	if err := s.DB.WithContext(ctx).First(&game, "join_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "no game with join code %s", code)
		}
		return nil, WrapErr(KindStorage, err, "failed to load game by join code")
	}
	return &game, nil
}

// ActiveByLichessID returns the non-completed game bound to a lichess game,
// or nil when none exists. Used as the uniqueness check at creation.
func (s *GormGameStore) ActiveByLichessID(ctx context.Context, lichessGameID string) (*models.Game, error) {
	var game models.Game
	err := s.DB.WithContext(ctx).
		Where("lichess_game_id = ? AND status <> ?", lichessGameID, models.StatusCompleted).
		First(&game).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, WrapErr(KindStorage, err, "failed to look up game by lichess id")
	}
	return &game, nil
}

func (s *GormGameStore) ListOpen(ctx context.Context) ([]models.Game, error) {
	var games []models.Game
	err := s.DB.WithContext(ctx).
		Where("is_public = ? AND is_verified = ? AND status = ?", true, true, models.StatusCreated).
		Order("created_at DESC").
		Find(&games).Error
	if err != nil {
		return nil, WrapErr(KindStorage, err, "failed to list open games")
	}
	return games, nil
}

func (s *GormGameStore) ListMatched(ctx context.Context) ([]models.Game, error) {
	var games []models.Game
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.StatusMatched).
		Order("created_at ASC").
		Find(&games).Error
	if err != nil {
		return nil, WrapErr(KindStorage, err, "failed to list matched games")
	}
	return games, nil
}

func (s *GormGameStore) Create(ctx context.Context, game *models.Game) error {
	if err := s.DB.WithContext(ctx).Create(game).Error; err != nil {
		return WrapErr(KindStorage, err, "failed to create game")
	}
	return nil
}

// UpdateIfVersion applies changes only if the stored version still equals
// expectedVersion, bumping the version in the same statement. RowsAffected
// == 0 means somebody else transitioned the record first.
func (s *GormGameStore) UpdateIfVersion(ctx context.Context, id string, expectedVersion int, changes map[string]interface{}) error {
	changes["version"] = expectedVersion + 1

	res := s.DB.WithContext(ctx).
		Model(&models.Game{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(changes)
	if res.Error != nil {
		return WrapErr(KindStorage, res.Error, "conditional update failed")
	}
	if res.RowsAffected == 0 {
		// Distinguish a lost race from a missing record.
		var count int64
		s.DB.WithContext(ctx).Model(&models.Game{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return Errf(KindNotFound, "game %s not found", id)
		}
		return Errf(KindConcurrentModification, "game %s was modified concurrently", id)
	}
	return nil
}

func (s *GormGameStore) SaveReceipt(ctx context.Context, receipt *models.SettlementReceipt) error {
	if err := s.DB.WithContext(ctx).Create(receipt).Error; err != nil {
		return WrapErr(KindStorage, err, "failed to save settlement receipt")
	}
	return nil
}

func (s *GormGameStore) ReceiptsByGame(ctx context.Context, gameID string) ([]models.SettlementReceipt, error) {
	var receipts []models.SettlementReceipt
	err := s.DB.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("created_at ASC").
		Find(&receipts).Error
	if err != nil {
		return nil, WrapErr(KindStorage, err, "failed to load receipts")
	}
	return receipts, nil
}
