package queries

import (
	"context"
	"time"

	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type caps struct {
	db     *gorm.DB
	reader *gorm.DB
}

func (r *caps) GetCapState(ctx context.Context, memberID uint64, forUpdate bool) (*model.EarningsCapState, error) {
	state := model.EarningsCapState{}
	db := r.reader
	if forUpdate {
		db = r.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := db.WithContext(ctx).Where("member_id = ?", memberID).Take(&state).Error; err != nil {
		return nil, wrap(err, "get cap state")
	}
	return &state, nil
}

// SaveCapState updates the member row or inserts it when missing. Two writers racing on the
// insert end with a unique violation on the primary key which is reported as a conflict.
func (r *caps) SaveCapState(ctx context.Context, state *model.EarningsCapState) error {
	state.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&model.EarningsCapState{}).
		Where("member_id = ?", state.MemberID).
		Select("*").
		Updates(state)
	if res.Error != nil {
		return wrap(res.Error, "update cap state")
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
		err = mapError(err)
		if isDuplicate(err) {
			return conflict(err)
		}
		return wrap(err, "create cap state")
	}
	return nil
}

func (r *caps) CreateTierChangeIfAbsent(ctx context.Context, change *model.TierChange) (bool, error) {
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(change)
	if res.Error != nil {
		return false, wrap(res.Error, "create tier change")
	}
	return res.RowsAffected == 1, nil
}
