package queries

import (
	"context"

	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type payouts struct {
	db     *gorm.DB
	reader *gorm.DB
}

func (r *payouts) GetSettings(ctx context.Context, memberID uint64) (*model.PayoutSettings, error) {
	settings := model.PayoutSettings{}
	if err := r.reader.WithContext(ctx).Where("member_id = ?", memberID).Take(&settings).Error; err != nil {
		return nil, wrap(err, "get payout settings")
	}
	return &settings, nil
}

func (r *payouts) SaveSettings(ctx context.Context, settings *model.PayoutSettings) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "member_id"}}, UpdateAll: true}).
		Create(settings).Error
	return wrap(err, "save payout settings")
}

func (r *payouts) ListAutoPayoutMembers(ctx context.Context, afterID uint64, limit int) ([]*model.PayoutSettings, error) {
	list := []*model.PayoutSettings{}
	err := r.reader.WithContext(ctx).
		Where("auto_payout = ? AND member_id > ?", true, afterID).
		Order("member_id ASC").
		Limit(limit).
		Find(&list).Error
	return list, wrap(err, "list auto payout members")
}

func (r *payouts) CreatePayout(ctx context.Context, payout *model.Payout) error {
	return wrap(r.db.WithContext(ctx).Create(payout).Error, "create payout")
}

func (r *payouts) ListPayouts(ctx context.Context, memberID uint64) ([]*model.Payout, error) {
	list := []*model.Payout{}
	err := r.reader.WithContext(ctx).Where("member_id = ?", memberID).Order("id ASC").Find(&list).Error
	return list, wrap(err, "list payouts")
}
