package queries

import (
	"context"
	"time"

	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
	"gorm.io/gorm"
)

type members struct {
	db     *gorm.DB
	reader *gorm.DB
}

func (r *members) GetMember(ctx context.Context, id uint64) (*model.Member, error) {
	member := model.Member{}
	err := r.reader.WithContext(ctx).Where("id = ?", id).Take(&member).Error
	if err != nil {
		return nil, wrap(err, "get member")
	}
	return &member, nil
}

func (r *members) GetSponsor(ctx context.Context, id uint64) (*model.Member, error) {
	member, err := r.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if member.IsRoot() {
		return nil, nil
	}
	return r.GetMember(ctx, *member.SponsorID)
}

func (r *members) ListDirectReferrals(ctx context.Context, id uint64) ([]*model.Member, error) {
	list := []*model.Member{}
	err := r.reader.WithContext(ctx).Where("sponsor_id = ?", id).Order("id ASC").Find(&list).Error
	return list, wrap(err, "list direct referrals")
}

func (r *members) ListMembers(ctx context.Context, afterID uint64, limit int) ([]*model.Member, error) {
	list := []*model.Member{}
	err := r.reader.WithContext(ctx).Where("id > ?", afterID).Order("id ASC").Limit(limit).Find(&list).Error
	return list, wrap(err, "list members")
}

func (r *members) UpdateRank(ctx context.Context, id uint64, rank model.Rank) error {
	return r.update(ctx, id, map[string]interface{}{"rank": rank, "updated_at": time.Now()})
}

func (r *members) UpdateTier(ctx context.Context, id uint64, tier model.MembershipTier) error {
	return r.update(ctx, id, map[string]interface{}{"membership_tier": tier, "updated_at": time.Now()})
}

func (r *members) update(ctx context.Context, id uint64, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Member{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return wrap(res.Error, "update member")
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
