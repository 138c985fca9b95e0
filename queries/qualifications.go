package queries

import (
	"context"
	"time"

	"github.com/ericlagergren/decimal"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type qualifications struct {
	db     *gorm.DB
	reader *gorm.DB
}

func (r *qualifications) GetRecord(ctx context.Context, memberID uint64, period model.Period) (*model.RankQualificationRecord, error) {
	record := model.RankQualificationRecord{}
	err := r.reader.WithContext(ctx).Where("member_id = ? AND period = ?", memberID, period).Take(&record).Error
	if err != nil {
		return nil, wrap(err, "get qualification record")
	}
	return &record, nil
}

func (r *qualifications) CreateRecord(ctx context.Context, record *model.RankQualificationRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	return wrap(r.db.WithContext(ctx).Create(record).Error, "create qualification record")
}

func (r *qualifications) GetProtection(ctx context.Context, memberID uint64) (*model.RankProtection, error) {
	protection := model.RankProtection{}
	err := r.db.WithContext(ctx).Where("member_id = ?", memberID).Take(&protection).Error
	if err != nil {
		return nil, wrap(err, "get rank protection")
	}
	return &protection, nil
}

func (r *qualifications) SaveProtection(ctx context.Context, protection *model.RankProtection) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "member_id"}}, UpdateAll: true}).
		Create(protection).Error
	return wrap(err, "save rank protection")
}

func (r *qualifications) DeleteProtection(ctx context.Context, memberID uint64) error {
	err := r.db.WithContext(ctx).Where("member_id = ?", memberID).Delete(&model.RankProtection{}).Error
	return wrap(err, "delete rank protection")
}

func (r *qualifications) ListExpiredProtections(ctx context.Context, asOf time.Time, afterID uint64, limit int) ([]*model.RankProtection, error) {
	list := []*model.RankProtection{}
	err := r.reader.WithContext(ctx).Where("member_id > ? AND expires_at <= ?", afterID, asOf).Order("member_id ASC").Limit(limit).Find(&list).Error
	return list, wrap(err, "list expired rank protections")
}

func (r *qualifications) AddVolume(ctx context.Context, entry *model.VolumeEntry) (bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, wrap(res.Error, "add volume")
	}
	return res.RowsAffected == 1, nil
}

func (r *qualifications) PersonalVolume(ctx context.Context, memberID uint64, period model.Period) (*decimal.Big, error) {
	return sumColumn(ctx, r.reader, &model.VolumeEntry{}, "amount", "member_id = ? AND period = ?", memberID, period)
}
