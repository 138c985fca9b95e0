package queries

import (
	"context"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/pkg/errors"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledger struct {
	db     *gorm.DB
	reader *gorm.DB
}

func (r *ledger) CreateEntryIfAbsent(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, wrap(res.Error, "create ledger entry")
	}
	return res.RowsAffected == 1, nil
}

func (r *ledger) GetByKey(ctx context.Context, key string) (*model.LedgerEntry, error) {
	entry := model.LedgerEntry{}
	err := r.reader.WithContext(ctx).Where("idempotency_key = ?", key).Take(&entry).Error
	if err != nil {
		return nil, wrap(err, "get ledger entry")
	}
	return &entry, nil
}

func (r *ledger) ListByEvent(ctx context.Context, eventID string) ([]*model.LedgerEntry, error) {
	list := []*model.LedgerEntry{}
	err := r.reader.WithContext(ctx).Where("event_id = ?", eventID).Order("id ASC").Find(&list).Error
	return list, wrap(err, "list ledger entries by event")
}

func (r *ledger) SumUnpaidMatured(ctx context.Context, memberID uint64, asOf time.Time) (*decimal.Big, error) {
	return sumColumn(ctx, r.reader, &model.LedgerEntry{}, "amount",
		"recipient_id = ? AND status <> ? AND created_at <= ?", memberID, model.LedgerEntryStatus_Paid, asOf)
}

func (r *ledger) ListUnpaidMatured(ctx context.Context, memberID uint64, asOf time.Time) ([]*model.LedgerEntry, error) {
	list := []*model.LedgerEntry{}
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status <> ? AND created_at <= ?", memberID, model.LedgerEntryStatus_Paid, asOf).
		Order("id ASC").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Find(&list).Error
	return list, wrap(err, "list unpaid ledger entries")
}

func (r *ledger) MaturePending(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("status = ? AND created_at <= ?", model.LedgerEntryStatus_Pending, cutoff).
		Updates(map[string]interface{}{"status": model.LedgerEntryStatus_Matured, "matured_at": now})
	return res.RowsAffected, wrap(res.Error, "mature ledger entries")
}

func (r *ledger) MarkPaid(ctx context.Context, ids []uint64, payoutID uint64, paidAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("id IN ? AND status <> ?", ids, model.LedgerEntryStatus_Paid).
		Updates(map[string]interface{}{"status": model.LedgerEntryStatus_Paid, "payout_id": payoutID, "paid_at": paidAt})
	if res.Error != nil {
		return wrap(res.Error, "mark ledger entries paid")
	}
	if res.RowsAffected != int64(len(ids)) {
		return errors.Errorf("mark paid: expected %d entries, updated %d", len(ids), res.RowsAffected)
	}
	return nil
}

func (r *ledger) SumByEpoch(ctx context.Context, memberID uint64, epoch int) (*decimal.Big, error) {
	return sumColumn(ctx, r.reader, &model.LedgerEntry{}, "amount", "recipient_id = ? AND cap_epoch = ?", memberID, epoch)
}

// sumColumn returns SUM(column) as an exact decimal, the value travels as text to keep full precision
func sumColumn(ctx context.Context, db *gorm.DB, table interface{}, column string, query string, args ...interface{}) (*decimal.Big, error) {
	var total string
	err := db.WithContext(ctx).Model(table).
		Select("COALESCE(SUM("+column+"), 0)::text as total").
		Where(query, args...).
		Row().Scan(&total)
	if err != nil {
		return nil, wrap(err, "sum "+column)
	}
	value, ok := conv.FromString(total)
	if !ok {
		return nil, errors.Errorf("invalid sum %q", total)
	}
	return value, nil
}
