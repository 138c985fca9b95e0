package store

import (
	"context"
	"errors"
	"time"

	"github.com/ericlagergren/decimal"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict marks a transient serialization failure, the whole transaction may be retried
	ErrConflict = errors.New("storage conflict")
	// ErrDuplicate is returned when a unique key already exists
	ErrDuplicate = errors.New("duplicate record")
)

type MemberRepository interface {
	GetMember(ctx context.Context, id uint64) (*model.Member, error)
	// GetSponsor returns nil for root members
	GetSponsor(ctx context.Context, id uint64) (*model.Member, error)
	ListDirectReferrals(ctx context.Context, id uint64) ([]*model.Member, error)
	// ListMembers pages members ordered by id, starting after afterID
	ListMembers(ctx context.Context, afterID uint64, limit int) ([]*model.Member, error)
	UpdateRank(ctx context.Context, id uint64, rank model.Rank) error
	UpdateTier(ctx context.Context, id uint64, tier model.MembershipTier) error
}

type LedgerRepository interface {
	// CreateEntryIfAbsent inserts the entry unless one with the same idempotency key exists
	CreateEntryIfAbsent(ctx context.Context, entry *model.LedgerEntry) (bool, error)
	GetByKey(ctx context.Context, key string) (*model.LedgerEntry, error)
	ListByEvent(ctx context.Context, eventID string) ([]*model.LedgerEntry, error)
	// SumUnpaidMatured sums entries not yet paid that were created at or before asOf
	SumUnpaidMatured(ctx context.Context, memberID uint64, asOf time.Time) (*decimal.Big, error)
	ListUnpaidMatured(ctx context.Context, memberID uint64, asOf time.Time) ([]*model.LedgerEntry, error)
	// MaturePending moves pending entries created at or before cutoff to matured
	MaturePending(ctx context.Context, cutoff, now time.Time) (int64, error)
	MarkPaid(ctx context.Context, ids []uint64, payoutID uint64, paidAt time.Time) error
	SumByEpoch(ctx context.Context, memberID uint64, epoch int) (*decimal.Big, error)
}

type CapRepository interface {
	// GetCapState returns ErrNotFound when the member has no state yet.
	// forUpdate locks the row until the surrounding transaction ends.
	GetCapState(ctx context.Context, memberID uint64, forUpdate bool) (*model.EarningsCapState, error)
	SaveCapState(ctx context.Context, state *model.EarningsCapState) error
	// CreateTierChangeIfAbsent stores change unless its idempotency key exists and reports
	// whether it was created.
	CreateTierChangeIfAbsent(ctx context.Context, change *model.TierChange) (bool, error)
}

type QualificationRepository interface {
	GetRecord(ctx context.Context, memberID uint64, period model.Period) (*model.RankQualificationRecord, error)
	CreateRecord(ctx context.Context, record *model.RankQualificationRecord) error
	GetProtection(ctx context.Context, memberID uint64) (*model.RankProtection, error)
	SaveProtection(ctx context.Context, protection *model.RankProtection) error
	DeleteProtection(ctx context.Context, memberID uint64) error
	// ListExpiredProtections pages protections expired at asOf ordered by member id
	ListExpiredProtections(ctx context.Context, asOf time.Time, afterID uint64, limit int) ([]*model.RankProtection, error)
	AddVolume(ctx context.Context, entry *model.VolumeEntry) (bool, error)
	PersonalVolume(ctx context.Context, memberID uint64, period model.Period) (*decimal.Big, error)
}

type PayoutRepository interface {
	GetSettings(ctx context.Context, memberID uint64) (*model.PayoutSettings, error)
	SaveSettings(ctx context.Context, settings *model.PayoutSettings) error
	ListAutoPayoutMembers(ctx context.Context, afterID uint64, limit int) ([]*model.PayoutSettings, error)
	CreatePayout(ctx context.Context, payout *model.Payout) error
	ListPayouts(ctx context.Context, memberID uint64) ([]*model.Payout, error)
}

// Tx gives access to repositories sharing one unit of work
type Tx interface {
	Members() MemberRepository
	Ledger() LedgerRepository
	Caps() CapRepository
	Qualifications() QualificationRepository
	Payouts() PayoutRepository
}

// Store is the persistent store used by the engine. Repositories reached directly from
// the Store run outside any transaction; Atomic runs fn in a single transaction that is
// rolled back when fn returns an error.
type Store interface {
	Tx
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
