package commission_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/caps"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates/ratestest"
	"gitlab.com/paramountdax-exchange/commission_engine/store/memory"
)

var now = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	notes []model.CapNotification
}

func (r *recorder) Notify(_ context.Context, n model.CapNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) all() []model.CapNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.CapNotification(nil), r.notes...)
}

type fixture struct {
	st       *memory.Store
	guard    *caps.Guard
	engine   *commission.Engine
	notes    *recorder
	runLocks *lock.LocalRunLock
}

func newFixture() *fixture {
	st := memory.New()
	provider := ratestest.Provider()
	locks := lock.NewMemberLocker()
	runLocks := lock.NewLocalRunLock()
	guard := caps.NewGuard(st, provider, locks)
	guard.Now = func() time.Time { return now }
	notes := &recorder{}
	engine := commission.NewEngine(st, provider, guard, locks, runLocks, notes, commission.RetryOptions{
		MaxTries:        5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
	engine.Now = func() time.Time { return now }
	engine.Enabled = func(string) bool { return true }
	return &fixture{st: st, guard: guard, engine: engine, notes: notes, runLocks: runLocks}
}

func ref(id uint64) *uint64 {
	return &id
}

// chain seeds 1 <- 2 <- ... <- n on tier, every member active without a rank
func (f *fixture) chain(n uint64, tier model.MembershipTier) {
	f.st.AddMember(&model.Member{ID: 1, Email: "m1@example.com", Rank: model.RankNone, Tier: tier, Active: true})
	for id := uint64(2); id <= n; id++ {
		f.st.AddMember(&model.Member{ID: id, SponsorID: ref(id - 1), Rank: model.RankNone, Tier: tier, Active: true})
	}
}

func (f *fixture) set(id uint64, change func(m *model.Member)) {
	m, err := f.st.Members().GetMember(context.Background(), id)
	if err != nil {
		panic(err)
	}
	change(m)
	f.st.AddMember(m)
}

// earn books earlier earnings for a member through the guard so the ledger backs the cap state
func (f *fixture) earn(id uint64, amount string) {
	_, _, err := f.guard.RecordEarning(context.Background(), &model.LedgerEntry{
		IdempotencyKey: fmt.Sprintf("seed:%d", id),
		EventID:        "seed",
		RecipientID:    id,
		Level:          1,
		Type:           model.LedgerEntryType_Level,
		Requested:      model.NewDecimal(conv.MustFromString(amount)),
	})
	if err != nil {
		panic(err)
	}
}

func event(id string, source uint64, amount string) *model.Event {
	return &model.Event{
		EventID:        id,
		Kind:           model.EventKind_TaskCompletion,
		SourceMemberID: source,
		Amount:         conv.MustFromString(amount),
		OccurredAt:     now,
	}
}

// byRecipient indexes entries of one type by recipient
func byRecipient(entries []*model.LedgerEntry, t model.LedgerEntryType) map[uint64]*model.LedgerEntry {
	out := map[uint64]*model.LedgerEntry{}
	for _, e := range entries {
		if e.Type == t {
			out[e.RecipientID] = e
		}
	}
	return out
}

func equals(e *model.LedgerEntry, amount string) bool {
	return e != nil && conv.Equal(model.DecimalValue(e.Amount), conv.MustFromString(amount))
}
