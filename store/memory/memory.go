// Package memory is an in-process implementation of store.Store.
// Transactions take a snapshot of every table and restore it when the callback fails.
package memory

import (
	"context"
	"sync"

	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

// Hooks allow tests to inject storage failures
type Hooks struct {
	BeforeCreateEntry  func(entry *model.LedgerEntry) error
	BeforeSaveCap      func(state *model.EarningsCapState) error
	BeforeUpdateRank   func(memberID uint64, rank model.Rank) error
	BeforeCreatePayout func(payout *model.Payout) error
}

type tables struct {
	members     map[uint64]*model.Member
	ledger      map[uint64]*model.LedgerEntry
	ledgerKeys  map[string]uint64
	caps        map[uint64]*model.EarningsCapState
	records     map[string]*model.RankQualificationRecord
	protections map[uint64]*model.RankProtection
	volumes     map[string]*model.VolumeEntry
	settings    map[uint64]*model.PayoutSettings
	payouts     map[uint64]*model.Payout
	tierChanges map[string]*model.TierChange
	seq         uint64
}

func newTables() *tables {
	return &tables{
		members:     map[uint64]*model.Member{},
		ledger:      map[uint64]*model.LedgerEntry{},
		ledgerKeys:  map[string]uint64{},
		caps:        map[uint64]*model.EarningsCapState{},
		records:     map[string]*model.RankQualificationRecord{},
		protections: map[uint64]*model.RankProtection{},
		volumes:     map[string]*model.VolumeEntry{},
		settings:    map[uint64]*model.PayoutSettings{},
		payouts:     map[uint64]*model.Payout{},
		tierChanges: map[string]*model.TierChange{},
	}
}

func (t *tables) nextID() uint64 {
	t.seq++
	return t.seq
}

func (t *tables) snapshot() *tables {
	s := newTables()
	s.seq = t.seq
	for k, v := range t.members {
		s.members[k] = v.Clone()
	}
	for k, v := range t.ledger {
		s.ledger[k] = v.Clone()
	}
	for k, v := range t.ledgerKeys {
		s.ledgerKeys[k] = v
	}
	for k, v := range t.caps {
		s.caps[k] = v.Clone()
	}
	for k, v := range t.records {
		s.records[k] = v.Clone()
	}
	for k, v := range t.protections {
		p := *v
		s.protections[k] = &p
	}
	for k, v := range t.volumes {
		e := *v
		e.Amount = model.NewDecimal(model.DecimalValue(v.Amount))
		s.volumes[k] = &e
	}
	for k, v := range t.settings {
		st := *v
		if v.MinimumThreshold != nil {
			st.MinimumThreshold = model.NewDecimal(v.MinimumThreshold.V)
		}
		s.settings[k] = &st
	}
	for k, v := range t.payouts {
		p := *v
		p.Amount = model.NewDecimal(model.DecimalValue(v.Amount))
		s.payouts[k] = &p
	}
	for k, v := range t.tierChanges {
		c := *v
		s.tierChanges[k] = &c
	}
	return s
}

type Store struct {
	lock  sync.Mutex
	data  *tables
	Hooks Hooks
}

func New() *Store {
	return &Store{data: newTables()}
}

type txView struct {
	s *Store
}

func (s *Store) Members() store.MemberRepository { return &members{s: s, locked: false} }
func (s *Store) Ledger() store.LedgerRepository { return &ledger{s: s, locked: false} }
func (s *Store) Caps() store.CapRepository { return &caps{s: s, locked: false} }
func (s *Store) Qualifications() store.QualificationRepository { return &qualifications{s: s, locked: false} }
func (s *Store) Payouts() store.PayoutRepository { return &payouts{s: s, locked: false} }

func (t txView) Members() store.MemberRepository { return &members{s: t.s, locked: true} }
func (t txView) Ledger() store.LedgerRepository { return &ledger{s: t.s, locked: true} }
func (t txView) Caps() store.CapRepository { return &caps{s: t.s, locked: true} }
func (t txView) Qualifications() store.QualificationRepository { return &qualifications{s: t.s, locked: true} }
func (t txView) Payouts() store.PayoutRepository { return &payouts{s: t.s, locked: true} }

// Atomic serializes all transactions; fn must only use the given tx
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	backup := s.data.snapshot()
	if err := fn(txView{s: s}); err != nil {
		s.data = backup
		return err
	}
	return nil
}

// with runs fn holding the store lock unless the caller is already inside Atomic
func (s *Store) with(locked bool, fn func(t *tables) error) error {
	if !locked {
		s.lock.Lock()
		defer s.lock.Unlock()
	}
	return fn(s.data)
}

// AddMember seeds a member, used by tests and the memory backed dev mode
func (s *Store) AddMember(m *model.Member) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.data.members[m.ID] = m.Clone()
}

// Entries returns a copy of the ledger ordered by id
func (s *Store) Entries() []*model.LedgerEntry {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]*model.LedgerEntry, 0, len(s.data.ledger))
	for id := uint64(1); id <= s.data.seq; id++ {
		if e, ok := s.data.ledger[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}
