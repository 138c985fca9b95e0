package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Repo is the postgres backed store.Store. Conn is the writer, ConnReader serves plain reads
// made outside a transaction.
type Repo struct {
	Conn       *gorm.DB
	ConnReader *gorm.DB
}

// NewRepo connects to the writer and reader nodes of the database cluster
func NewRepo(writer, reader config.DatabaseConfig) *Repo {
	conn, err := connect(writer)
	if err != nil {
		log.Fatal().Err(err).Str("section", "queries").Str("node", "writer").Msg("Unable to connect to database")
	}
	connReader := conn
	if reader.Host != "" {
		connReader, err = connect(reader)
		if err != nil {
			log.Fatal().Err(err).Str("section", "queries").Str("node", "reader").Msg("Unable to connect to database")
		}
	}
	return &Repo{Conn: conn, ConnReader: connReader}
}

func connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLmode, cfg.ApplicationName,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Close releases the underlying connection pools
func (repo *Repo) Close() {
	for _, conn := range []*gorm.DB{repo.Conn, repo.ConnReader} {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func (repo *Repo) Members() store.MemberRepository {
	return &members{db: repo.Conn, reader: repo.ConnReader}
}

func (repo *Repo) Ledger() store.LedgerRepository {
	return &ledger{db: repo.Conn, reader: repo.ConnReader}
}

func (repo *Repo) Caps() store.CapRepository {
	return &caps{db: repo.Conn, reader: repo.ConnReader}
}

func (repo *Repo) Qualifications() store.QualificationRepository {
	return &qualifications{db: repo.Conn, reader: repo.ConnReader}
}

func (repo *Repo) Payouts() store.PayoutRepository {
	return &payouts{db: repo.Conn, reader: repo.ConnReader}
}

type txRepo struct {
	tx *gorm.DB
}

func (t txRepo) Members() store.MemberRepository { return &members{db: t.tx, reader: t.tx} }
func (t txRepo) Ledger() store.LedgerRepository  { return &ledger{db: t.tx, reader: t.tx} }
func (t txRepo) Caps() store.CapRepository       { return &caps{db: t.tx, reader: t.tx} }
func (t txRepo) Qualifications() store.QualificationRepository {
	return &qualifications{db: t.tx, reader: t.tx}
}
func (t txRepo) Payouts() store.PayoutRepository { return &payouts{db: t.tx, reader: t.tx} }

// Atomic runs fn inside a writer transaction. Serialization failures surface as store.ErrConflict.
func (repo *Repo) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	err := repo.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(txRepo{tx: tx})
	})
	return mapError(err)
}
