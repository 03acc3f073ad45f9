package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type dbRecord struct {
	Key string `gorm:"column:key;primaryKey"`
	Val []byte `gorm:"column:val"`
}

// Database-backed implementation of [RecordStore], using gorm. Supports
// SQLite and Postgres. Multiple stores can share one database connection by
// using distinct table names.
//
// Upserts go through the database's native conflict resolution (ON CONFLICT
// DO UPDATE), so concurrent first-time inserts for distinct keys can not
// trip over duplicate-key failures.
type DBStore struct {
	db    *gorm.DB
	table string
}

var _ RecordStore = &DBStore{}

func NewDBStore(db *gorm.DB, table string) (*DBStore, error) {
	if err := db.Table(table).AutoMigrate(&dbRecord{}); err != nil {
		return nil, fmt.Errorf("migrating table %s: %w", table, err)
	}
	return &DBStore{db: db, table: table}, nil
}

func (s *DBStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec dbRecord
	err := s.db.WithContext(ctx).Table(s.table).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Val, nil
}

func (s *DBStore) Put(ctx context.Context, key string, val []byte) error {
	rec := dbRecord{Key: key, Val: val}
	return s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"val"}),
	}).Create(&rec).Error
}

func (s *DBStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Table(s.table).Delete(&dbRecord{}, "key = ?", key).Error
}

func (s *DBStore) Take(ctx context.Context, key string) ([]byte, error) {
	var rec dbRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.table).First(&rec, "key = ?", key).Error; err != nil {
			return err
		}
		res := tx.Table(s.table).Delete(&dbRecord{}, "key = ?", key)
		if res.Error != nil {
			return res.Error
		}
		// a concurrent Take got here first
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Val, nil
}

// OpenDatabase sets up a gorm connection from a URL with a sqlite:// or
// postgres:// scheme.
func OpenDatabase(dbURL string, maxConns int) (*gorm.DB, error) {
	var dialector gorm.Dialector
	isSqlite := false

	if strings.HasPrefix(dbURL, "sqlite://") {
		sqlitePath := dbURL[len("sqlite://"):]
		dialector = sqlite.Open(sqlitePath)
		isSqlite = true
	} else if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		dialector = postgres.Open(dbURL)
	} else {
		return nil, fmt.Errorf("unsupported database URL scheme: must start with sqlite://, postgres://, or postgresql://")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}

	if isSqlite {
		db.Exec("PRAGMA journal_mode=WAL;")
		db.Exec("PRAGMA synchronous=NORMAL;")
		db.Exec("PRAGMA busy_timeout=10000;")
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns)
		sqlDB.SetConnMaxIdleTime(time.Hour)
	}

	return db, nil
}
