package durable

import (
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// pendingCallRow is the GORM row shape for the durable call table, matching
// the external SQL schema verbatim: `params` is the codec-encoded wire as
// TEXT (not a byte column), and the deadline columns are `sent_at`/
// `timeout_at`, not implementation-local `_ms`-suffixed names.
type pendingCallRow struct {
	ID        string `gorm:"primaryKey;column:id"`
	Method    string `gorm:"column:method"`
	Params    string `gorm:"column:params"`
	Callback  string `gorm:"column:callback"`
	SentAt    int64  `gorm:"column:sent_at"`
	TimeoutAt int64  `gorm:"column:timeout_at;index"`
}

func (pendingCallRow) TableName() string { return "_rpc_pending_calls" }

func rowFromCall(c PendingCall) pendingCallRow {
	return pendingCallRow{
		ID:        c.ID,
		Method:    c.Method,
		Params:    string(c.Params),
		Callback:  c.Callback,
		SentAt:    c.SentAtMs,
		TimeoutAt: c.TimeoutAtMs,
	}
}

func (r pendingCallRow) toCall() PendingCall {
	return PendingCall{
		ID:          r.ID,
		Method:      r.Method,
		Params:      []byte(r.Params),
		Callback:    r.Callback,
		SentAtMs:    r.SentAt,
		TimeoutAtMs: r.TimeoutAt,
	}
}

// SQLStorage is the SyncPendingCallStorage backend that actually survives
// a process restart, per spec §4.D/§6: a SQLite-backed table via GORM,
// playing the durable-state role the teacher's etcd client played for
// service registration (see DESIGN.md) — adapted here from "lease a
// service address" to "persist a pending continuation".
type SQLStorage struct {
	db *gorm.DB

	migrateOnce sync.Once
	migrateErr  error
}

// OpenSQLStorage opens (creating if absent) a SQLite database at dsn and
// returns a ready SQLStorage. The table is migrated lazily on first use
// rather than here, so opening a handle never fails on a locked or
// momentarily-unreachable file.
func OpenSQLStorage(dsn string) (*SQLStorage, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &SQLStorage{db: db}, nil
}

// NewSQLStorageFromDB wraps an already-open *gorm.DB, for hosts that want
// to share a connection pool with other tables.
func NewSQLStorageFromDB(db *gorm.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

func (s *SQLStorage) ensureMigrated() error {
	s.migrateOnce.Do(func() {
		s.migrateErr = s.db.AutoMigrate(&pendingCallRow{})
	})
	return s.migrateErr
}

func (s *SQLStorage) Save(call PendingCall) error {
	if err := s.ensureMigrated(); err != nil {
		return err
	}
	row := rowFromCall(call)
	return s.db.Save(&row).Error
}

func (s *SQLStorage) Get(id string) (PendingCall, bool, error) {
	if err := s.ensureMigrated(); err != nil {
		return PendingCall{}, false, err
	}
	var row pendingCallRow
	err := s.db.First(&row, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return PendingCall{}, false, nil
		}
		return PendingCall{}, false, err
	}
	return row.toCall(), true, nil
}

func (s *SQLStorage) Delete(id string) (bool, error) {
	if err := s.ensureMigrated(); err != nil {
		return false, err
	}
	res := s.db.Delete(&pendingCallRow{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStorage) ListExpired(beforeMs int64) ([]PendingCall, error) {
	if err := s.ensureMigrated(); err != nil {
		return nil, err
	}
	var rows []pendingCallRow
	if err := s.db.Where("timeout_at <= ?", beforeMs).Order("timeout_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return callsFromRows(rows), nil
}

func (s *SQLStorage) ListAll() ([]PendingCall, error) {
	if err := s.ensureMigrated(); err != nil {
		return nil, err
	}
	var rows []pendingCallRow
	if err := s.db.Order("sent_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return callsFromRows(rows), nil
}

func (s *SQLStorage) Clear() error {
	if err := s.ensureMigrated(); err != nil {
		return err
	}
	return s.db.Where("1 = 1").Delete(&pendingCallRow{}).Error
}

func callsFromRows(rows []pendingCallRow) []PendingCall {
	out := make([]PendingCall, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCall())
	}
	return out
}
