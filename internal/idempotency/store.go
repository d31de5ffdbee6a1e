package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/balancebook/internal/clock"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	HeaderKey    = "Idempotency-Key"
	MaxKeyLength = 128
	// MaxBodyBytes caps the body hashed and kept for a keyed request.
	MaxBodyBytes = 1 << 20
)

var (
	ErrKeyTooLong   = errors.New("idempotency_key_too_long")
	ErrKeyReused    = errors.New("idempotency_key_reused")
	ErrInProgress   = errors.New("idempotency_key_in_progress")
	ErrBodyTooLarge = errors.New("request_too_large")
)

// Record stores the first completed response for a key. ResponseStatus 0
// means the request is still running.
type Record struct {
	Key            string     `json:"key" gorm:"primaryKey;size:128"`
	Actor          string     `json:"actor" gorm:"size:255;not null"`
	RequestHash    string     `json:"request_hash" gorm:"size:64;not null"`
	Method         string     `json:"method" gorm:"size:10;not null"`
	Path           string     `json:"path" gorm:"size:255;not null"`
	ResponseStatus int        `json:"response_status" gorm:"not null;default:0"`
	ResponseBody   []byte     `json:"-"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;index"`
	CompletedAt    *time.Time `json:"completed_at"`
}

func (Record) TableName() string { return "idempotency_keys" }

type StoreParams struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock `optional:"true"`
}

type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewStore(p StoreParams) *Store {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Store{db: p.DB, clock: clk}
}

// Begin claims key for a request. It returns nil when the caller owns the
// claim and should run the request, or the stored record when the key was
// already completed.
func (s *Store) Begin(ctx context.Context, key, actor, hash, method, path string) (*Record, error) {
	if len(key) > MaxKeyLength {
		return nil, ErrKeyTooLong
	}

	claim := Record{
		Key:         key,
		Actor:       actor,
		RequestHash: hash,
		Method:      method,
		Path:        path,
		CreatedAt:   s.clock.Now(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return nil, nil
	}

	var existing Record
	if err := s.db.WithContext(ctx).Where(byKey(key)).First(&existing).Error; err != nil {
		return nil, err
	}
	if existing.RequestHash != hash || existing.Actor != actor {
		return nil, ErrKeyReused
	}
	if existing.ResponseStatus == 0 {
		return nil, ErrInProgress
	}
	return &existing, nil
}

// Complete stores the response for key.
func (s *Store) Complete(ctx context.Context, key string, status int, body []byte) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Model(&Record{}).
		Where(byKey(key)).
		Updates(map[string]any{
			"response_status": status,
			"response_body":   body,
			"completed_at":    &now,
		}).Error
}

// Release forgets a claim so the request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where(byKey(key)).
		Where(clause.Eq{Column: clause.Column{Name: "response_status"}, Value: 0}).
		Delete(&Record{}).Error
}

// Purge removes records created before cutoff and reports how many went.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	return res.RowsAffected, res.Error
}

// byKey lets the dialect quote the column; KEY is reserved in MySQL.
func byKey(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}
