package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// Customer holds contact details plus the balance aggregate kept by the
// ledger. Version increases with every aggregate write.
type Customer struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name           string          `gorm:"not null" json:"name"`
	Phone          string          `gorm:"not null;index" json:"phone"`
	Address        string          `json:"address,omitempty"`
	Email          string          `gorm:"index" json:"email,omitempty"`
	Status         Status          `gorm:"not null;default:'Active'" json:"status"`
	TotalOrders    int64           `gorm:"not null;default:0" json:"total_orders"`
	TotalSpent     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total_spent"`
	TotalPaid      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total_paid"`
	PendingBalance decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"pending_balance"`
	Version        int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
