package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Orders copy its price at order time, so later
// edits never reach existing orders.
type Product struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code      string          `json:"code" gorm:"type:text;not null;uniqueIndex:ux_products_code"`
	Name      string          `json:"name" gorm:"type:text;not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(14,2);not null"`
	Unit      string          `json:"unit,omitempty" gorm:"type:text"`
	InStock   bool            `json:"in_stock" gorm:"not null;default:true"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }
