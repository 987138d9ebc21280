package domain

import "time"

type Game struct {
	ID            string    `json:"id" gorm:"primaryKey;type:text"`
	Slug          string    `json:"slug" gorm:"type:text;not null;uniqueIndex:ux_games_slug"`
	Title         string    `json:"title" gorm:"type:text;not null"`
	PriceUSDCents int64     `json:"price_usd_cents" gorm:"not null"`
	PriceIDR      int64     `json:"price_idr" gorm:"column:price_idr;not null"`
	Active        bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Game) TableName() string { return "games" }

const (
	CurrencyUSD = "USD"
	CurrencyIDR = "IDR"
)

// Price returns the listed price in the minor units of currency.
func (g Game) Price(currency string) (int64, bool) {
	switch currency {
	case CurrencyUSD:
		return g.PriceUSDCents, true
	case CurrencyIDR:
		return g.PriceIDR, true
	default:
		return 0, false
	}
}
