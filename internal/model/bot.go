package model

import (
	"time"

	"gorm.io/datatypes"
)

// User is the platform account that owns credentials and subscriptions.
// Signup and login live in a separate service; only the identity is needed here.
type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"not null;uniqueIndex" json:"username"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Bot is created or refreshed from static bot metadata when the fleet starts.
type Bot struct {
	ID          int64                       `gorm:"primaryKey" json:"id"`
	Name        string                      `gorm:"not null;uniqueIndex" json:"name"`
	Description string                      `gorm:"not null;default:''" json:"description"`
	Exchange    string                      `gorm:"not null;default:'coinbase'" json:"exchange"`
	AssetTypes  datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"asset_types"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// Subscription binds a user's exchange portfolio to a bot.
// A portfolio backs at most one subscription.
type Subscription struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	UserID        int64     `gorm:"not null;index" json:"user_id"`
	BotID         int64     `gorm:"not null;index" json:"bot_id"`
	PortfolioUUID string    `gorm:"column:portfolio_uuid;not null;uniqueIndex" json:"portfolio_uuid"`
	CreatedAt     time.Time `json:"created_at"`
}
