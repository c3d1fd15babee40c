package sqlstore

import "time"

type productRow struct {
	ID        string `gorm:"primaryKey;size:128"`
	SKU       string `gorm:"uniqueIndex;size:255;not null"`
	Name      string `gorm:"size:255"`
	Kind      string `gorm:"size:32;not null;default:simple"`
	Quantity  int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (productRow) TableName() string { return "products" }

type cartRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Version   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (cartRow) TableName() string { return "carts" }

type cartItemRow struct {
	CartID    string     `gorm:"primaryKey;size:64"`
	Position  int        `gorm:"primaryKey;autoIncrement:false"`
	ID        string     `gorm:"size:64"`
	ProductID string     `gorm:"size:128;not null"`
	SKU       string     `gorm:"size:255"`
	Quantity  int        `gorm:"not null"`
	AddedAt   time.Time  `gorm:"not null"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime:false"`
}

func (cartItemRow) TableName() string { return "cart_items" }
