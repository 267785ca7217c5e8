package models

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string `gorm:"not null"                 json:"name"`
	Email        string `gorm:"uniqueIndex;not null"     json:"email"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Phone        string `json:"phone,omitempty"`
	Admin        bool   `gorm:"default:false"            json:"admin"`
}

type Product struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string  `gorm:"not null"                 json:"name"`
	Price       float64 `gorm:"not null"                 json:"price"`
	Description string  `json:"description"`
	Image       string  `json:"image"`
	Count       uint    `gorm:"default:0"                json:"count"`
}

// Quantity for a (user, product) pair lives on a single row, repeated adds
// merge into it.
type CartItem struct {
	ID        uint `gorm:"primaryKey"                             json:"id"`
	UserID    uint `gorm:"uniqueIndex:idx_user_product;not null"  json:"user_id"`
	ProductID uint `gorm:"uniqueIndex:idx_user_product;not null"  json:"product_id"`
	Quantity  uint `gorm:"default:1;check:quantity>0"             json:"quantity"`
}

type Order struct {
	ID        uint    `gorm:"primaryKey"     json:"id"`
	Number    string  `gorm:"uniqueIndex"    json:"number"`
	UserID    uint    `gorm:"index;not null" json:"user_id"`
	Total     float64 `gorm:"not null"       json:"total"`
	Status    string  `gorm:"not null"       json:"status"`
	CreatedAt int64   `gorm:"not null"       json:"created_at"`
}

// OrderItem snapshots name and unit price at checkout time so later catalog
// edits do not rewrite order history.
type OrderItem struct {
	ID        uint    `gorm:"primaryKey"     json:"id"`
	OrderID   uint    `gorm:"index;not null" json:"order_id"`
	ProductID uint    `gorm:"not null"       json:"product_id"`
	Name      string  `gorm:"not null"       json:"name"`
	UnitPrice float64 `gorm:"not null"       json:"unit_price"`
	Quantity  uint    `gorm:"not null"       json:"quantity"`
	LineTotal float64 `gorm:"not null"       json:"line_total"`
}

type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"      json:"id"`
	Token     string `gorm:"unique;not null" json:"token"`
	UserID    uint   `gorm:"index;not null"  json:"user_id"`
	ExpiresAt int64  `gorm:"not null"        json:"expires_at"`
	Revoked   bool   `gorm:"default:false"   json:"revoked"`
}
