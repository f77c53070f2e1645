package database

import "time"

type Brand struct {
	ID   int64  `db:"id" json:"brandId"`
	Name string `db:"name" json:"name"`
}

// Product is a product category such as onigiri or sweets
type Product struct {
	ID   int64  `db:"id" json:"productId"`
	Name string `db:"name" json:"name"`
}

type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Store struct {
	ID             int64   `db:"id" json:"id"`
	BrandID        int64   `db:"brand_id" json:"brandId"`
	Name           string  `db:"name" json:"name"`
	Latitude       float64 `db:"latitude" json:"latitude"`
	Longitude      float64 `db:"longitude" json:"longitude"`
	Prefecture     string  `db:"prefecture" json:"prefecture"`
	City           string  `db:"city" json:"city"`
	StreetAddress1 string  `db:"street_address1" json:"streetAddress1"`
	StreetAddress2 *string `db:"street_address2" json:"streetAddress2,omitempty"`
	Zip            string  `db:"zip" json:"zip"`
}

type Review struct {
	ID           int64         `db:"id" json:"id"`
	UserID       int64         `db:"user_id" json:"userId"`
	ProductID    int64         `db:"product_id" json:"productId"`
	BrandID      int64         `db:"brand_id" json:"brandId"`
	StoreID      *int64        `db:"store_id" json:"storeId,omitempty"`
	Rating       int           `db:"rating" json:"rating"`
	Title        string        `db:"title" json:"title"`
	ProductName  string        `db:"product_name" json:"productName"`
	Price        *float64      `db:"price" json:"price,omitempty"`
	PurchaseDate *time.Time    `db:"purchase_date" json:"purchaseDate,omitempty"`
	Content      string        `db:"content" json:"content"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updatedAt"`
	Images       []ReviewImage `db:"-" json:"images"`
}

// ReviewImage references an object in the object store. URL is filled in by the
// service layer with a signed URL and never persisted.
type ReviewImage struct {
	ID         int64  `db:"id" json:"id"`
	ReviewID   int64  `db:"review_id" json:"reviewId"`
	StorageKey string `db:"storage_key" json:"-"`
	Order      int    `db:"sort_order" json:"order"`
	IsMain     bool   `db:"is_main" json:"isMain"`
	URL        string `db:"-" json:"imageUrl,omitempty"`
}

// ReviewFilter narrows SearchReviews. Zero values do not filter.
type ReviewFilter struct {
	ProductName string
	ProductID   int64
	BrandID     int64
	PriceMin    *float64
	PriceMax    *float64
}
