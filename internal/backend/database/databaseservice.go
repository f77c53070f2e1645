package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type DatabaseService interface {
	CreateDatabase() (*sqlx.DB, error)
	DoesDatabaseExist() bool
	Close() error

	ListBrands(ctx context.Context) ([]Brand, error)
	GetBrand(ctx context.Context, id int64) (*Brand, error)
	CreateBrand(ctx context.Context, name string) (*Brand, error)

	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	CreateProduct(ctx context.Context, name string) (*Product, error)

	GetUser(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, user *User) error

	// ListStores returns every store, or only those of brandID when it is non-zero
	ListStores(ctx context.Context, brandID int64) ([]Store, error)
	GetStore(ctx context.Context, id int64) (*Store, error)
	CreateStore(ctx context.Context, store *Store) error
	UpdateStore(ctx context.Context, store *Store) error
	DeleteStore(ctx context.Context, id int64) error

	// CreateReview inserts the review and its image rows in a single transaction
	// and fills in the generated ids.
	CreateReview(ctx context.Context, review *Review, images []ReviewImage) error
	GetReviewByID(ctx context.Context, id int64) (*Review, error)
	// UpdateReview overwrites the review fields. A nil images pointer keeps the current
	// images; otherwise they are replaced in the same transaction and the replaced rows
	// are returned.
	UpdateReview(ctx context.Context, review *Review, images *[]ReviewImage) ([]ReviewImage, error)
	DeleteReview(ctx context.Context, id int64) error
	SearchReviews(ctx context.Context, filter ReviewFilter) ([]Review, error)
}
