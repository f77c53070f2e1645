package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS brands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		brand_id INTEGER NOT NULL REFERENCES brands(id),
		name TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		prefecture TEXT NOT NULL,
		city TEXT NOT NULL,
		street_address1 TEXT NOT NULL,
		street_address2 TEXT,
		zip TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		brand_id INTEGER NOT NULL REFERENCES brands(id),
		store_id INTEGER REFERENCES stores(id) ON DELETE SET NULL,
		rating INTEGER NOT NULL,
		title TEXT NOT NULL,
		product_name TEXT NOT NULL,
		price REAL,
		purchase_date TIMESTAMP,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS review_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		review_id INTEGER NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
		storage_key TEXT NOT NULL,
		sort_order INTEGER NOT NULL,
		is_main BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_images_review ON review_images(review_id, sort_order)`,
}

var (
	seedBrands   = []string{"Seven-Eleven", "FamilyMart", "Lawson", "Ministop"}
	seedProducts = []string{"Onigiri", "Bento", "Bread", "Sweets", "Drinks", "Snacks", "Noodles"}
)

const (
	reviewColumns = `id, user_id, product_id, brand_id, store_id, rating, title, product_name,
		price, purchase_date, content, created_at, updated_at`
	imageColumns = `id, review_id, storage_key, sort_order, is_main`
	storeColumns = `id, brand_id, name, latitude, longitude, prefecture, city,
		street_address1, street_address2, zip`
)

type SQLiteDatabase struct {
	db               *sqlx.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sqlx.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// every connection to ":memory:" is its own database, and SQLite serializes writers anyway
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sqlx.DB, error) {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, err
		}
	}
	if err := s.seed(); err != nil {
		return nil, fmt.Errorf("failed to seed catalogue: %w", err)
	}
	return s.db, nil
}

func (s *SQLiteDatabase) seed() error {
	for table, names := range map[string][]string{"brands": seedBrands, "products": seedProducts} {
		var count int
		if err := s.db.Get(&count, "SELECT COUNT(*) FROM "+table); err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		for _, name := range names {
			if _, err := s.db.Exec("INSERT INTO "+table+" (name) VALUES (?)", name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) ListBrands(ctx context.Context) ([]Brand, error) {
	brands := []Brand{}
	if err := s.db.SelectContext(ctx, &brands, "SELECT id, name FROM brands ORDER BY id"); err != nil {
		return nil, err
	}
	return brands, nil
}

func (s *SQLiteDatabase) GetBrand(ctx context.Context, id int64) (*Brand, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	var brand Brand
	if err := s.db.GetContext(ctx, &brand, "SELECT id, name FROM brands WHERE id = ?", id); err != nil {
		return nil, notFound(err)
	}
	return &brand, nil
}

func (s *SQLiteDatabase) CreateBrand(ctx context.Context, name string) (*Brand, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO brands (name) VALUES (?)", name)
	if err != nil {
		return nil, constraintError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Brand{ID: id, Name: name}, nil
}

func (s *SQLiteDatabase) ListProducts(ctx context.Context) ([]Product, error) {
	products := []Product{}
	if err := s.db.SelectContext(ctx, &products, "SELECT id, name FROM products ORDER BY id"); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *SQLiteDatabase) GetProduct(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	var product Product
	if err := s.db.GetContext(ctx, &product, "SELECT id, name FROM products WHERE id = ?", id); err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *SQLiteDatabase) CreateProduct(ctx context.Context, name string) (*Product, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO products (name) VALUES (?)", name)
	if err != nil {
		return nil, constraintError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Product{ID: id, Name: name}, nil
}

func (s *SQLiteDatabase) GetUser(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	var user User
	if err := s.db.GetContext(ctx, &user, "SELECT id, name, email, created_at FROM users WHERE id = ?", id); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *SQLiteDatabase) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.NamedExecContext(ctx,
		"INSERT INTO users (name, email, created_at) VALUES (:name, :email, :created_at)", user)
	if err != nil {
		return constraintError(err)
	}
	user.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteDatabase) ListStores(ctx context.Context, brandID int64) ([]Store, error) {
	if brandID < 0 {
		return nil, ErrInvalidID
	}
	query := "SELECT " + storeColumns + " FROM stores"
	var args []any
	if brandID > 0 {
		query += " WHERE brand_id = ?"
		args = append(args, brandID)
	}
	stores := []Store{}
	if err := s.db.SelectContext(ctx, &stores, query+" ORDER BY id", args...); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *SQLiteDatabase) GetStore(ctx context.Context, id int64) (*Store, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	var store Store
	if err := s.db.GetContext(ctx, &store, "SELECT "+storeColumns+" FROM stores WHERE id = ?", id); err != nil {
		return nil, notFound(err)
	}
	return &store, nil
}

func (s *SQLiteDatabase) CreateStore(ctx context.Context, store *Store) error {
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO stores
		(brand_id, name, latitude, longitude, prefecture, city, street_address1, street_address2, zip)
		VALUES (:brand_id, :name, :latitude, :longitude, :prefecture, :city, :street_address1, :street_address2, :zip)`,
		store)
	if err != nil {
		return constraintError(err)
	}
	store.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteDatabase) UpdateStore(ctx context.Context, store *Store) error {
	if store.ID <= 0 {
		return ErrInvalidID
	}
	res, err := s.db.NamedExecContext(ctx, `UPDATE stores SET
		brand_id = :brand_id, name = :name, latitude = :latitude, longitude = :longitude,
		prefecture = :prefecture, city = :city, street_address1 = :street_address1,
		street_address2 = :street_address2, zip = :zip
		WHERE id = :id`, store)
	if err != nil {
		return constraintError(err)
	}
	return requireAffected(res)
}

func (s *SQLiteDatabase) DeleteStore(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM stores WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLiteDatabase) CreateReview(ctx context.Context, review *Review, images []ReviewImage) error {
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after a successful commit
	}()

	res, err := tx.NamedExecContext(ctx, `INSERT INTO reviews
		(user_id, product_id, brand_id, store_id, rating, title, product_name, price, purchase_date, content, created_at, updated_at)
		VALUES (:user_id, :product_id, :brand_id, :store_id, :rating, :title, :product_name, :price, :purchase_date, :content, :created_at, :updated_at)`,
		review)
	if err != nil {
		return constraintError(err)
	}
	if review.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	inserted, err := insertImages(ctx, tx, review.ID, images)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	review.Images = inserted
	return nil
}

func (s *SQLiteDatabase) GetReviewByID(ctx context.Context, id int64) (*Review, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	var review Review
	if err := s.db.GetContext(ctx, &review, "SELECT "+reviewColumns+" FROM reviews WHERE id = ?", id); err != nil {
		return nil, notFound(err)
	}
	images := []ReviewImage{}
	if err := s.db.SelectContext(ctx, &images,
		"SELECT "+imageColumns+" FROM review_images WHERE review_id = ? ORDER BY sort_order, id", id); err != nil {
		return nil, err
	}
	review.Images = images
	return &review, nil
}

func (s *SQLiteDatabase) UpdateReview(ctx context.Context, review *Review, images *[]ReviewImage) ([]ReviewImage, error) {
	if review.ID <= 0 {
		return nil, ErrInvalidID
	}
	review.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback() // no-op after a successful commit
	}()

	res, err := tx.NamedExecContext(ctx, `UPDATE reviews SET
		user_id = :user_id, product_id = :product_id, brand_id = :brand_id, store_id = :store_id,
		rating = :rating, title = :title, product_name = :product_name, price = :price,
		purchase_date = :purchase_date, content = :content, updated_at = :updated_at
		WHERE id = :id`, review)
	if err != nil {
		return nil, constraintError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}

	var replaced []ReviewImage
	if images != nil {
		if err := tx.SelectContext(ctx, &replaced,
			"SELECT "+imageColumns+" FROM review_images WHERE review_id = ? ORDER BY sort_order, id", review.ID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM review_images WHERE review_id = ?", review.ID); err != nil {
			return nil, err
		}
		inserted, err := insertImages(ctx, tx, review.ID, *images)
		if err != nil {
			return nil, err
		}
		review.Images = inserted
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *SQLiteDatabase) DeleteReview(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after a successful commit
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM review_images WHERE review_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM reviews WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) SearchReviews(ctx context.Context, filter ReviewFilter) ([]Review, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.ProductName != "" {
		conditions = append(conditions, `product_name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.ProductName)+"%")
	}
	if filter.ProductID > 0 {
		conditions = append(conditions, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.BrandID > 0 {
		conditions = append(conditions, "brand_id = ?")
		args = append(args, filter.BrandID)
	}
	if filter.PriceMin != nil {
		conditions = append(conditions, "price >= ?")
		args = append(args, *filter.PriceMin)
	}
	if filter.PriceMax != nil {
		conditions = append(conditions, "price <= ?")
		args = append(args, *filter.PriceMax)
	}

	query := "SELECT " + reviewColumns + " FROM reviews"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"

	reviews := []Review{}
	if err := s.db.SelectContext(ctx, &reviews, query, args...); err != nil {
		return nil, err
	}
	if len(reviews) == 0 {
		return reviews, nil
	}
	if err := s.attachImages(ctx, reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

func (s *SQLiteDatabase) attachImages(ctx context.Context, reviews []Review) error {
	ids := make([]int64, len(reviews))
	byReview := make(map[int64]int, len(reviews))
	for i, review := range reviews {
		ids[i] = review.ID
		byReview[review.ID] = i
		reviews[i].Images = []ReviewImage{}
	}

	query, args, err := sqlx.In(
		"SELECT "+imageColumns+" FROM review_images WHERE review_id IN (?) ORDER BY review_id, sort_order, id", ids)
	if err != nil {
		return err
	}
	var images []ReviewImage
	if err := s.db.SelectContext(ctx, &images, s.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, img := range images {
		i := byReview[img.ReviewID]
		reviews[i].Images = append(reviews[i].Images, img)
	}
	return nil
}

func insertImages(ctx context.Context, tx *sqlx.Tx, reviewID int64, images []ReviewImage) ([]ReviewImage, error) {
	inserted := make([]ReviewImage, 0, len(images))
	for _, img := range images {
		img.ReviewID = reviewID
		res, err := tx.NamedExecContext(ctx, `INSERT INTO review_images (review_id, storage_key, sort_order, is_main)
			VALUES (:review_id, :storage_key, :sort_order, :is_main)`, img)
		if err != nil {
			return nil, fmt.Errorf("failed to insert image %s: %w", img.StorageKey, err)
		}
		if img.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		inserted = append(inserted, img)
	}
	return inserted, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
