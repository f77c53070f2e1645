package core

import (
	"errors"
	"fmt"

	"github.com/jo-hoe/petitmarche/internal/backend/database"
	"github.com/jo-hoe/petitmarche/internal/common"
)

// ErrValidation is wrapped by every input validation failure
var ErrValidation = errors.New("validation failed")

type ReviewInput struct {
	UserID       int64    `json:"userId" validate:"gt=0"`
	ProductID    int64    `json:"productId" validate:"gt=0"`
	BrandID      int64    `json:"brandId" validate:"gt=0"`
	StoreID      *int64   `json:"storeId,omitempty" validate:"omitempty,gt=0"`
	Rating       int      `json:"rating" validate:"min=1,max=5"`
	Title        string   `json:"title" validate:"min=1,max=255"`
	ProductName  string   `json:"productName" validate:"min=1,max=255"`
	Price        *float64 `json:"price,omitempty" validate:"omitempty,min=0"`
	PurchaseDate string   `json:"purchaseDate,omitempty" validate:"omitempty,date"`
	Content      string   `json:"content" validate:"min=1,max=2000"`
}

func (in ReviewInput) toReview(id int64) (*database.Review, error) {
	review := &database.Review{
		ID:          id,
		UserID:      in.UserID,
		ProductID:   in.ProductID,
		BrandID:     in.BrandID,
		StoreID:     in.StoreID,
		Rating:      in.Rating,
		Title:       in.Title,
		ProductName: in.ProductName,
		Price:       in.Price,
		Content:     in.Content,
	}
	if in.PurchaseDate != "" {
		date, err := common.ParseDate(in.PurchaseDate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		review.PurchaseDate = &date
	}
	return review, nil
}

type StoreInput struct {
	BrandID        int64   `json:"brandId" validate:"gt=0"`
	Name           string  `json:"name" validate:"min=1,max=255"`
	Latitude       float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude      float64 `json:"longitude" validate:"min=-180,max=180"`
	Prefecture     string  `json:"prefecture" validate:"min=1"`
	City           string  `json:"city" validate:"min=1"`
	StreetAddress1 string  `json:"streetAddress1" validate:"min=1"`
	StreetAddress2 *string `json:"streetAddress2,omitempty"`
	Zip            string  `json:"zip" validate:"jpzip"`
}

func (in StoreInput) toStore(id int64) *database.Store {
	return &database.Store{
		ID:             id,
		BrandID:        in.BrandID,
		Name:           in.Name,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		Prefecture:     in.Prefecture,
		City:           in.City,
		StreetAddress1: in.StreetAddress1,
		StreetAddress2: in.StreetAddress2,
		Zip:            in.Zip,
	}
}

type UserInput struct {
	Name  string `json:"name" validate:"min=1,max=255"`
	Email string `json:"email" validate:"required,email"`
}

// NameInput creates catalogue entries (brands and product categories)
type NameInput struct {
	Name string `json:"name" validate:"min=1,max=255"`
}

type SearchFilter struct {
	ProductName string
	ProductID   int64
	BrandID     int64
	PriceMin    *float64
	PriceMax    *float64
}

func (f SearchFilter) validate() error {
	if f.PriceMin != nil && *f.PriceMin < 0 || f.PriceMax != nil && *f.PriceMax < 0 {
		return fmt.Errorf("%w: prices must not be negative", ErrValidation)
	}
	if f.PriceMin != nil && f.PriceMax != nil && *f.PriceMin > *f.PriceMax {
		return fmt.Errorf("%w: priceMin must not exceed priceMax", ErrValidation)
	}
	return nil
}

func (s *CoreService) validateInput(input any) error {
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
