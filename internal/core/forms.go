package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValueGetter returns a single submitted value, such as echo.Context.FormValue or QueryParam
type ValueGetter func(name string) string

type valueParser struct {
	get  ValueGetter
	errs []error
}

func (p *valueParser) text(name string) string {
	return strings.TrimSpace(p.get(name))
}

func (p *valueParser) int(name string) int64 {
	value := p.text(name)
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer", name))
	}
	return n
}

func (p *valueParser) optionalInt(name string) *int64 {
	if p.text(name) == "" {
		return nil
	}
	n := p.int(name)
	return &n
}

func (p *valueParser) optionalFloat(name string) *float64 {
	value := p.text(name)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a number", name))
		return nil
	}
	return &f
}

func (p *valueParser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrValidation, errors.Join(p.errs...))
}

// ParseReviewForm reads the review fields of a submitted form. Malformed numbers
// are reported as ErrValidation; range checks happen when the review is saved.
func ParseReviewForm(get ValueGetter) (ReviewInput, error) {
	p := &valueParser{get: get}
	input := ReviewInput{
		UserID:       p.int("userId"),
		ProductID:    p.int("productId"),
		BrandID:      p.int("brandId"),
		StoreID:      p.optionalInt("storeId"),
		Rating:       int(p.int("rating")),
		Title:        p.text("title"),
		ProductName:  p.text("productName"),
		Price:        p.optionalFloat("price"),
		PurchaseDate: p.text("purchaseDate"),
		Content:      p.text("content"),
	}
	return input, p.err()
}

// ParseSearchFilter reads the search parameters productName, productId, brandId,
// priceMin and priceMax
func ParseSearchFilter(get ValueGetter) (SearchFilter, error) {
	p := &valueParser{get: get}
	filter := SearchFilter{
		ProductName: p.text("productName"),
		ProductID:   p.int("productId"),
		BrandID:     p.int("brandId"),
		PriceMin:    p.optionalFloat("priceMin"),
		PriceMax:    p.optionalFloat("priceMax"),
	}
	if err := p.err(); err != nil {
		return filter, err
	}
	return filter, filter.validate()
}
