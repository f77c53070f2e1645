package core

import (
	"context"

	"github.com/jo-hoe/petitmarche/internal/backend/database"
)

// ListStores returns all stores, optionally narrowed to one brand
func (s *CoreService) ListStores(ctx context.Context, brandID int64) ([]database.Store, error) {
	return s.databaseService.ListStores(ctx, brandID)
}

func (s *CoreService) GetStore(ctx context.Context, id int64) (*database.Store, error) {
	return s.databaseService.GetStore(ctx, id)
}

func (s *CoreService) CreateStore(ctx context.Context, input StoreInput) (*database.Store, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	store := input.toStore(0)
	if err := s.databaseService.CreateStore(ctx, store); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *CoreService) UpdateStore(ctx context.Context, id int64, input StoreInput) (*database.Store, error) {
	if id <= 0 {
		return nil, database.ErrInvalidID
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	store := input.toStore(id)
	if err := s.databaseService.UpdateStore(ctx, store); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *CoreService) DeleteStore(ctx context.Context, id int64) error {
	return s.databaseService.DeleteStore(ctx, id)
}

func (s *CoreService) GetUser(ctx context.Context, id int64) (*database.User, error) {
	return s.databaseService.GetUser(ctx, id)
}

func (s *CoreService) CreateUser(ctx context.Context, input UserInput) (*database.User, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	user := &database.User{Name: input.Name, Email: input.Email}
	if err := s.databaseService.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *CoreService) ListProducts(ctx context.Context) ([]database.Product, error) {
	return s.databaseService.ListProducts(ctx)
}

func (s *CoreService) CreateProduct(ctx context.Context, input NameInput) (*database.Product, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	return s.databaseService.CreateProduct(ctx, input.Name)
}

func (s *CoreService) ListBrands(ctx context.Context) ([]database.Brand, error) {
	return s.databaseService.ListBrands(ctx)
}

func (s *CoreService) CreateBrand(ctx context.Context, input NameInput) (*database.Brand, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	return s.databaseService.CreateBrand(ctx, input.Name)
}
