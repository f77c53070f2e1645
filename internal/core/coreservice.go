package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/petitmarche/internal/backend/cache"
	"github.com/jo-hoe/petitmarche/internal/backend/commands"
	"github.com/jo-hoe/petitmarche/internal/backend/commandstructure"
	"github.com/jo-hoe/petitmarche/internal/backend/database"
	"github.com/jo-hoe/petitmarche/internal/backend/storage"
	"github.com/jo-hoe/petitmarche/internal/common"
	"github.com/jo-hoe/petitmarche/internal/intake"
	"golang.org/x/sync/errgroup"
)

const (
	ThumbnailSize   = 240
	PreviewBasePath = "/htmx/previews"
)

var ErrNoImage = errors.New("review has no image")

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	store           storage.ObjectStore
	urlCache        cache.URLCache
	processor       *commandstructure.CommandInvoker
	thumbnailer     commandstructure.Command
	previews        *intake.PreviewRegistry
	validate        *validator.Validate
}

// NewCoreService connects the database, object store and URL cache described by the config
func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewObjectStore(ctx, config.Storage)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}
	slog.Info("object store initialized", "type", config.Storage.Type)
	urlCache, err := cache.NewURLCache(ctx, config.Cache)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize url cache: %w", err)
	}
	slog.Info("url cache initialized", "type", config.Cache.Type)

	service, err := NewCoreServiceWithDependencies(config, databaseService, store, urlCache)
	if err != nil {
		_ = databaseService.Close()
		_ = urlCache.Close()
		return nil, err
	}
	return service, nil
}

// NewCoreServiceWithDependencies builds the service around already connected dependencies
func NewCoreServiceWithDependencies(config *ServiceConfig, databaseService database.DatabaseService,
	store storage.ObjectStore, urlCache cache.URLCache) (*CoreService, error) {
	configs := make([]commandstructure.CommandConfig, len(config.Intake.Commands))
	for i, cmd := range config.Intake.Commands {
		configs[i] = commandstructure.CommandConfig{Name: cmd.Name, Params: cmd.Params}
	}
	processor, err := commandstructure.NewCommandInvokerFromConfig(nil, configs)
	if err != nil {
		return nil, fmt.Errorf("failed to build intake commands: %w", err)
	}
	thumbnailer, err := commands.NewResizeCommandWithParams(ThumbnailSize, ThumbnailSize, commands.DefaultJpegQuality)
	if err != nil {
		return nil, err
	}
	if urlCache == nil {
		urlCache = cache.NoopURLCache{}
	}

	return &CoreService{
		config:          config,
		databaseService: databaseService,
		store:           store,
		urlCache:        urlCache,
		processor:       processor,
		thumbnailer:     thumbnailer,
		previews:        intake.NewPreviewRegistry(PreviewBasePath),
		validate:        common.NewValidator(),
	}, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func (s *CoreService) Close() error {
	return errors.Join(s.urlCache.Close(), s.databaseService.Close())
}

// Previews returns the registry that backs every draft's preview URLs
func (s *CoreService) Previews() *intake.PreviewRegistry {
	return s.previews
}

func (s *CoreService) MaxImages() int {
	return s.config.Intake.MaxImages
}

func (s *CoreService) IsDatabaseHealthy() bool {
	return s.databaseService.DoesDatabaseExist()
}

// NewDraftPipeline creates an intake pipeline wired to the configured commands.
// It matches intake.PipelineFactory.
func (s *CoreService) NewDraftPipeline(onChange intake.ChangeFunc) *intake.Pipeline {
	return intake.NewPipeline(s.processor, intake.Options{
		MaxImages:     s.config.Intake.MaxImages,
		DecodeTimeout: s.config.Intake.DecodeTimeout,
		Concurrency:   s.config.Intake.Concurrency,
		Previews:      s.previews,
		OnChange:      onChange,
	})
}

// ProcessUploads runs files through a one-shot pipeline. orders, when given for every
// file, rearranges the processed images before order and main flag are re-derived.
func (s *CoreService) ProcessUploads(ctx context.Context, files []intake.RawFile, orders []int) ([]intake.ImageFile, error) {
	pipeline := intake.NewPipeline(s.processor, intake.Options{
		MaxImages:     s.config.Intake.MaxImages,
		DecodeTimeout: s.config.Intake.DecodeTimeout,
		Concurrency:   s.config.Intake.Concurrency,
	})
	defer func() {
		if err := pipeline.Close(); err != nil {
			slog.Error("failed to release upload previews", "error", err)
		}
	}()

	images, err := pipeline.AddBatch(ctx, files)
	if err != nil {
		return nil, err
	}
	if len(orders) == len(files) && len(images) == len(files) {
		images = applyOrders(images, orders)
	}
	return images, nil
}

func applyOrders(images []intake.ImageFile, orders []int) []intake.ImageFile {
	indexes := make([]int, len(images))
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		return orders[indexes[a]] < orders[indexes[b]]
	})
	sorted := make([]intake.ImageFile, len(images))
	for position, i := range indexes {
		img := images[i]
		img.Order = position
		img.IsMain = position == 0
		sorted[position] = img
	}
	return sorted
}

func (s *CoreService) CreateReview(ctx context.Context, input ReviewInput, images []intake.ImageFile) (*database.Review, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if err := s.checkImageCount(len(images)); err != nil {
		return nil, err
	}
	review, err := input.toReview(0)
	if err != nil {
		return nil, err
	}

	rows, err := s.uploadImages(ctx, images)
	if err != nil {
		return nil, err
	}
	if err := s.databaseService.CreateReview(ctx, review, rows); err != nil {
		s.deleteObjects(context.WithoutCancel(ctx), storageKeys(rows))
		return nil, fmt.Errorf("failed to create review: %w", err)
	}
	slog.Info("review created", "review_id", review.ID, "images", len(rows))

	if err := s.signImages(ctx, review.Images); err != nil {
		return nil, err
	}
	return review, nil
}

func (s *CoreService) GetReview(ctx context.Context, id int64) (*database.Review, error) {
	review, err := s.databaseService.GetReviewByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.signImages(ctx, review.Images); err != nil {
		return nil, err
	}
	return review, nil
}

// UpdateReview overwrites a review. A nil images pointer keeps the stored images;
// otherwise they are replaced and the old objects removed after the commit.
func (s *CoreService) UpdateReview(ctx context.Context, id int64, input ReviewInput, images *[]intake.ImageFile) (*database.Review, error) {
	if id <= 0 {
		return nil, database.ErrInvalidID
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	review, err := input.toReview(id)
	if err != nil {
		return nil, err
	}

	var rows *[]database.ReviewImage
	if images != nil {
		if err := s.checkImageCount(len(*images)); err != nil {
			return nil, err
		}
		uploaded, err := s.uploadImages(ctx, *images)
		if err != nil {
			return nil, err
		}
		rows = &uploaded
	}

	replaced, err := s.databaseService.UpdateReview(ctx, review, rows)
	if err != nil {
		if rows != nil {
			s.deleteObjects(context.WithoutCancel(ctx), storageKeys(*rows))
		}
		return nil, err
	}
	if len(replaced) > 0 {
		keys := storageKeys(replaced)
		s.deleteObjects(ctx, keys)
		s.invalidateURLs(ctx, keys)
	}
	slog.Info("review updated", "review_id", id, "images_replaced", images != nil)

	return s.GetReview(ctx, id)
}

// DeleteReview removes the review row and then its objects one by one. An object
// that cannot be deleted is logged and skipped.
func (s *CoreService) DeleteReview(ctx context.Context, id int64) error {
	review, err := s.databaseService.GetReviewByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.databaseService.DeleteReview(ctx, id); err != nil {
		return err
	}
	keys := storageKeys(review.Images)
	s.deleteObjects(ctx, keys)
	s.invalidateURLs(ctx, keys)
	slog.Info("review deleted", "review_id", id)
	return nil
}

func (s *CoreService) SearchReviews(ctx context.Context, filter SearchFilter) ([]database.Review, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	reviews, err := s.databaseService.SearchReviews(ctx, database.ReviewFilter{
		ProductName: filter.ProductName,
		ProductID:   filter.ProductID,
		BrandID:     filter.BrandID,
		PriceMin:    filter.PriceMin,
		PriceMax:    filter.PriceMax,
	})
	if err != nil {
		return nil, err
	}
	for i := range reviews {
		if err := s.signImages(ctx, reviews[i].Images); err != nil {
			return nil, err
		}
	}
	return reviews, nil
}

// Thumbnail returns the main image of a review scaled down to ThumbnailSize
func (s *CoreService) Thumbnail(ctx context.Context, reviewID int64) ([]byte, error) {
	review, err := s.databaseService.GetReviewByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(review.Images, func(img database.ReviewImage) bool { return img.IsMain })
	if idx < 0 {
		if len(review.Images) == 0 {
			return nil, ErrNoImage
		}
		idx = 0
	}
	data, err := s.store.Get(ctx, review.Images[idx].StorageKey)
	if err != nil {
		return nil, err
	}
	return s.thumbnailer.Execute(data)
}

// OpenObject serves objects of stores that sign URLs pointing back at this service
func (s *CoreService) OpenObject(key, expires, signature string) ([]byte, string, error) {
	server, ok := s.store.(storage.ObjectServer)
	if !ok {
		return nil, "", storage.ErrObjectNotFound
	}
	return server.Open(key, expires, signature)
}

func (s *CoreService) checkImageCount(count int) error {
	if count > s.config.Intake.MaxImages {
		return &intake.LimitError{Requested: count, Max: s.config.Intake.MaxImages}
	}
	return nil
}

// uploadImages stores every image concurrently. If any upload fails the ones that
// succeeded are removed again.
func (s *CoreService) uploadImages(ctx context.Context, images []intake.ImageFile) ([]database.ReviewImage, error) {
	rows := make([]database.ReviewImage, len(images))
	uploaded := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		rows[i] = database.ReviewImage{
			StorageKey: storage.NewObjectKey(storage.ReviewImagePrefix),
			Order:      img.Order,
			IsMain:     img.IsMain,
		}
		i, img := i, img
		g.Go(func() error {
			if err := s.store.Put(gctx, rows[i].StorageKey, img.Data, img.ContentType); err != nil {
				return err
			}
			uploaded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var keys []string
		for i, ok := range uploaded {
			if ok {
				keys = append(keys, rows[i].StorageKey)
			}
		}
		s.deleteObjects(context.WithoutCancel(ctx), keys)
		return nil, fmt.Errorf("failed to upload images: %w", err)
	}
	return rows, nil
}

func (s *CoreService) deleteObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			slog.Error("failed to delete object", "key", key, "error", err)
		}
	}
}

func (s *CoreService) invalidateURLs(ctx context.Context, keys []string) {
	if err := s.urlCache.Delete(ctx, keys...); err != nil {
		slog.Warn("failed to invalidate cached urls", "error", err)
	}
}

// signImages fills in the URL of every image concurrently, reusing cached URLs
func (s *CoreService) signImages(ctx context.Context, images []database.ReviewImage) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range images {
		i := i
		g.Go(func() error {
			url, err := s.signedURL(gctx, images[i].StorageKey)
			if err != nil {
				return err
			}
			images[i].URL = url
			return nil
		})
	}
	return g.Wait()
}

func (s *CoreService) signedURL(ctx context.Context, key string) (string, error) {
	if url, ok, err := s.urlCache.Get(ctx, key); err != nil {
		slog.Warn("url cache lookup failed", "key", key, "error", err)
	} else if ok {
		return url, nil
	}

	url, err := s.store.SignedURL(ctx, key, s.config.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	if err := s.urlCache.Set(ctx, key, url, cache.EntryTTL(s.config.SignedURLTTL)); err != nil {
		slog.Warn("failed to cache signed url", "key", key, "error", err)
	}
	return url, nil
}

func storageKeys(images []database.ReviewImage) []string {
	keys := make([]string, len(images))
	for i, img := range images {
		keys[i] = img.StorageKey
	}
	return keys
}
