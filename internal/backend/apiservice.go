package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/jo-hoe/petitmarche/internal/backend/database"
	"github.com/jo-hoe/petitmarche/internal/backend/storage"
	"github.com/jo-hoe/petitmarche/internal/common"
	"github.com/jo-hoe/petitmarche/internal/core"
	"github.com/jo-hoe/petitmarche/internal/intake"
	"github.com/labstack/echo/v4"
)

const (
	createImageField = "image"
	updateImageField = "images"
	ordersField      = "orders"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	if e.Validator == nil {
		e.Validator = common.NewGenericEchoValidator()
	}

	// Set probe route
	e.GET("/probe", s.probeHandler)

	api := e.Group("/api")
	api.GET("/reviews", s.searchReviewsHandler)
	api.POST("/reviews", s.createReviewHandler)
	api.GET("/reviews/:id", s.getReviewHandler)
	api.PUT("/reviews/:id", s.updateReviewHandler)
	api.DELETE("/reviews/:id", s.deleteReviewHandler)

	api.GET("/stores", s.listStoresHandler)
	api.POST("/stores", s.createStoreHandler)
	api.GET("/stores/:id", s.getStoreHandler)
	api.PUT("/stores/:id", s.updateStoreHandler)
	api.DELETE("/stores/:id", s.deleteStoreHandler)

	api.GET("/users/:id", s.getUserHandler)
	api.POST("/users", s.createUserHandler)

	api.GET("/products", s.listProductsHandler)
	api.POST("/products", s.createProductHandler)
	api.GET("/brands", s.listBrandsHandler)
	api.POST("/brands", s.createBrandHandler)

	// Objects of the local store, reached through signed URLs
	api.GET("/objects/*", s.objectHandler)
}

func (s *APIService) probeHandler(ctx echo.Context) error {
	if !s.coreService.IsDatabaseHealthy() {
		return ctx.String(http.StatusServiceUnavailable, "database unavailable")
	}
	return ctx.String(http.StatusOK, "API Service is running")
}

func (s *APIService) searchReviewsHandler(ctx echo.Context) error {
	filter, err := core.ParseSearchFilter(ctx.QueryParam)
	if err != nil {
		return s.errorResponse(ctx, "searchReviewsHandler", err)
	}
	reviews, err := s.coreService.SearchReviews(ctx.Request().Context(), filter)
	if err != nil {
		return s.errorResponse(ctx, "searchReviewsHandler", err)
	}
	return ctx.JSON(http.StatusOK, reviews)
}

func (s *APIService) createReviewHandler(ctx echo.Context) error {
	input, err := core.ParseReviewForm(ctx.FormValue)
	if err != nil {
		return s.errorResponse(ctx, "createReviewHandler", err)
	}
	images, err := s.uploadedImages(ctx, createImageField)
	if err != nil {
		return s.errorResponse(ctx, "createReviewHandler", err)
	}

	review, err := s.coreService.CreateReview(ctx.Request().Context(), input, images)
	if err != nil {
		return s.errorResponse(ctx, "createReviewHandler", err)
	}
	return ctx.JSON(http.StatusCreated, review)
}

func (s *APIService) getReviewHandler(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return s.errorResponse(ctx, "getReviewHandler", err)
	}
	review, err := s.coreService.GetReview(ctx.Request().Context(), id)
	if err != nil {
		return s.errorResponse(ctx, "getReviewHandler", err)
	}
	return ctx.JSON(http.StatusOK, review)
}

func (s *APIService) updateReviewHandler(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return s.errorResponse(ctx, "updateReviewHandler", err)
	}
	input, err := core.ParseReviewForm(ctx.FormValue)
	if err != nil {
		return s.errorResponse(ctx, "updateReviewHandler", err)
	}
	images, err := s.uploadedImages(ctx, updateImageField)
	if err != nil {
		return s.errorResponse(ctx, "updateReviewHandler", err)
	}

	// without new files the stored images are kept
	var replacement *[]intake.ImageFile
	if len(images) > 0 {
		replacement = &images
	}
	review, err := s.coreService.UpdateReview(ctx.Request().Context(), id, input, replacement)
	if err != nil {
		return s.errorResponse(ctx, "updateReviewHandler", err)
	}
	return ctx.JSON(http.StatusOK, review)
}

func (s *APIService) deleteReviewHandler(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return s.errorResponse(ctx, "deleteReviewHandler", err)
	}
	if err := s.coreService.DeleteReview(ctx.Request().Context(), id); err != nil {
		return s.errorResponse(ctx, "deleteReviewHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) createStoreHandler(ctx echo.Context) error {
	var input core.StoreInput
	if err := ctx.Bind(&input); err != nil {
		return s.errorResponse(ctx, "createStoreHandler", err)
	}
	if err := ctx.Validate(&input); err != nil {
		return s.errorResponse(ctx, "createStoreHandler", err)
	}
	store, err := s.coreService.CreateStore(ctx.Request().Context(), input)
	if err != nil {
		return s.errorResponse(ctx, "createStoreHandler", err)
	}
	return ctx.JSON(http.StatusCreated, store)
}

func (s *APIService) listStoresHandler(ctx echo.Context) error {
	var brandID int64
	if value := ctx.QueryParam("brandId"); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return s.errorResponse(ctx, "listStoresHandler", fmt.Errorf("%w: brandId must be an integer", core.ErrValidation))
		}
		brandID = id
	}
	stores, err := s.coreService.ListStores(ctx.Request().Context(), brandID)
	if err != nil {
		return s.errorResponse(ctx, "listStoresHandler", err)
	}
	return ctx.JSON(http.StatusOK, stores)
}

func (s *APIService) getStoreHandler(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return s.errorResponse(ctx, "getStoreHandler", err)
	}
	store, err := s.coreService.GetStore(ctx.Request().Context(), id)
	if err != nil {
		return s.errorResponse(ctx, "getStoreHandler", err)
	}
	return ctx.JSON(http.StatusOK, store)
}

func (s *APIService) updateStoreHandler(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return s.errorResponse(ctx, "updateStoreHandler", err)
	}
	var input core.StoreInput
	if err := ctx.Bind(&input); err != nil {
		return s.errorResponse(ctx, "updateStoreHandler", err)
	}
	if err := ctx.Validate(&input); err != nil {
		return s.errorResponse(ctx, "updateStoreHandler", err)
	}
	store, err := s.coreService.UpdateStore(ctx.Request().Context(), id, input)
	if err != nil {
		return s.errorResponse(ctx, "updateStoreHandler", err)
	}
	return ctx.JSON(http.StatusOK, store)
}

func (s *APIService) deleteStoreHandler(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return s.errorResponse(ctx, "deleteStoreHandler", err)
	}
	if err := s.coreService.DeleteStore(ctx.Request().Context(), id); err != nil {
		return s.errorResponse(ctx, "deleteStoreHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) getUserHandler(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return s.errorResponse(ctx, "getUserHandler", err)
	}
	user, err := s.coreService.GetUser(ctx.Request().Context(), id)
	if err != nil {
		return s.errorResponse(ctx, "getUserHandler", err)
	}
	return ctx.JSON(http.StatusOK, user)
}

func (s *APIService) createUserHandler(ctx echo.Context) error {
	var input core.UserInput
	if err := ctx.Bind(&input); err != nil {
		return s.errorResponse(ctx, "createUserHandler", err)
	}
	if err := ctx.Validate(&input); err != nil {
		return s.errorResponse(ctx, "createUserHandler", err)
	}
	user, err := s.coreService.CreateUser(ctx.Request().Context(), input)
	if err != nil {
		return s.errorResponse(ctx, "createUserHandler", err)
	}
	return ctx.JSON(http.StatusCreated, user)
}

func (s *APIService) listProductsHandler(ctx echo.Context) error {
	products, err := s.coreService.ListProducts(ctx.Request().Context())
	if err != nil {
		return s.errorResponse(ctx, "listProductsHandler", err)
	}
	return ctx.JSON(http.StatusOK, products)
}

func (s *APIService) createProductHandler(ctx echo.Context) error {
	var input core.NameInput
	if err := ctx.Bind(&input); err != nil {
		return s.errorResponse(ctx, "createProductHandler", err)
	}
	if err := ctx.Validate(&input); err != nil {
		return s.errorResponse(ctx, "createProductHandler", err)
	}
	product, err := s.coreService.CreateProduct(ctx.Request().Context(), input)
	if err != nil {
		return s.errorResponse(ctx, "createProductHandler", err)
	}
	return ctx.JSON(http.StatusCreated, product)
}

func (s *APIService) listBrandsHandler(ctx echo.Context) error {
	brands, err := s.coreService.ListBrands(ctx.Request().Context())
	if err != nil {
		return s.errorResponse(ctx, "listBrandsHandler", err)
	}
	return ctx.JSON(http.StatusOK, brands)
}

func (s *APIService) createBrandHandler(ctx echo.Context) error {
	var input core.NameInput
	if err := ctx.Bind(&input); err != nil {
		return s.errorResponse(ctx, "createBrandHandler", err)
	}
	if err := ctx.Validate(&input); err != nil {
		return s.errorResponse(ctx, "createBrandHandler", err)
	}
	brand, err := s.coreService.CreateBrand(ctx.Request().Context(), input)
	if err != nil {
		return s.errorResponse(ctx, "createBrandHandler", err)
	}
	return ctx.JSON(http.StatusCreated, brand)
}

func (s *APIService) objectHandler(ctx echo.Context) error {
	key := ctx.Param("*")
	data, contentType, err := s.coreService.OpenObject(key, ctx.QueryParam("expires"), ctx.QueryParam("signature"))
	if err != nil {
		return s.errorResponse(ctx, "objectHandler", err)
	}
	ctx.Response().Header().Set("Cache-Control", "private, max-age=60")
	return ctx.Blob(http.StatusOK, contentType, data)
}

// uploadedImages processes the multipart files of the given field. A request
// without files yields no images.
func (s *APIService) uploadedImages(ctx echo.Context, field string) ([]intake.ImageFile, error) {
	form, err := ctx.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	if len(headers) > s.config.Intake.MaxImages {
		return nil, &intake.LimitError{Requested: len(headers), Max: s.config.Intake.MaxImages}
	}

	orders, err := parseOrders(form, len(headers))
	if err != nil {
		return nil, err
	}
	files, err := common.ReadUploadedFiles(headers)
	if err != nil {
		return nil, err
	}
	return s.coreService.ProcessUploads(ctx.Request().Context(), files, orders)
}

// parseOrders reads one order value per file; a missing or partial list is ignored
func parseOrders(form *multipart.Form, count int) ([]int, error) {
	values := form.Value[ordersField]
	if len(values) != count {
		return nil, nil
	}
	orders := make([]int, len(values))
	for i, value := range values {
		order, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || order < 0 {
			return nil, fmt.Errorf("%w: invalid order value %q", core.ErrValidation, value)
		}
		orders[i] = order
	}
	return orders, nil
}

func idParam(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, database.ErrInvalidID
	}
	return id, nil
}

// StatusFor maps service errors to HTTP status codes
func StatusFor(err error) int {
	var httpErr *echo.HTTPError
	var batchErr *intake.BatchError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, database.ErrInvalidID),
		errors.Is(err, intake.ErrLimitExceeded),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, database.ErrReference),
		errors.As(err, &batchErr):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidSignature), errors.Is(err, storage.ErrURLExpired):
		return http.StatusForbidden
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, storage.ErrObjectNotFound),
		errors.Is(err, core.ErrNoImage):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIService) errorResponse(ctx echo.Context, handler string, err error) error {
	status := StatusFor(err)
	message := err.Error()
	switch {
	case errors.Is(err, database.ErrReference):
		message = database.ErrReference.Error()
	case errors.Is(err, database.ErrDuplicate):
		message = database.ErrDuplicate.Error()
	}
	if status >= http.StatusInternalServerError {
		slog.Error(handler+": request failed", "status", status, "error", err)
		message = http.StatusText(status)
	} else {
		slog.Warn(handler+": request rejected", "status", status, "error", err)
	}
	return ctx.JSON(status, map[string]string{"error": message})
}
