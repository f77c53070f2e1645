package frontend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jo-hoe/petitmarche/internal/backend"
	"github.com/jo-hoe/petitmarche/internal/backend/database"
	"github.com/jo-hoe/petitmarche/internal/common"
	"github.com/jo-hoe/petitmarche/internal/core"
	"github.com/jo-hoe/petitmarche/internal/intake"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName   = "index.html"
	reviewPageName = "review.html"
	formPageName   = "form.html"
	imagesField    = "images"
	mimeJPEG       = "image/jpeg"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
	drafts      *intake.Drafts
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService, drafts *intake.Drafts) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
		drafts:      drafts,
	}
}

type searchView struct {
	Reviews []database.Review
	Error   string
}

type indexView struct {
	Brands   []database.Brand
	Products []database.Product
	Results  searchView
}

type reviewView struct {
	Review *database.Review
	Brand  string
}

type draftImage struct {
	ID       string
	URL      string
	Filename string
	Order    int
	IsMain   bool
	Width    int
	Height   int
}

type draftImagesView struct {
	DraftID   string
	Items     []draftImage
	Max       int
	Remaining int
	Errors    []string
}

type formView struct {
	Brands   []database.Brand
	Products []database.Product
	Images   draftImagesView
}

// rootRedirectHandler redirects root path to index.html
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = newTemplate()

	e.GET("/", service.rootRedirectHandler) // Redirect root to index.html
	e.GET("/"+MainPageName, service.indexHandler)
	e.GET("/htmx/search", service.htmxSearchHandler)

	e.GET("/reviews/new", service.newReviewHandler)
	e.GET("/reviews/:id", service.reviewHandler)

	// Draft image intake
	e.POST("/htmx/drafts/:draft/images", service.htmxAddDraftImagesHandler)
	e.DELETE("/htmx/drafts/:draft/images/:id", service.htmxRemoveDraftImageHandler)
	e.POST("/htmx/drafts/:draft/submit", service.htmxSubmitDraftHandler)
	e.DELETE("/htmx/drafts/:draft", service.htmxDiscardDraftHandler)
	e.GET(core.PreviewBasePath+"/:token", service.htmxPreviewHandler)

	e.GET("/htmx/thumb/:id", service.htmxThumbnailHandler)

	// Favicon (SVG) route
	e.GET("/icon.svg", service.iconHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	brands, products, err := service.catalogue(ctx)
	if err != nil {
		return service.pageError(ctx, "indexHandler", err)
	}
	reviews, err := service.coreService.SearchReviews(ctx.Request().Context(), core.SearchFilter{})
	if err != nil {
		return service.pageError(ctx, "indexHandler", err)
	}
	return ctx.Render(http.StatusOK, MainPageName, indexView{
		Brands:   brands,
		Products: products,
		Results:  searchView{Reviews: reviews},
	})
}

func (service *FrontendService) htmxSearchHandler(ctx echo.Context) error {
	service.setNoCache(ctx)

	filter, err := core.ParseSearchFilter(ctx.QueryParam)
	if err != nil {
		slog.Warn("htmxSearchHandler: invalid search", "error", err)
		return ctx.Render(http.StatusOK, "search-results", searchView{Error: err.Error()})
	}
	reviews, err := service.coreService.SearchReviews(ctx.Request().Context(), filter)
	if err != nil {
		slog.Error("htmxSearchHandler: search failed", "error", err)
		return ctx.Render(http.StatusOK, "search-results", searchView{Error: "Search failed, please try again"})
	}
	return ctx.Render(http.StatusOK, "search-results", searchView{Reviews: reviews})
}

func (service *FrontendService) newReviewHandler(ctx echo.Context) error {
	brands, products, err := service.catalogue(ctx)
	if err != nil {
		return service.pageError(ctx, "newReviewHandler", err)
	}
	draft := service.drafts.Create()
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, formPageName, formView{
		Brands:   brands,
		Products: products,
		Images:   service.draftImages(draft),
	})
}

func (service *FrontendService) reviewHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return ctx.String(http.StatusBadRequest, "Invalid review ID")
	}
	review, err := service.coreService.GetReview(ctx.Request().Context(), id)
	if err != nil {
		return service.pageError(ctx, "reviewHandler", err)
	}

	view := reviewView{Review: review}
	brands, err := service.coreService.ListBrands(ctx.Request().Context())
	if err != nil {
		slog.Warn("reviewHandler: failed to list brands", "error", err)
	}
	for _, brand := range brands {
		if brand.ID == review.BrandID {
			view.Brand = brand.Name
		}
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, reviewPageName, view)
}

func (service *FrontendService) htmxAddDraftImagesHandler(ctx echo.Context) error {
	draft, ok := service.drafts.Get(ctx.Param("draft"))
	if !ok {
		return service.draftGone(ctx)
	}
	service.setNoCache(ctx)

	form, err := ctx.MultipartForm()
	if err != nil {
		slog.Warn("htmxAddDraftImagesHandler: failed to parse upload", "draft_id", draft.ID, "error", err)
		return service.renderDraftImages(ctx, draft, "Failed to read the selected files")
	}
	files, err := common.ReadUploadedFiles(form.File[imagesField])
	if err != nil {
		slog.Error("htmxAddDraftImagesHandler: failed to read upload", "draft_id", draft.ID, "error", err)
		return service.renderDraftImages(ctx, draft, "Failed to read the selected files")
	}

	_, err = draft.Pipeline().AddBatch(ctx.Request().Context(), files)
	var messages []string
	var batchErr *intake.BatchError
	switch {
	case err == nil:
	case errors.Is(err, intake.ErrLimitExceeded):
		messages = append(messages, fmt.Sprintf("You can attach at most %d images", draft.Pipeline().MaxImages()))
	case errors.As(err, &batchErr):
		for _, failure := range batchErr.Failures {
			messages = append(messages, fmt.Sprintf("%s could not be read as an image", failure.Filename))
		}
	default:
		slog.Error("htmxAddDraftImagesHandler: failed to add images", "draft_id", draft.ID, "error", err)
		messages = append(messages, "Failed to add the selected images")
	}
	return service.renderDraftImages(ctx, draft, messages...)
}

func (service *FrontendService) htmxRemoveDraftImageHandler(ctx echo.Context) error {
	draft, ok := service.drafts.Get(ctx.Param("draft"))
	if !ok {
		return service.draftGone(ctx)
	}
	service.setNoCache(ctx)

	if _, err := draft.Pipeline().Remove(ctx.Param("id")); err != nil {
		slog.Error("htmxRemoveDraftImageHandler: failed to remove image",
			"draft_id", draft.ID, "image_id", ctx.Param("id"), "error", err)
		return service.renderDraftImages(ctx, draft, "Failed to remove the image")
	}
	return service.renderDraftImages(ctx, draft)
}

func (service *FrontendService) htmxSubmitDraftHandler(ctx echo.Context) error {
	draft, ok := service.drafts.Get(ctx.Param("draft"))
	if !ok {
		return ctx.Render(http.StatusOK, "form-error", "This form has expired, please reload the page")
	}

	input, err := core.ParseReviewForm(ctx.FormValue)
	if err != nil {
		return ctx.Render(http.StatusOK, "form-error", err.Error())
	}
	review, err := service.coreService.CreateReview(ctx.Request().Context(), input, draft.Images())
	if err != nil {
		if backend.StatusFor(err) >= http.StatusInternalServerError {
			slog.Error("htmxSubmitDraftHandler: failed to create review", "draft_id", draft.ID, "error", err)
			return ctx.Render(http.StatusOK, "form-error", "Failed to post the review, please try again")
		}
		slog.Warn("htmxSubmitDraftHandler: review rejected", "draft_id", draft.ID, "error", err)
		return ctx.Render(http.StatusOK, "form-error", err.Error())
	}

	if _, err := service.drafts.Discard(draft.ID); err != nil {
		slog.Error("htmxSubmitDraftHandler: failed to discard draft", "draft_id", draft.ID, "error", err)
	}
	ctx.Response().Header().Set("HX-Redirect", fmt.Sprintf("/reviews/%d", review.ID))
	return ctx.NoContent(http.StatusOK)
}

func (service *FrontendService) htmxDiscardDraftHandler(ctx echo.Context) error {
	if _, err := service.drafts.Discard(ctx.Param("draft")); err != nil {
		slog.Error("htmxDiscardDraftHandler: failed to discard draft", "draft_id", ctx.Param("draft"), "error", err)
	}
	ctx.Response().Header().Set("HX-Redirect", "/"+MainPageName)
	return ctx.NoContent(http.StatusOK)
}

func (service *FrontendService) htmxPreviewHandler(ctx echo.Context) error {
	data, contentType, ok := service.coreService.Previews().Open(ctx.Param("token"))
	if !ok {
		return ctx.String(http.StatusNotFound, "Preview not available")
	}
	ctx.Response().Header().Set("Cache-Control", "private, max-age=300")
	return ctx.Blob(http.StatusOK, contentType, data)
}

func (service *FrontendService) htmxThumbnailHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return ctx.String(http.StatusBadRequest, "Invalid review ID")
	}
	thumbnail, err := service.coreService.Thumbnail(ctx.Request().Context(), id)
	if err != nil {
		status := backend.StatusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("htmxThumbnailHandler: failed to build thumbnail", "review_id", id, "error", err)
			return ctx.String(status, "Failed to build thumbnail")
		}
		return ctx.String(status, "Thumbnail not available")
	}
	ctx.Response().Header().Set("Cache-Control", "private, max-age=300")
	return ctx.Blob(http.StatusOK, mimeJPEG, thumbnail)
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}

func (service *FrontendService) catalogue(ctx echo.Context) ([]database.Brand, []database.Product, error) {
	brands, err := service.coreService.ListBrands(ctx.Request().Context())
	if err != nil {
		return nil, nil, err
	}
	products, err := service.coreService.ListProducts(ctx.Request().Context())
	if err != nil {
		return nil, nil, err
	}
	return brands, products, nil
}

func (service *FrontendService) draftImages(draft *intake.Draft, messages ...string) draftImagesView {
	pipeline := draft.Pipeline()
	snapshot := pipeline.Snapshot()
	urls := make(map[string]string, len(snapshot.Previews))
	for _, preview := range snapshot.Previews {
		urls[preview.ImageID] = preview.URL
	}

	items := make([]draftImage, 0, len(snapshot.Images))
	for _, img := range snapshot.Images {
		items = append(items, draftImage{
			ID:       img.ID,
			URL:      urls[img.ID],
			Filename: img.Filename,
			Order:    img.Order,
			IsMain:   img.IsMain,
			Width:    img.Width,
			Height:   img.Height,
		})
	}
	return draftImagesView{
		DraftID:   draft.ID,
		Items:     items,
		Max:       pipeline.MaxImages(),
		Remaining: snapshot.Remaining,
		Errors:    messages,
	}
}

func (service *FrontendService) renderDraftImages(ctx echo.Context, draft *intake.Draft, messages ...string) error {
	return ctx.Render(http.StatusOK, "draft-images", service.draftImages(draft, messages...))
}

func (service *FrontendService) draftGone(ctx echo.Context) error {
	return ctx.Render(http.StatusOK, "draft-images", draftImagesView{
		Errors: []string{"This form has expired, please reload the page"},
	})
}

func (service *FrontendService) pageError(ctx echo.Context, handler string, err error) error {
	status := backend.StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(handler+": request failed", "status", status, "error", err)
		return ctx.String(status, "Something went wrong")
	}
	slog.Warn(handler+": request rejected", "status", status, "error", err)
	return ctx.String(status, http.StatusText(status))
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
