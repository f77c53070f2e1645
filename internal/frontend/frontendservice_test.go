package frontend

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/petitmarche/internal/backend/cache"
	"github.com/jo-hoe/petitmarche/internal/backend/database"
	"github.com/jo-hoe/petitmarche/internal/backend/storage"
	"github.com/jo-hoe/petitmarche/internal/core"
	"github.com/jo-hoe/petitmarche/internal/intake"
	"github.com/labstack/echo/v4"
)

var (
	draftIDPattern    = regexp.MustCompile(`/htmx/drafts/([0-9a-f-]+)/images`)
	previewURLPattern = regexp.MustCompile(`src="(/htmx/previews/[0-9a-f-]+)"`)
	removeURLPattern  = regexp.MustCompile(`hx-delete="(/htmx/drafts/[0-9a-f-]+/images/[0-9a-f-]+)"`)
)

type testServer struct {
	e           *echo.Echo
	coreService *core.CoreService
	drafts      *intake.Drafts
}

func newTestServer(t *testing.T, maxImages int) *testServer {
	t.Helper()
	config := core.NewDefaultConfig()
	config.Intake.MaxImages = maxImages
	db, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	store, err := storage.NewLocalStore(t.TempDir(), "test-key", storage.DefaultLocalBaseURL)
	if err != nil {
		t.Fatalf("NewLocalStore error: %v", err)
	}
	coreService, err := core.NewCoreServiceWithDependencies(config, db, store, cache.NoopURLCache{})
	if err != nil {
		t.Fatalf("NewCoreServiceWithDependencies error: %v", err)
	}
	drafts := intake.NewDrafts(coreService.NewDraftPipeline, time.Hour)
	t.Cleanup(func() {
		_ = drafts.Close()
		_ = coreService.Close()
	})

	e := echo.New()
	NewFrontendService(config, coreService, drafts).SetRoutes(e)
	return &testServer{e: e, coreService: coreService, drafts: drafts}
}

func (s *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return s.serve(httptest.NewRequest(http.MethodGet, target, nil))
}

// openDraft renders the new review form and returns the draft id embedded in it
func (s *testServer) openDraft(t *testing.T) string {
	t.Helper()
	rec := s.get(t, "/reviews/new")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for new review form, got %d", rec.Code)
	}
	match := draftIDPattern.FindStringSubmatch(rec.Body.String())
	if match == nil {
		t.Fatalf("form does not reference a draft: %s", rec.Body.String())
	}
	return match[1]
}

func (s *testServer) upload(t *testing.T, draftID string, files map[string][]byte, names ...string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, name := range names {
		part, err := writer.CreateFormFile(imagesField, name)
		if err != nil {
			t.Fatalf("CreateFormFile error: %v", err)
		}
		if _, err := part.Write(files[name]); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/htmx/drafts/"+draftID+"/images", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return s.serve(req)
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func TestIndex_ListsCatalogue(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)

	rec := server.get(t, "/")
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("expected redirect from root, got %d", rec.Code)
	}

	rec = server.get(t, "/index.html")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Seven-Eleven", "Onigiri", "No reviews found."} {
		if !strings.Contains(body, want) {
			t.Errorf("index page does not contain %q", want)
		}
	}
}

func TestNewReviewForm_ContentMatchesInputBounds(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)
	rec := server.get(t, "/reviews/new")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `<textarea name="content" rows="5" maxlength="2000" required>`) {
		t.Errorf("expected a required content field capped at 2000 characters, got %s", rec.Body.String())
	}
}

func TestDraftFlow_AddRemoveSubmit(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)
	ctx := context.Background()
	user, err := server.coreService.CreateUser(ctx, core.UserInput{Name: "taro", Email: "taro@example.com"})
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	draftID := server.openDraft(t)
	files := map[string][]byte{
		"front.png": pngBytes(t, 40, 20),
		"back.png":  pngBytes(t, 20, 40),
		"notes.txt": []byte("not an image"),
	}
	rec := server.upload(t, draftID, files, "front.png", "back.png", "notes.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for upload, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "notes.txt could not be read as an image") {
		t.Errorf("expected failure message for notes.txt, got %s", body)
	}
	previews := previewURLPattern.FindAllStringSubmatch(body, -1)
	if len(previews) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(previews))
	}
	if got := server.get(t, previews[0][1]); got.Code != http.StatusOK || got.Body.Len() == 0 {
		t.Errorf("expected preview to be served, got %d", got.Code)
	}

	removes := removeURLPattern.FindAllStringSubmatch(body, -1)
	if len(removes) != 2 {
		t.Fatalf("expected 2 remove buttons, got %d", len(removes))
	}
	rec = server.serve(httptest.NewRequest(http.MethodDelete, removes[0][1], nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for remove, got %d", rec.Code)
	}
	if n := len(previewURLPattern.FindAllString(rec.Body.String(), -1)); n != 1 {
		t.Errorf("expected 1 preview after remove, got %d", n)
	}
	if got := server.get(t, previews[0][1]); got.Code != http.StatusNotFound {
		t.Errorf("expected removed preview to be released, got %d", got.Code)
	}

	form := url.Values{
		"userId":      {strconv.FormatInt(user.ID, 10)},
		"productId":   {"1"},
		"brandId":     {"2"},
		"rating":      {"4"},
		"title":       {"Salmon onigiri"},
		"productName": {"Grilled salmon"},
		"price":       {"160"},
		"content":     {"Tasty and filling"},
	}
	req := httptest.NewRequest(http.MethodPost, "/htmx/drafts/"+draftID+"/submit", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec = server.serve(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for submit, got %d", rec.Code)
	}
	redirect := rec.Header().Get("HX-Redirect")
	if !strings.HasPrefix(redirect, "/reviews/") {
		t.Fatalf("expected HX-Redirect to the review, got %q (body %s)", redirect, rec.Body.String())
	}
	if server.drafts.Len() != 0 {
		t.Errorf("expected draft to be discarded after submit, %d open", server.drafts.Len())
	}
	if n := server.coreService.Previews().Outstanding(); n != 0 {
		t.Errorf("expected every preview to be released, %d outstanding", n)
	}

	rec = server.get(t, redirect)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for review page, got %d", rec.Code)
	}
	for _, want := range []string{"Salmon onigiri", "FamilyMart", "¥160", "★★★★☆", "/api/objects/reviews/"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("review page does not contain %q", want)
		}
	}

	reviewID := strings.TrimPrefix(redirect, "/reviews/")
	rec = server.get(t, "/htmx/thumb/"+reviewID)
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != mimeJPEG {
		t.Errorf("expected JPEG thumbnail, got %d %q", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}

	rec = server.get(t, "/htmx/search?productName=salmon")
	if !strings.Contains(rec.Body.String(), "/reviews/"+reviewID) {
		t.Errorf("expected search results to link the review, got %s", rec.Body.String())
	}
}

func TestDraftFlow_LimitExceeded(t *testing.T) {
	server := newTestServer(t, 2)
	draftID := server.openDraft(t)

	files := map[string][]byte{
		"a.png": pngBytes(t, 10, 10),
		"b.png": pngBytes(t, 10, 10),
		"c.png": pngBytes(t, 10, 10),
	}
	rec := server.upload(t, draftID, files, "a.png", "b.png", "c.png")
	body := rec.Body.String()
	if !strings.Contains(body, "You can attach at most 2 images") {
		t.Errorf("expected limit message, got %s", body)
	}
	if n := len(previewURLPattern.FindAllString(body, -1)); n != 0 {
		t.Errorf("expected rejected batch to add nothing, got %d previews", n)
	}
}

func TestDraftFlow_SubmitValidationError(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)
	draftID := server.openDraft(t)

	form := url.Values{"userId": {"1"}, "productId": {"1"}, "brandId": {"1"}, "rating": {"9"}}
	req := httptest.NewRequest(http.MethodPost, "/htmx/drafts/"+draftID+"/submit", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := server.serve(req)

	if rec.Header().Get("HX-Redirect") != "" {
		t.Errorf("expected no redirect for invalid review")
	}
	if !strings.Contains(rec.Body.String(), `class="error"`) {
		t.Errorf("expected error fragment, got %s", rec.Body.String())
	}
	if server.drafts.Len() != 1 {
		t.Errorf("expected draft to stay open, %d open", server.drafts.Len())
	}
}

func TestDraftFlow_DiscardAndExpired(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)
	draftID := server.openDraft(t)
	server.upload(t, draftID, map[string][]byte{"a.png": pngBytes(t, 10, 10)}, "a.png")

	rec := server.serve(httptest.NewRequest(http.MethodDelete, "/htmx/drafts/"+draftID, nil))
	if rec.Header().Get("HX-Redirect") != "/"+MainPageName {
		t.Errorf("expected redirect to index, got %q", rec.Header().Get("HX-Redirect"))
	}
	if n := server.coreService.Previews().Outstanding(); n != 0 {
		t.Errorf("expected discard to release previews, %d outstanding", n)
	}

	rec = server.upload(t, draftID, map[string][]byte{"b.png": pngBytes(t, 10, 10)}, "b.png")
	if !strings.Contains(rec.Body.String(), "expired") {
		t.Errorf("expected expired message, got %s", rec.Body.String())
	}
}

func TestSearch_InvalidPriceRange(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)

	rec := server.get(t, "/htmx/search?priceMin=500&priceMax=100")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `class="error"`) {
		t.Errorf("expected error message, got %s", rec.Body.String())
	}
}

func TestReviewPage_Errors(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)

	tests := []struct {
		target string
		want   int
	}{
		{"/reviews/abc", http.StatusBadRequest},
		{"/reviews/42", http.StatusNotFound},
		{"/htmx/thumb/42", http.StatusNotFound},
		{"/htmx/previews/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if rec := server.get(t, tt.target); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestIcon(t *testing.T) {
	server := newTestServer(t, intake.DefaultMaxImages)

	rec := server.get(t, "/icon.svg")
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "image/svg+xml" {
		t.Errorf("expected SVG icon, got %d %q", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
}

func TestStars(t *testing.T) {
	tests := map[int]string{0: "☆☆☆☆☆", 3: "★★★☆☆", 5: "★★★★★", 7: "★★★★★"}
	for rating, want := range tests {
		if got := stars(rating); got != want {
			t.Errorf("stars(%d) = %q, want %q", rating, got, want)
		}
	}
}
