package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jo-hoe/petitmarche/internal/backend/cache"
	"github.com/jo-hoe/petitmarche/internal/backend/database"
	"github.com/jo-hoe/petitmarche/internal/backend/storage"
	"github.com/jo-hoe/petitmarche/internal/core"
	"github.com/labstack/echo/v4"
)

func newTestServer(t *testing.T) (*echo.Echo, *core.CoreService) {
	t.Helper()
	config := core.NewDefaultConfig()
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
	t.Cleanup(func() { _ = coreService.Close() })

	e := echo.New()
	NewAPIService(config, coreService).SetRoutes(e)
	return e, coreService
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

type multipartFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, method, target string, fields map[string][]string, files []multipartFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, values := range fields {
		for _, value := range values {
			if err := writer.WriteField(name, value); err != nil {
				t.Fatalf("WriteField error: %v", err)
			}
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		if err != nil {
			t.Fatalf("CreateFormFile error: %v", err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func createUser(t *testing.T, e *echo.Echo) int64 {
	t.Helper()
	rec := serve(e, jsonRequest(http.MethodPost, "/api/users", `{"name":"hanako","email":"hanako@example.com"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating user, got %d: %s", rec.Code, rec.Body.String())
	}
	var user database.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}
	return user.ID
}

func reviewFields(userID int64) map[string][]string {
	return map[string][]string{
		"userId":       {fmt.Sprint(userID)},
		"productId":    {"1"},
		"brandId":      {"1"},
		"rating":       {"5"},
		"title":        {"Best melon pan"},
		"productName":  {"Melon pan"},
		"price":        {"150"},
		"purchaseDate": {"2024-05-01"},
		"content":      {"Crispy top"},
	}
}

func decodeReview(t *testing.T, rec *httptest.ResponseRecorder) database.Review {
	t.Helper()
	var review database.Review
	if err := json.Unmarshal(rec.Body.Bytes(), &review); err != nil {
		t.Fatalf("failed to decode review: %v (%s)", err, rec.Body.String())
	}
	return review
}

func TestProbe(t *testing.T) {
	e, _ := newTestServer(t)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/probe", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReviewLifecycle(t *testing.T) {
	e, _ := newTestServer(t)
	userID := createUser(t, e)

	fields := reviewFields(userID)
	fields["orders"] = []string{"1", "0"}
	rec := serve(e, multipartRequest(t, http.MethodPost, "/api/reviews", fields, []multipartFile{
		{field: "image", name: "first.png", data: pngBytes(t, 40, 20)},
		{field: "image", name: "second.png", data: pngBytes(t, 20, 40)},
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeReview(t, rec)
	if len(created.Images) != 2 || !created.Images[0].IsMain || created.Images[0].Order != 0 {
		t.Fatalf("unexpected images: %+v", created.Images)
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/reviews/%d", created.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	fetched := decodeReview(t, rec)
	if fetched.Title != "Best melon pan" || fetched.Price == nil || *fetched.Price != 150 {
		t.Errorf("unexpected review: %+v", fetched)
	}

	// the signed URL must serve the stored JPEG
	rec = serve(e, httptest.NewRequest(http.MethodGet, fetched.Images[0].URL, nil))
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "image/jpeg" {
		t.Fatalf("expected signed object, got %d %q", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("signed object is not an image: %v", err)
	}
	if cfg.Width != 20 || cfg.Height != 40 {
		t.Errorf("expected second upload to be the main image (20x40), got %dx%d", cfg.Width, cfg.Height)
	}

	fields = reviewFields(userID)
	fields["title"] = []string{"Updated"}
	rec = serve(e, multipartRequest(t, http.MethodPut, fmt.Sprintf("/api/reviews/%d", created.ID), fields, []multipartFile{
		{field: "images", name: "third.png", data: pngBytes(t, 30, 30)},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeReview(t, rec)
	if updated.Title != "Updated" || len(updated.Images) != 1 {
		t.Errorf("unexpected updated review: %+v", updated)
	}

	rec = serve(e, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/reviews/%d", created.ID), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/reviews/%d", created.ID), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateReview_Errors(t *testing.T) {
	e, _ := newTestServer(t)
	userID := createUser(t, e)

	tooMany := make([]multipartFile, 4)
	for i := range tooMany {
		tooMany[i] = multipartFile{field: "image", name: fmt.Sprintf("%d.png", i), data: pngBytes(t, 4, 4)}
	}
	invalid := reviewFields(userID)
	invalid["rating"] = []string{"9"}
	notNumber := reviewFields(userID)
	notNumber["price"] = []string{"cheap"}

	tests := []struct {
		name   string
		fields map[string][]string
		files  []multipartFile
	}{
		{"too many images", reviewFields(userID), tooMany},
		{"rating out of range", invalid, nil},
		{"price not a number", notNumber, nil},
		{"undecodable image", reviewFields(userID), []multipartFile{{field: "image", name: "x.png", data: []byte("garbage")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, multipartRequest(t, http.MethodPost, "/api/reviews", tt.fields, tt.files))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestConstraintViolations(t *testing.T) {
	e, _ := newTestServer(t)
	userID := createUser(t, e)

	unknownUser := reviewFields(userID + 100)
	unknownStore := reviewFields(userID)
	unknownStore["storeId"] = []string{"4242"}

	tests := []struct {
		name    string
		request func(t *testing.T) *http.Request
		status  int
		message string
	}{
		{"review with unknown user", func(t *testing.T) *http.Request {
			return multipartRequest(t, http.MethodPost, "/api/reviews", unknownUser, nil)
		}, http.StatusBadRequest, database.ErrReference.Error()},
		{"review with unknown store", func(t *testing.T) *http.Request {
			return multipartRequest(t, http.MethodPost, "/api/reviews", unknownStore, nil)
		}, http.StatusBadRequest, database.ErrReference.Error()},
		{"duplicate user email", func(t *testing.T) *http.Request {
			return jsonRequest(http.MethodPost, "/api/users", `{"name":"hanako2","email":"hanako@example.com"}`)
		}, http.StatusConflict, database.ErrDuplicate.Error()},
		{"store with unknown brand", func(t *testing.T) *http.Request {
			return jsonRequest(http.MethodPost, "/api/stores", `{"brandId":99,"name":"Namba","latitude":34.66,"longitude":135.50,"prefecture":"Osaka","city":"Osaka","streetAddress1":"3-1","zip":"542-0076"}`)
		}, http.StatusBadRequest, database.ErrReference.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.request(t))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] != tt.message {
				t.Errorf("expected error %q, got %s", tt.message, rec.Body.String())
			}
		})
	}
}

func TestJSONHandlers_ValidateBeforeCore(t *testing.T) {
	e := echo.New()
	config := core.NewDefaultConfig()
	NewAPIService(config, nil).SetRoutes(e)
	if e.Validator == nil {
		t.Fatal("expected SetRoutes to install a validator")
	}

	rec := serve(e, jsonRequest(http.MethodPost, "/api/users", `{"name":"taro","email":"not-an-email"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "invalid request body") {
		t.Errorf("expected echo validator message, got %s", rec.Body.String())
	}
}

func TestSearchReviews(t *testing.T) {
	e, coreService := newTestServer(t)
	userID := createUser(t, e)

	for _, name := range []string{"Melon pan", "Curry pan", "Green tea"} {
		fields := reviewFields(userID)
		fields["productName"] = []string{name}
		rec := serve(e, multipartRequest(t, http.MethodPost, "/api/reviews", fields, nil))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
	}

	query := url.Values{"productName": {"pan"}, "priceMin": {"100"}, "priceMax": {"200"}}
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/reviews?"+query.Encode(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var reviews []database.Review
	if err := json.Unmarshal(rec.Body.Bytes(), &reviews); err != nil {
		t.Fatalf("failed to decode reviews: %v", err)
	}
	if len(reviews) != 2 || reviews[0].ProductName != "Curry pan" {
		t.Errorf("expected the two pan reviews newest first, got %+v", reviews)
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/reviews?priceMin=300&priceMax=100", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted range, got %d", rec.Code)
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/reviews?brandId=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed brandId, got %d", rec.Code)
	}

	if _, err := coreService.SearchReviews(context.Background(), core.SearchFilter{}); err != nil {
		t.Fatalf("SearchReviews error: %v", err)
	}
}

func TestStoreRoutes(t *testing.T) {
	e, _ := newTestServer(t)

	body := `{"brandId":1,"name":"Namba","latitude":34.66,"longitude":135.50,"prefecture":"Osaka","city":"Osaka","streetAddress1":"3-1","zip":"542-0076"}`
	rec := serve(e, jsonRequest(http.MethodPost, "/api/stores", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var store database.Store
	if err := json.Unmarshal(rec.Body.Bytes(), &store); err != nil {
		t.Fatalf("failed to decode store: %v", err)
	}

	rec = serve(e, jsonRequest(http.MethodPut, fmt.Sprintf("/api/stores/%d", store.ID), strings.Replace(body, "542-0076", "5420076", 1)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed zip, got %d", rec.Code)
	}
	rec = serve(e, jsonRequest(http.MethodPut, fmt.Sprintf("/api/stores/%d", store.ID), strings.Replace(body, "Namba", "Namba 2", 1)))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/stores?brandId=1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Namba 2") {
		t.Errorf("expected store in brand listing, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/stores?brandId=2", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty listing for another brand, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/stores?brandId=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed brandId, got %d", rec.Code)
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/stores/%d", store.ID), nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Namba 2") {
		t.Errorf("expected updated store, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/stores/%d", store.ID), nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/stores/abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id, got %d", rec.Code)
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/stores/%d", store.ID), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCatalogueAndUserRoutes(t *testing.T) {
	e, _ := newTestServer(t)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/brands", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var brands []database.Brand
	if err := json.Unmarshal(rec.Body.Bytes(), &brands); err != nil || len(brands) == 0 {
		t.Fatalf("expected seeded brands, got %s", rec.Body.String())
	}

	rec = serve(e, jsonRequest(http.MethodPost, "/api/products", `{"name":"Frozen"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, jsonRequest(http.MethodPost, "/api/brands", `{"name":""}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty brand name, got %d", rec.Code)
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	if !strings.Contains(rec.Body.String(), `"name":"Frozen"`) {
		t.Errorf("expected new product in list, got %s", rec.Body.String())
	}

	userID := createUser(t, e)
	rec = serve(e, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/users/%d", userID), nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hanako@example.com") {
		t.Errorf("expected user, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/users/999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestObjectRoute_RejectsBadSignature(t *testing.T) {
	e, _ := newTestServer(t)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/objects/reviews/a.jpg?expires=9999999999&signature=deadbeef", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
