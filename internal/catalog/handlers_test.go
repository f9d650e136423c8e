package catalog_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/catalog"
)

func newCatalogRouter(t *testing.T) http.Handler {
	t.Helper()
	handler := catalog.NewHandler(catalog.HandlerConfig{Catalog: catalog.MustDefault()})
	r := chi.NewRouter()
	r.Route("/api/v1", handler.Routes)
	return r
}

func TestCatalogHandlers(t *testing.T) {
	router := newCatalogRouter(t)

	t.Run("categories", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data []catalog.Category `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 5)
		require.Equal(t, "sandwiches", resp.Data[0].ID)
	})

	t.Run("category items", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/categories/drinks/items", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 2)
		require.Equal(t, 3.5, resp.Data[0]["price"])
	})

	t.Run("unknown category items is empty list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/categories/pizza/items", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"data":[]}`, rec.Body.String())
	})

	t.Run("item detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/items/sandwich-1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data catalog.Item `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "Club Sandwich", resp.Data.Name)
		require.Len(t, resp.Data.Options, 2)
	})

	t.Run("not found", func(t *testing.T) {
		for _, path := range []string{"/api/v1/items/nope", "/api/v1/categories/nope"} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusNotFound, rec.Code, path)
		}
	})

	t.Run("items filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/items?category=desserts", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data []catalog.Item `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 2)
	})
}
