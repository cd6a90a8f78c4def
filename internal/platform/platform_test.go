package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync/internal/model"
)

func TestGIDHelpers(t *testing.T) {
	assert.Equal(t, "gid://shopify/InventoryItem/42", GID("InventoryItem", "42"))
	assert.Equal(t, "gid://shopify/InventoryItem/42", GID("InventoryItem", "gid://shopify/InventoryItem/42"))
	assert.Equal(t, "", GID("Location", ""))
	assert.Equal(t, "42", LegacyID("gid://shopify/InventoryItem/42"))
	assert.Equal(t, "7", LegacyID("gid://shopify/Location/7?inventory_item_id=1"))
	assert.Equal(t, "42", LegacyID("42"))
	assert.True(t, IsGID("gid://shopify/Location/1"))
	assert.False(t, IsGID("1"))
}

func TestChunk(t *testing.T) {
	updates := make([]QuantityUpdate, 7)
	chunks := Chunk(updates, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[2], 1)
	assert.Empty(t, Chunk(nil, 3))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&Error{Status: 503, Transient: true}))
	assert.False(t, IsTransient(&Error{Status: 400}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("boom")))
}

func newTestGraphQL(t *testing.T, handler http.HandlerFunc) *GraphQLClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGraphQLClient(GraphQLConfig{
		RequestsPerSecond: 1000,
		Endpoint:          func(string) string { return srv.URL },
	})
}

func TestGraphQL_SetQuantities(t *testing.T) {
	var got gqlRequest
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-Shopify-Access-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"data":{"inventorySetQuantities":{"userErrors":[]}}}`))
	})

	err := c.SetQuantities(context.Background(), Session{Domain: "a", AccessToken: "tok"},
		[]QuantityUpdate{{InventoryItemRef: "1", LocationRef: "2", Quantity: 5}}, "")
	require.NoError(t, err)

	input := got.Variables["input"].(map[string]any)
	assert.Equal(t, "correction", input["reason"])
	q := input["quantities"].([]any)[0].(map[string]any)
	assert.Equal(t, "gid://shopify/InventoryItem/1", q["inventoryItemId"])
	assert.Equal(t, "gid://shopify/Location/2", q["locationId"])
}

func TestGraphQL_UserErrors(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"inventorySetQuantities":{"userErrors":[{"field":["input","quantities"],"message":"bad"}]}}}`))
	})

	err := c.SetQuantities(context.Background(), Session{Domain: "a"}, []QuantityUpdate{{Quantity: 1}}, "correction")
	var ue UserErrors
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, err.Error(), "input.quantities: bad")
	assert.False(t, IsTransient(err))
}

func TestGraphQL_Throttled(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.ListLocations(context.Background(), Session{Domain: "a"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestGraphQL_ListLocationsMarksPrimary(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"locations":{"nodes":[
			{"id":"gid://shopify/Location/1","name":"Warehouse","isActive":true},
			{"id":"gid://shopify/Location/2","name":"Shop","isActive":true}]},
			"location":{"id":"gid://shopify/Location/2"}}}`))
	})

	locs, err := c.ListLocations(context.Background(), Session{Domain: "a"})
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.False(t, locs[0].Primary)
	assert.True(t, locs[1].Primary)
}

func TestGraphQL_RateLimitIsPerShop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"locations":{"nodes":[]},"location":{"id":""}}}`))
	}))
	t.Cleanup(srv.Close)
	c := NewGraphQLClient(GraphQLConfig{
		RequestsPerSecond: 0.01,
		Burst:             1,
		Endpoint:          func(string) string { return srv.URL },
	})

	_, err := c.ListLocations(context.Background(), Session{Domain: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListLocations(ctx, Session{Domain: "a"})
	assert.Error(t, err, "shop a has spent its burst")

	_, err = c.ListLocations(ctx, Session{Domain: "b"})
	assert.NoError(t, err, "shop b has its own budget")
}

func TestGraphQL_FindVariantBySku(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"productVariants":{"nodes":[{
			"id":"gid://shopify/ProductVariant/11","sku":"SKU-A","title":"Red","inventoryPolicy":"CONTINUE",
			"product":{"id":"gid://shopify/Product/10","title":"Shirt"},
			"inventoryItem":{"id":"gid://shopify/InventoryItem/12","tracked":true,
			  "inventoryLevels":{"nodes":[{"location":{"id":"gid://shopify/Location/1"},
			    "quantities":[{"name":"available","quantity":7},{"name":"committed","quantity":1}]}]}}}]}}}`))
	})

	v, err := c.FindVariantBySku(context.Background(), Session{Domain: "a"}, "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, "Shirt - Red", v.Title)
	assert.Equal(t, model.OversellContinue, v.OversellPolicy)
	assert.True(t, v.TracksInventory)
	require.Len(t, v.Levels, 1)
	assert.Equal(t, 7, v.Levels[0].Available)

	_, err = c.FindVariantBySku(context.Background(), Session{Domain: "a"}, "SKU-Z")
	assert.ErrorIs(t, err, ErrVariantNotFound)
}

func TestMemoryClient_FailAndDelay(t *testing.T) {
	m := NewMemoryClient()
	m.AddVariant("a", Variant{SKU: "SKU-A", InventoryItemRef: "gid://shopify/InventoryItem/1"},
		LocationQuantity{LocationRef: "gid://shopify/Location/1", Quantities: model.Quantities{Available: 3}})

	require.NoError(t, m.SetQuantities(context.Background(), Session{Domain: "a"},
		[]QuantityUpdate{{InventoryItemRef: "1", LocationRef: "1", Quantity: 9}}, "correction"))
	assert.Equal(t, 9, m.Available("a", "1", "gid://shopify/Location/1"))
	require.Len(t, m.Calls(), 1)

	v, err := m.LookupInventoryItem(context.Background(), Session{Domain: "a"}, "1")
	require.NoError(t, err)
	assert.Equal(t, "SKU-A", v.SKU)

	m.Fail("a", errors.New("down"))
	_, err = m.FindVariantBySku(context.Background(), Session{Domain: "a"}, "SKU-A")
	assert.EqualError(t, err, "down")
	m.Fail("a", nil)

	m.Delay("a", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.ListLocations(ctx, Session{Domain: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryClient_ListVariantsPages(t *testing.T) {
	m := NewMemoryClient()
	for _, sku := range []string{"A", "B", "C"} {
		m.AddVariant("a", Variant{SKU: sku, InventoryItemRef: sku})
	}

	page, next, err := m.ListVariants(context.Background(), Session{Domain: "a"}, "", 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, "2", next)

	page, next, err = m.ListVariants(context.Background(), Session{Domain: "a"}, next, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)
}
