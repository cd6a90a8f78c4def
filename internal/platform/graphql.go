package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"stocksync/internal/model"
)

// GraphQLConfig holds Admin GraphQL client settings.
type GraphQLConfig struct {
	APIVersion string
	Timeout    time.Duration
	// RequestsPerSecond paces calls to each shop; zero means 2/s.
	RequestsPerSecond float64
	// Burst is the per-shop burst; zero means 4.
	Burst int
	// Endpoint overrides the per-domain URL (tests).
	Endpoint func(domain string) string
}

// GraphQLClient is the Client over the platform's Admin GraphQL API.
type GraphQLClient struct {
	http     *http.Client
	version  string
	endpoint func(domain string) string

	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGraphQLClient creates a GraphQL platform client.
func NewGraphQLClient(cfg GraphQLConfig) *GraphQLClient {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-10"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	c := &GraphQLClient{
		http:     &http.Client{Timeout: cfg.Timeout},
		version:  cfg.APIVersion,
		endpoint: cfg.Endpoint,
		rps:      rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
	if c.endpoint == nil {
		c.endpoint = func(domain string) string {
			return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, c.version)
		}
	}
	return c
}

// limiter returns the shop's limiter; each shop has its own API budget.
func (c *GraphQLClient) limiter(domain string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[domain]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[domain] = l
	}
	return l
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func (c *GraphQLClient) do(ctx context.Context, s Session, query string, vars map[string]any, out any) error {
	if err := c.limiter(s.Domain).Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(s.Domain), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", s.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Domain: s.Domain, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &Error{Domain: s.Domain, Message: err.Error(), Transient: true}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{
			Domain:    s.Domain,
			Status:    resp.StatusCode,
			Message:   truncate(string(raw), 200),
			Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return &Error{Domain: s.Domain, Message: "invalid response: " + err.Error()}
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		transient := false
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
			if e.Extensions.Code == "THROTTLED" {
				transient = true
			}
		}
		return &Error{Domain: s.Domain, Message: strings.Join(msgs, "; "), Transient: transient}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return &Error{Domain: s.Domain, Message: "invalid data: " + err.Error()}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type gqlQuantity struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type gqlLevel struct {
	Location struct {
		ID string `json:"id"`
	} `json:"location"`
	Quantities []gqlQuantity `json:"quantities"`
}

func (l gqlLevel) toQuantity() LocationQuantity {
	lq := LocationQuantity{LocationRef: l.Location.ID}
	for _, q := range l.Quantities {
		switch q.Name {
		case "available":
			lq.Available = q.Quantity
		case "committed":
			lq.Committed = q.Quantity
		case "incoming":
			lq.Incoming = q.Quantity
		}
	}
	return lq
}

type gqlVariant struct {
	ID              string `json:"id"`
	SKU             string `json:"sku"`
	Title           string `json:"title"`
	InventoryPolicy string `json:"inventoryPolicy"`
	Product         struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"product"`
	InventoryItem struct {
		ID              string `json:"id"`
		Tracked         bool   `json:"tracked"`
		InventoryLevels struct {
			Nodes []gqlLevel `json:"nodes"`
		} `json:"inventoryLevels"`
	} `json:"inventoryItem"`
}

func (v gqlVariant) toVariant() Variant {
	title := v.Product.Title
	if v.Title != "" && v.Title != "Default Title" {
		title += " - " + v.Title
	}
	out := Variant{
		ProductRef:       v.Product.ID,
		VariantRef:       v.ID,
		InventoryItemRef: v.InventoryItem.ID,
		SKU:              v.SKU,
		Title:            title,
		TracksInventory:  v.InventoryItem.Tracked,
		OversellPolicy:   model.OversellDeny,
	}
	if strings.EqualFold(v.InventoryPolicy, "CONTINUE") {
		out.OversellPolicy = model.OversellContinue
	}
	for _, l := range v.InventoryItem.InventoryLevels.Nodes {
		out.Levels = append(out.Levels, l.toQuantity())
	}
	return out
}

const levelsFragment = `inventoryLevels(first: 50) { nodes { location { id } quantities(names: ["available", "committed", "incoming"]) { name quantity } } }`

const variantFields = `id sku title inventoryPolicy product { id title } inventoryItem { id tracked ` + levelsFragment + ` }`

const readLevelsQuery = `query($id: ID!) { inventoryItem(id: $id) { id ` + levelsFragment + ` } }`

// ReadLocationQuantities reads per-location quantities of one inventory item.
func (c *GraphQLClient) ReadLocationQuantities(ctx context.Context, s Session, inventoryItemRef string) ([]LocationQuantity, error) {
	var out struct {
		InventoryItem *struct {
			InventoryLevels struct {
				Nodes []gqlLevel `json:"nodes"`
			} `json:"inventoryLevels"`
		} `json:"inventoryItem"`
	}
	if err := c.do(ctx, s, readLevelsQuery, map[string]any{"id": GID("InventoryItem", inventoryItemRef)}, &out); err != nil {
		return nil, err
	}
	if out.InventoryItem == nil {
		return nil, ErrVariantNotFound
	}
	levels := make([]LocationQuantity, 0, len(out.InventoryItem.InventoryLevels.Nodes))
	for _, l := range out.InventoryItem.InventoryLevels.Nodes {
		levels = append(levels, l.toQuantity())
	}
	return levels, nil
}

const setQuantitiesMutation = `mutation($input: InventorySetQuantitiesInput!) {
  inventorySetQuantities(input: $input) { userErrors { field message } }
}`

// SetQuantities writes absolute available quantities, MaxBatchItems per request.
func (c *GraphQLClient) SetQuantities(ctx context.Context, s Session, updates []QuantityUpdate, reason string) error {
	if reason == "" {
		reason = "correction"
	}
	for _, batch := range Chunk(updates, MaxBatchItems) {
		quantities := make([]map[string]any, 0, len(batch))
		for _, u := range batch {
			quantities = append(quantities, map[string]any{
				"inventoryItemId": GID("InventoryItem", u.InventoryItemRef),
				"locationId":      GID("Location", u.LocationRef),
				"quantity":        u.Quantity,
			})
		}
		var out struct {
			InventorySetQuantities struct {
				UserErrors []UserError `json:"userErrors"`
			} `json:"inventorySetQuantities"`
		}
		vars := map[string]any{"input": map[string]any{
			"name":                  "available",
			"reason":                reason,
			"ignoreCompareQuantity": true,
			"quantities":            quantities,
		}}
		if err := c.do(ctx, s, setQuantitiesMutation, vars, &out); err != nil {
			return err
		}
		if ue := out.InventorySetQuantities.UserErrors; len(ue) > 0 {
			return UserErrors(ue)
		}
	}
	return nil
}

const locationsQuery = `query { locations(first: 50) { nodes { id name isActive } } location { id } }`

// ListLocations lists the replica's stock locations, flagging the primary one.
func (c *GraphQLClient) ListLocations(ctx context.Context, s Session) ([]Location, error) {
	var out struct {
		Locations struct {
			Nodes []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				IsActive bool   `json:"isActive"`
			} `json:"nodes"`
		} `json:"locations"`
		Location *struct {
			ID string `json:"id"`
		} `json:"location"`
	}
	if err := c.do(ctx, s, locationsQuery, nil, &out); err != nil {
		return nil, err
	}
	locs := make([]Location, 0, len(out.Locations.Nodes))
	for _, n := range out.Locations.Nodes {
		locs = append(locs, Location{
			Ref:     n.ID,
			Name:    n.Name,
			Active:  n.IsActive,
			Primary: out.Location != nil && out.Location.ID == n.ID,
		})
	}
	return locs, nil
}

const variantBySkuQuery = `query($q: String!) { productVariants(first: 1, query: $q) { nodes { ` + variantFields + ` } } }`

// FindVariantBySku looks up the variant carrying sku.
func (c *GraphQLClient) FindVariantBySku(ctx context.Context, s Session, sku string) (*Variant, error) {
	var out struct {
		ProductVariants struct {
			Nodes []gqlVariant `json:"nodes"`
		} `json:"productVariants"`
	}
	q := fmt.Sprintf("sku:%q", sku)
	if err := c.do(ctx, s, variantBySkuQuery, map[string]any{"q": q}, &out); err != nil {
		return nil, err
	}
	for _, n := range out.ProductVariants.Nodes {
		if n.SKU == sku {
			v := n.toVariant()
			return &v, nil
		}
	}
	return nil, ErrVariantNotFound
}

const inventoryItemQuery = `query($id: ID!) { inventoryItem(id: $id) { variant { ` + variantFields + ` } } }`

// LookupInventoryItem resolves the variant behind an inventory item.
func (c *GraphQLClient) LookupInventoryItem(ctx context.Context, s Session, inventoryItemRef string) (*Variant, error) {
	var out struct {
		InventoryItem *struct {
			Variant *gqlVariant `json:"variant"`
		} `json:"inventoryItem"`
	}
	if err := c.do(ctx, s, inventoryItemQuery, map[string]any{"id": GID("InventoryItem", inventoryItemRef)}, &out); err != nil {
		return nil, err
	}
	if out.InventoryItem == nil || out.InventoryItem.Variant == nil {
		return nil, ErrVariantNotFound
	}
	v := out.InventoryItem.Variant.toVariant()
	return &v, nil
}

const listVariantsQuery = `query($first: Int!, $after: String) {
  productVariants(first: $first, after: $after) { pageInfo { hasNextPage endCursor } nodes { ` + variantFields + ` } }
}`

// ListVariants returns one page of the catalog.
func (c *GraphQLClient) ListVariants(ctx context.Context, s Session, cursor string, limit int) ([]Variant, string, error) {
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	vars := map[string]any{"first": limit}
	if cursor != "" {
		vars["after"] = cursor
	}
	var out struct {
		ProductVariants struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []gqlVariant `json:"nodes"`
		} `json:"productVariants"`
	}
	if err := c.do(ctx, s, listVariantsQuery, vars, &out); err != nil {
		return nil, "", err
	}
	variants := make([]Variant, 0, len(out.ProductVariants.Nodes))
	for _, n := range out.ProductVariants.Nodes {
		variants = append(variants, n.toVariant())
	}
	next := ""
	if out.ProductVariants.PageInfo.HasNextPage {
		next = out.ProductVariants.PageInfo.EndCursor
	}
	log.WithFields(log.Fields{"component": "platform", "replica": s.Domain}).
		Debugf("Fetched %d variants", len(variants))
	return variants, next, nil
}

var _ Client = (*GraphQLClient)(nil)
