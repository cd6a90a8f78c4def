// Package platform talks to the external commerce platform that hosts each replica.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stocksync/internal/model"
)

// MaxBatchItems is the platform's cap on quantities per set request.
const MaxBatchItems = 250

// Session is the access material for one replica.
type Session struct {
	Domain      string
	AccessToken string
}

// LocationQuantity is one location's stock for an inventory item.
type LocationQuantity struct {
	LocationRef string `json:"location_ref"`
	model.Quantities
}

// QuantityUpdate sets the available quantity of one item at one location.
type QuantityUpdate struct {
	InventoryItemRef string `json:"inventory_item_ref"`
	LocationRef      string `json:"location_ref"`
	Quantity         int    `json:"quantity"`
}

// Variant is a sellable variant as the platform reports it.
type Variant struct {
	ProductRef       string `json:"product_ref"`
	VariantRef       string `json:"variant_ref"`
	InventoryItemRef string `json:"inventory_item_ref"`
	SKU              string `json:"sku"`
	Title            string `json:"title"`
	TracksInventory  bool   `json:"tracks_inventory"`
	OversellPolicy   string `json:"oversell_policy"`
	// Levels is filled by ListVariants so catalog sync needs no extra reads.
	Levels []LocationQuantity `json:"levels,omitempty"`
}

// Location is a platform stock location.
type Location struct {
	Ref     string `json:"ref"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Primary bool   `json:"primary"`
}

// Client is the platform API surface the engine uses.
type Client interface {
	ReadLocationQuantities(ctx context.Context, s Session, inventoryItemRef string) ([]LocationQuantity, error)
	// SetQuantities writes absolute available quantities. Rejected inputs come back as *UserErrors.
	SetQuantities(ctx context.Context, s Session, updates []QuantityUpdate, reason string) error
	ListLocations(ctx context.Context, s Session) ([]Location, error)
	// FindVariantBySku returns ErrVariantNotFound when no variant carries sku.
	FindVariantBySku(ctx context.Context, s Session, sku string) (*Variant, error)
	LookupInventoryItem(ctx context.Context, s Session, inventoryItemRef string) (*Variant, error)
	// ListVariants pages through the catalog; an empty next cursor ends the walk.
	ListVariants(ctx context.Context, s Session, cursor string, limit int) (variants []Variant, next string, err error)
}

// ErrVariantNotFound is returned when a lookup matches no variant.
var ErrVariantNotFound = errors.New("variant not found")

// UserError is one rejected input reported by the platform.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// UserErrors is returned when the platform rejects a mutation.
type UserErrors []UserError

func (u UserErrors) Error() string {
	msgs := make([]string, 0, len(u))
	for _, e := range u {
		if len(e.Field) > 0 {
			msgs = append(msgs, strings.Join(e.Field, ".")+": "+e.Message)
			continue
		}
		msgs = append(msgs, e.Message)
	}
	return "platform rejected request: " + strings.Join(msgs, "; ")
}

// Error is a failed platform call.
type Error struct {
	Domain    string
	Status    int
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("platform %s: status %d: %s", e.Domain, e.Status, e.Message)
	}
	return fmt.Sprintf("platform %s: %s", e.Domain, e.Message)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

const gidPrefix = "gid://shopify/"

// GID returns the global id form of id. Ids already in global form are returned unchanged.
func GID(kind, id string) string {
	if id == "" || strings.HasPrefix(id, gidPrefix) {
		return id
	}
	return gidPrefix + kind + "/" + id
}

// LegacyID strips a global id down to its trailing numeric id.
func LegacyID(id string) string {
	if !strings.HasPrefix(id, gidPrefix) {
		return id
	}
	legacy := id[strings.LastIndexByte(id, '/')+1:]
	if i := strings.IndexByte(legacy, '?'); i >= 0 {
		legacy = legacy[:i]
	}
	return legacy
}

// IsGID reports whether id is in global id form.
func IsGID(id string) bool {
	return strings.HasPrefix(id, gidPrefix)
}

// Chunk splits updates into slices of at most size.
func Chunk(updates []QuantityUpdate, size int) [][]QuantityUpdate {
	if size <= 0 {
		size = MaxBatchItems
	}
	var out [][]QuantityUpdate
	for len(updates) > size {
		out = append(out, updates[:size])
		updates = updates[size:]
	}
	if len(updates) > 0 {
		out = append(out, updates)
	}
	return out
}
