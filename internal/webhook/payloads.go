package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a platform id that arrives either as a JSON number or a string.
type ID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as text.
func (id ID) String() string { return string(id) }

// LineItem is one order line.
type LineItem struct {
	ID        ID     `json:"id"`
	SKU       string `json:"sku"`
	VariantID ID     `json:"variant_id"`
	ProductID ID     `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Order is the orders/create and orders/cancelled body.
type Order struct {
	ID        ID         `json:"id"`
	Name      string     `json:"name"`
	LineItems []LineItem `json:"line_items"`
}

// RefundLineItem is one refunded line.
type RefundLineItem struct {
	ID          ID       `json:"id"`
	LineItemID  ID       `json:"line_item_id"`
	Quantity    int      `json:"quantity"`
	RestockType string   `json:"restock_type"`
	LocationID  ID       `json:"location_id"`
	LineItem    LineItem `json:"line_item"`
}

// Restocks reports whether the refunded units go back on the shelf.
func (r RefundLineItem) Restocks() bool {
	switch r.RestockType {
	case RestockCancel, RestockReturn, RestockLegacy:
		return true
	}
	return false
}

// Refund is the refunds/create body.
type Refund struct {
	ID              ID               `json:"id"`
	OrderID         ID               `json:"order_id"`
	RefundLineItems []RefundLineItem `json:"refund_line_items"`
}

// InventoryLevel is the inventory_levels/update body.
type InventoryLevel struct {
	InventoryItemID ID     `json:"inventory_item_id"`
	LocationID      ID     `json:"location_id"`
	Available       *int   `json:"available"`
	UpdatedAt       string `json:"updated_at"`
}

// ProductVariant is a variant inside a product body.
type ProductVariant struct {
	ID                  ID     `json:"id"`
	SKU                 string `json:"sku"`
	Title               string `json:"title"`
	InventoryItemID     ID     `json:"inventory_item_id"`
	InventoryManagement string `json:"inventory_management"`
	InventoryPolicy     string `json:"inventory_policy"`
}

// Tracked reports whether the platform manages this variant's stock.
func (v ProductVariant) Tracked() bool {
	return v.InventoryManagement != ""
}

// Product is the products/* body.
type Product struct {
	ID       ID               `json:"id"`
	Title    string           `json:"title"`
	Variants []ProductVariant `json:"variants"`
}

// Shop is the app/uninstalled body.
type Shop struct {
	ID              ID     `json:"id"`
	Domain          string `json:"domain"`
	MyshopifyDomain string `json:"myshopify_domain"`
}
