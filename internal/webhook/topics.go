// Package webhook parses inbound platform webhooks into typed events.
package webhook

// Topics the intake pipeline handles.
const (
	TopicOrdersCreate          = "orders/create"
	TopicOrdersCancelled       = "orders/cancelled"
	TopicRefundsCreate         = "refunds/create"
	TopicInventoryLevelsUpdate = "inventory_levels/update"
	TopicProductsCreate        = "products/create"
	TopicProductsUpdate        = "products/update"
	TopicProductsDelete        = "products/delete"
	TopicAppUninstalled        = "app/uninstalled"
)

// Delivery headers.
const (
	HeaderTopic      = "X-Shopify-Topic"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
	HeaderHmac       = "X-Shopify-Hmac-Sha256"
)

// Refund restock types.
const (
	RestockNone   = "no_restock"
	RestockCancel = "cancel"
	RestockReturn = "return"
	RestockLegacy = "legacy_restock"
)

var schemaByTopic = map[string]string{
	TopicOrdersCreate:          "order.json",
	TopicOrdersCancelled:       "order.json",
	TopicRefundsCreate:         "refund.json",
	TopicInventoryLevelsUpdate: "inventory_level.json",
	TopicProductsCreate:        "product.json",
	TopicProductsUpdate:        "product.json",
	TopicProductsDelete:        "product.json",
	TopicAppUninstalled:        "app_uninstalled.json",
}

// Supported reports whether topic is handled.
func Supported(topic string) bool {
	_, ok := schemaByTopic[topic]
	return ok
}
