package events

// Order events are keyed by order id so every event of one order keeps its order.
// Inventory events are keyed by the first product id they touch.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderEdited        = "order.edited"
	TopicOrderStatusChanged = "order.status_changed"
	TopicOrderDeleted       = "order.deleted"
	TopicInventoryAdjusted  = "inventory.adjusted"
)
