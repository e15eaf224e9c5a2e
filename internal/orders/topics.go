package orders

const (
	QueueOrders     = "orders"
	QueueProducts   = "products"
	QueueDeadLetter = "orders.dlq"

	EventOrderPriced = "OrderPriced"
)

// Partition key = orderId, supaya redelivery & event satu order tetap satu partisi.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
