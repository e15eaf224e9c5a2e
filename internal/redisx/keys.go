package redisx

import "time"

const (
	// Dedup per service: dedup:{service}:{id} (id = orderId atau event_id)
	KeyDedup = "dedup:%s:%s"

	// Hasil buy yang sudah dipricing: order_result:{orderId} -> PricedOrderEvent JSON
	KeyOrderResult = "order_result:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLOrderResult = 24 * time.Hour
)
