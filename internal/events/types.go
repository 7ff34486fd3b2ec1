package events

import "mirror-core/pkg/exchange"

// Topic enumerates the cross-component notification topics.
type Topic string

const (
	TopicExchangeInitialized  Topic = "exchange.initialized"
	TopicExchangeTerminated   Topic = "exchange.terminated"
	TopicOrderBulkUpdated     Topic = "order.bulk_updated"
	TopicPositionBulkUpdated  Topic = "position.bulk_updated"
	TopicWalletBulkUpdated    Topic = "wallet.bulk_updated"
	TopicMarketBulkUpdated    Topic = "market.bulk_updated"
	TopicTickerUpdated        Topic = "ticker.updated"
	TopicExecutionReceived    Topic = "execution.received"
	TopicWebsocketSubscribe   Topic = "websocket.subscribe"
	TopicWebsocketUnsubscribe Topic = "websocket.unsubscribe"
)

// AccountPayload accompanies account-scoped notifications such as
// exchange.initialized and the bulk_updated topics.
type AccountPayload struct {
	AccountID string `json:"accountId"`
}

// TickerPayload accompanies ticker.updated.
type TickerPayload struct {
	AccountID string  `json:"accountId"`
	MarketID  string  `json:"marketId"`
	MidPrice  float64 `json:"midPrice"`
}

// SubscriptionPayload accompanies websocket.subscribe/unsubscribe.
type SubscriptionPayload struct {
	AccountID string   `json:"accountId"`
	Topics    []string `json:"topics"`
}

// ExecutionPayload accompanies execution.received.
type ExecutionPayload struct {
	AccountID string             `json:"accountId"`
	Execution exchange.Execution `json:"execution"`
}
