package exchange

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderStatus normalizes venue status into a small set.
type OrderStatus string

const (
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
)

// InstrumentType distinguishes contract flavors.
type InstrumentType string

const (
	InstrumentLinear  InstrumentType = "linear"
	InstrumentInverse InstrumentType = "inverse"
	InstrumentSpot    InstrumentType = "spot"
)

// Market is an immutable snapshot of one tradable instrument.
type Market struct {
	ID             string
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	PricePrecision int
	QtyPrecision   int
	MinQty         float64
	MaxQty         float64
	MinNotional    float64
	Active         bool
	Contract       bool
	InstrumentType InstrumentType
}

// Order mirrors one open order on the venue. Times are ms epoch.
type Order struct {
	ID           string
	LinkID       string
	MarketID     string
	Price        float64
	Amount       float64
	Side         Side
	Status       OrderStatus
	Type         OrderType
	LeavesQty    float64
	TpSlMode     string
	TriggerPrice float64
	CreatedTime  int64
	UpdatedTime  int64
}

// Position mirrors one open position; replaced wholesale on every sync.
type Position struct {
	MarketID      string
	Side          Side
	AvgPrice      float64
	Value         float64
	Leverage      float64
	UnrealisedPnl float64
	MarkPrice     float64
	Amount        float64
	TpSlMode      string
}

// WalletCoin is one coin row inside a wallet account.
type WalletCoin struct {
	Coin                string
	Equity              float64
	WalletBalance       float64
	AvailableToWithdraw float64
	UnrealisedPnl       float64
	CumRealisedPnl      float64
}

// WalletAccount is one account-type bucket of a wallet snapshot.
type WalletAccount struct {
	AccountType string
	Coins       []WalletCoin
}

// WalletSnapshot is the venue's full balance response.
type WalletSnapshot struct {
	Accounts []WalletAccount
}

// Coin returns the row for a coin symbol, if present.
func (w WalletAccount) Coin(symbol string) (WalletCoin, bool) {
	for _, c := range w.Coins {
		if c.Coin == symbol {
			return c, true
		}
	}
	return WalletCoin{}, false
}

// TickerQuote carries the venue's best bid/ask for one market. Zero fields in
// a push payload mean "unchanged".
type TickerQuote struct {
	Bid1Price float64
	Ask1Price float64
	LastPrice float64
	MarkPrice float64
	MidPrice  float64
}

// OrderRequest captures an order intent.
type OrderRequest struct {
	MarketID     string
	Type         OrderType
	Side         Side
	Qty          float64
	Price        float64 // required for Limit
	TriggerPrice float64
	TakeProfit   float64
	StopLoss     float64
	LinkID       string
	ReduceOnly   bool
	TimeInForce  string
}

// UpdateOrderRequest amends a live order. Zero fields are left unchanged.
type UpdateOrderRequest struct {
	OrderID    string
	MarketID   string
	Qty        float64
	Price      float64
	TakeProfit float64
	StopLoss   float64
}

// Execution is a fill notification delivered on the private push stream.
type Execution struct {
	ExecID    string
	OrderID   string
	LinkID    string
	MarketID  string
	Side      Side
	Price     float64
	Qty       float64
	LeavesQty float64
	Time      int64
}

// PushMessage is one streaming update: (topic, accountID, payload).
type PushMessage struct {
	Topic     string
	AccountID string
	Payload   any
}

// Streaming topic names.
const (
	TopicExecution    = "execution"
	TopicWallet       = "wallet"
	TickerTopicPrefix = "tickers."
)

// TickerTopic builds the streaming topic for a market's ticker.
func TickerTopic(marketID string) string {
	return TickerTopicPrefix + marketID
}
