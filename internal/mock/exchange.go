// Package mock provides an in-memory exchange for tests and dry runs
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
)

// Operation names used for call counting and error injection
const (
	OpPrice         = "price"
	OpPosition      = "position"
	OpFilters       = "filters"
	OpEquity        = "equity"
	OpGetLeverage   = "get_leverage"
	OpSetLeverage   = "set_leverage"
	OpCancelAll     = "cancel_all"
	OpMarketOrder   = "market_order"
	OpBatchOrders   = "batch_orders"
	OpSetTakeProfit = "set_take_profit"
)

type restingOrder struct {
	ack   core.OrderAck
	order core.LimitOrder
}

// MockExchange implements core.IExchange for a single symbol-agnostic account.
// Market buys fill instantly, resting limit buys fill when SetPrice crosses
// them and an open position closes when the price reaches its take-profit.
type MockExchange struct {
	name string
	mu   sync.Mutex

	price    decimal.Decimal
	equity   decimal.Decimal
	filters  core.InstrumentFilters
	leverage int
	position core.Position

	orderIDCounter int64
	clientOrderMap map[string]core.OrderAck
	resting        []restingOrder

	calls    map[string]int
	failures map[string][]error

	MarketOrders []core.MarketOrder
	LimitOrders  [][]core.LimitOrder
	TakeProfits  []decimal.Decimal
}

var _ core.IExchange = (*MockExchange)(nil)

// NewMockExchange creates an exchange quoting 100 with unit lot step and 0.01 ticks
func NewMockExchange(name string) *MockExchange {
	return &MockExchange{
		name:   name,
		price:  decimal.NewFromInt(100),
		equity: decimal.NewFromInt(10000),
		filters: core.InstrumentFilters{
			LotStep:     decimal.NewFromInt(1),
			MinOrderQty: decimal.NewFromInt(1),
			TickSize:    decimal.RequireFromString("0.01"),
		},
		leverage:       1,
		orderIDCounter: 1000,
		clientOrderMap: make(map[string]core.OrderAck),
		calls:          make(map[string]int),
		failures:       make(map[string][]error),
	}
}

// FailNext queues errors returned by the next calls of op, in order
func (m *MockExchange) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Calls returns how many times op was invoked, failed calls included
func (m *MockExchange) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SetFilters overrides the instrument filters
func (m *MockExchange) SetFilters(lotStep, tickSize decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters.LotStep = lotStep
	m.filters.MinOrderQty = lotStep
	m.filters.TickSize = tickSize
}

// SetEquity overrides the account equity
func (m *MockExchange) SetEquity(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
}

// SetPosition overrides the current position
func (m *MockExchange) SetPosition(pos core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = pos
}

// Position returns a snapshot of the current position
func (m *MockExchange) Position() core.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// RestingOrders returns the number of unfilled limit orders
func (m *MockExchange) RestingOrders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resting)
}

// SetPrice moves the market, filling crossed limit buys and a reached take-profit
func (m *MockExchange) SetPrice(price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price

	kept := m.resting[:0]
	for _, r := range m.resting {
		if r.order.Side == core.SideBuy && price.LessThanOrEqual(r.order.Price) {
			m.fill(r.order.Quantity, r.order.Price)
			continue
		}
		kept = append(kept, r)
	}
	m.resting = kept

	if m.position.Size.IsPositive() && m.position.TakeProfit.IsPositive() && price.GreaterThanOrEqual(m.position.TakeProfit) {
		m.equity = m.equity.Add(m.position.TakeProfit.Sub(m.position.AvgPrice).Mul(m.position.Size))
		m.position = core.Position{Symbol: m.position.Symbol}
	}
	m.markToMarket()
}

// enter records a call and pops an injected failure; callers hold m.mu
func (m *MockExchange) enter(op string) error {
	m.calls[op]++
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MockExchange) fill(qty, price decimal.Decimal) {
	total := m.position.Size.Add(qty)
	if total.IsPositive() {
		cost := m.position.AvgPrice.Mul(m.position.Size).Add(price.Mul(qty))
		m.position.AvgPrice = cost.Div(total)
	}
	m.position.Size = total
	m.position.Leverage = m.leverage
}

func (m *MockExchange) markToMarket() {
	if m.position.Size.IsPositive() {
		m.position.UnrealizedPnL = m.price.Sub(m.position.AvgPrice).Mul(m.position.Size)
	} else {
		m.position.UnrealizedPnL = decimal.Zero
	}
}

func (m *MockExchange) nextAck(clientID string) core.OrderAck {
	m.orderIDCounter++
	ack := core.OrderAck{OrderID: strconv.FormatInt(m.orderIDCounter, 10), ClientOrderID: clientID}
	if clientID != "" {
		m.clientOrderMap[clientID] = ack
	}
	return ack
}

func (m *MockExchange) GetName() string {
	return m.name
}

func (m *MockExchange) GetPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPrice); err != nil {
		return decimal.Zero, err
	}
	return m.price, nil
}

func (m *MockExchange) GetInstrumentFilters(_ context.Context, symbol string) (*core.InstrumentFilters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpFilters); err != nil {
		return nil, err
	}
	f := m.filters
	f.Symbol = symbol
	return &f, nil
}

func (m *MockExchange) GetPosition(_ context.Context, symbol string) (*core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPosition); err != nil {
		return nil, err
	}
	pos := m.position
	pos.Symbol = symbol
	return &pos, nil
}

func (m *MockExchange) GetEquity(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpEquity); err != nil {
		return decimal.Zero, err
	}
	return m.equity, nil
}

func (m *MockExchange) GetLeverage(_ context.Context, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetLeverage); err != nil {
		return 0, err
	}
	return m.leverage, nil
}

func (m *MockExchange) SetLeverage(_ context.Context, _ string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSetLeverage); err != nil {
		return err
	}
	if leverage == m.leverage {
		return apperrors.ErrNotModified
	}
	m.leverage = leverage
	m.position.Leverage = leverage
	return nil
}

func (m *MockExchange) CancelAllOrders(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCancelAll); err != nil {
		return err
	}
	m.resting = nil
	return nil
}

// PlaceMarketOrder fills buys at the current price. A repeated client order ID
// returns the original acknowledgement without filling again.
func (m *MockExchange) PlaceMarketOrder(_ context.Context, req *core.MarketOrder) (*core.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpMarketOrder); err != nil {
		return nil, err
	}
	if req.ClientOrderID != "" {
		if ack, ok := m.clientOrderMap[req.ClientOrderID]; ok {
			return &ack, nil
		}
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %s", apperrors.ErrInvalidOrderParameter, req.Quantity)
	}
	if req.Side != core.SideBuy {
		return nil, fmt.Errorf("%w: mock only buys", apperrors.ErrInvalidOrderParameter)
	}

	m.MarketOrders = append(m.MarketOrders, *req)
	m.fill(req.Quantity, m.price)
	if req.TakeProfit.IsPositive() {
		m.position.TakeProfit = req.TakeProfit
	}
	m.markToMarket()

	ack := m.nextAck(req.ClientOrderID)
	return &ack, nil
}

func (m *MockExchange) PlaceBatchLimitOrders(_ context.Context, _ string, orders []core.LimitOrder) ([]core.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpBatchOrders); err != nil {
		return nil, err
	}
	if len(orders) > 10 {
		return nil, fmt.Errorf("%w: batch of %d exceeds 10", apperrors.ErrInvalidOrderParameter, len(orders))
	}

	batch := make([]core.LimitOrder, len(orders))
	copy(batch, orders)
	m.LimitOrders = append(m.LimitOrders, batch)

	acks := make([]core.OrderAck, 0, len(orders))
	for _, o := range orders {
		ack := m.nextAck(o.ClientOrderID)
		m.resting = append(m.resting, restingOrder{ack: ack, order: o})
		acks = append(acks, ack)
	}
	return acks, nil
}

// SetTakeProfit rejects flat positions and reports an unchanged value as ErrNotModified
func (m *MockExchange) SetTakeProfit(_ context.Context, _ string, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSetTakeProfit); err != nil {
		return err
	}
	if !m.position.Size.IsPositive() {
		return fmt.Errorf("%w: no position for take-profit", apperrors.ErrInvalidOrderParameter)
	}
	if m.position.TakeProfit.Equal(price) {
		return apperrors.ErrNotModified
	}
	m.TakeProfits = append(m.TakeProfits, price)
	m.position.TakeProfit = price
	return nil
}
