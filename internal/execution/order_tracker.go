package execution

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// TrackerStats counts cumulative order lifecycle activity.
type TrackerStats struct {
	TotalTracked     int
	CurrentlyActive  int
	TotalFilled      int
	TotalFailed      int
	TotalCancelled   int
	EventsPublished  int
}

// OrderTracker runs the order state machine PENDING -> PLACED ->
// {PARTIALLY_FILLED -> FILLED, CANCELLED, FAILED, EXPIRED}, keyed by
// exchange order ID with a secondary client-order-ID lookup, and moves
// terminal orders into a bounded FIFO history.
type OrderTracker struct {
	bus    *events.Bus
	logger *zap.Logger
	cfg    types.OrderTrackerConfig

	mu           sync.Mutex
	active       map[string]*types.Order
	clientIDToID map[string]string
	history      []*types.Order
	stats        TrackerStats
}

// NewOrderTracker builds a tracker bounded to cfg.MaxHistorySize closed
// orders.
func NewOrderTracker(bus *events.Bus, cfg types.OrderTrackerConfig, logger *zap.Logger) *OrderTracker {
	return &OrderTracker{
		bus:          bus,
		logger:       logger.Named("order_tracker"),
		cfg:          cfg,
		active:       make(map[string]*types.Order),
		clientIDToID: make(map[string]string),
	}
}

// TrackOrder registers a freshly submitted order in PENDING.
func (t *OrderTracker) TrackOrder(order *types.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()

	order.Status = types.OrderStatusPending
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	t.active[order.OrderID] = order
	if order.ClientOrderID != "" {
		t.clientIDToID[order.ClientOrderID] = order.OrderID
	}
	t.stats.TotalTracked++
	t.stats.CurrentlyActive = len(t.active)
}

// resolveID follows the client-order-ID map when orderID itself isn't
// active, matching a late-arriving WS report keyed only by client ID.
func (t *OrderTracker) resolveID(orderID string) string {
	if _, ok := t.active[orderID]; ok {
		return orderID
	}
	if mapped, ok := t.clientIDToID[orderID]; ok {
		return mapped
	}
	return orderID
}

// UpdateStatus applies a state transition, appends a status-history row,
// and publishes the event that matches the new status. Returns nil if the
// order isn't currently active.
func (t *OrderTracker) UpdateStatus(orderID string, newStatus types.OrderStatus, filledQty, avgPrice decimal.Decimal, errMsg string) *types.Order {
	t.mu.Lock()

	id := t.resolveID(orderID)
	order, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("order not found in active set", zap.String("order_id", orderID))
		return nil
	}

	oldStatus := order.Status
	order.Status = newStatus
	order.UpdatedAt = time.Now()
	if !filledQty.IsZero() {
		order.FilledQty = filledQty
	}
	if !avgPrice.IsZero() {
		order.AveragePrice = avgPrice
	}
	order.StatusHistory = append(order.StatusHistory, types.OrderStatusEvent{
		OldStatus: oldStatus, NewStatus: newStatus,
		FilledQty: order.FilledQty, AveragePrice: order.AveragePrice,
		TimestampMs: order.UpdatedAt.UnixMilli(), Error: errMsg,
	})

	t.logger.Info("order status updated", zap.String("order_id", id), zap.String("from", string(oldStatus)), zap.String("to", string(newStatus)))

	terminal := newStatus.IsTerminal()
	t.mu.Unlock()

	t.publishTransition(order, errMsg)

	if terminal {
		t.finalize(order)
	}
	return order
}

func (t *OrderTracker) publishTransition(order *types.Order, errMsg string) {
	t.mu.Lock()
	switch order.Status {
	case types.OrderStatusFilled:
		t.stats.TotalFilled++
	case types.OrderStatusCancelled, types.OrderStatusExpired:
		t.stats.TotalCancelled++
	case types.OrderStatusFailed:
		t.stats.TotalFailed++
	}
	t.mu.Unlock()

	switch order.Status {
	case types.OrderStatusPlaced:
		t.publish(6, events.TypeOrderPlaced, order, "")
	case types.OrderStatusFilled:
		t.publish(8, events.TypeOrderFilled, order, "")
	case types.OrderStatusCancelled, types.OrderStatusExpired:
		t.publish(6, events.TypeOrderCancelled, order, "")
	case types.OrderStatusFailed:
		t.publish(9, events.TypeErrorOccurred, order, errMsg)
	}
}

func (t *OrderTracker) publish(priority int, ev events.Type, order *types.Order, errMsg string) {
	if t.bus == nil {
		return
	}
	data := map[string]any{
		"order_id": order.OrderID, "client_order_id": order.ClientOrderID, "symbol": order.Symbol,
		"order_type": order.Type, "side": order.Side, "status": order.Status,
		"filled_quantity": order.FilledQty, "average_price": order.AveragePrice,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	t.bus.Publish(events.Event{Priority: priority, EventType: ev, Data: data, Source: "order_tracker"})
	t.mu.Lock()
	t.stats.EventsPublished++
	t.mu.Unlock()
}

func (t *OrderTracker) finalize(order *types.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, order.OrderID)
	delete(t.clientIDToID, order.ClientOrderID)

	t.history = append([]*types.Order{order}, t.history...)
	if len(t.history) > t.cfg.MaxHistorySize {
		t.history = t.history[:t.cfg.MaxHistorySize]
	}
	t.stats.CurrentlyActive = len(t.active)
}

var wsStatusMap = map[string]types.OrderStatus{
	"NEW":              types.OrderStatusPlaced,
	"PARTIALLY_FILLED": types.OrderStatusPartiallyFilled,
	"FILLED":           types.OrderStatusFilled,
	"CANCELED":         types.OrderStatusCancelled,
	"REJECTED":         types.OrderStatusFailed,
	"EXPIRED":          types.OrderStatusExpired,
}

// HandleExecutionReport applies a raw WebSocket execution report, mapping
// the broker's status vocabulary onto the internal state machine.
func (t *OrderTracker) HandleExecutionReport(report types.ExecutionReport) {
	if report.EventType != "executionReport" {
		return
	}
	if report.OrderID == "" {
		t.logger.Warn("execution report missing order id")
		return
	}

	newStatus, ok := wsStatusMap[report.Status]
	if !ok {
		newStatus = types.OrderStatusPending
	}

	filled := report.FilledQty
	avgPrice := decimal.Zero
	if filled.IsPositive() {
		avgPrice = report.FilledQuoteQty.Div(filled)
	}

	id := report.OrderID
	if report.ClientOrderID != "" {
		id = t.resolveClientOrMapped(report.ClientOrderID, report.OrderID)
	}

	t.UpdateStatus(id, newStatus, filled, avgPrice, "")
}

func (t *OrderTracker) resolveClientOrMapped(clientID, orderID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[orderID]; ok {
		return orderID
	}
	if mapped, ok := t.clientIDToID[clientID]; ok {
		return mapped
	}
	return orderID
}

// Order returns the active order for id, if any.
func (t *OrderTracker) Order(orderID string) (*types.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.active[orderID]
	return o, ok
}

// OrderByClientID looks up an active order by its client-assigned ID.
func (t *OrderTracker) OrderByClientID(clientID string) (*types.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.clientIDToID[clientID]
	if !ok {
		return nil, false
	}
	o, ok := t.active[id]
	return o, ok
}

// ActiveOrders returns every order not yet in a terminal state, optionally
// filtered by symbol.
func (t *OrderTracker) ActiveOrders(symbol string) []*types.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*types.Order
	for _, o := range t.active {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// History returns the bounded FIFO of closed orders, most recent first.
func (t *OrderTracker) History() []*types.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*types.Order, len(t.history))
	copy(out, t.history)
	return out
}

// Stats returns a snapshot of cumulative counters.
func (t *OrderTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
