package collection

import (
	"context"
	"fmt"
	"sync"
)

// Gateway is the mobile-money collection API.
type Gateway interface {
	Token(ctx context.Context) (string, error)
	RequestCollection(ctx context.Context, token string, order Order) error
	Status(ctx context.Context, token, referenceID string) (StatusReport, error)
}

// StaticGateway answers every request with a fixed outcome after a number of pending polls.
// It stands in for the real gateway in development and tests.
type StaticGateway struct {
	mu           sync.Mutex
	outcome      Status
	pendingPolls int
	orders       map[string]Order
	polls        map[string]int
	outcomes     map[string]Status
}

// NewStaticGateway returns a gateway that reports PENDING pendingPolls times, then outcome.
func NewStaticGateway(outcome Status, pendingPolls int) *StaticGateway {
	return &StaticGateway{
		outcome:      outcome,
		pendingPolls: pendingPolls,
		orders:       make(map[string]Order),
		polls:        make(map[string]int),
		outcomes:     make(map[string]Status),
	}
}

func (g *StaticGateway) Token(context.Context) (string, error) {
	return "static-token", nil
}

func (g *StaticGateway) RequestCollection(_ context.Context, _ string, order Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.orders[order.ReferenceID]; exists {
		return &GatewayError{Op: "request", StatusCode: 409, Err: fmt.Errorf("duplicate reference %s", order.ReferenceID)}
	}
	g.orders[order.ReferenceID] = order
	return nil
}

func (g *StaticGateway) Status(_ context.Context, _ string, referenceID string) (StatusReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.orders[referenceID]; !exists {
		return StatusReport{}, &GatewayError{Op: "status", StatusCode: 404, Err: fmt.Errorf("unknown reference %s", referenceID)}
	}
	g.polls[referenceID]++
	if outcome, ok := g.outcomes[referenceID]; ok {
		return StatusReport{Status: outcome}, nil
	}
	if g.polls[referenceID] <= g.pendingPolls {
		return StatusReport{Status: StatusPending}, nil
	}
	return StatusReport{Status: g.outcome}, nil
}

// Resolve forces the outcome of one reference.
func (g *StaticGateway) Resolve(referenceID string, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[referenceID] = status
}

// Polls returns how many status queries a reference received.
func (g *StaticGateway) Polls(referenceID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls[referenceID]
}

// Order returns the submitted order for a reference.
func (g *StaticGateway) Order(referenceID string) (Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[referenceID]
	return order, ok
}
