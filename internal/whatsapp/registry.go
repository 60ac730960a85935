package whatsapp

import (
	"context"
	"fmt"
	"sort"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"go.uber.org/zap"
)

// Prober is implemented by clients that can query their session state on demand.
type Prober interface {
	Probe(ctx context.Context) error
}

// Registry maps robot selectors to their clients.
type Registry struct {
	clients map[int]Client
	robots  []int
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger, clients ...Client) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		clients: make(map[int]Client, len(clients)),
		logger:  logger,
	}
	for _, client := range clients {
		if client == nil {
			return nil, fmt.Errorf("whatsapp client is required")
		}
		robot := client.Robot()
		if _, exists := r.clients[robot]; exists {
			return nil, fmt.Errorf("duplicate client for robot %d", robot)
		}
		r.clients[robot] = client
		r.robots = append(r.robots, robot)
	}
	if len(r.clients) == 0 {
		return nil, fmt.Errorf("at least one whatsapp client is required")
	}

	sort.Ints(r.robots)
	return r, nil
}

func (r *Registry) Get(robot int) (Client, error) {
	client, ok := r.clients[robot]
	if !ok {
		return nil, fmt.Errorf("%w: unknown robot %d", domain.ErrValidation, robot)
	}
	return client, nil
}

// All returns the clients ordered by robot.
func (r *Registry) All() []Client {
	clients := make([]Client, 0, len(r.robots))
	for _, robot := range r.robots {
		clients = append(clients, r.clients[robot])
	}
	return clients
}

// ProbeAll queries every probing client once. Failures are logged; the
// lifecycle webhook opens the gate later.
func (r *Registry) ProbeAll(ctx context.Context) {
	for _, client := range r.All() {
		prober, ok := client.(Prober)
		if !ok {
			continue
		}
		if err := prober.Probe(ctx); err != nil {
			r.logger.Warn("failed to probe whatsapp session",
				zap.Int("robot", client.Robot()),
				zap.Error(err),
			)
		}
	}
}
