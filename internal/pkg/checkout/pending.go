package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/licensefox/licensefox/internal/pkg/cache"
)

// DefaultTTL bounds how long an unpaid checkout stays resolvable. Providers
// abandon unpaid orders well before this.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when no pending order exists for an order id,
// either because checkout never ran here or the entry expired.
var ErrNotFound = errors.New("pending checkout not found")

// PendingOrder is the purchase metadata stashed at checkout creation and
// read back when the provider's webhook or the client verification lands.
// Webhook delivery is server-to-server, so this is keyed by the provider's
// order id rather than any browser session.
type PendingOrder struct {
	Provider  string    `json:"provider"`
	OrderID   string    `json:"order_id"`
	Tier      string    `json:"tier"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Company   string    `json:"company"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

func pendingKey(provider, orderID string) string {
	return fmt.Sprintf("checkout:%s:%s", provider, orderID)
}

// StorePending stashes a pending order under the provider's order id.
func StorePending(order *PendingOrder, ttl time.Duration) error {
	if order.Provider == "" || order.OrderID == "" {
		return errors.New("provider and order id are required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	buf, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return cache.Set(pendingKey(order.Provider, order.OrderID), string(buf), ttl)
}

// GetPending resolves a provider order id back to its purchase metadata.
func GetPending(provider, orderID string) (*PendingOrder, error) {
	raw, err := cache.Get(pendingKey(provider, orderID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var order PendingOrder
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// DeletePending removes the stash once the purchase is settled.
func DeletePending(provider, orderID string) error {
	return cache.Delete(pendingKey(provider, orderID))
}
