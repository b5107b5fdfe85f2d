package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	holdKeyPrefix        = "booking_hold:"
	paymentLockKeyPrefix = "payment_lock:"

	// holdGrace keeps the Redis key alive slightly past expires_at so the
	// expiry event arrives after the row has become deletable.
	holdGrace = time.Second
)

// releaseLockScript deletes a lock only if it still holds the caller's token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Holds mirrors pre-booking deadlines as expiring Redis keys and guards
// payment starts with short per-booking locks.
type Holds struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewHolds(client *redis.Client, log *logger.Logger) *Holds {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Holds{Client: client, Logger: log}
}

func HoldKey(bookingID string) string {
	return holdKeyPrefix + bookingID
}

// ParseHoldKey returns the booking id of a hold key.
func ParseHoldKey(key string) (string, bool) {
	if !strings.HasPrefix(key, holdKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, holdKeyPrefix)
	return id, id != ""
}

// PlaceHold writes the hold key so it expires just after expiresAt.
func (h *Holds) PlaceHold(ctx context.Context, bookingID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt) + holdGrace
	if ttl <= 0 {
		ttl = holdGrace
	}
	if err := h.Client.Set(ctx, HoldKey(bookingID), bookingID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to place hold for %s: %w", bookingID, err)
	}
	return nil
}

// ReleaseHold drops the hold key once the booking left pre_booking.
func (h *Holds) ReleaseHold(ctx context.Context, bookingID string) error {
	return h.Client.Del(ctx, HoldKey(bookingID)).Err()
}

// HasHold reports whether the hold key still exists.
func (h *Holds) HasHold(ctx context.Context, bookingID string) (bool, error) {
	n, err := h.Client.Exists(ctx, HoldKey(bookingID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AcquirePaymentLock takes the per-booking payment start lock for token.
func (h *Holds) AcquirePaymentLock(ctx context.Context, bookingID, token string, ttl time.Duration) (bool, error) {
	return h.Client.SetNX(ctx, paymentLockKeyPrefix+bookingID, token, ttl).Result()
}

// ReleasePaymentLock releases the lock only if token still owns it.
func (h *Holds) ReleasePaymentLock(ctx context.Context, bookingID, token string) error {
	err := releaseLockScript.Run(ctx, h.Client, []string{paymentLockKeyPrefix + bookingID}, token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// EnableExpiryEvents turns on keyevent notifications for expired keys.
// Managed Redis often forbids CONFIG SET; the reaper's sweep covers that case.
func (h *Holds) EnableExpiryEvents(ctx context.Context) error {
	if err := h.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		h.Logger.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
		return err
	}
	h.Logger.Info("REDIS", "Keyspace notifications enabled for expired events")
	return nil
}

// ExpiredHolds subscribes to expired-key events and yields the booking id of
// every hold that ran out. The channel closes when ctx is done.
func (h *Holds) ExpiredHolds(ctx context.Context) <-chan string {
	channel := fmt.Sprintf("__keyevent@%d__:expired", h.Client.Options().DB)
	pubsub := h.Client.PSubscribe(ctx, channel)
	h.Logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", channel))

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				bookingID, isHold := ParseHoldKey(msg.Payload)
				if !isHold {
					continue
				}
				select {
				case out <- bookingID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
