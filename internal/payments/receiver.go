// Package payments verifies and de-duplicates inbound payment webhooks.
// The receiver's only job is to turn at-least-once webhook delivery into
// at-most-once orchestration kicks; everything after the kick is the
// orchestrator's problem and never fails the webhook.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"domainflow/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrBadSignature is returned when the signature header does not
	// match the body. No side effects have occurred.
	ErrBadSignature = errors.New("webhook signature verification failed")
	// ErrMalformedEvent is returned when the body is not a usable event.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// EventTypeCompleted is the only event type that triggers provisioning.
const EventTypeCompleted = "payment.completed"

const (
	dedupeKeyPrefix = "domainflow:payevent:"
	dedupeTTL       = 24 * time.Hour
	advanceTimeout  = 5 * time.Minute
)

// Advancer kicks provisioning for an order. Implemented by the
// orchestrator.
type Advancer interface {
	Advance(ctx context.Context, orderID int) error
}

// DedupeCache is a fast path in front of the payment_events unique
// index. Seen is advisory only; Mark must never run before the event is
// durably recorded, or a retry of a failed insert would be dropped.
type DedupeCache interface {
	Seen(ctx context.Context, eventID string) bool
	Mark(ctx context.Context, eventID string)
}

type redisDedupe struct {
	rdb *redis.Client
	log *logrus.Entry
}

func (c *redisDedupe) Seen(ctx context.Context, eventID string) bool {
	n, err := c.rdb.Exists(ctx, dedupeKeyPrefix+eventID).Result()
	if err != nil {
		c.log.WithError(err).Warn("redis dedupe unavailable, falling back to database")
		return false
	}
	return n > 0
}

func (c *redisDedupe) Mark(ctx context.Context, eventID string) {
	if err := c.rdb.Set(ctx, dedupeKeyPrefix+eventID, 1, dedupeTTL).Err(); err != nil {
		c.log.WithError(err).Warn("failed to mark payment event in redis")
	}
}

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Metadata struct {
			OrderID string `json:"order_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// Receiver handles payment provider webhooks.
type Receiver struct {
	db      *gorm.DB
	cache   DedupeCache
	secret  []byte
	advance Advancer
	// syncAdvance makes Handle wait for the orchestrator instead of
	// kicking it in the background. Tests only.
	syncAdvance bool
	log         *logrus.Entry
}

// NewReceiver creates a webhook receiver. rdb may be nil; the unique
// index on payment_events is the source of truth and redis is only a
// fast path in front of it.
func NewReceiver(db *gorm.DB, rdb *redis.Client, secret string, advance Advancer) *Receiver {
	log := logrus.WithField("component", "payments")
	r := &Receiver{
		db:      db,
		secret:  []byte(secret),
		advance: advance,
		log:     log,
	}
	if rdb != nil {
		r.cache = &redisDedupe{rdb: rdb, log: log}
	}
	return r
}

// Handle processes one raw webhook delivery. It returns ErrBadSignature
// before any side effect, and nil once the event is durably recorded,
// regardless of how provisioning goes afterwards.
func (r *Receiver) Handle(ctx context.Context, body []byte, signature string) error {
	if !r.verify(body, signature) {
		return ErrBadSignature
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	if ev.Type != EventTypeCompleted {
		r.log.WithFields(logrus.Fields{
			"event_id":   ev.ID,
			"event_type": ev.Type,
		}).Debug("ignoring event type")
		return nil
	}

	orderID, err := strconv.Atoi(ev.Data.Metadata.OrderID)
	if err != nil || orderID <= 0 {
		return fmt.Errorf("%w: bad order id %q", ErrMalformedEvent, ev.Data.Metadata.OrderID)
	}

	if r.cache != nil && r.cache.Seen(ctx, ev.ID) {
		return nil
	}

	row := model.PaymentEvent{
		EventID:   ev.ID,
		EventType: ev.Type,
		OrderID:   orderID,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			r.markSeen(ctx, ev.ID)
			r.log.WithField("event_id", ev.ID).Info("duplicate payment event acknowledged")
			return nil
		}
		// The event is not recorded; the provider must retry, so the
		// cache stays untouched.
		return fmt.Errorf("failed to record payment event: %w", err)
	}
	r.markSeen(ctx, ev.ID)

	r.log.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"order_id": orderID,
	}).Info("payment confirmed, starting provisioning")

	if r.syncAdvance {
		if err := r.advance.Advance(ctx, orderID); err != nil {
			r.log.WithField("order_id", orderID).WithError(err).Error("provisioning failed")
		}
		return nil
	}

	go func() {
		actx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
		defer cancel()
		if err := r.advance.Advance(actx, orderID); err != nil {
			r.log.WithField("order_id", orderID).WithError(err).Error("provisioning failed")
		}
	}()
	return nil
}

// verify checks an HMAC-SHA256 hex signature over the raw body. An
// optional "sha256=" prefix on the header is accepted.
func (r *Receiver) verify(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (r *Receiver) markSeen(ctx context.Context, eventID string) {
	if r.cache != nil {
		r.cache.Mark(ctx, eventID)
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
