// Package feedback publishes score outcomes to Kafka for the external model
// trainer.
package feedback

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/cache"
	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/scorer"
)

const (
	// DefaultTopic receives one message per scored listing.
	DefaultTopic = "listing-score-feedback"
	// ActiveModelKey is the kv_state key holding the active model version.
	ActiveModelKey = "score-model-active"
	// FallbackModelVersion is reported while no model has been activated.
	FallbackModelVersion = "rules-v1"
)

// Event is the wire shape of a feedback message.
type Event struct {
	URL          string           `json:"url"`
	ListingID    int64            `json:"listing_id"`
	Total        int              `json:"total"`
	Tier         scorer.Tier      `json:"tier"`
	IsGoldFind   bool             `json:"is_gold_find"`
	Breakdown    scorer.Breakdown `json:"breakdown"`
	ModelVersion string           `json:"model_version"`
	ScoredAt     time.Time        `json:"scored_at"`
}

// NewEvent builds an event from a persisted listing and its score.
func NewEvent(l *model.Listing, r scorer.Result, scoredAt time.Time) Event {
	return Event{
		URL:        l.URL,
		ListingID:  l.ID,
		Total:      r.Total,
		Tier:       r.Tier,
		IsGoldFind: r.IsGoldFind,
		Breakdown:  r.Breakdown,
		ScoredAt:   scoredAt.UTC(),
	}
}

// Publisher emits feedback events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// ModelSource yields the active model version. A nil value means none is
// active yet.
type ModelSource interface {
	GetState(ctx context.Context, key string) (*string, error)
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by listing URL so updates for one
// listing stay on one partition.
type KafkaPublisher struct {
	w     MessageWriter
	model *cache.Value[string]
	log   *zap.Logger
}

// NewKafkaPublisher dials nothing up front; kafka-go connects lazily on the
// first write.
func NewKafkaPublisher(brokers []string, topic string, models ModelSource, modelTTL time.Duration) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return NewPublisher(w, models, modelTTL)
}

// NewPublisher wraps an existing writer.
func NewPublisher(w MessageWriter, models ModelSource, modelTTL time.Duration) *KafkaPublisher {
	return &KafkaPublisher{
		w:     w,
		model: cache.NewValue(modelTTL, modelLoader(models)),
		log:   zap.L().With(zap.String("component", "feedback")),
	}
}

func modelLoader(models ModelSource) cache.LoadFunc[string] {
	return func(ctx context.Context) (string, error) {
		if models == nil {
			return FallbackModelVersion, nil
		}
		v, err := models.GetState(ctx, ActiveModelKey)
		if err != nil {
			return "", eris.Wrap(err, "feedback: load active model")
		}
		if v == nil || strings.TrimSpace(*v) == "" {
			return FallbackModelVersion, nil
		}
		return strings.TrimSpace(*v), nil
	}
}

// Publish stamps each event with the active model version and writes them
// in one batch. A model lookup failure falls back to FallbackModelVersion
// rather than dropping feedback.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	version, err := p.model.Get(ctx)
	if err != nil {
		p.log.Warn("active model lookup failed", zap.Error(err))
		version = FallbackModelVersion
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		e.ModelVersion = version
		body, err := json.Marshal(e)
		if err != nil {
			return eris.Wrapf(err, "feedback: marshal %s", e.URL)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.URL), Value: body})
	}

	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return eris.Wrapf(err, "feedback: write %d messages", len(msgs))
	}
	return nil
}

// InvalidateModel forces the next Publish to re-read the active model.
func (p *KafkaPublisher) InvalidateModel() {
	p.model.Invalidate()
}

func (p *KafkaPublisher) Close() error {
	return eris.Wrap(p.w.Close(), "feedback: close writer")
}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, ...Event) error { return nil }
func (Noop) Close() error                            { return nil }

// New returns a Kafka publisher, or Noop when brokers is empty.
func New(brokers []string, topic string, models ModelSource, modelTTL time.Duration) Publisher {
	if len(brokers) == 0 {
		return Noop{}
	}
	return NewKafkaPublisher(brokers, topic, models, modelTTL)
}
