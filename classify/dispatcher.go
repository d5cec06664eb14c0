package classify

import (
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

const defaultTopic = "statement-classification"

// DispatchMessage is the payload published for one classification job.
type DispatchMessage struct {
	BankStatementId int `json:"bank_statement_id"`
}

// Dispatcher submits classification work detached from the ingestion
// request. Failures are the caller's to log; they never block ingestion.
type Dispatcher interface {
	Dispatch(ctx context.Context, statementId int) error
}

// PubSubDispatcher publishes classification jobs to a topic consumed by the
// push handler. Used when the service runs with a pub/sub project configured.
type PubSubDispatcher struct {
	Topic  *pubsub.Topic
	Logger *logrus.Logger
}

func NewPubSubDispatcher(ctx context.Context, logger *logrus.Logger) (*PubSubDispatcher, error) {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return nil, err
	}
	topicName := os.Getenv("CLASSIFICATION_TOPIC")
	if topicName == "" {
		topicName = defaultTopic
	}
	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return nil, err
	}
	return &PubSubDispatcher{Topic: topic, Logger: logger}, nil
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, statementId int) error {
	data, err := utils.MarshalToJSON(DispatchMessage{BankStatementId: statementId})
	if err != nil {
		return err
	}
	res := d.Topic.Publish(ctx, &pubsub.Message{Data: []byte(data)})
	_, err = res.Get(ctx)
	return err
}

// InProcessDispatcher runs the worker on a background goroutine with its own
// bounded queue. Used locally and when no pub/sub project is configured.
type InProcessDispatcher struct {
	Worker *Worker
	Logger *logrus.Logger
	jobs   chan int
}

func NewInProcessDispatcher(worker *Worker, logger *logrus.Logger) *InProcessDispatcher {
	d := &InProcessDispatcher{
		Worker: worker,
		Logger: logger,
		jobs:   make(chan int, 64),
	}
	go d.run()
	return d
}

func (d *InProcessDispatcher) run() {
	for statementId := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		result, err := d.Worker.Classify(ctx, statementId)
		cancel()
		if rmErr := config.RemoveRedisKey(fmt.Sprintf("classifyJob:%d", statementId)); rmErr != nil {
			config.LogError(d.Logger, "dispatcher.go", "run", "clear classification in-flight marker", statementId, rmErr)
		}
		if err != nil {
			config.LogError(d.Logger, "dispatcher.go", "run", "classify statement", statementId, err)
			continue
		}
		d.Logger.WithFields(logrus.Fields{
			"bank_statement_id":  statementId,
			"classified_count":   result.ClassifiedCount,
			"total_transactions": result.TotalTransactions,
		}).Info("statement classified")
	}
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, statementId int) error {
	// Resubmissions of the same statement fire a new classification job each
	// time; a short redis marker collapses duplicates while one is queued.
	inflightKey := fmt.Sprintf("classifyJob:%d", statementId)
	if _, found, err := config.GetRedisValue(inflightKey); err == nil && found {
		d.Logger.WithField("bank_statement_id", statementId).
			Info("classification already queued, skipping")
		return nil
	}

	select {
	case d.jobs <- statementId:
		if err := config.SetRedisValue(inflightKey, "1", 5*time.Minute); err != nil {
			config.LogError(d.Logger, "dispatcher.go", "Dispatch", "mark classification in-flight", statementId, err)
		}
		return nil
	default:
		d.Logger.WithField("bank_statement_id", statementId).
			Warn("classification queue full, dropping job")
		return nil
	}
}

// NewDispatcher returns a pub/sub dispatcher when a GCP project is
// configured, otherwise the in-process fallback.
func NewDispatcher(ctx context.Context, worker *Worker, logger *logrus.Logger) Dispatcher {
	if os.Getenv("PUBSUB_PROJECT_ID") != "" || os.Getenv("GOOGLE_CLOUD_PROJECT") != "" || os.Getenv("GCP_PROJECT") != "" {
		d, err := NewPubSubDispatcher(ctx, logger)
		if err == nil {
			return d
		}
		config.LogError(logger, "dispatcher.go", "NewDispatcher", "pubsub dispatcher init, falling back to in-process", nil, err)
	}
	return NewInProcessDispatcher(worker, logger)
}
