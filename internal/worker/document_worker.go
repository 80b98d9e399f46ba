package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"docsense/internal/app"
	"docsense/internal/model"
	"docsense/internal/platform/rabbitmq"
)

const defaultPollInterval = 5 * time.Second

type documentClaimer interface {
	ClaimNextQueued(ctx context.Context) (*model.Document, error)
}

type documentRunner interface {
	Run(ctx context.Context, doc *model.Document) (*app.ProcessResult, error)
}

// DocumentWorker claims queued documents one at a time and processes them.
// It polls the database; queued notifications from RabbitMQ only cut the
// idle wait short.
type DocumentWorker struct {
	docs         documentClaimer
	runner       documentRunner
	conn         *amqp.Connection
	queueName    string
	pollInterval time.Duration

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDocumentWorker builds a worker. conn may be nil, in which case the
// worker only polls.
func NewDocumentWorker(docs documentClaimer, runner documentRunner, conn *amqp.Connection, queueName string, pollInterval time.Duration) *DocumentWorker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &DocumentWorker{
		docs:         docs,
		runner:       runner,
		conn:         conn,
		queueName:    queueName,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

func (w *DocumentWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.conn != nil {
		if err := w.consume(workerCtx); err != nil {
			cancel()
			w.cancel = nil
			return err
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(workerCtx)
	}()
	return nil
}

// Close stops claiming and waits for the document in flight to finish.
func (w *DocumentWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// RunOnce claims and processes at most one queued document. It reports
// whether a document was claimed.
func (w *DocumentWorker) RunOnce(ctx context.Context) (bool, error) {
	doc, err := w.docs.ClaimNextQueued(ctx)
	if err != nil {
		return false, fmt.Errorf("claim queued document failed: %w", err)
	}
	if doc == nil {
		return false, nil
	}

	log := logrus.WithField("document_id", doc.ID)
	log.Info("document claimed")
	// A claimed document must reach a terminal state even during shutdown.
	if _, err := w.runner.Run(context.WithoutCancel(ctx), doc); err != nil {
		log.WithError(err).Warn("document processing ended with error")
	}
	return true, nil
}

// Wake asks the loop to poll now.
func (w *DocumentWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *DocumentWorker) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		w.drain(ctx)
		timer.Reset(w.pollInterval)
	}
}

// drain processes documents until none are queued.
func (w *DocumentWorker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logrus.WithError(err).Error("worker poll failed")
			}
			return
		}
		if !claimed {
			return
		}
	}
}

func (w *DocumentWorker) consume(ctx context.Context) error {
	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logrus.Warn("queued notification channel closed, falling back to polling")
					return
				}

				var msg rabbitmq.QueuedMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					logrus.WithError(err).Warn("worker decode queued message failed")
					_ = d.Nack(false, false)
					continue
				}
				logrus.WithField("document_id", msg.DocumentID).Debug("queued notification received")
				_ = d.Ack(false)
				w.Wake()
			}
		}
	}()
	return nil
}
