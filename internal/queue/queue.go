// -----------------------------------------------------------------------
// Badger-backed named job queues with visibility timeouts, deduplicated
// enqueue, exponential-backoff retries and a dead-letter surface.
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

// storedMessage is the internal envelope persisted in Badger.
type storedMessage struct {
	ID         string               `json:"id"`
	QueueName  string               `json:"queue_name"`
	Body       models.QueueMessage  `json:"body"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	VisibleAt  time.Time            `json:"visible_at"`
	Attempts   int                  `json:"attempts"`
	MaxAttempts int                 `json:"max_attempts"`
	DedupID    string               `json:"dedup_id,omitempty"`
	Backoff    interfaces.BackoffPolicy `json:"backoff"`
}

// Defaults applied when EnqueueOptions leave fields unset.
type Config struct {
	VisibilityTimeout time.Duration
	MaxAttempts       int
	Backoff           interfaces.BackoffPolicy
}

// BadgerQueue implements QueueManager over a shared Badger instance. A
// message becomes invisible when received and re-visible after the
// visibility timeout, which is what tolerates worker crashes mid-job:
// a claimed message whose worker died simply reappears.
type BadgerQueue struct {
	db        *badger.DB
	config    Config
	failedJobs interfaces.FailedJobStorage
	logger    arbor.ILogger
}

// NewBadgerQueue creates a queue manager over an existing Badger database.
func NewBadgerQueue(db *badger.DB, config Config, failedJobs interfaces.FailedJobStorage, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Backoff.Initial <= 0 {
		config.Backoff = interfaces.BackoffPolicy{Initial: 2 * time.Second, Factor: 2.0, Max: 2 * time.Minute}
	}

	return &BadgerQueue{
		db:         db,
		config:     config,
		failedJobs: failedJobs,
		logger:     logger,
	}, nil
}

// Enqueue adds a message to the named queue. When opts carries a DedupID
// that is already live, the call is a no-op.
func (q *BadgerQueue) Enqueue(ctx context.Context, queueName string, msg *models.QueueMessage, opts *interfaces.EnqueueOptions) error {
	if queueName == "" {
		return errors.New("queue name is required")
	}

	stored := storedMessage{
		ID:          uuid.New().String(),
		QueueName:   queueName,
		Body:        *msg,
		EnqueuedAt:  time.Now(),
		VisibleAt:   time.Now(),
		Attempts:    0,
		MaxAttempts: q.config.MaxAttempts,
		Backoff:     q.config.Backoff,
	}

	if opts != nil {
		if opts.MaxAttempts > 0 {
			stored.MaxAttempts = opts.MaxAttempts
		}
		if opts.Backoff != nil {
			stored.Backoff = *opts.Backoff
		}
		stored.DedupID = opts.DedupID
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		// Deduplicated enqueue: the dedup key maps to the live message id
		if stored.DedupID != "" {
			dedupKey := q.dedupKey(queueName, stored.DedupID)
			if _, err := txn.Get(dedupKey); err == nil {
				log.Debug().Str("queue", queueName).Str("dedup_id", stored.DedupID).Msg("Duplicate enqueue skipped")
				return nil
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(dedupKey, []byte(stored.ID)); err != nil {
				return err
			}
		}

		if err := txn.Set(q.msgKey(queueName, stored.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(queueName, stored.VisibleAt, stored.ID), []byte{})
	})
}

// Receive claims the next visible message. Returns models.ErrNoMessage when
// the queue has nothing ready.
func (q *BadgerQueue) Receive(ctx context.Context, queueName string) (*interfaces.ReceivedMessage, error) {
	var claimed storedMessage

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(queueName, key)
			if err != nil {
				continue
			}
			// Index keys sort by timestamp: the first future entry ends
			// the scan
			if ts.After(now) {
				break
			}

			item, err := txn.Get(q.msgKey(queueName, id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up
					if derr := txn.Delete(key); derr != nil {
						return derr
					}
					continue
				}
				return err
			}

			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &claimed)
			}); err != nil {
				return err
			}

			found = true
			oldIndexKey = key
			break
		}

		if !found {
			return models.ErrNoMessage
		}

		claimed.Attempts++
		claimed.VisibleAt = time.Now().Add(q.config.VisibilityTimeout)

		newData, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(queueName, claimed.ID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(queueName, claimed.VisibleAt, claimed.ID), []byte{})
	})
	if err != nil {
		return nil, err
	}

	msgID := claimed.ID
	body := claimed.Body

	return &interfaces.ReceivedMessage{
		ID:       msgID,
		Attempts: claimed.Attempts,
		Message:  &body,
		Ack: func() error {
			return q.deleteMessage(queueName, msgID)
		},
		Nack: func(reason string) error {
			return q.nackMessage(context.Background(), queueName, msgID, reason)
		},
	}, nil
}

// Extend pushes a claimed message's visibility further out. Long-running
// handlers call this periodically as a heartbeat.
func (q *BadgerQueue) Extend(ctx context.Context, queueName, messageID string, duration time.Duration) error {
	return q.db.Update(func(txn *badger.Txn) error {
		stored, err := q.loadMessage(txn, queueName, messageID)
		if err != nil {
			return err
		}

		oldVisibleAt := stored.VisibleAt
		stored.VisibleAt = time.Now().Add(duration)

		if err := q.saveMessage(txn, stored); err != nil {
			return err
		}
		if err := txn.Delete(q.indexKey(queueName, oldVisibleAt, messageID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(queueName, stored.VisibleAt, messageID), []byte{})
	})
}

// QueueLength counts live messages in the named queue.
func (q *BadgerQueue) QueueLength(ctx context.Context, queueName string) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// nackMessage reschedules a failed message with exponential backoff, or
// dead-letters it once attempts are exhausted. Exhausted jobs are stored in
// the failed-job list, never dropped.
func (q *BadgerQueue) nackMessage(ctx context.Context, queueName, messageID, reason string) error {
	var exhausted *storedMessage

	err := q.db.Update(func(txn *badger.Txn) error {
		stored, err := q.loadMessage(txn, queueName, messageID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already settled
			}
			return err
		}

		if stored.Attempts >= stored.MaxAttempts {
			exhausted = stored
			return q.removeMessage(txn, stored)
		}

		oldVisibleAt := stored.VisibleAt
		stored.VisibleAt = time.Now().Add(q.backoffDelay(stored.Backoff, stored.Attempts))

		if err := q.saveMessage(txn, stored); err != nil {
			return err
		}
		if err := txn.Delete(q.indexKey(queueName, oldVisibleAt, messageID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(queueName, stored.VisibleAt, messageID), []byte{})
	})
	if err != nil {
		return err
	}

	if exhausted != nil {
		q.logger.Error().
			Str("queue", queueName).
			Str("message_id", messageID).
			Int("attempts", exhausted.Attempts).
			Str("reason", reason).
			Msg("Message exhausted retry attempts, moving to failed list")

		if q.failedJobs != nil {
			payload, _ := json.Marshal(exhausted.Body)
			return q.failedJobs.StoreFailedJob(ctx, &interfaces.FailedJob{
				ID:        exhausted.ID,
				QueueName: queueName,
				Type:      exhausted.Body.Type,
				Payload:   payload,
				Attempts:  exhausted.Attempts,
				LastError: reason,
				FailedAt:  time.Now(),
			})
		}
	}

	return nil
}

// backoffDelay computes the redelivery delay after the given attempt count.
func (q *BadgerQueue) backoffDelay(policy interfaces.BackoffPolicy, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(policy.Initial) * math.Pow(policy.Factor, float64(attempts-1))
	if policy.Max > 0 && delay > float64(policy.Max) {
		delay = float64(policy.Max)
	}
	return time.Duration(delay)
}

func (q *BadgerQueue) deleteMessage(queueName, messageID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		stored, err := q.loadMessage(txn, queueName, messageID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already deleted
			}
			return err
		}
		return q.removeMessage(txn, stored)
	})
}

// removeMessage deletes a message's data, index and dedup entries in one txn.
func (q *BadgerQueue) removeMessage(txn *badger.Txn, stored *storedMessage) error {
	if err := txn.Delete(q.indexKey(stored.QueueName, stored.VisibleAt, stored.ID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if stored.DedupID != "" {
		if err := txn.Delete(q.dedupKey(stored.QueueName, stored.DedupID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return txn.Delete(q.msgKey(stored.QueueName, stored.ID))
}

func (q *BadgerQueue) loadMessage(txn *badger.Txn, queueName, messageID string) (*storedMessage, error) {
	item, err := txn.Get(q.msgKey(queueName, messageID))
	if err != nil {
		return nil, err
	}
	var stored storedMessage
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (q *BadgerQueue) saveMessage(txn *badger.Txn, stored *storedMessage) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return txn.Set(q.msgKey(stored.QueueName, stored.ID), data)
}

// Key helpers. The visibility timestamp is zero-padded so byte ordering
// matches chronological ordering.

func (q *BadgerQueue) msgKey(queueName, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queueName, id))
}

func (q *BadgerQueue) indexKey(queueName string, visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queueName, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) dedupKey(queueName, dedupID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dedup:%s", queueName, dedupID))
}

func (q *BadgerQueue) parseIndexKey(queueName string, key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
