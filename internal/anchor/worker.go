package anchor

import (
	"context"
	"errors"
	"log"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/metrics"
)

// jobsKey is the Redis list carrying complaint ids awaiting anchoring.
const jobsKey = "anchor:jobs"

// Queue feeds complaint ids to the worker. Enqueueing is fire-and-forget:
// the periodic sweep over pending anchor rows catches anything Redis drops.
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue { return &Queue{rdb: rdb} }

// EnqueueAnchor implements the complaints engine's AnchorQueue.
func (q *Queue) EnqueueAnchor(ctx context.Context, complaintID string) error {
	return q.rdb.LPush(ctx, jobsKey, complaintID).Err()
}

// Store is the subset of the database layer the worker needs.
type Store interface {
	GetComplaint(ctx context.Context, id string) (*core.Complaint, error)
	GetChainAnchorForUpdate(ctx context.Context, complaintID string) (*core.ChainAnchor, error)
	UpsertChainAnchor(ctx context.Context, a *core.ChainAnchor) error
	UpdateAnchorStatus(ctx context.Context, complaintID string, status core.AnchorStatus, txHash *string, nonce uint64, at time.Time) error
	ListAnchorsByStatus(ctx context.Context, status core.AnchorStatus, limit int) ([]core.ChainAnchor, error)
}

// Runner executes fn transactionally against a Store.
type Runner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Worker drains the anchor queue and mirrors complaint hashes on chain. The
// chain being down never blocks the complaint flow: rows park in
// pending_retry and the sweep picks them up later.
type Worker struct {
	runner     Runner
	backend    Backend
	rdb        *redis.Client
	metrics    *metrics.Metrics
	maxElapsed time.Duration
	now        func() time.Time
}

func NewWorker(runner Runner, backend Backend, rdb *redis.Client, m *metrics.Metrics, maxElapsed time.Duration) *Worker {
	if maxElapsed <= 0 {
		maxElapsed = 5 * time.Minute
	}
	return &Worker{
		runner:     runner,
		backend:    backend,
		rdb:        rdb,
		metrics:    m,
		maxElapsed: maxElapsed,
		now:        time.Now,
	}
}

// Run blocks on the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Println("anchor: worker started")
	for {
		res, err := w.rdb.BRPop(ctx, 5*time.Second, jobsKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				log.Println("anchor: worker stopped")
				return
			}
			if !errors.Is(err, redis.Nil) {
				log.Printf("anchor: queue read failed: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if w.metrics != nil {
			if depth, err := w.rdb.LLen(ctx, jobsKey).Result(); err == nil {
				w.metrics.AnchorQueueDepth.Set(float64(depth))
			}
		}
		// res is [key, value]
		complaintID := res[1]
		if err := w.Process(ctx, complaintID); err != nil {
			log.Printf("anchor: complaint %s parked for retry: %v", complaintID, err)
		}
	}
}

// Sweep re-queues anchors stuck in pending_retry; the scheduler calls it
// periodically.
func (w *Worker) Sweep(ctx context.Context, limit int) error {
	var stuck []core.ChainAnchor
	err := w.runner.InTx(ctx, func(s Store) error {
		var err error
		stuck, err = s.ListAnchorsByStatus(ctx, core.AnchorPendingRetry, limit)
		return err
	})
	if err != nil {
		return err
	}
	for _, a := range stuck {
		if err := w.rdb.LPush(ctx, jobsKey, a.ComplaintID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Process anchors one complaint. The anchor row lock gives one in-flight
// submission per complaint; retries use exponential backoff and the
// InvalidNonce recovery reads the authoritative nonce from the chain.
func (w *Worker) Process(ctx context.Context, complaintID string) error {
	return w.runner.InTx(ctx, func(s Store) error {
		c, err := s.GetComplaint(ctx, complaintID)
		if err != nil {
			return err
		}
		if c == nil {
			return core.E(core.KindNotFound, "complaint vanished before anchoring")
		}

		now := w.now().UTC()
		if err := validateCreatedAt(c.CreatedAt, now); err != nil {
			return err
		}
		if c.UpdatedAt.Before(c.CreatedAt) {
			return core.E(core.KindValidation, "complaint updated_at precedes created_at")
		}
		hashes, err := BuildHashes(c)
		if err != nil {
			return err
		}

		prior, err := s.GetChainAnchorForUpdate(ctx, complaintID)
		if err != nil {
			return err
		}
		if prior != nil && prior.Status == core.AnchorConfirmed && prior.StatusHash == hashes.StatusHash {
			// Nothing changed since the last confirmed anchor.
			return nil
		}

		row := &core.ChainAnchor{
			ID:            uuid.New().String(),
			ComplaintID:   complaintID,
			ComplaintHash: hashes.ComplaintHash,
			SLAHash:       hashes.SLAHash,
			StatusHash:    hashes.StatusHash,
			Status:        core.AnchorPending,
			CreatedAt:     now,
			LastUpdatedAt: now,
		}
		isFirst := prior == nil
		if prior != nil {
			row.ID = prior.ID
			row.CreatedAt = prior.CreatedAt
			row.StatusNonce = prior.StatusNonce
		}

		txHash, nonce, err := w.submit(ctx, c, row, hashes, isFirst)
		if err != nil {
			row.Status = core.AnchorPendingRetry
			if upErr := s.UpsertChainAnchor(ctx, row); upErr != nil {
				return upErr
			}
			if w.metrics != nil {
				w.metrics.AnchorSubmits.WithLabelValues("failed").Inc()
			}
			return core.Wrap(core.KindChainUnavailable, "anchor submission failed", err)
		}

		row.Status = core.AnchorConfirmed
		row.TxHash = &txHash
		row.StatusNonce = nonce
		row.LastUpdatedAt = w.now().UTC()
		if err := s.UpsertChainAnchor(ctx, row); err != nil {
			return err
		}
		if w.metrics != nil {
			w.metrics.AnchorSubmits.WithLabelValues("confirmed").Inc()
		}
		return nil
	})
}

// submit pushes the anchor (first time) or status update (afterwards) with
// retries. The complaint hash keys the on-chain registry entry; it covers
// only immutable fields, so every update lands on the same entry. Returns
// the tx hash and the nonce now stored on chain.
func (w *Worker) submit(ctx context.Context, c *core.Complaint, row *core.ChainAnchor, hashes *Hashes, isFirst bool) (string, uint64, error) {
	complaintHash, err := hexToBytes32(hashes.ComplaintHash)
	if err != nil {
		return "", 0, err
	}
	slaHash, err := hexToBytes32(hashes.SLAHash)
	if err != nil {
		return "", 0, err
	}
	statusHash, err := hexToBytes32(hashes.StatusHash)
	if err != nil {
		return "", 0, err
	}

	policy := backoff.WithContext(newBackoff(w.maxElapsed), ctx)

	if isFirst {
		var txHash string
		err := backoff.Retry(func() error {
			var err error
			txHash, err = w.backend.SubmitAnchor(ctx, complaintHash, slaHash, statusHash,
				big.NewInt(c.CreatedAt.UTC().Unix()), big.NewInt(0))
			return err
		}, policy)
		if err != nil {
			return "", 0, err
		}
		return txHash, 0, nil
	}

	updatedAt := big.NewInt(c.UpdatedAt.UTC().Unix())
	nonce := row.StatusNonce + 1
	var txHash string
	err = backoff.Retry(func() error {
		var err error
		txHash, err = w.backend.SubmitStatus(ctx, complaintHash, statusHash,
			updatedAt, new(big.Int).SetUint64(nonce))
		if errors.Is(err, ErrInvalidNonce) {
			// Another writer advanced the nonce; the chain is the
			// authority, continue from there.
			onchain, readErr := w.backend.StatusNonce(ctx, complaintHash)
			if readErr != nil {
				return readErr
			}
			nonce = onchain.Uint64() + 1
			return err
		}
		return err
	}, policy)
	if err != nil {
		return "", 0, err
	}
	return txHash, nonce, nil
}

func newBackoff(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxElapsed
	return b
}
