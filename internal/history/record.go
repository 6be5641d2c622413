package history

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one successfully settled inference call to be recorded.
type Event struct {
	ModelID   string
	ModelName string
	AgentID   int64
	Payer     string
	TxHash    string
	Amount    *big.Int
	ChainID   int64
	Input     string
	Output    string
	LatencyMs int64
	// CreatedAt defaults to the store clock.
	CreatedAt time.Time
}

// Record is a stored InferenceRecord. Amount is in USDC base units.
type Record struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId"`
	ModelName string    `json:"modelName"`
	AgentID   int64     `json:"agentId"`
	Payer     string    `json:"payer"`
	TxHash    *string   `json:"txHash"`
	Amount    string    `json:"amount"`
	ChainID   int64     `json:"chainId"`
	Input     string    `json:"inputPreview"`
	Output    string    `json:"outputPreview"`
	LatencyMs int64     `json:"latencyMs"`
	CreatedAt time.Time `json:"createdAt"`
}

// AmountUnits parses Amount back into base units.
func (r Record) AmountUnits() *big.Int {
	n, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// TruncatePreview bounds a preview to MaxPreviewLength characters, marking
// the cut with "...".
func TruncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= MaxPreviewLength {
		return s
	}
	r := []rune(s)
	return string(r[:MaxPreviewLength-3]) + "..."
}

// Record inserts one event and returns its id.
func (s *Store) Record(ctx context.Context, ev Event) (string, error) {
	if ev.ModelID == "" || ev.Payer == "" {
		return "", fmt.Errorf("%w: model id and payer are required", ErrRecordWriteFailed)
	}
	amount := ev.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 || !amount.IsInt64() {
		return "", fmt.Errorf("%w: amount %s out of range", ErrRecordWriteFailed, amount)
	}
	chainID := ev.ChainID
	if chainID == 0 {
		chainID = DefaultChainID
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	var txHash, latency any
	if ev.TxHash != "" {
		txHash = ev.TxHash
	}
	if ev.LatencyMs > 0 {
		latency = ev.LatencyMs
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO inference_history
    (id, model_id, model_name, agent_id, payer_wallet, tx_hash, amount_usdc, chain_id,
     input_preview, output_preview, latency_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ev.ModelID, ev.ModelName, ev.AgentID, strings.ToLower(ev.Payer), txHash,
		amount.Int64(), chainID, TruncatePreview(ev.Input), TruncatePreview(ev.Output),
		latency, toMillis(createdAt),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecordWriteFailed, err)
	}
	return id, nil
}

const recordColumns = `id, model_id, model_name, agent_id, payer_wallet, tx_hash, amount_usdc,
       chain_id, input_preview, output_preview, latency_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r         Record
		txHash    sql.NullString
		latency   sql.NullInt64
		amount    int64
		createdAt int64
	)
	if err := row.Scan(&r.ID, &r.ModelID, &r.ModelName, &r.AgentID, &r.Payer, &txHash, &amount,
		&r.ChainID, &r.Input, &r.Output, &latency, &createdAt); err != nil {
		return Record{}, err
	}
	if txHash.Valid {
		r.TxHash = &txHash.String
	}
	r.LatencyMs = latency.Int64
	r.Amount = big.NewInt(amount).String()
	r.CreatedAt = fromMillis(createdAt)
	if r.ModelName == "" {
		r.ModelName = "Model #" + r.ModelID
	}
	return r, nil
}

// ── Fire-and-forget recording ───────────────────────────────────────────────

// RecordObserver is notified of every background write outcome.
type RecordObserver interface {
	ObserveRecord(err error)
}

// Recorder writes events on a background goroutine so the request path
// never waits on the database. Write failures go to an error channel that
// only feeds the logger.
type Recorder struct {
	store    *Store
	log      *zap.Logger
	observer RecordObserver
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	errs   chan error
	wg     sync.WaitGroup
}

// NewRecorder starts the writer and error-logging goroutines. observer may be nil.
func NewRecorder(store *Store, log *zap.Logger, buffer int, observer RecordObserver) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{
		store:    store,
		log:      log,
		observer: observer,
		timeout:  10 * time.Second,
		queue:    make(chan Event, buffer),
		errs:     make(chan error, buffer),
	}
	r.wg.Add(2)
	go r.writeLoop()
	go r.errorLoop()
	return r
}

// RecordAsync enqueues ev and returns immediately. It reports false when the
// event was dropped because the queue is full or the recorder is closed.
func (r *Recorder) RecordAsync(ev Event) bool {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.store.now()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Warn("record: recorder closed, dropping event", zap.String("model", ev.ModelID))
		return false
	}
	select {
	case r.queue <- ev:
		return true
	default:
		r.log.Error("record: queue full, dropping event",
			zap.String("model", ev.ModelID),
			zap.String("tx", ev.TxHash),
		)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	defer close(r.errs)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		id, err := r.store.Record(ctx, ev)
		cancel()
		if r.observer != nil {
			r.observer.ObserveRecord(err)
		}
		if err != nil {
			r.errs <- fmt.Errorf("model %s tx %s: %w", ev.ModelID, ev.TxHash, err)
			continue
		}
		r.log.Debug("record: inference recorded", zap.String("id", id), zap.String("model", ev.ModelID))
	}
}

func (r *Recorder) errorLoop() {
	defer r.wg.Done()
	for err := range r.errs {
		r.log.Error("record: async write failed", zap.Error(err))
	}
}
