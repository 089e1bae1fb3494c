// Package executor runs a planned payment batch against the ledger with
// bounded concurrency. Tasks may complete in any order, but outcomes are
// emitted strictly by ascending sequence number so observers see a stable,
// replayable event order.
package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/idhash"
	"creditnet-lab/internal/ledger"
)

// ErrTooManyTimeouts aborts the batch once the per-tick timeout ceiling is
// reached; the orchestrator fails the run.
var ErrTooManyTimeouts = errors.New("too many ledger timeouts in one tick")

// defaultPaymentTimeout bounds a single ledger call.
const defaultPaymentTimeout = 5 * time.Second

// EmitFunc receives one payment outcome. Called in ascending sequence
// order, never concurrently.
type EmitFunc func(ev *domain.PaymentEvent, committed bool)

// PatchFunc computes the best-effort visualization patch attached to a
// committed payment. May return nil; must never fail the intent.
type PatchFunc func(intent *domain.PaymentIntent, route []string) *domain.TopologyPatch

// SenderLookup resolves a participant by ID, nil if unknown.
type SenderLookup func(id string) *domain.Participant

// Options configures an Executor.
type Options struct {
	MaxInFlight    int           // concurrent task ceiling; <=0 falls back to 1
	MaxTimeouts    int           // per-batch timeout ceiling; <=0 disables
	PaymentTimeout time.Duration // per-ledger-call deadline

	Emit   EmitFunc
	Patch  PatchFunc
	Lookup SenderLookup
}

// Executor executes batches for one run. The gate serializes access to the
// shared ledger session: task-side classification runs concurrently, the
// sub-transaction itself is point-in-time exclusive.
type Executor struct {
	opts Options
	gate *sync.Mutex
}

// New creates an executor sharing the given session gate.
func New(opts Options, gate *sync.Mutex) *Executor {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = defaultPaymentTimeout
	}
	return &Executor{opts: opts, gate: gate}
}

// EquivalentStats aggregates outcomes per equivalent.
type EquivalentStats struct {
	Attempts       int
	Committed      int
	Rejected       int
	Timeouts       int
	Errors         int
	Volume         float64
	RouteLengthSum int
	RouteCount     int
}

// AvgRouteLength returns the mean committed route length in hops.
func (s *EquivalentStats) AvgRouteLength() float64 {
	if s.RouteCount == 0 {
		return 0
	}
	return float64(s.RouteLengthSum) / float64(s.RouteCount)
}

// Result aggregates one executed batch.
type Result struct {
	Attempts  int
	Committed int
	Rejected  int
	Errors    int
	Timeouts  int

	// RejectionCodes histograms client-class rejections by stable code.
	RejectionCodes map[string]int

	// PerEquivalent breaks outcomes down by equivalent.
	PerEquivalent map[string]*EquivalentStats

	// PerEdge sums committed volume per direct (sender, receiver) pair.
	PerEdge map[domain.DebtKey]float64
}

func newResult() *Result {
	return &Result{
		RejectionCodes: make(map[string]int),
		PerEquivalent:  make(map[string]*EquivalentStats),
		PerEdge:        make(map[domain.DebtKey]float64),
	}
}

func (r *Result) equivalent(eq string) *EquivalentStats {
	s, ok := r.PerEquivalent[eq]
	if !ok {
		s = &EquivalentStats{}
		r.PerEquivalent[eq] = s
	}
	return s
}

// outcome is one completed task buffered until emittable in order.
type outcome struct {
	intent    *domain.PaymentIntent
	key       string
	committed bool
	route     []string
	code      string // stable rejection code, "" otherwise
	timeout   bool
	err       error
}

// Execute runs the batch. Returns the aggregate result; the error is
// non-nil only when the batch aborted (timeout ceiling or context
// cancellation). Buffered outcomes are flushed best-effort on abort.
func (e *Executor) Execute(ctx context.Context, runID string, tick int64, session ledger.Session, intents []*domain.PaymentIntent) (*Result, error) {
	result := newResult()
	if len(intents) == 0 {
		return result, nil
	}

	em := &emitter{
		pending: make(map[int]*outcome, len(intents)),
		result:  result,
		emit:    e.opts.Emit,
		patch:   e.opts.Patch,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.MaxInFlight)

	var timeoutCount int
	var timeoutMu sync.Mutex

	for _, intent := range intents {
		intent := intent
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				// Cancelled before start: never counted as an attempt.
				em.skip(intent.Sequence)
				return nil
			}

			out := e.runIntent(gctx, runID, tick, session, intent)
			em.offer(out)

			if out.timeout && e.opts.MaxTimeouts > 0 {
				timeoutMu.Lock()
				timeoutCount++
				exceeded := timeoutCount >= e.opts.MaxTimeouts
				timeoutMu.Unlock()
				if exceeded {
					return ErrTooManyTimeouts
				}
			}
			return nil
		})
	}

	err := group.Wait()
	em.flush()
	if err != nil {
		return result, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return result, cerr
	}
	return result, nil
}

// runIntent executes one intent: resolves the sender, computes the
// idempotency key, and performs the ledger call inside a sub-transaction
// while holding the session gate.
func (e *Executor) runIntent(ctx context.Context, runID string, tick int64, session ledger.Session, intent *domain.PaymentIntent) *outcome {
	out := &outcome{intent: intent}

	if e.opts.Lookup != nil {
		if sender := e.opts.Lookup(intent.Sender); sender == nil {
			out.code = ledger.RejectSenderNotFound
			out.err = ledger.Reject(ledger.RejectSenderNotFound, "%s", intent.Sender)
			return out
		}
	}

	out.key = idhash.ComputeIdempotencyKey(
		runID, tick, intent.Sender, intent.Receiver, intent.Equivalent, intent.Amount, intent.Sequence)

	req := ledger.PaymentRequest{
		Sender:         intent.Sender,
		Receiver:       intent.Receiver,
		Equivalent:     intent.Equivalent,
		Amount:         intent.Amount,
		IdempotencyKey: out.key,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.PaymentTimeout)
	defer cancel()

	// The gate covers the whole sub-transaction: the overlay push, the
	// payment attempt, and the merge or discard all mutate the shared
	// session and must be point-in-time exclusive.
	var res *ledger.PaymentResult
	e.gate.Lock()
	err := session.Sub(callCtx, func(s ledger.Session) error {
		var callErr error
		res, callErr = s.AttemptPayment(callCtx, req)
		return callErr
	})
	e.gate.Unlock()

	switch {
	case err == nil:
		out.committed = true
		out.route = res.Route
	case errors.Is(err, ledger.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		out.timeout = true
		out.err = err
	default:
		if code := ledger.RejectionCode(err); code != "" {
			out.code = code
		}
		out.err = err
	}
	return out
}

// emitter folds outcomes into the result and invokes Emit strictly in
// ascending sequence order, buffering completed-but-not-yet-emittable
// outcomes until all lower sequence numbers arrived.
type emitter struct {
	mu      sync.Mutex
	pending map[int]*outcome
	skipped map[int]struct{}
	next    int
	result  *Result
	emit    EmitFunc
	patch   PatchFunc
}

// offer registers a completed outcome and drains every consecutively
// emittable one.
func (m *emitter) offer(out *outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[out.intent.Sequence] = out
	m.drainLocked()
}

// skip marks a sequence number as never-executed so later outcomes can
// still drain after an abort.
func (m *emitter) skip(seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skipped == nil {
		m.skipped = make(map[int]struct{})
	}
	m.skipped[seq] = struct{}{}
	m.drainLocked()
}

func (m *emitter) drainLocked() {
	for {
		if _, ok := m.skipped[m.next]; ok {
			delete(m.skipped, m.next)
			m.next++
			continue
		}
		out, ok := m.pending[m.next]
		if !ok {
			return
		}
		delete(m.pending, m.next)
		m.next++
		m.emitLocked(out)
	}
}

// flush emits any remaining buffered outcomes in ascending order. Called
// once after all tasks finished; gaps from cancelled tasks are skipped.
func (m *emitter) flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	seqs := make([]int, 0, len(m.pending))
	for seq := range m.pending {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for _, seq := range seqs {
		m.emitLocked(m.pending[seq])
		delete(m.pending, seq)
	}
}

func (m *emitter) emitLocked(out *outcome) {
	intent := out.intent
	r := m.result
	eq := r.equivalent(intent.Equivalent)

	r.Attempts++
	eq.Attempts++

	switch {
	case out.committed:
		r.Committed++
		eq.Committed++
		eq.Volume += intent.Amount
		if len(out.route) > 1 {
			eq.RouteLengthSum += len(out.route) - 1
			eq.RouteCount++
		}
		r.PerEdge[domain.DebtKey{Debtor: intent.Sender, Creditor: intent.Receiver, Equivalent: intent.Equivalent}] += intent.Amount
	case out.timeout:
		r.Timeouts++
		eq.Timeouts++
	case out.code != "":
		r.Rejected++
		eq.Rejected++
		r.RejectionCodes[out.code]++
	default:
		r.Errors++
		eq.Errors++
	}

	if m.emit == nil {
		return
	}
	ev := &domain.PaymentEvent{
		Sequence:       intent.Sequence,
		Equivalent:     intent.Equivalent,
		Sender:         intent.Sender,
		Receiver:       intent.Receiver,
		Amount:         intent.Amount,
		Committed:      out.committed,
		RejectionCode:  out.code,
		Route:          out.route,
		IdempotencyKey: out.key,
	}
	if out.err != nil {
		ev.Error = out.err.Error()
	}
	if out.committed && m.patch != nil {
		ev.Patch = m.patch(intent, out.route)
	}
	m.emit(ev, out.committed)
}
