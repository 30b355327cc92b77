package handler

import (
	"context"
	"sync"
	"time"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/gate"
	"biometric-key-service/internal/middleware"
)

// maxTrackedRequests を超えると終了済みの古い要求から忘れる。
const maxTrackedRequests = 128

// trackedRequest はHTTP経由で提出された認証要求の記録。
type trackedRequest struct {
	pending *gate.Pending
	done    chan struct{}

	mu       sync.Mutex
	outcomes []domain.Outcome
}

// RequestSnapshot は認証要求のある時点の状態。
type RequestSnapshot struct {
	ID       string
	KeyName  string
	Purpose  domain.Purpose
	State    domain.GateState
	Done     bool
	Outcomes []domain.Outcome
}

// Tracker は提出済みの認証要求の結果を受け取り、HTTPから参照できるよう保持する。
type Tracker struct {
	mu       sync.Mutex
	requests map[string]*trackedRequest
	order    []string
}

// NewTracker は新しいTrackerを生成する。
func NewTracker() *Tracker {
	return &Tracker{requests: make(map[string]*trackedRequest)}
}

// Track は要求の結果チャネルを読み始める。
func (t *Tracker) Track(ctx context.Context, p *gate.Pending) {
	req := &trackedRequest{
		pending: p,
		done:    make(chan struct{}),
	}

	t.mu.Lock()
	t.requests[p.ID()] = req
	t.order = append(t.order, p.ID())
	t.evictLocked()
	t.mu.Unlock()

	// 結果はHTTPリクエストより後に届くため呼び出し元のキャンセルは引き継がない
	go t.drain(context.WithoutCancel(ctx), req)
}

func (t *Tracker) drain(ctx context.Context, req *trackedRequest) {
	defer close(req.done)

	p := req.pending
	for o := range p.Outcomes() {
		req.mu.Lock()
		req.outcomes = append(req.outcomes, o)
		req.mu.Unlock()

		if o.Terminal {
			middleware.WriteAuditLog(ctx, middleware.AuditAuthOutcome, p.KeyName(), p.Purpose().String(), string(o.Kind))
		}
	}
}

// evictLocked は上限を超えた分の終了済み要求を古い順に削除する。t.mu を保持して呼ぶ。
func (t *Tracker) evictLocked() {
	for len(t.order) > maxTrackedRequests {
		evicted := false
		for i, id := range t.order {
			req := t.requests[id]
			select {
			case <-req.done:
			default:
				continue
			}
			delete(t.requests, id)
			t.order = append(t.order[:i], t.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

// Get は要求の現在の状態を返す。
func (t *Tracker) Get(id string) (RequestSnapshot, error) {
	t.mu.Lock()
	req, ok := t.requests[id]
	t.mu.Unlock()
	if !ok {
		return RequestSnapshot{}, domain.ErrRequestNotFound
	}
	return req.snapshot(), nil
}

// Wait は要求が終了するか timeout が過ぎるまで待ってから状態を返す。
func (t *Tracker) Wait(ctx context.Context, id string, timeout time.Duration) (RequestSnapshot, error) {
	t.mu.Lock()
	req, ok := t.requests[id]
	t.mu.Unlock()
	if !ok {
		return RequestSnapshot{}, domain.ErrRequestNotFound
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-req.done:
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return req.snapshot(), nil
}

func (r *trackedRequest) snapshot() RequestSnapshot {
	done := false
	select {
	case <-r.done:
		done = true
	default:
	}

	r.mu.Lock()
	outcomes := make([]domain.Outcome, len(r.outcomes))
	copy(outcomes, r.outcomes)
	r.mu.Unlock()

	return RequestSnapshot{
		ID:       r.pending.ID(),
		KeyName:  r.pending.KeyName(),
		Purpose:  r.pending.Purpose(),
		State:    r.pending.State(),
		Done:     done,
		Outcomes: outcomes,
	}
}
