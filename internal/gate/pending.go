package gate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/metrics"
)

const outcomeBuffer = 8

// Pending は提出済みの認証要求。結果は Outcomes のチャネルに届く。
//
// 単発の指紋不一致（Terminal=false）の後もチャネルは開いたまま。
// 終端の結果を届けた後、またはキャンセルされた時にチャネルは閉じられる。
// キャンセル時は何も届けずに閉じる。
type Pending struct {
	id       string
	req      Request
	ctx      context.Context
	cancel   context.CancelFunc
	outcomes chan domain.Outcome
	// completing は認証成功後の変換中を表す。Gate.mu で保護する。
	completing bool

	mu    sync.Mutex
	state domain.GateState
}

func newPending(ctx context.Context, cancel context.CancelFunc, req Request) *Pending {
	return &Pending{
		id:       uuid.NewString(),
		req:      req,
		ctx:      ctx,
		cancel:   cancel,
		outcomes: make(chan domain.Outcome, outcomeBuffer),
		state:    domain.GateRequested,
	}
}

// ID は要求IDを返す。
func (p *Pending) ID() string { return p.id }

// KeyName は鍵名を返す。
func (p *Pending) KeyName() string { return p.req.KeyName }

// Purpose は要求の目的を返す。
func (p *Pending) Purpose() domain.Purpose { return p.req.Purpose }

// Outcomes は結果チャネルを返す。
func (p *Pending) Outcomes() <-chan domain.Outcome { return p.outcomes }

// State は要求の状態を返す。
func (p *Pending) State() domain.GateState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Wait は終端の結果が届くまで待つ。途中の不一致結果は読み捨てる。
// キャンセルされた場合は domain.ErrCancelled を返す。
func (p *Pending) Wait(ctx context.Context) (domain.Outcome, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		case o, ok := <-p.outcomes:
			if !ok {
				return domain.Outcome{}, domain.ErrCancelled
			}
			if o.Terminal {
				return o, nil
			}
		}
	}
}

func (p *Pending) setState(s domain.GateState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// deliverRetryable は再試行可能な結果を届ける。終端の結果のために常に1枠空けておく。
func (p *Pending) deliverRetryable(o domain.Outcome) {
	if len(p.outcomes) >= cap(p.outcomes)-1 {
		slog.WarnContext(p.ctx, "dropping retryable outcome, consumer is not reading",
			"request_id", p.id,
		)
		return
	}
	p.outcomes <- o
	metrics.AuthenticationOutcomesTotal.WithLabelValues(o.Purpose.String(), string(o.Kind)).Inc()
}

// finish は終端の結果を届けてチャネルを閉じる。
func (p *Pending) finish(state domain.GateState, o domain.Outcome) {
	p.setState(state)
	p.outcomes <- o
	close(p.outcomes)
	metrics.AuthenticationOutcomesTotal.WithLabelValues(o.Purpose.String(), string(o.Kind)).Inc()
	slog.InfoContext(p.ctx, "authentication finished",
		"request_id", p.id,
		"key_name", p.req.KeyName,
		"purpose", p.req.Purpose.String(),
		"outcome", string(o.Kind),
	)
}
