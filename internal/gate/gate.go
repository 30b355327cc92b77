// Package gate は暗号ハンドルを生体認証の成功に結びつけるBiometricGateを提供する。
//
// プロセス全体で同時に進行できる認証要求は1つだけ。進行中に別の要求が
// 来た場合は domain.ErrAuthenticationInProgress で即座に拒否し、進行中の
// 要求には影響を与えない。
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/metrics"
)

// EventKind はセンサーから届く信号の種類。
type EventKind int

const (
	// EventStarted はセンサーが読み取りを開始したことを表す。
	EventStarted EventKind = iota + 1
	// EventMatched は登録済みの指紋と一致したことを表す。
	EventMatched
	// EventMismatch は1回の読み取りが一致しなかったことを表す。再試行できる。
	EventMismatch
	// EventLockout は試行回数超過によるロックアウトを表す。
	EventLockout
	// EventError はロックアウト以外の回復不能なエラーを表す。
	EventError
	// EventHelp は指の置き直しなどの案内を表す。結果には影響しない。
	EventHelp
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventMatched:
		return "matched"
	case EventMismatch:
		return "mismatch"
	case EventLockout:
		return "lockout"
	case EventError:
		return "error"
	case EventHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Binding はセンサーに渡す暗号ハンドルの識別子。
type Binding interface {
	ID() string
}

// Event はセンサーからの信号。EventMatched の場合、Binding には
// 提出した暗号ハンドルが返される。
type Event struct {
	Kind    EventKind
	Binding Binding
	Message string
}

// Sensor は生体センサーへの提出口。onEvent はセンサー側の任意のゴルーチンから呼ばれる。
// ctx がキャンセルされたらセンサーは読み取りを中止する。
type Sensor interface {
	Submit(ctx context.Context, binding Binding, onEvent func(Event)) error
}

// CipherSession は生体認証で解放される使い捨ての暗号ハンドル。
type CipherSession interface {
	Binding
	Purpose() domain.Purpose
	IV() []byte
	MarkAuthenticated()
	Transform(ctx context.Context, input []byte) ([]byte, error)
}

// Request は認証要求。
type Request struct {
	KeyName string
	Purpose domain.Purpose
	Session CipherSession
	// Payload は Apply では平文、Verify では暗号文。
	Payload []byte
	// Check は変換結果の妥当性を確認する。nil なら確認しない。
	Check func(result []byte) error
}

// Gate はBiometricGateの実装。
type Gate struct {
	sensor Sensor

	mu      sync.Mutex
	current *Pending
}

// New は新しいGateを生成する。
func New(sensor Sensor) *Gate {
	return &Gate{sensor: sensor}
}

// State は進行中の要求の状態を返す。要求が無ければ domain.GateIdle。
func (g *Gate) State() domain.GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return domain.GateIdle
	}
	return g.current.State()
}

// Busy は要求が進行中かを返す。認証成功後の変換中も進行中とみなす。
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}

// Authenticate は暗号ハンドルを生体認証付きで実行するようセンサーに提出する。
// 呼び出しはすぐに戻り、結果は Pending の結果チャネルに届く。
func (g *Gate) Authenticate(ctx context.Context, req Request) (*Pending, error) {
	if req.Session == nil {
		return nil, errors.New("request has no cipher session")
	}
	if req.Session.Purpose() != req.Purpose {
		return nil, fmt.Errorf("cipher session purpose %s does not match request purpose %s", req.Session.Purpose(), req.Purpose)
	}

	g.mu.Lock()
	if g.current != nil {
		g.mu.Unlock()
		return nil, domain.ErrAuthenticationInProgress
	}
	// 認証はHTTPリクエストなど呼び出し元の寿命を超えて続くため、キャンセルは引き継がない。
	tokenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := newPending(tokenCtx, cancel, req)
	g.current = p
	g.mu.Unlock()

	slog.InfoContext(ctx, "authentication requested",
		"request_id", p.id,
		"key_name", req.KeyName,
		"purpose", req.Purpose.String(),
	)

	if err := g.sensor.Submit(tokenCtx, req.Session, func(ev Event) { g.handle(p, ev) }); err != nil {
		g.mu.Lock()
		if g.current == p {
			g.current = nil
			p.setState(domain.GateFailed)
			p.cancel()
			close(p.outcomes)
		}
		g.mu.Unlock()
		slog.ErrorContext(ctx, "failed to submit to sensor",
			"operation", "authenticate",
			"request_id", p.id,
			"error", err,
		)
		return nil, fmt.Errorf("submitting to sensor: %w", err)
	}
	return p, nil
}

// Stop は進行中の要求をキャンセルする。キャンセルされた要求には結果を届けない。
// 要求が無い場合と、認証成功後の変換中は何もしない。
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.current
	if p == nil || p.completing {
		return
	}
	g.current = nil
	p.setState(domain.GateCancelled)
	p.cancel()
	close(p.outcomes)
	metrics.AuthenticationsCancelledTotal.Inc()
	slog.InfoContext(p.ctx, "authentication cancelled", "request_id", p.id)
}

// handle はセンサーからの信号を処理する。センサーのゴルーチンから呼ばれる。
func (g *Gate) handle(p *Pending, ev Event) {
	g.mu.Lock()
	if g.current != p || p.ctx.Err() != nil || p.completing {
		g.mu.Unlock()
		slog.DebugContext(p.ctx, "dropping sensor event for inactive request",
			"request_id", p.id,
			"event", ev.Kind.String(),
		)
		return
	}

	switch ev.Kind {
	case EventStarted:
		p.setState(domain.GateAwaitingSensor)
		g.mu.Unlock()

	case EventHelp:
		g.mu.Unlock()
		slog.InfoContext(p.ctx, "sensor help", "request_id", p.id, "message", ev.Message)

	case EventMismatch:
		p.setState(domain.GateAwaitingSensor)
		p.deliverRetryable(domain.Failed(p.req.Purpose, "fingerprint not recognized", domain.ErrBiometricMismatch, false))
		g.mu.Unlock()

	case EventLockout:
		g.detach(p)
		msg := ev.Message
		if msg == "" {
			msg = "too many attempts, try again later"
		}
		p.finish(domain.GateOverLimit, domain.OverLimit(p.req.Purpose, msg))
		g.mu.Unlock()

	case EventError:
		g.detach(p)
		msg := ev.Message
		if msg == "" {
			msg = "authentication error"
		}
		p.finish(domain.GateFailed, domain.Failed(p.req.Purpose, msg, errors.New(msg), true))
		g.mu.Unlock()

	case EventMatched:
		// 変換が終わるまで要求は進行中のまま。以降の信号とStopは無視される。
		p.completing = true
		g.mu.Unlock()
		state, o := g.complete(p, ev)

		g.mu.Lock()
		g.detach(p)
		g.mu.Unlock()
		p.finish(state, o)

	default:
		g.mu.Unlock()
		slog.WarnContext(p.ctx, "unknown sensor event", "request_id", p.id, "event", int(ev.Kind))
	}
}

// detach は要求を進行中から外す。g.mu を保持して呼ぶ。
func (g *Gate) detach(p *Pending) {
	g.current = nil
	p.cancel()
}

// complete は認証成功後に暗号ハンドルを実行し、終端の結果を組み立てる。
func (g *Gate) complete(p *Pending, ev Event) (domain.GateState, domain.Outcome) {
	req := p.req
	if ev.Binding == nil || ev.Binding.ID() != req.Session.ID() {
		slog.WarnContext(p.ctx, "sensor returned no matching cipher binding", "request_id", p.id)
		return domain.GateFailed, domain.Failed(req.Purpose, "authentication fail", domain.ErrCryptoFailure, true)
	}

	req.Session.MarkAuthenticated()
	out, err := req.Session.Transform(p.ctx, req.Payload)
	if errors.Is(err, domain.ErrKeyInvalidated) {
		slog.WarnContext(p.ctx, "key invalidated while awaiting sensor",
			"operation", "transform",
			"request_id", p.id,
			"key_name", req.KeyName,
		)
		return domain.GateFailed, domain.Failed(req.Purpose, "key invalidated", err, true)
	}
	if err != nil {
		slog.WarnContext(p.ctx, "cipher transform failed",
			"operation", "transform",
			"request_id", p.id,
			"error", err,
		)
		return domain.GateFailed, domain.Failed(req.Purpose, "authentication exception", err, true)
	}
	if req.Check != nil {
		if err := req.Check(out); err != nil {
			return domain.GateFailed, domain.Failed(req.Purpose, "authentication fail", err, true)
		}
	}

	if req.Purpose == domain.PurposeApply {
		return domain.GateSucceeded, domain.Succeeded(req.Purpose, domain.EncodeBase64(out), domain.EncodeBase64(req.Session.IV()))
	}
	return domain.GateSucceeded, domain.Succeeded(req.Purpose, string(out), "")
}
