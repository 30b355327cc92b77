// Package sensor はプログラムから操作できる指紋センサーのシミュレーションを提供する。
//
// 実機のセンサーと同じく、信号はセンサー側のゴルーチンから届き、
// 連続した不一致が閾値に達するとロックアウトする。
package sensor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"biometric-key-service/internal/gate"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Second
)

var (
	// ErrNoHardware はセンサーが存在しない場合のエラー。
	ErrNoHardware = errors.New("sensor hardware not present")
	// ErrNoActiveSubmission は読み取り待ちの要求が無い場合のエラー。
	ErrNoActiveSubmission = errors.New("no authentication awaiting the sensor")
	// ErrTemplateNotFound は指定された指紋テンプレートが無い場合のエラー。
	ErrTemplateNotFound = errors.New("template not found")
)

// Template は登録済みの指紋テンプレート。
type Template struct {
	ID   string
	Name string
}

type submission struct {
	ctx     context.Context
	binding gate.Binding
	onEvent func(gate.Event)
}

// Simulated はシミュレートされた指紋センサー。
type Simulated struct {
	mu               sync.Mutex
	hardware         bool
	templates        map[string]string
	epoch            string
	active           *submission
	failedAttempts   int
	lockoutThreshold int
	lockoutDuration  time.Duration
	lockedUntil      time.Time
	now              func() time.Time

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// Option はSimulatedの設定。
type Option func(*Simulated)

// WithLockout はロックアウトまでの連続失敗回数とロックアウト時間を設定する。
func WithLockout(threshold int, duration time.Duration) Option {
	return func(s *Simulated) {
		s.lockoutThreshold = threshold
		s.lockoutDuration = duration
	}
}

// WithClock は時刻の取得元を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Simulated) {
		s.now = now
	}
}

// NewSimulated は新しいSimulatedを生成する。使い終わったら Close を呼ぶ。
func NewSimulated(hardware bool, opts ...Option) *Simulated {
	s := &Simulated{
		hardware:         hardware,
		templates:        make(map[string]string),
		epoch:            uuid.NewString(),
		lockoutThreshold: defaultLockoutThreshold,
		lockoutDuration:  defaultLockoutDuration,
		now:              time.Now,
		events:           make(chan func(), 64),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.dispatch()
	return s
}

// dispatch はセンサー側のスレッドとして信号を順番に届ける。
func (s *Simulated) dispatch() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// Close はディスパッチ用のゴルーチンを停止する。
func (s *Simulated) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Flush はそれまでに発生した信号がすべて届くまで待つ。
func (s *Simulated) Flush() {
	done := make(chan struct{})
	select {
	case s.events <- func() { close(done) }:
	case <-s.done:
		return
	}
	select {
	case <-done:
	case <-s.done:
	}
}

// emit は信号を送る。s.mu を保持して呼ぶ。
func (s *Simulated) emit(sub *submission, ev gate.Event) {
	onEvent := sub.onEvent
	select {
	case s.events <- func() { onEvent(ev) }:
	case <-s.done:
	}
}

// IsHardwareDetected はセンサーが存在するかを返す。
func (s *Simulated) IsHardwareDetected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardware
}

// HasEnrolledTemplates は指紋が1件以上登録されているかを返す。
func (s *Simulated) HasEnrolledTemplates(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardware && len(s.templates) > 0
}

// EnrollmentEpoch は指紋の登録状態を識別する値を返す。登録・削除のたびに変わる。
func (s *Simulated) EnrollmentEpoch(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, nil
}

// Templates は登録済みテンプレートを名前順に返す。
func (s *Simulated) Templates() []Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Template, 0, len(s.templates))
	for id, name := range s.templates {
		out = append(out, Template{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnrollTemplate は指紋テンプレートを登録する。
func (s *Simulated) EnrollTemplate(name string) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hardware {
		return Template{}, ErrNoHardware
	}
	id := uuid.NewString()
	s.templates[id] = name
	s.epoch = uuid.NewString()
	return Template{ID: id, Name: name}, nil
}

// RemoveTemplate は指紋テンプレートを削除する。
func (s *Simulated) RemoveTemplate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(s.templates, id)
	s.epoch = uuid.NewString()
	return nil
}

// Submit は暗号ハンドルを受け付けて読み取りを開始する。
// 先に受け付けた読み取りは信号を送らずに破棄する。
func (s *Simulated) Submit(ctx context.Context, binding gate.Binding, onEvent func(gate.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hardware {
		return ErrNoHardware
	}

	sub := &submission{ctx: ctx, binding: binding, onEvent: onEvent}
	if s.now().Before(s.lockedUntil) {
		s.active = nil
		s.emit(sub, gate.Event{Kind: gate.EventLockout, Message: "too many attempts, sensor locked"})
		return nil
	}

	s.active = sub
	s.emit(sub, gate.Event{Kind: gate.EventStarted})

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active == sub {
			s.active = nil
			slog.DebugContext(ctx, "sensor read cancelled")
		}
	}()
	return nil
}

// Touch は指をセンサーに置いたことをシミュレートする。
// templateID が登録済みなら一致、それ以外は不一致として扱う。
func (s *Simulated) Touch(templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.active
	if sub == nil || sub.ctx.Err() != nil {
		return ErrNoActiveSubmission
	}

	if _, ok := s.templates[templateID]; ok {
		s.active = nil
		s.failedAttempts = 0
		s.emit(sub, gate.Event{Kind: gate.EventMatched, Binding: sub.binding})
		return nil
	}

	s.failedAttempts++
	if s.failedAttempts >= s.lockoutThreshold {
		s.active = nil
		s.failedAttempts = 0
		s.lockedUntil = s.now().Add(s.lockoutDuration)
		s.emit(sub, gate.Event{Kind: gate.EventLockout, Message: "too many attempts, sensor locked"})
		return nil
	}
	s.emit(sub, gate.Event{Kind: gate.EventMismatch})
	return nil
}

// Help は指の置き直しなどの案内信号を送る。
func (s *Simulated) Help(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ErrNoActiveSubmission
	}
	s.emit(s.active, gate.Event{Kind: gate.EventHelp, Message: message})
	return nil
}

// Fail はロックアウト以外のセンサーエラーを送り、読み取りを終了する。
func (s *Simulated) Fail(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.active
	if sub == nil {
		return ErrNoActiveSubmission
	}
	s.active = nil
	s.emit(sub, gate.Event{Kind: gate.EventError, Message: message})
	return nil
}

// SetHardware はセンサーの有無を切り替える。
func (s *Simulated) SetHardware(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardware = present
}
