// Package platform はホストプラットフォームの情報とパーミッションを提供する。
package platform

import (
	"context"
	"log/slog"
	"sync"
)

// PermissionBiometric は生体認証の利用許可。
const PermissionBiometric = "USE_BIOMETRIC"

// MinBiometricLevel は生体認証付き鍵をサポートする最小のプラットフォームレベル。
const MinBiometricLevel = 23

// Info はプラットフォームのバージョン情報。
type Info struct {
	level int
}

// NewInfo は新しいInfoを生成する。
func NewInfo(level int) Info {
	return Info{level: level}
}

// Level はプラットフォームレベルを返す。
func (i Info) Level() int { return i.level }

// Prompter は利用者にパーミッションを求める。許可されたら true を返す。
type Prompter func(ctx context.Context, permission string) bool

// Permissions はパーミッションの付与状態を管理する。
type Permissions struct {
	mu      sync.Mutex
	granted map[string]bool
	prompt  Prompter
}

// NewPermissions は新しいPermissionsを生成する。prompt が nil なら要求は常に拒否される。
func NewPermissions(prompt Prompter, granted ...string) *Permissions {
	p := &Permissions{
		granted: make(map[string]bool),
		prompt:  prompt,
	}
	for _, perm := range granted {
		p.granted[perm] = true
	}
	return p
}

// Has はパーミッションが付与済みかを返す。
func (p *Permissions) Has(ctx context.Context, permission string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[permission]
}

// Request はパーミッションを要求する。結果は Has で確認する。
func (p *Permissions) Request(ctx context.Context, permission string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.granted[permission] || p.prompt == nil {
		return
	}
	if p.prompt(ctx, permission) {
		p.granted[permission] = true
		slog.InfoContext(ctx, "permission granted", "permission", permission)
		return
	}
	slog.WarnContext(ctx, "permission denied", "permission", permission)
}

// Grant はパーミッションを付与する。
func (p *Permissions) Grant(permission string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted[permission] = true
}

// Revoke はパーミッションを取り消す。
func (p *Permissions) Revoke(permission string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.granted, permission)
}
