package platform

import (
	"context"
	"testing"
)

func TestPermissions_Request(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		prompt Prompter
		want   bool
	}{
		{"granted by user", func(context.Context, string) bool { return true }, true},
		{"denied by user", func(context.Context, string) bool { return false }, false},
		{"no prompt", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPermissions(tt.prompt)
			if p.Has(ctx, PermissionBiometric) {
				t.Fatal("want permission absent initially")
			}
			p.Request(ctx, PermissionBiometric)
			if got := p.Has(ctx, PermissionBiometric); got != tt.want {
				t.Errorf("want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPermissions_GrantRevoke(t *testing.T) {
	ctx := context.Background()
	p := NewPermissions(nil, PermissionBiometric)
	if !p.Has(ctx, PermissionBiometric) {
		t.Fatal("want initial grant")
	}
	p.Revoke(PermissionBiometric)
	if p.Has(ctx, PermissionBiometric) {
		t.Error("want permission revoked")
	}
	p.Grant(PermissionBiometric)
	if !p.Has(ctx, PermissionBiometric) {
		t.Error("want permission granted")
	}
}

func TestInfo_Level(t *testing.T) {
	if got := NewInfo(MinBiometricLevel).Level(); got != MinBiometricLevel {
		t.Errorf("want %d, got %d", MinBiometricLevel, got)
	}
}
