package domain

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestValidateKeyName(t *testing.T) {
	tests := []struct {
		name    string
		keyName string
		wantErr bool
	}{
		{"simple", "card-001", false},
		{"dotted", "com.example.card_1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"reserved probe namespace", ProbeKeyPrefix + "hardware", true},
		{"invalid characters", "card/001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyName(tt.keyName)
			if tt.wantErr && !errors.Is(err, ErrInvalidKeyName) {
				t.Errorf("want ErrInvalidKeyName, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodeBase64_ToleratesLineBreaksAndMissingPadding(t *testing.T) {
	raw := bytes.Repeat([]byte{0xfb, 0xff, 0x01}, 40)
	encoded := EncodeBase64(raw)

	wrapped := encoded[:76] + "\n" + encoded[76:] + "\n"
	got, err := DecodeBase64(wrapped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("want wrapped input to decode to original bytes")
	}

	short := EncodeBase64([]byte("ab"))
	got, err = DecodeBase64(strings.TrimRight(short, "="))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "ab" {
		t.Errorf("want ab, got %q", got)
	}
}

func TestEncodeBase64_IsURLSafe(t *testing.T) {
	encoded := EncodeBase64([]byte{0xfb, 0xff, 0xfe})
	if strings.ContainsAny(encoded, "+/") {
		t.Errorf("want url-safe alphabet, got %s", encoded)
	}
}

func TestPurpose_String(t *testing.T) {
	if PurposeApply.String() != "apply" {
		t.Errorf("want apply, got %s", PurposeApply.String())
	}
	if PurposeVerify.String() != "verify" {
		t.Errorf("want verify, got %s", PurposeVerify.String())
	}
}
