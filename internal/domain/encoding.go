package domain

import (
	"encoding/base64"
	"strings"
)

// EncodeBase64 は永続化層・UIとの受け渡しに使うURL-safe base64（パディングあり）で符号化する。
func EncodeBase64(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeBase64 はURL-safe base64を復号する。
// 旧クライアントが76文字ごとに挿入した改行と、パディングの欠落は許容する。
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
