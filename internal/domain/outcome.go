package domain

// OutcomeKind は認証結果の種類。
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeOverLimit OutcomeKind = "over_limit"
)

// Outcome はコールバック（結果チャネル）に届けられる認証結果。
//
// Succeeded の場合、Apply では ResultPayload に暗号文、IVBase64 にIVが
// URL-safe base64 で入る。Verify では ResultPayload に復号した平文が入り
// IVBase64 は空になる。
type Outcome struct {
	Kind          OutcomeKind
	Purpose       Purpose
	ResultPayload string
	IVBase64      string
	Message       string
	Err           error
	// Terminal が false の結果（単発の指紋不一致）の後も同じ要求で再試行できる。
	Terminal bool
}

// Succeeded は成功結果を生成する。
func Succeeded(purpose Purpose, payload, ivBase64 string) Outcome {
	return Outcome{
		Kind:          OutcomeSucceeded,
		Purpose:       purpose,
		ResultPayload: payload,
		IVBase64:      ivBase64,
		Terminal:      true,
	}
}

// Failed は失敗結果を生成する。
func Failed(purpose Purpose, message string, err error, terminal bool) Outcome {
	return Outcome{
		Kind:     OutcomeFailed,
		Purpose:  purpose,
		Message:  message,
		Err:      err,
		Terminal: terminal,
	}
}

// OverLimit はロックアウト結果を生成する。
func OverLimit(purpose Purpose, message string) Outcome {
	return Outcome{
		Kind:     OutcomeOverLimit,
		Purpose:  purpose,
		Message:  message,
		Err:      ErrBiometricLockout,
		Terminal: true,
	}
}

// SupportStatus は端末の生体認証サポート状況。
type SupportStatus string

const (
	SupportUnsupported SupportStatus = "unsupported"
	SupportUnavailable SupportStatus = "unavailable"
	SupportAvailable   SupportStatus = "available"
)

// GateState はBiometricGateの状態。
type GateState string

const (
	GateIdle           GateState = "idle"
	GateRequested      GateState = "requested"
	GateAwaitingSensor GateState = "awaiting_sensor"
	GateSucceeded      GateState = "succeeded"
	GateFailed         GateState = "failed"
	GateOverLimit      GateState = "over_limit"
	GateCancelled      GateState = "cancelled"
)
