package port

// CaptureOutcome - итог захвата одного источника за запуск.
type CaptureOutcome string

const (
	CaptureOutcomeStored    CaptureOutcome = "stored"
	CaptureOutcomeUnchanged CaptureOutcome = "unchanged"
	CaptureOutcomeExhausted CaptureOutcome = "exhausted"
)

// CaptureObserver получает события pipeline для локальных метрик процесса.
type CaptureObserver interface {
	ObserveAttempt(sourceID string, err error)
	ObserveOutcome(sourceID string, outcome CaptureOutcome, attempts int, sizeBytes int)
}
