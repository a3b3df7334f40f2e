package domain

// RecorderState models the toggle recording lifecycle.
type RecorderState string

const (
	RecorderStateIdle       RecorderState = "idle"
	RecorderStateRecording  RecorderState = "recording"
	RecorderStateTerminated RecorderState = "terminated"
)

// UIEventKind identifies an action for the display layer.
type UIEventKind string

const (
	UIEventShow       UIEventKind = "show"
	UIEventHide       UIEventKind = "hide"
	UIEventUpdateText UIEventKind = "update_text"
	UIEventExit       UIEventKind = "exit"
)

// UIEvent is one ordered display action. Text is only set for update events.
type UIEvent struct {
	Kind UIEventKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

// UpdateKind identifies whether a recognition update is tentative or committed.
type UpdateKind string

const (
	UpdateKindPartial UpdateKind = "partial"
	UpdateKindFinal   UpdateKind = "final"
)

// RecognitionUpdate is the outcome of feeding one batch to the engine.
type RecognitionUpdate struct {
	Kind UpdateKind `json:"kind"`
	Text string     `json:"text"`
}

// Signal is raised by the hotkey detector and consumed by the controller.
type Signal int

const (
	SignalToggle Signal = iota + 1
	SignalQuit
)

func (s Signal) String() string {
	switch s {
	case SignalToggle:
		return "toggle"
	case SignalQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// StopResult summarizes a completed recording.
type StopResult struct {
	SessionID       string `json:"sessionId"`
	RawTranscript   string `json:"rawTranscript"`
	FinalTranscript string `json:"finalTranscript"`
	Copied          bool   `json:"copied"`
	Captured        bool   `json:"captured"`
}
