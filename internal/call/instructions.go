package call

// Capture способ получить следующую реплику абонента
type Capture string

const (
	// CaptureNone после реплик звонок завершается
	CaptureNone Capture = ""
	// CaptureRecording запись ответа и распознавание на нашей стороне
	CaptureRecording Capture = "recording"
	// CaptureSpeech распознавание речи силами телефонии
	CaptureSpeech Capture = "speech"
)

// Фразы, которые произносятся без участия языковой модели
const (
	NoInputLine          = "I didn't hear anything. Goodbye!"
	ErrorLine            = "Sorry, there was an error. Goodbye!"
	AccountNotFoundLine  = "Sorry, I couldn't find your account. Goodbye!"
	NoRecordingLine      = "Sorry, I didn't receive your recording. Goodbye!"
	RecordingFailedLine  = "Sorry, I couldn't process your recording. Goodbye!"
	TranscriptFailedLine = "Sorry, I couldn't understand you. Goodbye!"
	ClosingLine          = "That's all for now. Stay productive!"
)

// Instructions что телефония должна сделать в ответ на событие звонка.
// Реплики Lines произносятся по порядку; если задан Capture, ожидается ответ абонента,
// а AfterCapture звучит, когда ответа не было. Звонок всегда завершается в конце.
type Instructions struct {
	Lines        []string
	Capture      Capture
	AfterCapture []string
	// UserID передается обратно в webhook следующего шага; 0 если пользователь неизвестен
	UserID uint
}

// Hangup реплики без ожидания ответа
func Hangup(lines ...string) Instructions {
	return Instructions{Lines: lines}
}

// Ends true, если после реплик разговор не продолжается
func (i Instructions) Ends() bool {
	return i.Capture == CaptureNone
}
