package twilio

import (
	"net/url"
	"strconv"

	"VoiceCoachService/internal/call"
	"github.com/twilio/twilio-go/twiml"
)

// Параметры ожидания ответа абонента
const (
	gatherTimeout       = "5"
	gatherSpeechTimeout = "2"
	recordMaxLength     = "30"
	recordTimeout       = "3"
)

// Renderer переводит call.Instructions в TwiML
type Renderer struct {
	voice string
}

// NewRenderer создает Renderer с голосом voice (например Polly.Matthew-Neural)
func NewRenderer(voice string) *Renderer {
	return &Renderer{voice: voice}
}

// Render строит документ <Response>; звонок всегда завершается <Hangup/>
func (r *Renderer) Render(ins call.Instructions) (string, error) {
	elements := make([]twiml.Element, 0, len(ins.Lines)+len(ins.AfterCapture)+2)
	for _, line := range ins.Lines {
		elements = append(elements, r.say(line))
	}

	if !ins.Ends() {
		elements = append(elements, captureElement(ins.Capture, ins.UserID))
		for _, line := range ins.AfterCapture {
			elements = append(elements, r.say(line))
		}
	}

	elements = append(elements, &twiml.VoiceHangup{})
	return twiml.Voice(elements)
}

func (r *Renderer) say(line string) twiml.Element {
	return &twiml.VoiceSay{Message: line, Voice: r.voice}
}

func captureElement(capture call.Capture, userID uint) twiml.Element {
	if capture == call.CaptureSpeech {
		return &twiml.VoiceGather{
			Input:         "speech",
			Action:        actionURL(ResponsePath, userID),
			Method:        "POST",
			Timeout:       gatherTimeout,
			SpeechTimeout: gatherSpeechTimeout,
		}
	}
	return &twiml.VoiceRecord{
		Action:    actionURL(RecordingPath, userID),
		Method:    "POST",
		MaxLength: recordMaxLength,
		Timeout:   recordTimeout,
		PlayBeep:  "true",
	}
}

func actionURL(path string, userID uint) string {
	if userID == 0 {
		return path
	}
	return path + "?" + url.Values{"user_id": []string{strconv.FormatUint(uint64(userID), 10)}}.Encode()
}
