// Package protocol defines the live WebSocket wire format between a speech
// client (which owns the platform recognition and synthesis engines) and the
// conversation gateway (which owns the lifecycle state machine).
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// VoiceInfo describes one synthesis voice available on the client platform.
type VoiceInfo struct {
	Name   string `json:"name"`
	Lang   string `json:"lang"`
	Female bool   `json:"female,omitempty"`
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type HelloUser struct {
	Name string `json:"name,omitempty"`
}

// HelloCapabilities reports which platform speech services the client has.
// A missing capability rejects the session before any conversation starts.
type HelloCapabilities struct {
	Recognition bool `json:"recognition"`
	Synthesis   bool `json:"synthesis"`
}

type ClientHello struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Client          HelloClient       `json:"client,omitempty"`
	User            HelloUser         `json:"user,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	// Voices may be empty at connect time; the client then reports the
	// loaded list with a voiceschanged synthesis event.
	Voices []VoiceInfo `json:"voices,omitempty"`
}

// ClientToggle flips the conversation between idle and active, the same
// single control the microphone button exposes.
type ClientToggle struct {
	Type string `json:"type"`
}

const (
	RecognitionKindStart  = "start"
	RecognitionKindResult = "result"
	RecognitionKindEnd    = "end"
	RecognitionKindError  = "error"
)

// ClientRecognitionEvent forwards one platform recognition-engine event.
// HandleID echoes the id from the listen_start that created the engine
// instance, so events from a replaced instance are discarded.
type ClientRecognitionEvent struct {
	Type       string `json:"type"`
	Kind       string `json:"kind"`
	HandleID   string `json:"handle_id"`
	Transcript string `json:"transcript,omitempty"`
	Code       string `json:"code,omitempty"`
}

const (
	SynthesisKindEnd           = "end"
	SynthesisKindError         = "error"
	SynthesisKindVoicesChanged = "voiceschanged"
)

// ClientSynthesisEvent forwards one platform synthesis-engine event.
type ClientSynthesisEvent struct {
	Type        string      `json:"type"`
	Kind        string      `json:"kind"`
	UtteranceID string      `json:"utterance_id,omitempty"`
	Code        string      `json:"code,omitempty"`
	Voices      []VoiceInfo `json:"voices,omitempty"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if strings.TrimSpace(msg.ProtocolVersion) == "" {
			return nil, badRequest("hello.protocol_version is required", "protocol_version")
		}
		return msg, nil
	case "toggle":
		var msg ClientToggle
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid toggle", "")
		}
		return msg, nil
	case "recognition_event":
		var msg ClientRecognitionEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid recognition_event", "")
		}
		switch strings.TrimSpace(msg.Kind) {
		case RecognitionKindStart, RecognitionKindResult, RecognitionKindEnd, RecognitionKindError:
		default:
			return nil, unsupported("unsupported recognition event kind", "kind")
		}
		if strings.TrimSpace(msg.HandleID) == "" {
			return nil, badRequest("recognition_event.handle_id is required", "handle_id")
		}
		return msg, nil
	case "synthesis_event":
		var msg ClientSynthesisEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid synthesis_event", "")
		}
		switch strings.TrimSpace(msg.Kind) {
		case SynthesisKindEnd, SynthesisKindError, SynthesisKindVoicesChanged:
		default:
			return nil, unsupported("unsupported synthesis event kind", "kind")
		}
		if msg.Kind != SynthesisKindVoicesChanged && strings.TrimSpace(msg.UtteranceID) == "" {
			return nil, badRequest("synthesis_event.utterance_id is required", "utterance_id")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

type HelloAckLimits struct {
	DebounceMS   int `json:"debounce_ms"`
	HistoryLimit int `json:"history_limit"`
}

type ServerHelloAck struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Limits          HelloAckLimits `json:"limits"`
}

// ServerState announces a conversation status change
// (idle/listening/thinking/ended).
type ServerState struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ServerListen instructs the client to start, stop, or abort its recognition
// engine instance. Type is one of listen_start, listen_stop, listen_abort.
type ServerListen struct {
	Type     string `json:"type"`
	HandleID string `json:"handle_id"`
}

// ServerSpeak instructs the client to synthesize one utterance. An empty
// voice name selects the engine default.
type ServerSpeak struct {
	Type        string  `json:"type"`
	UtteranceID string  `json:"utterance_id"`
	Text        string  `json:"text"`
	VoiceName   string  `json:"voice_name,omitempty"`
	Lang        string  `json:"lang"`
	Pitch       float64 `json:"pitch"`
	Rate        float64 `json:"rate"`
	Volume      float64 `json:"volume"`
}

type ServerSynthesisCancel struct {
	Type string `json:"type"`
}

type ServerTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type InsightRow struct {
	Title  string `json:"title"`
	Time   string `json:"time,omitempty"`
	Status string `json:"status"`
}

// ServerInsight delivers the caretaker summary for a finished conversation.
type ServerInsight struct {
	Type            string       `json:"type"`
	SessionID       string       `json:"session_id"`
	SenseIndex      int          `json:"sense_index"`
	DurationSeconds int          `json:"duration_seconds"`
	Mood            string       `json:"mood,omitempty"`
	Rows            []InsightRow `json:"rows"`
}

type HistoryEntryInfo struct {
	SessionID       string       `json:"session_id"`
	StartedAt       string       `json:"started_at"`
	EndedAt         string       `json:"ended_at"`
	DurationSeconds int          `json:"duration_seconds"`
	Mood            string       `json:"mood,omitempty"`
	SenseIndex      int          `json:"sense_index"`
	Rows            []InsightRow `json:"rows"`
}

// ServerHistory delivers the bounded recent-conversation log, newest first.
type ServerHistory struct {
	Type    string             `json:"type"`
	Entries []HistoryEntryInfo `json:"entries"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
