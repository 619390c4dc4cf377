package server

import (
	"time"

	"analyzehub/internal/gate"
	"analyzehub/internal/retry"
	"analyzehub/internal/websocket"
)

// BackoffPayload is the payload of a backoff event.
type BackoffPayload struct {
	Request gate.AnalysisRequest `json:"request"`
	Kind    retry.ErrorKind      `json:"kind"`
	DelayMs int64                `json:"delayMs"`
}

// EventObserver turns attempt loop events into WebSocket broadcasts.
type EventObserver struct {
	hub *websocket.Hub
}

// NewEventObserver creates an observer broadcasting on hub
func NewEventObserver(hub *websocket.Hub) *EventObserver {
	return &EventObserver{hub: hub}
}

func (o *EventObserver) OnAttempt(req gate.AnalysisRequest) {
	if o == nil || o.hub == nil {
		return
	}
	o.hub.Broadcast(&websocket.Message{Type: websocket.MessageTypeAttempt, Payload: req})
}

func (o *EventObserver) OnBackoff(req gate.AnalysisRequest, kind retry.ErrorKind, delay time.Duration) {
	if o == nil || o.hub == nil {
		return
	}
	o.hub.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeBackoff,
		Payload: &BackoffPayload{
			Request: req,
			Kind:    kind,
			DelayMs: delay.Milliseconds(),
		},
	})
}

func (o *EventObserver) OnFinish(report gate.Report) {
	if o == nil || o.hub == nil {
		return
	}
	o.hub.Broadcast(&websocket.Message{Type: websocket.MessageTypeFinish, Payload: report})
}
