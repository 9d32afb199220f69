package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is wrapped by ParseEvent for frames that cannot be used.
var ErrMalformedEvent = errors.New("malformed media stream event")

// Media stream event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// Event is an inbound Twilio Media Streams message.
type Event struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload describes the stream once Twilio starts sending media.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat is the encoding of inbound media.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one frame of base64 μ-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names a marker that finished playing.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload is sent when the stream ends.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// DTMFPayload is a key press on the caller's handset.
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// ParseEvent decodes and validates one inbound frame.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch ev.Event {
	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	case EventStart:
		if ev.Start == nil {
			return nil, fmt.Errorf("%w: start without payload", ErrMalformedEvent)
		}
		if ev.StreamSid == "" {
			ev.StreamSid = ev.Start.StreamSid
		}
		if ev.StreamSid == "" {
			return nil, fmt.Errorf("%w: start without streamSid", ErrMalformedEvent)
		}
	case EventMedia:
		if ev.Media == nil {
			return nil, fmt.Errorf("%w: media without payload", ErrMalformedEvent)
		}
	case EventMark:
		if ev.Mark == nil || ev.Mark.Name == "" {
			return nil, fmt.Errorf("%w: mark without name", ErrMalformedEvent)
		}
	}
	return &ev, nil
}

// Audio decodes the media payload.
func (e *Event) Audio() ([]byte, error) {
	if e.Media == nil {
		return nil, fmt.Errorf("%w: not a media event", ErrMalformedEvent)
	}
	encoded := e.Media.Payload
	if encoded == "" {
		encoded = e.Media.Chunk
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: media payload: %v", ErrMalformedEvent, err)
	}
	return data, nil
}

// CallSid returns the call id carried by start or stop events.
func (e *Event) CallSid() string {
	switch {
	case e.Start != nil:
		return e.Start.CallSid
	case e.Stop != nil:
		return e.Stop.CallSid
	}
	return ""
}

type mediaFrame struct {
	Event     string            `json:"event"`
	StreamSid string            `json:"streamSid"`
	Media     mediaFramePayload `json:"media"`
}

type mediaFramePayload struct {
	Payload string `json:"payload"`
}

type markFrame struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

type clearFrame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
