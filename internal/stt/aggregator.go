package stt

import "strings"

// Aggregator assembles recognizer results into utterances. Final segments
// accumulate until the recognizer signals end of speech, either with
// speech_final on a result or with a separate utterance-end event.
type Aggregator struct {
	segments    []string
	speechFinal bool
}

// Result handles one recognition result and returns the transcripts it produces.
func (a *Aggregator) Result(text string, isFinal, speechFinal bool) []Transcript {
	text = strings.TrimSpace(text)
	if !isFinal || text == "" {
		if text == "" {
			return nil
		}
		return []Transcript{{Final: false, Text: text}}
	}

	a.segments = append(a.segments, text)
	if !speechFinal {
		a.speechFinal = false
		return nil
	}
	a.speechFinal = true
	return []Transcript{a.take()}
}

// UtteranceEnd flushes accumulated segments unless the last result already did.
func (a *Aggregator) UtteranceEnd() (Transcript, bool) {
	if a.speechFinal || len(a.segments) == 0 {
		return Transcript{}, false
	}
	return a.take(), true
}

// Pending returns the text accumulated so far.
func (a *Aggregator) Pending() string {
	return strings.Join(a.segments, " ")
}

func (a *Aggregator) take() Transcript {
	t := Transcript{Final: true, Text: a.Pending()}
	a.segments = nil
	return t
}
