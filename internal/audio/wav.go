package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

const wavHeaderSize = 44

// WAVRecorder writes mu-law frames to a 16-bit mono PCM WAV file. It is a
// passive sink: write failures are reported to the caller but never block playback.
type WAVRecorder struct {
	mu         sync.Mutex
	file       *os.File
	sampleRate int
	dataBytes  uint32
	closed     bool
}

// NewWAVRecorder creates path and reserves space for the header.
func NewWAVRecorder(path string, sampleRate int) (*WAVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	r := &WAVRecorder{file: f, sampleRate: sampleRate}
	if err := r.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the file being written.
func (r *WAVRecorder) Path() string {
	return r.file.Name()
}

// Write decodes a mu-law frame and appends it.
func (r *WAVRecorder) Write(mulaw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recording %s is closed", r.file.Name())
	}
	samples := DecodeMulaw(mulaw)
	if err := binary.Write(r.file, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	r.dataBytes += uint32(len(samples) * 2)
	return nil
}

// Close finalizes the header sizes and closes the file.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if _, err := r.file.Seek(0, 0); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to rewind recording: %w", err)
	}
	if err := r.writeHeader(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

func (r *WAVRecorder) writeHeader() error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	header := make([]byte, wavHeaderSize)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], 36+r.dataBytes)
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], channels)
	binary.LittleEndian.PutUint32(header[24:], uint32(r.sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(r.sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(header[32:], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(header[34:], bitsPerSample)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], r.dataBytes)

	if _, err := r.file.Write(header); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	return nil
}
