package domain

import (
	"time"
)

type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseDecoding   Phase = "decoding"
	PhaseResizing   Phase = "resizing"
	PhaseEncoding   Phase = "encoding"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

// Progress is the fixed progress value reported while a job sits in p.
func (p Phase) Progress() float64 {
	switch p {
	case PhaseDecoding:
		return 0.1
	case PhaseResizing:
		return 0.3
	case PhaseEncoding:
		return 0.5
	case PhaseFinalizing:
		return 0.9
	case PhaseDone:
		return 1
	default:
		return 0
	}
}

type Job struct {
	ID            string
	CorrelationID string
	ResultID      string

	Source      []byte
	Filename    string
	ContentType string
	Quality     int
	Hash        string

	Phase    Phase
	Progress float64
	Resized  bool

	OriginalSize int64
	Size         int64

	CreatedAt  time.Time
	FinishedAt time.Time
	Err        *Error
}

// CompressRequest is one file handed to the engine, either directly or after
// an upload session has been reassembled.
type CompressRequest struct {
	Data          []byte
	Filename      string
	ContentType   string
	Quality       int
	CorrelationID string
	// ResultID is reused when a client recompresses an item it already has a
	// result for; empty means a fresh id.
	ResultID string
	Hash     string
}

// SourceFile is one file of a direct compress request.
type SourceFile struct {
	Data          []byte
	Filename      string
	ContentType   string
	CorrelationID string
	ResultID      string
}

type Outcome struct {
	ResultID     string
	ContentType  string
	Filename     string
	Size         int64
	OriginalSize int64
	Resized      bool
}

type UploadSession struct {
	ID            string
	Filename      string
	MimeType      string
	Size          int64
	ChunkCount    int
	Quality       int
	Hash          string
	CorrelationID string
	ResultID      string

	ReceivedBytes int64
	Chunks        map[int][]byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *UploadSession) ReceivedIndices() []int {
	out := make([]int, 0, len(s.Chunks))
	for i := 0; i < s.ChunkCount; i++ {
		if _, ok := s.Chunks[i]; ok {
			out = append(out, i)
		}
	}
	return out
}

func (s *UploadSession) MissingIndices() []int {
	var out []int
	for i := 0; i < s.ChunkCount; i++ {
		if _, ok := s.Chunks[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

type InstantResult struct {
	ResultID    string `json:"result_id"`
	Filename    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type ResultFile struct {
	Filename    string
	ContentType string
	Data        []byte
}
