package domain

type SubmitResponse struct {
	JobID         string `json:"job_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ResultID      string `json:"result_id,omitempty"`

	// filled by the synchronous variant only
	Filename     string     `json:"file_name,omitempty"`
	Size         int64      `json:"size,omitempty"`
	OriginalSize int64      `json:"original_size,omitempty"`
	Resized      bool       `json:"resized,omitempty"`
	DownloadURL  string     `json:"download_url,omitempty"`
	Error        *ErrorBody `json:"error,omitempty"`
}

type JobStatusResponse struct {
	JobID         string     `json:"job_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Missing       bool       `json:"missing,omitempty"`
	Phase         Phase      `json:"phase,omitempty"`
	Progress      float64    `json:"progress"`
	ResultID      string     `json:"result_id,omitempty"`
	Size          int64      `json:"size,omitempty"`
	OriginalSize  int64      `json:"original_size,omitempty"`
	Resized       bool       `json:"resized,omitempty"`
	DownloadURL   string     `json:"download_url,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
}

type BatchStatusRequest struct {
	IDs []string `json:"ids"`
}

type InitUploadRequest struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mime_type"`
	Size          int64  `json:"size"`
	ChunkCount    int    `json:"chunk_count"`
	Quality       int    `json:"quality"`
	Hash          string `json:"hash,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ResultID      string `json:"result_id,omitempty"`
}

type InitUploadResponse struct {
	SessionID            string         `json:"session_id,omitempty"`
	ChunkSize            int64          `json:"chunk_size,omitempty"`
	Instant              bool           `json:"instant,omitempty"`
	Result               *InstantResult `json:"result,omitempty"`
	Resume               bool           `json:"resume,omitempty"`
	ReceivedChunkIndices []int          `json:"received_chunk_indices,omitempty"`
	ReceivedBytes        int64          `json:"received_bytes,omitempty"`
}

type ChunkResponse struct {
	ReceivedBytes int64 `json:"received_bytes"`
	TotalBytes    int64 `json:"total_bytes"`
	Done          bool  `json:"done"`
	Duplicate     bool  `json:"duplicate,omitempty"`
}

type UploadStatusResponse struct {
	SessionID            string `json:"session_id"`
	Filename             string `json:"filename"`
	ReceivedChunkIndices []int  `json:"received_chunk_indices"`
	ReceivedBytes        int64  `json:"received_bytes"`
	TotalBytes           int64  `json:"total_bytes"`
	ChunkCount           int    `json:"chunk_count"`
}

type CompleteUploadResponse struct {
	JobID  string         `json:"job_id,omitempty"`
	Result *InstantResult `json:"result,omitempty"`
}

type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status   string       `json:"status"`
	Limiter  LimiterStats `json:"limiter"`
	Cache    CacheStats   `json:"cache"`
	Jobs     int          `json:"jobs"`
	Sessions SessionStats `json:"sessions"`
}

type LimiterStats struct {
	Size    int `json:"size"`
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

type CacheStats struct {
	Items    int   `json:"items"`
	Bytes    int64 `json:"bytes"`
	MaxItems int   `json:"max_items"`
	MaxBytes int64 `json:"max_bytes"`
}

type SessionStats struct {
	Open          int   `json:"open"`
	ReservedBytes int64 `json:"reserved_bytes"`
}
