package model

import "time"

// RunStatus represents the current state of an ingestion run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusAnalyzing   RunStatus = "analyzing"
	RunStatusExtracting  RunStatus = "extracting"
	RunStatusDeduping    RunStatus = "deduping"
	RunStatusNormalizing RunStatus = "normalizing"
	RunStatusQueuing     RunStatus = "queuing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// PhaseStatus represents the status of a single run phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// IngestFile is one uploaded document.
type IngestFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// IngestionRun tracks processing of one document for one tenant.
type IngestionRun struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	FileName  string     `json:"file_name"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of an ingestion run.
type RunResult struct {
	Strategy          ExtractionStrategy `json:"strategy"`
	ChunksTotal       int                `json:"chunks_total"`
	ChunksPartial     int                `json:"chunks_partial"`
	ChunksSkipped     int                `json:"chunks_skipped"`
	RawItems          int                `json:"raw_items"`
	DuplicatesRemoved int                `json:"duplicates_removed"`
	QueuedCount       int                `json:"queued_count"`
	SkippedCount      int                `json:"skipped_count"`
	TierBreakdown     map[ReviewTier]int `json:"tier_breakdown"`
	Warnings          []string           `json:"warnings,omitempty"`
	Usage             TokenUsage         `json:"usage"`
	CostUSD           float64            `json:"cost_usd"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseResult holds the outcome of a single phase.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks LLM token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Calls               int     `json:"calls"`
	Cost                float64 `json:"cost"`
}

// Add accumulates usage from another TokenUsage.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Calls += other.Calls
	t.Cost += other.Cost
}

// IngestResult is the document-batch outcome reported to the caller.
// SkippedCount covers nameless records, failed chunks and chunks left
// unprocessed by cancellation.
type IngestResult struct {
	TenantID          string             `json:"tenant_id"`
	RunIDs            []string           `json:"run_ids"`
	QueuedCount       int                `json:"queued_count"`
	SkippedCount      int                `json:"skipped_count"`
	ChunksTotal       int                `json:"chunks_total"`
	ChunksPartial     int                `json:"chunks_partial"`
	ChunksSkipped     int                `json:"chunks_skipped"`
	DuplicatesRemoved int                `json:"duplicates_removed"`
	TierBreakdown     map[ReviewTier]int `json:"tier_breakdown"`
	Warnings          []string           `json:"warnings"`
	CostUSD           float64            `json:"cost_usd"`
}

// Merge folds a run result into the aggregate.
func (r *IngestResult) Merge(runID string, rr *RunResult) {
	if r.TierBreakdown == nil {
		r.TierBreakdown = make(map[ReviewTier]int)
	}
	r.RunIDs = append(r.RunIDs, runID)
	if rr == nil {
		return
	}
	r.QueuedCount += rr.QueuedCount
	r.SkippedCount += rr.SkippedCount
	r.ChunksTotal += rr.ChunksTotal
	r.ChunksPartial += rr.ChunksPartial
	r.ChunksSkipped += rr.ChunksSkipped
	r.DuplicatesRemoved += rr.DuplicatesRemoved
	for t, n := range rr.TierBreakdown {
		r.TierBreakdown[t] += n
	}
	r.Warnings = append(r.Warnings, rr.Warnings...)
	r.CostUSD += rr.CostUSD
}

// StrategicProfile is a tenant's read-only strategy context.
type StrategicProfile struct {
	TenantID          string             `json:"tenant_id" yaml:"tenant_id"`
	Industry          string             `json:"industry" yaml:"industry"`
	Goals             []string           `json:"goals" yaml:"goals"`
	Priorities        map[string]float64 `json:"priorities" yaml:"priorities"`
	ReferenceExamples []ReferenceExample `json:"reference_examples" yaml:"reference_examples"`
}

// ReferenceExample is a known-good catalog record used for schema inference.
type ReferenceExample struct {
	Name     string   `json:"name" yaml:"name"`
	Type     ItemType `json:"type" yaml:"type"`
	Category string   `json:"category" yaml:"category"`
	Owner    string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Status   string   `json:"status,omitempty" yaml:"status,omitempty"`
	Priority string   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}
