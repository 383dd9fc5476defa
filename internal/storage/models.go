package storage

import "time"

// UsageRecord is one completed provider call. Prompt text and output are
// never stored.
type UsageRecord struct {
	ID               string
	CreatedAt        time.Time
	PromptName       string
	API              string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type UsageSummary struct {
	API              string
	Model            string
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}
