package domain

// TickCheckpoint records that a tick has been fully scanned.
// One row per tick ever scanned, including empty ticks; rows are never
// mutated or deleted. A tick present here is never reprocessed.
type TickCheckpoint struct {
	Tick         uint32
	ProcessedAt  int64 // Unix timestamp in milliseconds
	TxCount      int   // transactions seen in the tick
	MatchedCount int   // transactions that decoded to QX trades
}

// IndexerStatus is the externally visible crawl position.
type IndexerStatus struct {
	CurrentTick       uint32 `json:"current_tick"`
	LastProcessedTick uint32 `json:"last_processed_tick"`
	TicksBehind       int64  `json:"ticks_behind"`
}
