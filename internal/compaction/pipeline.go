package compaction

import (
	"time"

	"github.com/l3ocifer/ironclaw/internal/salience"
)

// PipelineResult carries the compacted output plus the bookkeeping needed
// to reverse the lossless stages (dictionary codebook, path aliases) and to
// report how much the whole run saved (message counts before and after
// deduplication, byte totals before and after); savings are not broken
// down per stage.
type PipelineResult struct {
	Summary     string
	Codebook    Codebook
	PathAliases map[string]string
	// KeptMessages are the salience-pinned turns, untouched.
	KeptMessages []*Message
	// SummarizedMessages is the deduplicated non-pinned region the Summary
	// was derived from; callers with a model client hand it to
	// SummarizeStaged for the LLM-driven pass.
	SummarizedMessages []*Message
	ToolFailures       []string
	FileOperations     []string
	OriginalCount      int
	DeduplicatedTo     int
	OriginalBytes      int
	FinalBytes         int
}

// RunPipeline executes the five compaction stages over messages in order:
// salience partitioning runs first to separate turns worth keeping
// verbatim from those to summarize, then deduplication (over the messages),
// observation extraction, dictionary compression, pattern compression, and
// text optimization run over the summarize set. The extracted observations
// are not deduplicated again.
func RunPipeline(messages []*Message, salienceThreshold float64) PipelineResult {
	originalBytes := 0
	for _, m := range messages {
		if m != nil {
			originalBytes += len(m.Content)
		}
	}

	turns := make([]salience.Turn, 0, len(messages))
	for i, m := range messages {
		if m == nil {
			continue
		}
		turns = append(turns, salience.Turn{
			Index:     i,
			Content:   m.Content,
			Role:      salience.Role(m.Role),
			Timestamp: time.Unix(m.Timestamp, 0),
		})
	}
	keepTurns, summarizeTurns := salience.PartitionBySalience(turns, salienceThreshold)

	keepSet := make(map[int]bool, len(keepTurns))
	for _, t := range keepTurns {
		keepSet[t.Index] = true
	}
	var kept, toSummarize []*Message
	for i, m := range messages {
		if m == nil {
			continue
		}
		if keepSet[i] {
			kept = append(kept, m)
		} else {
			toSummarize = append(toSummarize, m)
		}
	}
	_ = summarizeTurns

	toolFailures := HarvestToolFailures(toSummarize)
	fileOps := HarvestFileOperations(toSummarize)

	deduped := DeduplicateMessages(toSummarize)
	observations := ExtractObservations(deduped)
	summary := FormatObservationsAsSummary(observations)

	summary, codebook := CompressWithDictionary(summary)
	summary, aliases := CompressPaths(summary)
	summary = FoldNumericRuns(summary)
	summary = CollapsePunctuationRuns(NormalizeWhitespace(summary))

	return PipelineResult{
		Summary:            summary,
		Codebook:           codebook,
		PathAliases:        aliases,
		KeptMessages:       kept,
		SummarizedMessages: deduped,
		ToolFailures:       toolFailures,
		FileOperations:     fileOps,
		OriginalCount:      len(messages),
		DeduplicatedTo:     len(deduped),
		OriginalBytes:      originalBytes,
		FinalBytes:         len(summary),
	}
}

// ExpandSummary reverses the lossless stages of a PipelineResult's Summary,
// for debugging or audit display; it does not reconstruct the original
// messages, only the pre-textopt summary text.
func ExpandSummary(result PipelineResult) string {
	expanded := ExpandPaths(result.Summary, result.PathAliases)
	expanded = ExpandDictionary(expanded, result.Codebook)
	return expanded
}

// ShouldCompact reports whether the running token estimate for the thread
// exceeds the configured fraction of the model's context window, reserving
// reserveFloor tokens of headroom (0.8 and 20000 by default).
func ShouldCompact(model string, messages []*Message, contextWindow int, fraction float64, reserveFloor int) bool {
	if fraction <= 0 {
		fraction = 0.8
	}
	used := EstimateMessagesTokensPrecise(model, messages)
	budget := int(float64(contextWindow)*fraction) - reserveFloor
	return used > budget
}
