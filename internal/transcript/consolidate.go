package transcript

import (
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"
)

// ConsolidatorConfig holds merge and filter settings.
type ConsolidatorConfig struct {
	// OverlapThreshold is the minimum overlap in seconds for two segments
	// to count as duplicates. The overlap must also exceed half the
	// shorter segment's duration.
	OverlapThreshold float64

	// QualityThreshold drops segments whose confidence falls below it.
	// Segments without a confidence value are never dropped by it.
	QualityThreshold float32

	// MinSegmentChars and MinSegmentSeconds drop degenerate fragments.
	MinSegmentChars   int
	MinSegmentSeconds float64

	// SmallGapSeconds is the largest boundary gap closed by splitting at
	// the midpoint.
	SmallGapSeconds float64

	// MaxGapSeconds is the largest silent hole left unexplained; longer
	// gaps get an explicit silence segment.
	MaxGapSeconds float64

	// SilenceText is the text of inserted silence segments.
	SilenceText string

	EnableTextSmoothing  bool
	EnableTimeAdjustment bool
}

// DefaultConsolidatorConfig returns production merge settings.
func DefaultConsolidatorConfig() ConsolidatorConfig {
	return ConsolidatorConfig{
		OverlapThreshold:     0.5,
		QualityThreshold:     0,
		MinSegmentChars:      2,
		MinSegmentSeconds:    0.1,
		SmallGapSeconds:      0.5,
		MaxGapSeconds:        5.0,
		SilenceText:          "[silence]",
		EnableTextSmoothing:  true,
		EnableTimeAdjustment: true,
	}
}

// ConsolidationStats describes one consolidation run.
type ConsolidationStats struct {
	InputSegments  int     `json:"input_segments"`
	OutputSegments int     `json:"output_segments"`
	Deduplicated   int     `json:"deduplicated"`
	Filtered       int     `json:"filtered"`
	GapsClosed     int     `json:"gaps_closed"`
	GapsFilled     int     `json:"gaps_filled"`
	Coverage       float64 `json:"coverage"`
}

// Consolidator merges per-chunk segments into one clean timeline.
type Consolidator struct {
	config ConsolidatorConfig
	logger *slog.Logger
}

// NewConsolidator creates a consolidator.
func NewConsolidator(config ConsolidatorConfig, logger *slog.Logger) *Consolidator {
	if config.OverlapThreshold <= 0 {
		config.OverlapThreshold = DefaultConsolidatorConfig().OverlapThreshold
	}
	if config.MinSegmentSeconds <= 0 {
		config.MinSegmentSeconds = DefaultConsolidatorConfig().MinSegmentSeconds
	}
	if config.SmallGapSeconds <= 0 {
		config.SmallGapSeconds = DefaultConsolidatorConfig().SmallGapSeconds
	}
	if config.MaxGapSeconds <= 0 {
		config.MaxGapSeconds = DefaultConsolidatorConfig().MaxGapSeconds
	}
	if config.SilenceText == "" {
		config.SilenceText = DefaultConsolidatorConfig().SilenceText
	}

	return &Consolidator{
		config: config,
		logger: logger,
	}
}

// Consolidate runs the full merge: order, deduplicate by overlap, close
// small boundary gaps, filter degenerate segments, smooth text, and mark
// long silent holes. totalDuration is the recording length for coverage;
// zero means "use the last segment's end".
func (c *Consolidator) Consolidate(segments []Segment, totalDuration float64) ([]Segment, ConsolidationStats) {
	stats := ConsolidationStats{InputSegments: len(segments)}

	ordered := orderSegments(segments)
	deduped := c.deduplicate(ordered, &stats)
	if c.config.EnableTimeAdjustment {
		c.closeSmallGaps(deduped, &stats)
	}
	kept := c.filterQuality(deduped, &stats)
	if c.config.EnableTextSmoothing {
		for i := range kept {
			kept[i].Text = smoothText(kept[i].Text)
		}
	}
	final := c.fillGaps(kept, &stats)

	stats.OutputSegments = len(final)
	stats.Coverage = c.coverage(final, totalDuration)

	c.logger.Debug("Consolidation finished",
		slog.Int("input", stats.InputSegments),
		slog.Int("output", stats.OutputSegments),
		slog.Int("deduplicated", stats.Deduplicated),
		slog.Int("filtered", stats.Filtered),
		slog.Float64("coverage", stats.Coverage))

	return final, stats
}

// orderSegments returns a copy sorted by start time; ties keep chunk then
// within-chunk order.
func orderSegments(segments []Segment) []Segment {
	ordered := make([]Segment, len(segments))
	copy(ordered, segments)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ChunkSequence < ordered[j].ChunkSequence
	})
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})
	return ordered
}

// deduplicate removes overlap duplicates. Each candidate is resolved
// against the last kept segment, cascading backward after a replacement,
// so a second run over the output removes nothing.
func (c *Consolidator) deduplicate(segments []Segment, stats *ConsolidationStats) []Segment {
	kept := make([]Segment, 0, len(segments))

	for _, seg := range segments {
		kept = append(kept, seg)
		for len(kept) > 1 {
			prev, last := kept[len(kept)-2], kept[len(kept)-1]
			if !c.isDuplicate(prev, last) {
				break
			}
			stats.Deduplicated++
			winner := pickDuplicateWinner(prev, last)
			kept = kept[:len(kept)-2]
			kept = append(kept, winner)
		}
	}
	return kept
}

// isDuplicate reports whether two segments transcribe the same audio: the
// overlap exceeds the fixed threshold and half the shorter duration.
func (c *Consolidator) isDuplicate(a, b Segment) bool {
	overlap := a.Overlap(b)
	if overlap <= c.config.OverlapThreshold {
		return false
	}

	shorter := a.Duration()
	if b.Duration() < shorter {
		shorter = b.Duration()
	}
	return overlap > shorter*0.5
}

// pickDuplicateWinner keeps the higher confidence, tie-break on longer text.
func pickDuplicateWinner(a, b Segment) Segment {
	if a.Confidence != b.Confidence {
		if a.Confidence > b.Confidence {
			return a
		}
		return b
	}
	if utf8.RuneCountInString(b.Text) > utf8.RuneCountInString(a.Text) {
		return b
	}
	return a
}

// closeSmallGaps splits sub-threshold boundary gaps at their midpoint.
func (c *Consolidator) closeSmallGaps(segments []Segment, stats *ConsolidationStats) {
	for i := 1; i < len(segments); i++ {
		gap := segments[i].Start - segments[i-1].End
		if gap > 0 && gap < c.config.SmallGapSeconds {
			mid := (segments[i-1].End + segments[i].Start) / 2
			segments[i-1].End = mid
			segments[i].Start = mid
			stats.GapsClosed++
		}
	}
}

// filterQuality drops degenerate segments: too short in time, too short in
// text, or confidently below the quality bar.
func (c *Consolidator) filterQuality(segments []Segment, stats *ConsolidationStats) []Segment {
	kept := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Duration() < c.config.MinSegmentSeconds {
			stats.Filtered++
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(seg.Text)) < c.config.MinSegmentChars {
			stats.Filtered++
			continue
		}
		if c.config.QualityThreshold > 0 && seg.Confidence > 0 && seg.Confidence < c.config.QualityThreshold {
			stats.Filtered++
			continue
		}
		kept = append(kept, seg)
	}
	return kept
}

// fillGaps inserts explicit silence segments into holes longer than the
// configured maximum, so the output timeline is gapless by construction.
func (c *Consolidator) fillGaps(segments []Segment, stats *ConsolidationStats) []Segment {
	if len(segments) == 0 {
		return segments
	}

	filled := make([]Segment, 0, len(segments))
	filled = append(filled, segments[0])
	for i := 1; i < len(segments); i++ {
		gap := segments[i].Start - segments[i-1].End
		if gap > c.config.MaxGapSeconds {
			filled = append(filled, Segment{
				Start:         segments[i-1].End,
				End:           segments[i].Start,
				Text:          c.config.SilenceText,
				ChunkSequence: -1,
			})
			stats.GapsFilled++
		}
		filled = append(filled, segments[i])
	}
	return filled
}

// coverage is the share of the recording covered by speech segments.
// Silence fillers mark holes and do not count.
func (c *Consolidator) coverage(segments []Segment, totalDuration float64) float64 {
	var covered, lastEnd float64
	for _, seg := range segments {
		if seg.Text == c.config.SilenceText && seg.ChunkSequence == -1 {
			continue
		}
		covered += seg.Duration()
		if seg.End > lastEnd {
			lastEnd = seg.End
		}
	}

	if totalDuration <= 0 {
		totalDuration = lastEnd
	}
	if totalDuration <= 0 {
		return 0
	}

	ratio := covered / totalDuration
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// Punctuation spacing rules. ASCII marks keep their trailing space;
// fullwidth marks are unspaced on both sides.
var punctReplacer = buildPunctReplacer()

func buildPunctReplacer() *strings.Replacer {
	fullwidth := []string{"。", "、", "！", "？", "．", "，"}
	ascii := []string{".", ",", "!", "?", ";", ":"}

	var pairs []string
	for _, m := range fullwidth {
		pairs = append(pairs,
			" "+m+" ", m,
			" "+m, m,
			m+" ", m,
		)
	}
	for _, m := range ascii {
		pairs = append(pairs, " "+m, m)
	}
	return strings.NewReplacer(pairs...)
}

// smoothText collapses whitespace runs and normalizes spacing around
// sentence punctuation.
func smoothText(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	return punctReplacer.Replace(collapsed)
}
