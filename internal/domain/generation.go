package domain

import "time"

// GenerationStatus enumerates generation job lifecycle states.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// IsTerminal reports whether the status is a sink state.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// IconStyle enumerates supported icon rendering styles.
type IconStyle string

const (
	IconStyleSolid   IconStyle = "solid"
	IconStyleOutline IconStyle = "outline"
	IconStyleColor   IconStyle = "color"
	IconStyleFlat    IconStyle = "flat"
	IconStyleSticker IconStyle = "sticker"
)

// ValidIconStyle reports whether s names a known style.
func ValidIconStyle(s IconStyle) bool {
	switch s {
	case IconStyleSolid, IconStyleOutline, IconStyleColor, IconStyleFlat, IconStyleSticker:
		return true
	}
	return false
}

// IconFormat enumerates requested output formats.
type IconFormat string

const (
	IconFormatSVG IconFormat = "svg"
	IconFormatPNG IconFormat = "png"
)

// Generation is one icon generation job. ID is the caller-visible
// identifier assigned at creation; ProviderTaskID is assigned by the
// upstream provider once dispatch succeeds and is the primary webhook
// correlation key from then on.
type Generation struct {
	ID             string
	OwnerID        string
	ProviderTaskID string
	Provider       string

	Prompt            string
	Style             IconStyle
	Format            IconFormat
	NumInferenceSteps int
	GuidanceScale     int
	WebhookURL        string

	Status GenerationStatus

	// Artifacts, populated on completion. The legacy single-artifact
	// fields mirror whichever format was originally requested.
	SVGKey      string
	SVGURL      string
	SVGFileSize int64
	PNGKey      string
	PNGURL      string
	PNGFileSize int64
	LegacyKey   string
	LegacyURL   string
	LegacySize  int64
	OriginalURL string

	CreditsCost    int
	GenerationTime int // seconds, completed jobs only
	ErrorMessage   string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// GenerationUpdate carries a partial update to a generation record.
// Nil pointers leave the stored value untouched.
type GenerationUpdate struct {
	ProviderTaskID *string
	Status         *GenerationStatus
	SVGKey         *string
	SVGURL         *string
	SVGFileSize    *int64
	PNGKey         *string
	PNGURL         *string
	PNGFileSize    *int64
	LegacyKey      *string
	LegacyURL      *string
	LegacySize     *int64
	OriginalURL    *string
	GenerationTime *int
	ErrorMessage   *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Apply merges the update into a copy of g.
func (u GenerationUpdate) Apply(g Generation) Generation {
	if u.ProviderTaskID != nil {
		g.ProviderTaskID = *u.ProviderTaskID
	}
	if u.Status != nil {
		g.Status = *u.Status
	}
	if u.SVGKey != nil {
		g.SVGKey = *u.SVGKey
	}
	if u.SVGURL != nil {
		g.SVGURL = *u.SVGURL
	}
	if u.SVGFileSize != nil {
		g.SVGFileSize = *u.SVGFileSize
	}
	if u.PNGKey != nil {
		g.PNGKey = *u.PNGKey
	}
	if u.PNGURL != nil {
		g.PNGURL = *u.PNGURL
	}
	if u.PNGFileSize != nil {
		g.PNGFileSize = *u.PNGFileSize
	}
	if u.LegacyKey != nil {
		g.LegacyKey = *u.LegacyKey
	}
	if u.LegacyURL != nil {
		g.LegacyURL = *u.LegacyURL
	}
	if u.LegacySize != nil {
		g.LegacySize = *u.LegacySize
	}
	if u.OriginalURL != nil {
		g.OriginalURL = *u.OriginalURL
	}
	if u.GenerationTime != nil {
		g.GenerationTime = *u.GenerationTime
	}
	if u.ErrorMessage != nil {
		g.ErrorMessage = *u.ErrorMessage
	}
	if u.StartedAt != nil {
		g.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		g.CompletedAt = u.CompletedAt
	}
	return g
}

// GenerationStats aggregates per-status counts for one owner.
type GenerationStats struct {
	Total      int
	Completed  int
	Failed     int
	Generating int
	Pending    int
}
