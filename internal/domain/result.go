package domain

// AlertResult is everything one successful job writes for its document. It
// is persisted as a single unit.
type AlertResult struct {
	Alert      Alert
	Areas      []ResolvedArea
	Structured StructuredAlert
	Content    ExtractedContent
}
