// Package domain models disaster advisories published by Pakistani
// government agencies (NDMA, NEOC, PMD) and the alert records derived
// from them.
//
// # Source Documents
//
// Advisories arrive as queue jobs pointing at a PDF, an image, or a plain
// text body. Multi-page documents are processed one page at a time and the
// per-page markdown is joined with page markers:
//
//	<!-- Page 1 -->
//	...page one markdown...
//	<!-- Page 2 -->
//	...
//
// A page whose extraction failed keeps its marker with an empty body so page
// numbering never shifts.
//
// # Alert Vocabulary
//
// Alerts follow a CAP-inspired vocabulary with closed enumerations:
//
//	Category: Geo, Met, Safety, Security, Rescue, Fire, Health, Env,
//	          Transport, Infra, CBRNE, Other
//	Urgency:  Immediate, Expected, Future, Past, Unknown
//	Severity: Extreme, Severe, Moderate, Minor, Unknown
//
// Values outside these sets are rejected by the Parse functions; nothing is
// coerced to a default.
//
// # Administrative Hierarchy
//
// Places are nested country → province → region → division → district →
// tehsil. Regions are directional slices of a province ("North Sindh") that
// advisories refer to informally. [Level.Rank] orders levels from coarse to
// fine.
//
// # ID Generation
//
// Alert IDs are name-based UUIDs (SHA-1) of the source document ID, so
// reprocessing the same document always targets the same alert row. See
// [AlertID].
package domain
