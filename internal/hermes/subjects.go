package hermes

const (
	StreamName   = "WEIGHTAGE_EVENTS"
	StreamMaxAge = "720h" // 30 days

	subjectPrefix = "slo.composite."
)

// Composite lifecycle subjects
func SubjectCompositeCreated(id string) string    { return subjectPrefix + id + ".created" }
func SubjectCompositeUpdated(id string) string    { return subjectPrefix + id + ".updated" }
func SubjectCompositeRebalanced(id string) string { return subjectPrefix + id + ".rebalanced" }
func SubjectCompositeDeleted(id string) string    { return subjectPrefix + id + ".deleted" }

// SubjectCompositeStale fires when the sweeper tags a selection whose SLO disappeared.
func SubjectCompositeStale(id string) string { return subjectPrefix + id + ".stale" }
