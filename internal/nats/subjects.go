package nats

// Subjects follow the {domain}.{action}.{resource} pattern of the TelHawk bus.
const (
	SubjectJobsCorrelate    = "coverage.jobs.correlate"
	SubjectReportsCompleted = "coverage.reports.completed"
)

// QueueCoverageWorkers is the queue group shared by coverage service replicas.
const QueueCoverageWorkers = "coverage-workers"
