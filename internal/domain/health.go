package domain

// HealthStatus indicates doctor check outcomes.
type HealthStatus string

const (
	HealthOK    HealthStatus = "ok"
	HealthWarn  HealthStatus = "warn"
	HealthError HealthStatus = "error"
)

// HealthCheck captures a single diagnostic result.
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Details string       `json:"details"`
}

// HealthReport aggregates checks.
type HealthReport struct {
	Checks []HealthCheck `json:"checks"`
}

// Status is the worst status among the checks.
func (r HealthReport) Status() HealthStatus {
	worst := HealthOK
	for _, check := range r.Checks {
		switch check.Status {
		case HealthError:
			return HealthError
		case HealthWarn:
			worst = HealthWarn
		}
	}
	return worst
}
