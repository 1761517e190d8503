package engine

// FireLimit counts rule firings within one run and enforces the run
// limit. A limit of zero or less is unlimited.
type FireLimit struct {
	limit int
	fired int
}

// NewFireLimit creates a counter for a run bounded by limit.
func NewFireLimit(limit int) *FireLimit {
	return &FireLimit{limit: limit}
}

// Allow reports whether another rule may fire.
func (q *FireLimit) Allow() bool {
	return q.limit <= 0 || q.fired < q.limit
}

// Record counts one completed firing.
func (q *FireLimit) Record() {
	q.fired++
}

// Fired returns the number of completed firings.
func (q *FireLimit) Fired() int {
	return q.fired
}

// Limit returns the configured limit.
func (q *FireLimit) Limit() int {
	return q.limit
}

// Unlimited reports whether the run has no limit.
func (q *FireLimit) Unlimited() bool {
	return q.limit <= 0
}
