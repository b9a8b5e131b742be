package progress

// Publisher accepts progress updates.
type Publisher interface {
	Publish(u Update) (Update, bool)
}

// Tracker maps step progress of one job into a percentage range.
type Tracker struct {
	jobID      string
	publisher  Publisher
	minPercent int
	maxPercent int
}

// NewTracker creates a progress tracker for a job with a percentage range
func NewTracker(publisher Publisher, jobID string, minPercent, maxPercent int) *Tracker {
	return &Tracker{
		jobID:      jobID,
		publisher:  publisher,
		minPercent: minPercent,
		maxPercent: maxPercent,
	}
}

// Update reports current of total steps done with the given status.
func (t *Tracker) Update(status string, current, total int) {
	if total <= 0 || t.publisher == nil {
		return
	}
	rangeSize := t.maxPercent - t.minPercent
	t.publisher.Publish(Update{
		JobID:      t.jobID,
		Status:     status,
		Percentage: t.minPercent + (current * rangeSize / total),
	})
}
