package journal

import (
	"time"

	"github.com/google/uuid"
)

// Entry records a single generation attempt or user-visible response.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Prompt      string    `json:"prompt"`
	MaxTokens   int       `json:"maxTokens"`
	Temperature float64   `json:"temperature"`
	Model       string    `json:"model"`
	Success     bool      `json:"success"`
	Provider    string    `json:"provider"`
	Content     string    `json:"content"`
	Error       string    `json:"error"`
	Cost        float64   `json:"cost"`
	DurationMs  int64     `json:"durationMs"`
}

// NewEntry returns an Entry with a fresh unique ID and UTC timestamp.
func NewEntry() Entry {
	return Entry{ID: uuid.NewString(), Timestamp: time.Now().UTC()}
}

// Document is the persisted journal: an ordered list of entries plus
// aggregates that must stay consistent with the entries on every write.
type Document struct {
	Responses     []Entry   `json:"responses"`
	LastUpdated   time.Time `json:"lastUpdated"`
	TotalRequests int       `json:"totalRequests"`
	TotalCost     float64   `json:"totalCost"`
}

// Append adds entries and refreshes the aggregate fields.
func (d *Document) Append(entries ...Entry) {
	d.Responses = append(d.Responses, entries...)
	d.refresh()
}

func (d *Document) refresh() {
	d.LastUpdated = time.Now().UTC()
	d.TotalRequests = len(d.Responses)
	var total float64
	for _, e := range d.Responses {
		total += e.Cost
	}
	d.TotalCost = total
}
