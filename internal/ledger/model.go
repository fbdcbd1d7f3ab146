package ledger

import "time"

// Status discriminates ledger entries.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusDeleted  Status = "deleted"
)

// Event holds the fields every ledger entry carries.
type Event struct {
	SavedAs   string
	Hash      string
	Timestamp time.Time
}

// Entry is one immutable ledger record: an UploadedEntry or a DeletedEntry.
type Entry interface {
	Status() Status
	Base() Event
	sealed()
}

// UploadedEntry records a document being stored.
type UploadedEntry struct {
	Event
	Name             string
	Type             string
	Date             string
	Notes            string
	Doctor           string
	Link             string
	FileURL          string
	OriginalFileName string
}

func (UploadedEntry) Status() Status { return StatusUploaded }
func (e UploadedEntry) Base() Event  { return e.Event }
func (UploadedEntry) sealed()        {}

// DeletedEntry records a stored document being destroyed. Hash is the digest
// of the bytes that were removed.
type DeletedEntry struct {
	Event
}

func (DeletedEntry) Status() Status { return StatusDeleted }
func (e DeletedEntry) Base() Event  { return e.Event }
func (DeletedEntry) sealed()        {}

// LastStatus returns the status of the final entry in history, or "" when empty.
func LastStatus(history []Entry) Status {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].Status()
}
