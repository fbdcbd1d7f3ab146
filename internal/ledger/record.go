package ledger

import (
	"fmt"
	"time"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is the flat JSON shape of an entry, shared by the file ledger, the
// bolt ledger and HTTP responses.
type Record struct {
	Name             string `json:"name,omitempty"`
	Type             string `json:"type,omitempty"`
	Date             string `json:"date,omitempty"`
	Notes            string `json:"notes,omitempty"`
	Doctor           string `json:"doctor,omitempty"`
	Link             string `json:"link,omitempty"`
	Hash             string `json:"hash"`
	FileURL          string `json:"fileUrl,omitempty"`
	OriginalFileName string `json:"originalFileName,omitempty"`
	SavedAs          string `json:"savedAs"`
	Status           Status `json:"status"`
	Timestamp        string `json:"timestamp"`
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ToRecord flattens an entry.
func ToRecord(e Entry) Record {
	base := e.Base()
	rec := Record{
		Hash:      base.Hash,
		SavedAs:   base.SavedAs,
		Status:    e.Status(),
		Timestamp: FormatTimestamp(base.Timestamp),
	}
	if up, ok := e.(UploadedEntry); ok {
		rec.Name = up.Name
		rec.Type = up.Type
		rec.Date = up.Date
		rec.Notes = up.Notes
		rec.Doctor = up.Doctor
		rec.Link = up.Link
		rec.FileURL = up.FileURL
		rec.OriginalFileName = up.OriginalFileName
	}
	return rec
}

// Entry validates the record against its status and returns the typed entry.
func (r Record) Entry() (Entry, error) {
	if r.SavedAs == "" || r.Hash == "" {
		return nil, fmt.Errorf("%w: savedAs and hash are required", ErrInvalidEntry)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q: %v", ErrInvalidEntry, r.Timestamp, err)
	}
	event := Event{SavedAs: r.SavedAs, Hash: r.Hash, Timestamp: ts.UTC()}

	switch r.Status {
	case StatusUploaded:
		if r.FileURL == "" || r.OriginalFileName == "" {
			return nil, fmt.Errorf("%w: uploaded entry %s missing fileUrl or originalFileName", ErrInvalidEntry, r.SavedAs)
		}
		return UploadedEntry{
			Event:            event,
			Name:             r.Name,
			Type:             r.Type,
			Date:             r.Date,
			Notes:            r.Notes,
			Doctor:           r.Doctor,
			Link:             r.Link,
			FileURL:          r.FileURL,
			OriginalFileName: r.OriginalFileName,
		}, nil
	case StatusDeleted:
		return DeletedEntry{Event: event}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, r.Status)
	}
}

// Validate reports whether e carries every field its status requires.
func Validate(e Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if e.Base().Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEntry)
	}
	_, err := ToRecord(e).Entry()
	return err
}
