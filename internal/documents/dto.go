package documents

import "ledger-backend/internal/ledger"

const (
	uploadedMessage = "Document uploaded and recorded."
	deletedMessage  = "File deleted and recorded."
)

// EntryResponse is a ledger record plus a human-readable message.
type EntryResponse struct {
	Message string `json:"message"`
	ledger.Record
}

// LookupResponse carries the resolved file URL.
type LookupResponse struct {
	FileURL string `json:"fileUrl"`
}

func toEntryResponse(message string, e ledger.Entry) EntryResponse {
	return EntryResponse{Message: message, Record: ledger.ToRecord(e)}
}

func toRecords(entries []ledger.Entry) []ledger.Record {
	out := make([]ledger.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledger.ToRecord(e))
	}
	return out
}
