package queue

import "encoding/json"

// MessageVersion is the current ledger event schema version.
const MessageVersion = 1

// Message is the ledger event sent to downstream queue consumers.
type Message struct {
	SavedAs   string `json:"savedAs"`
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId,omitempty"`
	Version   int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
