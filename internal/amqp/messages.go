package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// DatasetReloadedMessage announces that a batch was committed to the store.
type DatasetReloadedMessage struct {
	RunID         string    `json:"run_id"`
	InsertedCount int       `json:"inserted_count"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewDatasetReloadedMessage(runID string, insertedCount int) *DatasetReloadedMessage {
	return &DatasetReloadedMessage{
		RunID:         runID,
		InsertedCount: insertedCount,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *DatasetReloadedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func DatasetReloadedMessageFromJSON(data []byte) (*DatasetReloadedMessage, error) {
	var msg DatasetReloadedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReloadRequestMessage asks a worker to fetch the feed and ingest it.
type ReloadRequestMessage struct {
	RequestedBy string    `json:"requested_by"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewReloadRequestMessage(requestedBy string) *ReloadRequestMessage {
	return &ReloadRequestMessage{
		RequestedBy: requestedBy,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReloadRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReloadRequestMessageFromJSON decodes a reload request. The requester
// must be named.
func ReloadRequestMessageFromJSON(data []byte) (*ReloadRequestMessage, error) {
	var msg ReloadRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RequestedBy == "" {
		return nil, fmt.Errorf("reload request without requested_by")
	}
	return &msg, nil
}
