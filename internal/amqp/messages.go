package amqp

import (
	"encoding/json"
	"time"
)

// AccountChangedMessage signals that an account's expenses changed and
// its projection snapshot is stale. It carries only identifiers; the
// worker reloads the full account from the database.
type AccountChangedMessage struct {
	AccountID int64     `json:"accountId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewAccountChangedMessage(accountID int64, userID string) *AccountChangedMessage {
	return &AccountChangedMessage{
		AccountID: accountID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func (m *AccountChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AccountChangedMessageFromJSON(data []byte) (*AccountChangedMessage, error) {
	var msg AccountChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
