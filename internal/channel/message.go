package channel

import (
	"bytes"
	"encoding/json"

	"github.com/brandon/rss-bridge/pkg/types"
)

// Inbound request actions
const (
	ActionGetUnreadRSS   = "getUnreadRSS"
	ActionGetSingleItem  = "getSingleItem"
	ActionGetFolderItems = "getFolderItems"
	ActionMarkAsRead     = "markAsRead"
	ActionRefresh        = "refresh"
)

// Outbound response types
const (
	TypeRSSData        = "rssData"
	TypeSingleItemData = "singleItemData"
	TypeFolderData     = "folderData"
	TypeMarkReadResult = "markReadResult"
)

// Acknowledgement statuses sent back by the relay
const (
	StatusReceived     = "received"
	StatusAcknowledged = "acknowledged"
)

// Keepalive frames, sent as bare JSON strings
const (
	Ping = "ping"
	Pong = "pong"
)

// Request is a message sent to the bridge. Acknowledgements carry only a
// Status.
type Request struct {
	Action     string `json:"action,omitempty"`
	ItemID     ItemID `json:"itemId,omitempty"`
	FolderPath string `json:"folderPath,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Response is a message sent by the bridge
type Response struct {
	Type       string          `json:"type"`
	ItemID     ItemID          `json:"itemId,omitempty"`
	FolderPath string          `json:"folderPath,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler. folderData always carries its
// folderPath, even when empty.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	if r.Type != TypeFolderData {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		FolderPath string `json:"folderPath"`
	}{plain(r), r.FolderPath})
}

// ItemID is an item id as it travels on the wire. It decodes from either a
// JSON string or a JSON number and always encodes as a string.
type ItemID string

// UnmarshalJSON implements json.Unmarshaler
func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ItemID(n.String())
	return nil
}

// NewRSSData builds an rssData response
func NewRSSData(items []types.Item) (Response, error) {
	return withData(Response{Type: TypeRSSData}, nonNil(items))
}

// NewSingleItemData builds a singleItemData response; a nil item encodes as null
func NewSingleItemData(id ItemID, item *types.Item) (Response, error) {
	return withData(Response{Type: TypeSingleItemData, ItemID: id}, item)
}

// NewFolderData builds a folderData response
func NewFolderData(path string, items []types.Item) (Response, error) {
	return withData(Response{Type: TypeFolderData, FolderPath: path}, nonNil(items))
}

// NewMarkReadResult builds a markReadResult response
func NewMarkReadResult(id ItemID, success bool) Response {
	return Response{Type: TypeMarkReadResult, ItemID: id, Success: &success}
}

func withData(resp Response, v any) (Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{}, err
	}
	resp.Data = data
	return resp, nil
}

func nonNil(items []types.Item) []types.Item {
	if items == nil {
		return []types.Item{}
	}
	return items
}
