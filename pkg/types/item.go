package types

import "time"

// Account and folder type tags as reported by the mail store
const (
	AccountTypeFeed = "rss"
	FolderTypeTrash = "trash"
)

// NoSubject is the subject given to items whose message has none
const NoSubject = "(No subject)"

// MessageID identifies a message across the whole mail store
type MessageID uint64

// Account represents a mail-store account and its folder forest
type Account struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Folders []Folder `json:"folders,omitempty"`
}

// IsFeed reports whether the account is sourced from syndicated feeds
func (a Account) IsFeed(feedType string) bool {
	if feedType == "" {
		feedType = AccountTypeFeed
	}
	return a.Type == feedType
}

// Folder represents a folder and its subfolders
type Folder struct {
	ID         string   `json:"id"`
	AccountID  string   `json:"account_id"`
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Type       string   `json:"type,omitempty"`
	SubFolders []Folder `json:"sub_folders,omitempty"`
}

// Ref returns a reference to the folder
func (f Folder) Ref() FolderRef {
	return FolderRef{AccountID: f.AccountID, ID: f.ID, Path: f.Path}
}

// FolderRef points at a folder without carrying its subtree
type FolderRef struct {
	AccountID string `json:"account_id"`
	ID        string `json:"id"`
	Path      string `json:"path"`
}

// Message represents a raw message header record
type Message struct {
	ID      MessageID `json:"id"`
	Subject string    `json:"subject"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
	Flagged bool      `json:"flagged"`
	Size    int64     `json:"size"`
	Folder  FolderRef `json:"folder"`
}

// MessagePage is one page of a folder's message list. An empty NextPage
// means there are no further pages.
type MessagePage struct {
	Messages []Message
	NextPage string
}

// MessageContent is the fully-loaded content of a message
type MessageContent struct {
	Headers map[string][]string `json:"headers"`
	Parts   []Part              `json:"parts"`
}

// Header returns the first value of a (lower-case) header, or "".
func (c *MessageContent) Header(name string) string {
	if c == nil {
		return ""
	}
	return firstValue(c.Headers, name)
}

// Part is a node of a MIME part tree
type Part struct {
	ContentType string              `json:"content_type"`
	Body        string              `json:"body,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Parts       []Part              `json:"parts,omitempty"`
}

// Header returns the first value of a (lower-case) part header, or "".
func (p Part) Header(name string) string {
	return firstValue(p.Headers, name)
}

func firstValue(headers map[string][]string, name string) string {
	if values := headers[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// Item is the consumer-facing record for one feed-derived message
type Item struct {
	ID          MessageID           `json:"id"`
	Subject     string              `json:"subject"`
	Author      string              `json:"author"`
	Date        time.Time           `json:"date"`
	Folder      string              `json:"folder"`
	FolderPath  string              `json:"folderPath"`
	Account     string              `json:"account"`
	AccountType string              `json:"accountType"`
	Body        string              `json:"body"`
	PlainBody   string              `json:"plainBody"`
	HTMLBody    string              `json:"htmlBody"`
	Flagged     bool                `json:"flagged"`
	Headers     map[string][]string `json:"headers"`
	Size        int64               `json:"size"`
	Link        string              `json:"link"`
	GUID        string              `json:"guid"`
}
