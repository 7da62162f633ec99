package items

import (
	"path"

	"github.com/brandon/rss-bridge/pkg/types"
)

// Normalize maps a raw message, its folder, its loaded content and its
// account into an Item. Content may be nil; missing pieces fall back to
// empty values.
func Normalize(msg types.Message, folder types.Folder, content *types.MessageContent, acct types.Account) types.Item {
	var parts []types.Part
	var headers map[string][]string
	if content != nil {
		parts = content.Parts
		headers = content.Headers
	}
	if headers == nil {
		headers = map[string][]string{}
	}

	plain, html := ExtractBodies(parts)
	body := plain
	if body == "" {
		body = html
	}

	subject := msg.Subject
	if subject == "" {
		subject = types.NoSubject
	}

	folderPath := folder.Path
	if folderPath == "" {
		folderPath = msg.Folder.Path
	}
	folderName := folder.Name
	if folderName == "" && folderPath != "" {
		folderName = path.Base(folderPath)
	}

	return types.Item{
		ID:          msg.ID,
		Subject:     subject,
		Author:      msg.Author,
		Date:        msg.Date,
		Folder:      folderName,
		FolderPath:  folderPath,
		Account:     acct.Name,
		AccountType: acct.Type,
		Body:        body,
		PlainBody:   plain,
		HTMLBody:    html,
		Flagged:     msg.Flagged,
		Headers:     headers,
		Size:        msg.Size,
		Link:        sourceLink(parts),
		GUID:        content.Header("message-id"),
	}
}

// sourceLink reads content-base from the first root part only.
func sourceLink(parts []types.Part) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Header("content-base")
}
