package items

import (
	"mime"
	"strings"

	"github.com/brandon/rss-bridge/pkg/types"
)

// ExtractBodies walks the part tree in pre-order and returns the first
// non-empty text/plain body and the first non-empty text/html body.
// Slots with no matching part are left empty.
func ExtractBodies(parts []types.Part) (plain, html string) {
	stack := make([]types.Part, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		stack = append(stack, parts[i])
	}

	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if part.Body != "" {
			switch mediaType(part.ContentType) {
			case "text/plain":
				if plain == "" {
					plain = part.Body
				}
			case "text/html":
				if html == "" {
					html = part.Body
				}
			}
		}

		for i := len(part.Parts) - 1; i >= 0; i-- {
			stack = append(stack, part.Parts[i])
		}
	}

	return plain, html
}

// mediaType strips parameters from a content type and lower-cases it.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
