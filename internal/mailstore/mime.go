package mailstore

import (
	"bytes"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/brandon/rss-bridge/pkg/types"
)

// ParseContent parses a raw RFC 822 message into headers and a MIME part
// tree. The root part list holds a single part: the message entity itself,
// carrying the top-level headers.
func ParseContent(raw []byte) (*types.MessageContent, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	content := &types.MessageContent{Headers: map[string][]string{}}
	if env.Root == nil {
		return content, nil
	}

	content.Headers = lowerHeaders(env.Root.Header)
	content.Parts = []types.Part{convertPart(env.Root)}
	return content, nil
}

func convertPart(p *enmime.Part) types.Part {
	part := types.Part{
		ContentType: p.ContentType,
		Headers:     lowerHeaders(p.Header),
	}
	if part.ContentType == "" && p.FirstChild == nil {
		// RFC 2045 default for entities without a Content-Type
		part.ContentType = "text/plain"
	}
	if !strings.HasPrefix(part.ContentType, "multipart/") {
		part.Body = string(p.Content)
	}

	for child := p.FirstChild; child != nil; child = child.NextSibling {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

func lowerHeaders(h textproto.MIMEHeader) map[string][]string {
	headers := make(map[string][]string, len(h))
	for key, values := range h {
		lk := strings.ToLower(key)
		headers[lk] = append(headers[lk], values...)
	}
	return headers
}
