package items

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandon/rss-bridge/pkg/types"
)

func TestExtractBodies_EmptyTree(t *testing.T) {
	plain, html := ExtractBodies(nil)
	assert.Empty(t, plain)
	assert.Empty(t, html)
}

func TestExtractBodies_FirstMatchWins(t *testing.T) {
	parts := []types.Part{
		{
			ContentType: "multipart/alternative",
			Parts: []types.Part{
				{ContentType: "text/plain; charset=utf-8", Body: "first plain"},
				{ContentType: "text/html", Body: "<p>first html</p>"},
			},
		},
		{ContentType: "text/plain", Body: "second plain"},
		{ContentType: "text/html", Body: "<p>second html</p>"},
	}

	plain, html := ExtractBodies(parts)
	assert.Equal(t, "first plain", plain)
	assert.Equal(t, "<p>first html</p>", html)
}

func TestExtractBodies_ParentCheckedBeforeChildren(t *testing.T) {
	parts := []types.Part{
		{
			ContentType: "text/html",
			Body:        "<b>parent</b>",
			Parts: []types.Part{
				{ContentType: "text/html", Body: "<b>child</b>"},
			},
		},
	}

	_, html := ExtractBodies(parts)
	assert.Equal(t, "<b>parent</b>", html)
}

func TestExtractBodies_SkipsEmptyBodies(t *testing.T) {
	parts := []types.Part{
		{ContentType: "text/plain"},
		{
			ContentType: "multipart/mixed",
			Parts: []types.Part{
				{ContentType: "text/plain", Body: "nested"},
			},
		},
	}

	plain, html := ExtractBodies(parts)
	assert.Equal(t, "nested", plain)
	assert.Empty(t, html)
}

func TestExtractBodies_IgnoresOtherContentTypes(t *testing.T) {
	parts := []types.Part{
		{ContentType: "application/pdf", Body: "%PDF"},
		{ContentType: "image/png", Body: "png"},
		{ContentType: "text/calendar", Body: "BEGIN:VCALENDAR"},
	}

	plain, html := ExtractBodies(parts)
	assert.Empty(t, plain)
	assert.Empty(t, html)
}

func TestExtractBodies_ContentTypeCaseInsensitive(t *testing.T) {
	parts := []types.Part{
		{ContentType: "Text/HTML; Charset=UTF-8", Body: "<i>x</i>"},
	}

	_, html := ExtractBodies(parts)
	assert.Equal(t, "<i>x</i>", html)
}
