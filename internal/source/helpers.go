package source

import (
	"strings"

	"github.com/boringprotocol/boring-bird/internal/model"
)

// statusOf resolves a select or status property value, falling back to
// model.NoStatus when the property is empty.
func statusOf(items []propertyItem) string {
	for _, it := range items {
		for _, opt := range []*namedOption{it.Select, it.Status} {
			if opt != nil && strings.TrimSpace(opt.Name) != "" {
				return opt.Name
			}
		}
	}
	return model.NoStatus
}

// textOf concatenates the plain text of every title or rich_text run in order.
func textOf(items []propertyItem) string {
	var b strings.Builder
	for _, it := range items {
		if it.Title != nil {
			b.WriteString(it.Title.PlainText)
		}
		if it.RichText != nil {
			b.WriteString(it.RichText.PlainText)
		}
	}
	return b.String()
}

func cursorOf(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}
