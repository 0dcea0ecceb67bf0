package shape

import "strings"

// RichText builds the single-paragraph document the editing surface stores
// for labels and text shapes.
func RichText(text string) map[string]any {
	paragraphs := strings.Split(text, "\n")
	content := make([]any, 0, len(paragraphs))
	for _, line := range paragraphs {
		node := map[string]any{"type": "paragraph"}
		if line != "" {
			node["content"] = []any{map[string]any{"type": "text", "text": line}}
		}
		content = append(content, node)
	}
	return map[string]any{"type": "doc", "content": content}
}

// PlainText flattens a rich text document, one line per paragraph.
func PlainText(doc any) string {
	root, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	blocks, _ := root["content"].([]any)
	lines := make([]string, 0, len(blocks))
	for _, block := range blocks {
		var sb strings.Builder
		collectText(block, &sb)
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n")
}

func collectText(node any, sb *strings.Builder) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if text, ok := m["text"].(string); ok {
		sb.WriteString(text)
	}
	children, _ := m["content"].([]any)
	for _, child := range children {
		collectText(child, sb)
	}
}
