package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/phrazzld/coursegen/internal/domain"
)

// BuildContext assembles the course text sent with a question: the full
// outline with node IDs, the content of the focused node, and the content of
// every other written node whose name appears in the question. Related node
// content is cut to maxNodeChars runes.
func BuildContext(nodes []domain.Node, focus domain.Node, question string, maxNodeChars int) string {
	ordered := domain.Linearize(nodes)

	var b strings.Builder
	b.WriteString("### Course outline\n")
	for i, n := range ordered {
		if i > 0 {
			b.WriteByte('\n')
		}
		depth := n.Level - 1
		if depth < 0 {
			depth = 0
		}
		fmt.Fprintf(&b, "%s- %s (ID: %s)", strings.Repeat("  ", depth), n.Name, n.ID)
	}

	content := focus.Content
	if strings.TrimSpace(content) == "" {
		content = "(no content yet)"
	}
	fmt.Fprintf(&b, "\n\n### Focused section\nName: %s\nID: %s\nContent:\n%s", focus.Name, focus.ID, content)

	first := true
	for _, n := range ordered {
		if n.ID == focus.ID || strings.TrimSpace(n.Content) == "" || n.Name == "" {
			continue
		}
		if !strings.Contains(question, n.Name) {
			continue
		}
		if first {
			b.WriteString("\n\n### Related sections")
			first = false
		}
		fmt.Fprintf(&b, "\n\nSection: %s (ID: %s)\nContent:\n%s", n.Name, n.ID, truncate(n.Content, maxNodeChars))
	}
	return b.String()
}

// truncate cuts s to max runes and marks the cut with "...".
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

// pickTarget returns the node a question is about: the requested node when
// it exists, otherwise the first node in reading order.
func pickTarget(nodes []domain.Node, nodeID string) (domain.Node, bool) {
	if nodeID != "" {
		if i := domain.FindNode(nodes, nodeID); i >= 0 {
			return nodes[i], true
		}
	}
	ordered := domain.Linearize(nodes)
	if len(ordered) == 0 {
		return domain.Node{}, false
	}
	return ordered[0], true
}
