package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RootParentID is the parent ID carried by top-level nodes.
const RootParentID = "root"

// NodeKind records where a node's content came from.
type NodeKind string

// Possible node kinds
const (
	NodeKindOriginal NodeKind = "original"
	NodeKindCustom   NodeKind = "custom"
	NodeKindExtend   NodeKind = "extend"
)

// Node is one content unit in a course tree. Nodes reference their parent by
// ID; the tree is implied by ParentID links rather than nested slices.
type Node struct {
	ID       string   `json:"node_id"`
	ParentID string   `json:"parent_node_id"`
	Name     string   `json:"node_name"`
	Level    int      `json:"node_level"`
	Content  string   `json:"node_content"`
	Kind     NodeKind `json:"node_type"`
}

// UnmarshalJSON accepts node_level as either a JSON number or a numeric
// string, since the remote service is not consistent about it.
func (n *Node) UnmarshalJSON(data []byte) error {
	type alias Node
	var raw struct {
		alias
		Level json.RawMessage `json:"node_level"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Node(raw.alias)

	level := strings.Trim(strings.TrimSpace(string(raw.Level)), `"`)
	if level == "" || level == "null" {
		n.Level = 0
		return nil
	}
	parsed, err := strconv.Atoi(level)
	if err != nil {
		return fmt.Errorf("%w: node_level %q is not a number", ErrValidation, level)
	}
	n.Level = parsed
	return nil
}

// Validate checks if the Node has valid data.
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrEmptyNodeID
	}
	if strings.TrimSpace(n.Name) == "" {
		return ErrEmptyNodeName
	}
	if n.Level < 1 {
		return ErrInvalidNodeLevel
	}
	if n.Kind != "" && !isValidNodeKind(n.Kind) {
		return ErrInvalidNodeKind
	}
	return nil
}

// IsTopLevel reports whether the node hangs directly off the course root.
func (n *Node) IsTopLevel() bool {
	return n.ParentID == "" || n.ParentID == RootParentID
}

func isValidNodeKind(kind NodeKind) bool {
	switch kind {
	case NodeKindOriginal, NodeKindCustom, NodeKindExtend:
		return true
	default:
		return false
	}
}

// CloneNodes returns a deep copy of nodes. Node has only value fields, so a
// fresh backing array is enough to isolate the copy.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	copy(out, nodes)
	return out
}

// FindNode returns the index of the node with the given ID, or -1.
func FindNode(nodes []Node, id string) int {
	for i := range nodes {
		if nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// HasChildren reports whether any node names parentID as its parent.
func HasChildren(nodes []Node, parentID string) bool {
	for i := range nodes {
		if nodes[i].ParentID == parentID {
			return true
		}
	}
	return false
}

// ChildrenOf returns the direct children of parentID in slice order.
func ChildrenOf(nodes []Node, parentID string) []Node {
	var out []Node
	for i := range nodes {
		if nodes[i].ParentID == parentID {
			out = append(out, nodes[i])
		}
	}
	return out
}

// DescendantIDs returns the IDs of every node below rootID, not including
// rootID itself.
func DescendantIDs(nodes []Node, rootID string) []string {
	byParent := make(map[string][]string, len(nodes))
	for i := range nodes {
		byParent[nodes[i].ParentID] = append(byParent[nodes[i].ParentID], nodes[i].ID)
	}

	var out []string
	stack := append([]string(nil), byParent[rootID]...)
	seen := make(map[string]bool, len(nodes))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		stack = append(stack, byParent[id]...)
	}
	return out
}

// RemoveSubtree returns nodes without rootID and all of its descendants, and
// the number of nodes removed.
func RemoveSubtree(nodes []Node, rootID string) ([]Node, int) {
	if FindNode(nodes, rootID) < 0 {
		return nodes, 0
	}
	drop := map[string]bool{rootID: true}
	for _, id := range DescendantIDs(nodes, rootID) {
		drop[id] = true
	}

	out := make([]Node, 0, len(nodes)-len(drop))
	for i := range nodes {
		if !drop[nodes[i].ID] {
			out = append(out, nodes[i])
		}
	}
	return out, len(nodes) - len(out)
}

// TreeNode is a nested view of a node and its children, used when a caller
// wants the course as a tree rather than a flat list.
type TreeNode struct {
	Node
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree nests nodes under their parents. Nodes whose parent is missing
// are treated as roots so that nothing is silently dropped.
func BuildTree(nodes []Node) []*TreeNode {
	index := make(map[string]*TreeNode, len(nodes))
	for i := range nodes {
		index[nodes[i].ID] = &TreeNode{Node: nodes[i]}
	}

	var roots []*TreeNode
	for i := range nodes {
		tn := index[nodes[i].ID]
		parent, ok := index[nodes[i].ParentID]
		if nodes[i].IsTopLevel() || !ok || parent == tn {
			roots = append(roots, tn)
			continue
		}
		parent.Children = append(parent.Children, tn)
	}
	return roots
}

// Linearize flattens the tree in depth-first reading order.
func Linearize(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	var walk func([]*TreeNode)
	walk = func(level []*TreeNode) {
		for _, tn := range level {
			out = append(out, tn.Node)
			walk(tn.Children)
		}
	}
	walk(BuildTree(nodes))
	return out
}

// Outline renders nodes up to maxLevel as an indented bullet list, one line
// per node. A maxLevel of zero or less includes every level.
func Outline(nodes []Node, maxLevel int) string {
	var b strings.Builder
	for _, n := range Linearize(nodes) {
		if maxLevel > 0 && n.Level > maxLevel {
			continue
		}
		depth := n.Level - 1
		if depth < 0 {
			depth = 0
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("- ")
		b.WriteString(n.Name)
	}
	return b.String()
}
