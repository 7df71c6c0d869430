package tui

// attach places node under the node of parentID, or at the top level when the parent is
// unknown. A child's depth is its parent's plus one.
func (m *Model) attach(node *RequestNode, parentID string) {
	parent, ok := m.SpanMap[parentID]
	if !ok {
		m.TreeRoots = append(m.TreeRoots, node)
		return
	}
	node.Parent = parent
	node.Depth = parent.Depth + 1
	parent.Children = append(parent.Children, node)
}

// flattenTree converts the tree into a linear list respecting expansion state.
// Only expanded nodes have their children included, and hidden nodes are skipped along with
// their subtrees.
func flattenTree(roots []*RequestNode) []*RequestNode {
	flat := make([]*RequestNode, 0, len(roots))

	var walk func(node *RequestNode)
	walk = func(node *RequestNode) {
		if node.Hidden {
			return
		}
		flat = append(flat, node)
		if node.IsExpanded {
			for _, child := range node.Children {
				walk(child)
			}
		}
	}

	for _, root := range roots {
		walk(root)
	}

	return flat
}

// reveal unhides node and its ancestors and expands the ancestors so that node is listed.
func reveal(node *RequestNode) {
	node.Hidden = false
	for p := node.Parent; p != nil; p = p.Parent {
		p.Hidden = false
		p.IsExpanded = true
	}
}
