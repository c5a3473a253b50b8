// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "sort"

// ElementNode is one node of the reconstructed canvas forest.
type ElementNode struct {
	*Element
	Children []*ElementNode `json:"children"`
}

// BuildElementTree reassembles a flat element set into an ordered forest.
//
// Elements whose parentId is null, or whose parent is absent from the input
// set, become roots. The dangling-parent case is deliberate leniency: a
// filtered set (hidden elements excluded, for instance) still renders a
// usable forest instead of silently dropping subtrees.
//
// Siblings are sorted ascending by order; ties keep the input slice's
// relative order, which for a store read is the fetch order. The input is
// not mutated and the returned nodes share the input's *Element pointers.
func BuildElementTree(elements []*Element) []*ElementNode {
	nodes := make(map[string]*ElementNode, len(elements))
	for _, el := range elements {
		nodes[el.ID] = &ElementNode{Element: el}
	}

	var roots []*ElementNode
	for _, el := range elements {
		node := nodes[el.ID]
		if el.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*el.ParentID]
		if !ok || parent == node {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortForest(roots)
	return roots
}

// sortForest orders each sibling group by Order, depth-first. Stable so that
// duplicate order values keep their fetch order.
func sortForest(nodes []*ElementNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Order < nodes[j].Order
	})
	for _, n := range nodes {
		if len(n.Children) > 0 {
			sortForest(n.Children)
		}
	}
}

// Walk visits every node of the forest depth-first in display order,
// stopping early if fn returns false.
func Walk(roots []*ElementNode, fn func(*ElementNode) bool) {
	stack := make([]*ElementNode, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			return
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}
