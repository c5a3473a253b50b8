// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func el(id string, parentID *string, order int) *Element {
	return &Element{ID: id, Type: ElementContainer, ParentID: parentID, Order: order}
}

func TestBuildElementTree_Forest(t *testing.T) {
	elements := []*Element{
		el("root-b", nil, 1),
		el("root-a", nil, 0),
		el("child-2", strPtr("root-a"), 2),
		el("child-1", strPtr("root-a"), 1),
		el("grandchild", strPtr("child-1"), 0),
	}

	forest := BuildElementTree(elements)

	require.Len(t, forest, 2)
	assert.Equal(t, "root-a", forest[0].ID)
	assert.Equal(t, "root-b", forest[1].ID)

	require.Len(t, forest[0].Children, 2)
	assert.Equal(t, "child-1", forest[0].Children[0].ID)
	assert.Equal(t, "child-2", forest[0].Children[1].ID)

	require.Len(t, forest[0].Children[0].Children, 1)
	assert.Equal(t, "grandchild", forest[0].Children[0].Children[0].ID)
}

func TestBuildElementTree_DanglingParentBecomesRoot(t *testing.T) {
	elements := []*Element{
		el("a", nil, 0),
		el("orphan", strPtr("gone"), 5),
	}

	forest := BuildElementTree(elements)

	require.Len(t, forest, 2)
	ids := []string{forest[0].ID, forest[1].ID}
	assert.Contains(t, ids, "orphan")
}

func TestBuildElementTree_DuplicateOrderKeepsInputOrder(t *testing.T) {
	elements := []*Element{
		el("first", nil, 3),
		el("second", nil, 3),
	}

	forest := BuildElementTree(elements)

	require.Len(t, forest, 2)
	assert.Equal(t, "first", forest[0].ID)
	assert.Equal(t, "second", forest[1].ID)
}

func TestBuildElementTree_Empty(t *testing.T) {
	assert.Empty(t, BuildElementTree(nil))
	assert.Empty(t, BuildElementTree([]*Element{}))
}

func TestWalk_VisitsEveryNode(t *testing.T) {
	elements := []*Element{
		el("r", nil, 0),
		el("c1", strPtr("r"), 0),
		el("c2", strPtr("r"), 1),
		el("g", strPtr("c2"), 0),
	}
	forest := BuildElementTree(elements)

	var visited []string
	Walk(forest, func(n *ElementNode) bool {
		visited = append(visited, n.ID)
		return true
	})

	assert.Equal(t, []string{"r", "c1", "c2", "g"}, visited)
}

func TestWalk_StopsEarly(t *testing.T) {
	elements := []*Element{
		el("r", nil, 0),
		el("c1", strPtr("r"), 0),
		el("c2", strPtr("r"), 1),
	}
	forest := BuildElementTree(elements)

	count := 0
	Walk(forest, func(n *ElementNode) bool {
		count++
		return false
	})

	assert.Equal(t, 1, count)
}
