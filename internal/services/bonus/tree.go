// Package bonus holds the compensation calculators. They are pure: given a
// plan and a snapshot of the tree and point ledger they return the same credits
// every time, and they never touch the database.
package bonus

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedagro/backend/internal/models"
)

// ErrInvalidTree is returned when snapshot nodes do not form a binary tree
var ErrInvalidTree = errors.New("invalid placement tree")

const none = -1

// Node is one member as seen by the calculators
type Node struct {
	ID          uuid.UUID
	SponsorID   uuid.UUID // uuid.Nil for the root
	Side        models.Side
	Rank        models.Rank
	Active      bool
	KYCApproved bool
}

// Tree is an arena of nodes addressed by index, with parent and child links
// stored as indexes. Traversals are iterative.
type Tree struct {
	nodes  []Node
	index  map[uuid.UUID]int
	parent []int
	left   []int
	right  []int
	order  []int // breadth-first from the roots, parents before children
}

// NewTree builds the arena. Every sponsor must be present and each slot used once.
func NewTree(nodes []Node) (*Tree, error) {
	t := &Tree{
		nodes:  nodes,
		index:  make(map[uuid.UUID]int, len(nodes)),
		parent: make([]int, len(nodes)),
		left:   make([]int, len(nodes)),
		right:  make([]int, len(nodes)),
	}
	for i, n := range nodes {
		if _, dup := t.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate member %s", ErrInvalidTree, n.ID)
		}
		t.index[n.ID] = i
		t.parent[i], t.left[i], t.right[i] = none, none, none
	}

	var roots []int
	for i, n := range nodes {
		if n.SponsorID == uuid.Nil {
			roots = append(roots, i)
			continue
		}
		p, ok := t.index[n.SponsorID]
		if !ok {
			return nil, fmt.Errorf("%w: sponsor %s of %s missing", ErrInvalidTree, n.SponsorID, n.ID)
		}
		slot := &t.left[p]
		if n.Side == models.SideRight {
			slot = &t.right[p]
		} else if n.Side != models.SideLeft {
			return nil, fmt.Errorf("%w: member %s has side %q", ErrInvalidTree, n.ID, n.Side)
		}
		if *slot != none {
			return nil, fmt.Errorf("%w: %s slot of %s used twice", ErrInvalidTree, n.Side, n.SponsorID)
		}
		*slot = i
		t.parent[i] = p
	}

	t.order = make([]int, 0, len(nodes))
	t.order = append(t.order, roots...)
	for head := 0; head < len(t.order); head++ {
		i := t.order[head]
		if t.left[i] != none {
			t.order = append(t.order, t.left[i])
		}
		if t.right[i] != none {
			t.order = append(t.order, t.right[i])
		}
	}
	if len(t.order) != len(nodes) {
		return nil, fmt.Errorf("%w: %d members unreachable from a root", ErrInvalidTree, len(nodes)-len(t.order))
	}
	return t, nil
}

// Len returns the number of members
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the member at index i
func (t *Tree) Node(i int) Node {
	return t.nodes[i]
}

// Lookup returns a member by id
func (t *Tree) Lookup(id uuid.UUID) (Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.nodes[i], true
}

// Upline returns up to max ancestors of id, nearest first
func (t *Tree) Upline(id uuid.UUID, max int) []uuid.UUID {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	var out []uuid.UUID
	for p := t.parent[i]; p != none && len(out) < max; p = t.parent[p] {
		out = append(out, t.nodes[p].ID)
	}
	return out
}

// Legs holds per-member left and right subtree totals, indexed like the tree
type Legs struct {
	Left  []int64
	Right []int64
}

// LegTotals sums own values over every member's left and right subtrees in one
// pass, visiting children before parents.
func (t *Tree) LegTotals(own map[uuid.UUID]int64) Legs {
	subtotal := make([]int64, len(t.nodes))
	legs := Legs{Left: make([]int64, len(t.nodes)), Right: make([]int64, len(t.nodes))}
	for k := len(t.order) - 1; k >= 0; k-- {
		i := t.order[k]
		total := own[t.nodes[i].ID]
		if l := t.left[i]; l != none {
			legs.Left[i] = subtotal[l]
			total += subtotal[l]
		}
		if r := t.right[i]; r != none {
			legs.Right[i] = subtotal[r]
			total += subtotal[r]
		}
		subtotal[i] = total
	}
	return legs
}
