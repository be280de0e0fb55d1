package template

import (
	"errors"
	"fmt"
	"sort"

	"buildtrack/internal/model"
)

var (
	// ErrEmptyTemplate is returned when the template has no line items.
	ErrEmptyTemplate = errors.New("template has no line items")
	// ErrUnknownLineItem is returned when an id is not part of the template.
	ErrUnknownLineItem = errors.New("line item not in template")
	// ErrInvalidTemplate is returned when the seed data violates ordering
	// or ownership invariants.
	ErrInvalidTemplate = errors.New("invalid template")
)

// LineItemRef is one position in the flattened template: the line item plus
// its owning section and phase.
type LineItemRef struct {
	Phase   model.Phase
	Section model.Section
	Item    model.LineItem
}

// Store holds the workflow template as a flat arena of line items sorted by
// (phase order, section order, item order). It is built once at startup and
// read-only afterwards, so it is safe to share across goroutines.
type Store struct {
	refs  []LineItemRef
	index map[int]int // line item id -> position in refs
}

// New flattens the three-level hierarchy into a traversal arena. Sections
// must reference a known phase and items a known section; display orders
// must be unique within their scope.
func New(phases []model.Phase, sections []model.Section, items []model.LineItem) (*Store, error) {
	phaseByID := make(map[int]model.Phase, len(phases))
	for _, p := range phases {
		phaseByID[p.ID] = p
	}
	sectionByID := make(map[int]model.Section, len(sections))
	for _, s := range sections {
		if _, ok := phaseByID[s.PhaseID]; !ok {
			return nil, fmt.Errorf("%w: section %d references unknown phase %d", ErrInvalidTemplate, s.ID, s.PhaseID)
		}
		sectionByID[s.ID] = s
	}

	refs := make([]LineItemRef, 0, len(items))
	for _, it := range items {
		sec, ok := sectionByID[it.SectionID]
		if !ok {
			return nil, fmt.Errorf("%w: line item %d references unknown section %d", ErrInvalidTemplate, it.ID, it.SectionID)
		}
		refs = append(refs, LineItemRef{
			Phase:   phaseByID[sec.PhaseID],
			Section: sec,
			Item:    it,
		})
	}

	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Phase.DisplayOrder != b.Phase.DisplayOrder {
			return a.Phase.DisplayOrder < b.Phase.DisplayOrder
		}
		if a.Section.DisplayOrder != b.Section.DisplayOrder {
			return a.Section.DisplayOrder < b.Section.DisplayOrder
		}
		return a.Item.DisplayOrder < b.Item.DisplayOrder
	})

	index := make(map[int]int, len(refs))
	for i, r := range refs {
		if _, dup := index[r.Item.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate line item id %d", ErrInvalidTemplate, r.Item.ID)
		}
		index[r.Item.ID] = i
	}

	for i := 1; i < len(refs); i++ {
		a, b := refs[i-1], refs[i]
		if a.Phase.ID == b.Phase.ID && a.Section.ID == b.Section.ID &&
			a.Item.DisplayOrder == b.Item.DisplayOrder {
			return nil, fmt.Errorf("%w: duplicate display order %d in section %d", ErrInvalidTemplate, b.Item.DisplayOrder, b.Section.ID)
		}
	}

	return &Store{refs: refs, index: index}, nil
}

// First returns the globally first line item.
func (s *Store) First() (LineItemRef, error) {
	if len(s.refs) == 0 {
		return LineItemRef{}, ErrEmptyTemplate
	}
	return s.refs[0], nil
}

// Next returns the line item following ref in global order. The second
// return value is false when ref is the last item (terminal position).
func (s *Store) Next(ref LineItemRef) (LineItemRef, bool, error) {
	pos, ok := s.index[ref.Item.ID]
	if !ok {
		return LineItemRef{}, false, fmt.Errorf("%w: id %d", ErrUnknownLineItem, ref.Item.ID)
	}
	if pos+1 >= len(s.refs) {
		return LineItemRef{}, false, nil
	}
	return s.refs[pos+1], true, nil
}

// Lookup resolves a line item id to its template position in O(1).
func (s *Store) Lookup(id int) (LineItemRef, error) {
	pos, ok := s.index[id]
	if !ok {
		return LineItemRef{}, fmt.Errorf("%w: id %d", ErrUnknownLineItem, id)
	}
	return s.refs[pos], nil
}

// Len returns the number of line items in the template.
func (s *Store) Len() int {
	return len(s.refs)
}

// Items returns the arena in traversal order. The returned slice is shared;
// callers must not mutate it.
func (s *Store) Items() []LineItemRef {
	return s.refs
}
