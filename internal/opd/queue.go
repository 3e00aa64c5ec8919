package opd

import (
	"fmt"
	"sort"
)

// TokenNumber renders the display number for a queue position.
func TokenNumber(position int) string {
	return fmt.Sprintf("T%03d", position)
}

// ranksBefore is the total order of a slot queue: higher score first, then
// earlier booking, then id.
func ranksBefore(a, b *Token) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.BookedAt.Equal(b.BookedAt) {
		return a.BookedAt.Before(b.BookedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Rerank orders the active tokens of one slot and assigns dense positions
// 1..N with matching display numbers. Tokens that are not active keep their
// last position. It returns the tokens whose position or number changed.
func Rerank(tokens []*Token) []*Token {
	active := make([]*Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Status.IsActive() {
			active = append(active, t)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return ranksBefore(active[i], active[j])
	})

	var changed []*Token
	for i, t := range active {
		pos := i + 1
		num := TokenNumber(pos)
		if t.Position != pos || t.TokenNumber != num {
			t.Position = pos
			t.TokenNumber = num
			changed = append(changed, t)
		}
	}
	return changed
}

// activeByPosition returns the active tokens sorted by their current
// position.
func activeByPosition(tokens []*Token, statuses ...TokenStatus) []*Token {
	var out []*Token
	for _, t := range tokens {
		if !t.Status.IsActive() {
			continue
		}
		if len(statuses) > 0 && !hasStatus(t.Status, statuses) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

func hasStatus(s TokenStatus, set []TokenStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
