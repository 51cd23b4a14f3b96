package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const likeDelimiter = ","

// LikeSet is the set of subscribers who like an item. It is persisted as a
// delimited string such as ",alice,bob," but callers only see a set.
type LikeSet struct {
	members map[string]struct{}
}

// NewLikeSet builds a set from the given subscriber ids, dropping blanks and
// duplicates.
func NewLikeSet(ids ...string) LikeSet {
	s := LikeSet{members: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// ParseLikeSet decodes the stored representation. Both ",a,b," and "a,b"
// are accepted.
func ParseLikeSet(encoded string) LikeSet {
	return NewLikeSet(strings.Split(encoded, likeDelimiter)...)
}

// Add inserts id and reports whether it was absent.
func (s *LikeSet) Add(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if s.members == nil {
		s.members = make(map[string]struct{})
	}
	if _, ok := s.members[id]; ok {
		return false
	}
	s.members[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (s *LikeSet) Remove(id string) bool {
	if _, ok := s.members[id]; !ok {
		return false
	}
	delete(s.members, id)
	return true
}

// Toggle flips membership of id and reports whether id is now a member.
func (s *LikeSet) Toggle(id string) bool {
	if s.Remove(id) {
		return false
	}
	return s.Add(id)
}

func (s LikeSet) Contains(id string) bool {
	_, ok := s.members[id]
	return ok
}

func (s LikeSet) Len() int {
	return len(s.members)
}

// Sorted returns the members in ascending order. Never nil.
func (s LikeSet) Sorted() []string {
	ids := lo.Keys(s.members)
	if ids == nil {
		ids = []string{}
	}
	slices.Sort(ids)
	return ids
}

// Clone returns an independent copy.
func (s LikeSet) Clone() LikeSet {
	return NewLikeSet(s.Sorted()...)
}

// Equal reports whether both sets hold the same members.
func (s LikeSet) Equal(other LikeSet) bool {
	return slices.Equal(s.Sorted(), other.Sorted())
}

// Encode returns the stored form: members sorted and wrapped in delimiters,
// or the empty string for an empty set.
func (s LikeSet) Encode() string {
	if s.Len() == 0 {
		return ""
	}
	return likeDelimiter + strings.Join(s.Sorted(), likeDelimiter) + likeDelimiter
}

// MarshalJSON renders the set as a sorted JSON array.
func (s LikeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts a JSON array of subscriber ids.
func (s *LikeSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewLikeSet(ids...)
	return nil
}

// Value implements driver.Valuer with the delimited stored form.
func (s LikeSet) Value() (driver.Value, error) {
	return s.Encode(), nil
}

// Scan implements sql.Scanner.
func (s *LikeSet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = NewLikeSet()
	case string:
		*s = ParseLikeSet(v)
	case []byte:
		*s = ParseLikeSet(string(v))
	default:
		return fmt.Errorf("cannot scan %T into LikeSet", src)
	}
	return nil
}
