// Copyright (C) 2025 Driftlake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package expr

import "fmt"

// ScopeStack resolves Ref.Nest by walking outward through enclosing frames.
// It is a plain slice, pushed/popped during lowering — never a parent
// pointer hung off the node itself, so there are no cycles (spec §9).
type ScopeStack struct {
	frames []Frame
}

// Frame names the attributes visible at one level of nesting.
type Frame struct {
	Attributes AttributeLookup
}

func NewScopeStack(root AttributeLookup) *ScopeStack {
	return &ScopeStack{frames: []Frame{{Attributes: root}}}
}

func (s *ScopeStack) Push(f Frame) { s.frames = append(s.frames, f) }

func (s *ScopeStack) Pop() {
	if len(s.frames) > 0 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// Resolve looks up a Ref's attribute, walking `nest` frames outward from the
// innermost (current) frame.
func (s *ScopeStack) Resolve(ref *RefExpr) (AttributeInfo, error) {
	idx := len(s.frames) - 1 - ref.Nest
	if idx < 0 {
		return AttributeInfo{}, fmt.Errorf("ref %q: nest %d exceeds scope depth %d", ref.Name, ref.Nest, len(s.frames))
	}
	info, ok := s.frames[idx].Attributes.Attribute(ref.Name)
	if !ok {
		return AttributeInfo{}, fmt.Errorf("ref %q: unknown attribute", ref.Name)
	}
	return info, nil
}
