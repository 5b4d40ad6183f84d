package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int `json:"index" yaml:"index"`
	// The human-readable label.
	Name string `json:"name" yaml:"name"`
	// Display color as #RRGGBB.
	Color string `json:"color" yaml:"color"`
}

// OutputClassSet is an ordered taxonomy.
type OutputClassSet struct {
	// Classes that are supported and mappable, ordered by index.
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewOutputClassSet builds a set from ordered names and colors. Colors may be
// shorter than names.
func NewOutputClassSet(names []string, colors []string) *OutputClassSet {
	s := &OutputClassSet{Classes: make([]OutputClass, len(names))}
	for i, name := range names {
		s.Classes[i] = OutputClass{Index: i, Name: name}
		if i < len(colors) {
			s.Classes[i].Color = colors[i]
		}
	}
	s.BuildNameIndexMap()
	return s
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
	}
}

// Len returns the number of classes.
func (s *OutputClassSet) Len() int { return len(s.Classes) }

// Names returns the class names in index order.
func (s *OutputClassSet) Names() []string {
	names := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		names[i] = c.Name
	}
	return names
}

// Name returns the class name for idx, or a "class_N" placeholder.
func (s *OutputClassSet) Name(idx int) string {
	if idx >= 0 && idx < len(s.Classes) {
		return s.Classes[idx].Name
	}
	return postprocess.ClassName(nil, idx)
}

// Index returns the class index for a given name.
func (s *OutputClassSet) Index(name string) (int, error) {
	if s.nameToIdx == nil {
		s.BuildNameIndexMap()
	}
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("class %q not in taxonomy", name)
	}
	return idx, nil
}

// Color returns the display color of a class name, DefaultClassColor when
// the class has none.
func (s *OutputClassSet) Color(name string) string {
	idx, err := s.Index(name)
	if err != nil || s.Classes[idx].Color == "" {
		return DefaultClassColor
	}
	return s.Classes[idx].Color
}

// Colors returns a class name to color map.
func (s *OutputClassSet) Colors() map[string]string {
	m := make(map[string]string, len(s.Classes))
	for _, c := range s.Classes {
		if c.Color != "" {
			m[c.Name] = c.Color
		}
	}
	return m
}

// DefaultClassColor is used for classes outside the taxonomy.
const DefaultClassColor = "#FF0000"

// MarineClasses is the underwater species taxonomy, in model output order.
var MarineClasses = NewOutputClassSet(
	[]string{"fish", "small_fish", "crab", "jellyfish", "shrimp", "starfish"},
	[]string{"#FF3B30", "#FF9500", "#FFCC00", "#00E5FF", "#FF2D55", "#5AC8FA"},
)
