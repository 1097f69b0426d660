package fetcher

import "github.com/voyagen/guidevault/internal/models"

// Result is one parsed source: records in source order plus the categories
// they reference, in first-seen order.
type Result struct {
	Records    []models.SourceRecord
	Categories []models.CategoryHint
	// GuideURL is the program guide advertised by the source, if any.
	GuideURL string
}

// categorySet collects distinct categories in first-seen order.
type categorySet struct {
	seen map[string]struct{}
	list []models.CategoryHint
}

func (s *categorySet) add(id, name string) {
	if id == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.list = append(s.list, models.CategoryHint{ID: id, Name: name})
}
