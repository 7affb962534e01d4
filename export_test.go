package texrender

import "github.com/aretw0/texrender/pkg/adapters/memory"

// EditIndex exposes the controller's edit index to tests.
func EditIndex(s *Service) *memory.Store {
	return s.edits
}
