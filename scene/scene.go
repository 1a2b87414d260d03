package scene

import (
	"context"
	"sync"

	"github.com/Klump3n/platt-backend-sub000/dataset"
	"github.com/Klump3n/platt-backend-sub000/errors"
)

// Timestep aliases resolved relative to the selected timestep.
const (
	PrevTimestep = "_prev_timestep"
	NextTimestep = "_next_timestep"
)

// Range is a closed interval; unset bounds are null.
type Range struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// Colorbar holds the client's colorbar settings for a scene. Selected names
// the source of the range shown: a dataset hash, "current" or "values".
type Colorbar struct {
	Selected *string `json:"selected"`
	Current  Range   `json:"current"`
	Values   Range   `json:"values"`
}

// Info describes a scene to the client.
type Info struct {
	Datasets []dataset.Meta `json:"datasets"`
}

// Scene is an ordered set of datasets shown together.
type Scene struct {
	ID string

	mu       sync.RWMutex
	datasets []*dataset.Dataset
	colorbar Colorbar
	rendered map[string]bool
}

func newScene(id string) *Scene {
	return &Scene{ID: id, rendered: map[string]bool{}}
}

// Datasets returns the datasets in insertion order.
func (s *Scene) Datasets() []*dataset.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*dataset.Dataset(nil), s.datasets...)
}

// Dataset looks up a dataset by hash.
func (s *Scene) Dataset(id string) (*dataset.Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.datasets {
		if d.ID() == id {
			return d, true
		}
	}
	return nil, false
}

// Info lists the metadata of the scene's datasets.
func (s *Scene) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Datasets: make([]dataset.Meta, 0, len(s.datasets))}
	for _, d := range s.datasets {
		info.Datasets = append(info.Datasets, d.Meta())
	}
	return info
}

// Colorbar returns the colorbar settings.
func (s *Scene) Colorbar() Colorbar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.colorbar
}

func (s *Scene) hasName(name string) bool {
	for _, d := range s.datasets {
		if d.Meta().Name == name {
			return true
		}
	}
	return false
}

// remove drops a dataset and reports how many remain.
func (s *Scene) remove(id string) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.datasets {
		if d.ID() == id {
			s.datasets = append(s.datasets[:i], s.datasets[i+1:]...)
			delete(s.rendered, id)
			return true, len(s.datasets)
		}
	}
	return false, len(s.datasets)
}

// markRendered reports whether id is rendered for the first time.
func (s *Scene) markRendered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rendered[id] {
		return false
	}
	s.rendered[id] = true
	return true
}

// ResolveTimestep turns the aliases PrevTimestep and NextTimestep into the
// neighbor of the selected timestep, clamped at the ends of the list. Other
// values are returned as given.
func ResolveTimestep(ctx context.Context, d *dataset.Dataset, value string) (string, error) {
	if value != PrevTimestep && value != NextTimestep {
		return value, nil
	}
	timesteps, err := d.Timesteps(ctx)
	if err != nil {
		return "", err
	}
	if len(timesteps) == 0 {
		return "", errors.WrapMissing("Scene", "ResolveTimestep", "no timesteps")
	}
	current := d.Timestep()
	pos := -1
	for i, ts := range timesteps {
		if ts == current {
			pos = i
			break
		}
	}
	if pos < 0 {
		return timesteps[0], nil
	}
	if value == PrevTimestep {
		pos--
	} else {
		pos++
	}
	pos = max(0, min(pos, len(timesteps)-1))
	return timesteps[pos], nil
}
