// Package stations is the directory of police stations and their agents. It
// is read from a YAML file and reloaded when the file changes, so stations
// can be added without restarting the server.
//
// File format:
//
//	stations:
//	  - id: ABC
//	    name: Central station
//	    agents: [agent-1, agent-2]
package stations

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/watchpost/internal/alert"
)

// Station is one entry of the directory.
type Station struct {
	ID     alert.StationID `yaml:"id"`
	Name   string          `yaml:"name"`
	Agents []alert.AgentID `yaml:"agents"`
}

type file struct {
	Stations []Station `yaml:"stations"`
}

// Directory is safe for concurrent use.
type Directory struct {
	path string

	mu    sync.RWMutex
	order []alert.StationID
	byID  map[alert.StationID]Station
}

// Load reads the directory from path.
func Load(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewStatic builds a directory that is never reloaded.
func NewStatic(stations ...Station) (*Directory, error) {
	d := &Directory{}
	if err := d.set(stations); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the file the directory was loaded from, empty for a static one.
func (d *Directory) Path() string { return d.path }

// Reload re-reads the file. On error the current contents are kept.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read station directory: %w", err)
	}
	stations, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", d.path, err)
	}
	return d.set(stations)
}

// Parse decodes and validates a directory document. Unknown fields are rejected.
func Parse(data []byte) ([]Station, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode station directory: %w", err)
	}
	return f.Stations, nil
}

func (d *Directory) set(stations []Station) error {
	order := make([]alert.StationID, 0, len(stations))
	byID := make(map[alert.StationID]Station, len(stations))
	for i, s := range stations {
		s.ID = alert.StationID(strings.TrimSpace(string(s.ID)))
		if s.ID == "" {
			return fmt.Errorf("station %d: id is required", i)
		}
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("station %s: duplicate id", s.ID)
		}
		agents := make([]alert.AgentID, 0, len(s.Agents))
		for _, a := range s.Agents {
			a = alert.AgentID(strings.TrimSpace(string(a)))
			if a != "" && !slices.Contains(agents, a) {
				agents = append(agents, a)
			}
		}
		s.Agents = agents
		order = append(order, s.ID)
		byID[s.ID] = s
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = order
	d.byID = byID
	return nil
}

// Stations returns every station id in file order.
func (d *Directory) Stations() []alert.StationID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order)
}

// Agents returns the agents of a station, nil when unknown.
func (d *Directory) Agents(id alert.StationID) []alert.AgentID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.byID[id].Agents)
}

// Station returns one entry.
func (d *Directory) Station(id alert.StationID) (Station, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byID[id]
	if ok {
		s.Agents = slices.Clone(s.Agents)
	}
	return s, ok
}

// Len returns the number of stations.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}
