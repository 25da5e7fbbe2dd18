// Package config holds the orchestrator's desired-state types: services,
// groups, and the merge/validate/ordering logic that turns two Monocore
// configs into one runnable plan.
package config

import (
	"fmt"
	"sort"
)

// PortMapping binds a host port to a port inside the sandbox.
type PortMapping struct {
	HostPort    int    `json:"host_port" yaml:"host_port"`
	GuestPort   int    `json:"guest_port" yaml:"guest_port"`
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// VolumeMapping binds a host path to a path inside the sandbox.
type VolumeMapping struct {
	HostPath  string `json:"host_path" yaml:"host_path"`
	GuestPath string `json:"guest_path" yaml:"guest_path"`
}

// GroupConfig is a shared network/env namespace several services can join.
type GroupConfig struct {
	Name string            `json:"name" yaml:"name"`
	Env  map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ServiceConfig is one sandbox's desired definition.
type ServiceConfig struct {
	Name       string            `json:"name" yaml:"name"`
	Group      string            `json:"group,omitempty" yaml:"group,omitempty"`
	Image      string            `json:"image" yaml:"image"`
	Command    []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Ports      []PortMapping     `json:"ports,omitempty" yaml:"ports,omitempty"`
	Volumes    []VolumeMapping   `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	LocalOnly  bool              `json:"local_only,omitempty" yaml:"local_only,omitempty"`
}

// equalTo reports whether two service definitions are deep-equal for the
// purposes of GetChangedServices. Order-sensitive fields (Command,
// DependsOn, Ports, Volumes) are compared by position, matching how the
// original config format treats them as ordered lists.
func (s ServiceConfig) equalTo(other ServiceConfig) bool {
	if s.Name != other.Name || s.Group != other.Group || s.Image != other.Image || s.LocalOnly != other.LocalOnly {
		return false
	}
	if !stringsEqual(s.Command, other.Command) || !stringsEqual(s.DependsOn, other.DependsOn) {
		return false
	}
	if len(s.Ports) != len(other.Ports) {
		return false
	}
	for i := range s.Ports {
		if s.Ports[i] != other.Ports[i] {
			return false
		}
	}
	if len(s.Volumes) != len(other.Volumes) {
		return false
	}
	for i := range s.Volumes {
		if s.Volumes[i] != other.Volumes[i] {
			return false
		}
	}
	return mapsEqual(s.Env, other.Env)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// MonocoreConfig is the full desired state: a set of services and the
// groups they may belong to.
type MonocoreConfig struct {
	Services []ServiceConfig `json:"services" yaml:"services"`
	Groups   []GroupConfig   `json:"groups,omitempty" yaml:"groups,omitempty"`
}

func (c MonocoreConfig) serviceByName() map[string]ServiceConfig {
	m := make(map[string]ServiceConfig, len(c.Services))
	for _, s := range c.Services {
		m[s.Name] = s
	}
	return m
}

func (c MonocoreConfig) groupByName() map[string]GroupConfig {
	m := make(map[string]GroupConfig, len(c.Groups))
	for _, g := range c.Groups {
		m[g.Name] = g
	}
	return m
}

// GetChangedServices returns the names of every service that is new in
// next, whose own definition differs from current's, or whose group's
// definition differs from current's.
func (c MonocoreConfig) GetChangedServices(next MonocoreConfig) []string {
	curServices := c.serviceByName()
	curGroups := c.groupByName()
	nextGroups := next.groupByName()

	var changed []string
	for _, s := range next.Services {
		old, existed := curServices[s.Name]
		if !existed || !old.equalTo(s) {
			changed = append(changed, s.Name)
			continue
		}
		if s.Group != "" {
			oldGroup, hadGroup := curGroups[s.Group]
			newGroup, hasGroup := nextGroups[s.Group]
			if hadGroup != hasGroup || (hasGroup && !groupsEqual(oldGroup, newGroup)) {
				changed = append(changed, s.Name)
			}
		}
	}
	sort.Strings(changed)
	return changed
}

func groupsEqual(a, b GroupConfig) bool {
	return a.Name == b.Name && mapsEqual(a.Env, b.Env)
}

// ConfigMerge is the orchestration-layer validation error: it always
// carries a human-readable message describing which rule was violated.
type ConfigMerge struct {
	Message string
}

func (e ConfigMerge) Error() string { return fmt.Sprintf("config merge: %s", e.Message) }

// Merge combines current and next into one config: services and groups
// present in next replace any same-named entry from current, and anything
// from current absent in next is carried over unchanged.
func Merge(current, next MonocoreConfig) MonocoreConfig {
	services := current.serviceByName()
	for _, s := range next.Services {
		services[s.Name] = s
	}
	groups := current.groupByName()
	for _, g := range next.Groups {
		groups[g.Name] = g
	}

	merged := MonocoreConfig{
		Services: make([]ServiceConfig, 0, len(services)),
		Groups:   make([]GroupConfig, 0, len(groups)),
	}
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		merged.Services = append(merged.Services, services[name])
	}
	groupNames := make([]string, 0, len(groups))
	for name := range groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)
	for _, name := range groupNames {
		merged.Groups = append(merged.Groups, groups[name])
	}
	return merged
}

// Validate checks the merged config's structural invariants: no port
// conflict within a group, no duplicate host volume path, every
// depends_on/group reference resolves, and the dependency graph is
// acyclic.
func Validate(cfg MonocoreConfig) error {
	groupNames := cfg.groupByName()
	serviceNames := cfg.serviceByName()

	hostPortOwner := make(map[string]map[int]string) // group -> host port -> service
	hostVolumeOwner := make(map[string]string)        // host path -> service

	for _, s := range cfg.Services {
		if s.Group != "" {
			if _, ok := groupNames[s.Group]; !ok {
				return ConfigMerge{Message: fmt.Sprintf("service %s references unknown group %s", s.Name, s.Group)}
			}
		}
		for _, dep := range s.DependsOn {
			if _, ok := serviceNames[dep]; !ok {
				return ConfigMerge{Message: fmt.Sprintf("service %s depends on unknown service %s", s.Name, dep)}
			}
		}

		groupKey := s.Group
		if hostPortOwner[groupKey] == nil {
			hostPortOwner[groupKey] = make(map[int]string)
		}
		for _, p := range s.Ports {
			if owner, taken := hostPortOwner[groupKey][p.HostPort]; taken && owner != s.Name {
				return ConfigMerge{Message: fmt.Sprintf("port %d is already in use by service %s", p.HostPort, owner)}
			}
			hostPortOwner[groupKey][p.HostPort] = s.Name
		}

		for _, v := range s.Volumes {
			if owner, taken := hostVolumeOwner[v.HostPath]; taken && owner != s.Name {
				return ConfigMerge{Message: fmt.Sprintf("host volume path %s is already mapped by service %s", v.HostPath, owner)}
			}
			hostVolumeOwner[v.HostPath] = s.Name
		}
	}

	if cycle := findCycle(cfg); cycle != nil {
		return ConfigMerge{Message: fmt.Sprintf("merged configuration contains circular dependency: %v", cycle)}
	}
	return nil
}

// findCycle returns one cycle's member names if the dependency graph has
// one, or nil if the graph is acyclic.
func findCycle(cfg MonocoreConfig) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(cfg.Services))
	deps := make(map[string][]string, len(cfg.Services))
	for _, s := range cfg.Services {
		color[s.Name] = white
		deps[s.Name] = s.DependsOn
	}

	var path []string
	var cycle []string
	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				// found the back edge; extract the cycle portion of path
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle = append([]string{}, path[start:]...)
				cycle = append(cycle, dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	names := make([]string, 0, len(cfg.Services))
	for _, s := range cfg.Services {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

// GetOrderedServices returns names in dependency order (a service's
// depends_on targets precede it): a standard topological sort via
// depth-first postorder.
func GetOrderedServices(cfg MonocoreConfig, names []string) ([]string, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	deps := make(map[string][]string, len(cfg.Services))
	for _, s := range cfg.Services {
		deps[s.Name] = s.DependsOn
	}

	visited := make(map[string]bool)
	var order []string
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range deps[name] {
			visit(dep)
		}
		if wanted[name] {
			order = append(order, name)
		}
	}

	sortedNames := append([]string{}, names...)
	sort.Strings(sortedNames)
	for _, n := range sortedNames {
		visit(n)
	}
	return order, nil
}

// ReverseOrderedServices returns names in reverse dependency order, for
// teardown.
func ReverseOrderedServices(cfg MonocoreConfig, names []string) ([]string, error) {
	ordered, err := GetOrderedServices(cfg, names)
	if err != nil {
		return nil, err
	}
	reversed := make([]string, len(ordered))
	for i, n := range ordered {
		reversed[len(ordered)-1-i] = n
	}
	return reversed, nil
}

// RemoveServices returns a copy of cfg with the named services (and any
// group left with no members) removed.
func RemoveServices(cfg MonocoreConfig, names []string) MonocoreConfig {
	remove := make(map[string]bool, len(names))
	for _, n := range names {
		remove[n] = true
	}

	out := MonocoreConfig{}
	remainingGroups := make(map[string]bool)
	for _, s := range cfg.Services {
		if remove[s.Name] {
			continue
		}
		out.Services = append(out.Services, s)
		if s.Group != "" {
			remainingGroups[s.Group] = true
		}
	}
	for _, g := range cfg.Groups {
		if remainingGroups[g.Name] {
			out.Groups = append(out.Groups, g)
		}
	}
	return out
}
