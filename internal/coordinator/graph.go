package coordinator

import (
	"errors"
	"sort"

	"github.com/ShayCichocki/relay/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// GraphReport summarises structural problems in the task graph.
type GraphReport struct {
	// Dangling maps task IDs to dependencies that reference no known task.
	Dangling map[string][]string
	// Blocked lists active tasks that can never become ready because a
	// dependency failed or was cancelled.
	Blocked []string
}

// Validate checks the task graph for cycles among known tasks. Dangling and
// permanently blocked dependencies are reported but are not errors, because
// forward references are legal.
func (c *Coordinator) Validate() (GraphReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	nodes := make(map[string]*models.Task)
	for _, list := range [][]*models.Task{c.active, c.completed, c.failed} {
		for _, t := range list {
			nodes[t.ID] = t
		}
	}

	failed := make(map[string]bool, len(c.failed))
	for _, t := range c.failed {
		failed[t.ID] = true
	}

	report := GraphReport{Dangling: make(map[string][]string)}
	for _, t := range c.active {
		blocked := false
		for _, dep := range t.Dependencies {
			if _, ok := nodes[dep]; !ok {
				report.Dangling[t.ID] = append(report.Dangling[t.ID], dep)
			}
			if failed[dep] {
				blocked = true
			}
		}
		if blocked {
			report.Blocked = append(report.Blocked, t.ID)
		}
	}

	if hasCycle(nodes) {
		return report, ErrCycleDetected
	}
	return report, nil
}

// Dependents returns the IDs of tasks that list id as a dependency, sorted.
func (c *Coordinator) Dependents(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for _, list := range [][]*models.Task{c.active, c.completed, c.failed} {
		for _, t := range list {
			for _, dep := range t.Dependencies {
				if dep == id {
					out = append(out, t.ID)
					break
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// hasCycle runs a depth-first search with coloring to detect back edges.
// Edges to unknown tasks are ignored.
func hasCycle(nodes map[string]*models.Task) bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range nodes[id].Dependencies {
			if _, ok := nodes[depID]; !ok {
				continue
			}
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}
