package knowledge

import "github.com/HendryAvila/kenning/internal/errs"

// Reached is a node found by traversal and its distance from the start.
type Reached struct {
	Node  Node `json:"node"`
	Depth int  `json:"depth"`
}

// GetConnected walks connections breadth-first from id up to depth hops.
// The start node is excluded and every node is reported once, so cycles
// terminate. depth <= 0 returns nothing.
func (s *Store) GetConnected(id string, depth int) ([]Reached, error) {
	snap := s.current.Load()
	if _, ok := snap.nodes[id]; !ok {
		return nil, errs.NotFound("node", id)
	}
	if depth <= 0 {
		return nil, nil
	}

	type queueItem struct {
		id    string
		depth int
	}

	visited := map[string]bool{id: true}
	queue := []queueItem{{id: id, depth: 0}}
	var out []Reached

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= depth {
			continue
		}
		for _, next := range snap.nodes[current.id].Connections {
			if visited[next] {
				continue
			}
			visited[next] = true

			n, ok := snap.nodes[next]
			if !ok {
				continue
			}
			out = append(out, Reached{Node: n.clone(), Depth: current.depth + 1})
			queue = append(queue, queueItem{id: next, depth: current.depth + 1})
		}
	}
	return out, nil
}
