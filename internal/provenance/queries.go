package provenance

import (
	"sort"

	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// Ancestors runs a BFS over parent edges from id, optionally capped at
// depth hops. Results are deduplicated by visited set; order is BFS order.
func (idx *Index) Ancestors(id ids.EventId, depth *int) []ids.EventId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.bfs(id, depth, func(n *Node) []ids.EventId { return n.Parents })
}

// Descendants runs a BFS over child edges from id, optionally capped at
// depth hops.
func (idx *Index) Descendants(id ids.EventId, depth *int) []ids.EventId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.bfs(id, depth, func(n *Node) []ids.EventId { return n.Children })
}

func (idx *Index) bfs(start ids.EventId, depth *int, edges func(*Node) []ids.EventId) []ids.EventId {
	type frame struct {
		id ids.EventId
		d  int
	}
	visited := map[ids.EventId]bool{start: true}
	queue := []frame{{start, 0}}
	var out []ids.EventId

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		n, ok := idx.nodes[f.id]
		if !ok {
			continue
		}
		if depth != nil && f.d >= *depth {
			continue
		}
		for _, next := range edges(n) {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, frame{next, f.d + 1})
		}
	}
	return out
}

// CausalPath finds a path from -> to following child edges via BFS,
// tracking a predecessor map. Returns a single-element path if from == to,
// nil if unreachable.
func (idx *Index) CausalPath(from, to ids.EventId) []ids.EventId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if from == to {
		if _, ok := idx.nodes[from]; !ok {
			return nil
		}
		return []ids.EventId{from}
	}

	visited := map[ids.EventId]bool{from: true}
	pred := map[ids.EventId]ids.EventId{}
	queue := []ids.EventId{from}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := idx.nodes[cur]
		if !ok {
			continue
		}
		for _, child := range n.Children {
			if visited[child] {
				continue
			}
			visited[child] = true
			pred[child] = cur
			if child == to {
				return reconstructPath(pred, from, to)
			}
			queue = append(queue, child)
		}
	}
	return nil
}

func reconstructPath(pred map[ids.EventId]ids.EventId, from, to ids.EventId) []ids.EventId {
	path := []ids.EventId{to}
	cur := to
	for cur != from {
		p, ok := pred[cur]
		if !ok {
			return nil
		}
		path = append([]ids.EventId{p}, path...)
		cur = p
	}
	return path
}

// hlcSortedNodes sorts a slice of node ids ascending by HLC timestamp.
func (idx *Index) hlcSortedNodes(eventIDs []ids.EventId) []*Node {
	out := make([]*Node, 0, len(eventIDs))
	for _, id := range eventIDs {
		if n, ok := idx.nodes[id]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// AuditTrail filters indexed events by commitment_id, sorted ascending by HLC.
func (idx *Index) AuditTrail(commitmentID string) []*Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.hlcSortedNodes(idx.byCommitment[commitmentID])
}

// HLCRange is an inclusive [From, To] bound on HLC timestamps.
type HLCRange struct {
	From ids.HLC
	To   ids.HLC
}

func (r *HLCRange) includes(h ids.HLC) bool {
	if r == nil {
		return true
	}
	return !h.Before(r.From) && !r.To.Before(h)
}

// WorldlineHistory filters indexed events by worldline, optionally bounded
// by an inclusive HLC range, sorted ascending by HLC.
func (idx *Index) WorldlineHistory(worldline ids.WorldlineId, r *HLCRange) []*Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	sorted := idx.hlcSortedNodes(idx.byWorldline[worldline])
	if r == nil {
		return sorted
	}
	out := make([]*Node, 0, len(sorted))
	for _, n := range sorted {
		if r.includes(n.Timestamp) {
			out = append(out, n)
		}
	}
	return out
}

// RegulatorySlice filters indexed events by policy_id (or invariant_id,
// which shares the policy index slot per §4.3).
func (idx *Index) RegulatorySlice(policyID string) []*Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.hlcSortedNodes(idx.byPolicy[policyID])
}

// ImpactReport is the result of ImpactAnalysis.
type ImpactReport struct {
	TotalDescendants  int
	AffectedWorldlines map[ids.WorldlineId]struct{}
	StageBreakdown     map[event.Stage]int
	MaxDepth           int
}

// ImpactAnalysis computes descendants of id plus aggregate statistics.
func (idx *Index) ImpactAnalysis(id ids.EventId) ImpactReport {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	report := ImpactReport{
		AffectedWorldlines: make(map[ids.WorldlineId]struct{}),
		StageBreakdown:     make(map[event.Stage]int),
	}

	type frame struct {
		id ids.EventId
		d  int
	}
	visited := map[ids.EventId]bool{id: true}
	queue := []frame{{id, 0}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		n, ok := idx.nodes[f.id]
		if !ok {
			continue
		}
		for _, child := range n.Children {
			if visited[child] {
				continue
			}
			visited[child] = true
			cn, ok := idx.nodes[child]
			if !ok {
				continue
			}
			report.TotalDescendants++
			report.AffectedWorldlines[cn.Worldline] = struct{}{}
			report.StageBreakdown[cn.Stage]++
			depth := f.d + 1
			if depth > report.MaxDepth {
				report.MaxDepth = depth
			}
			queue = append(queue, frame{child, depth})
		}
	}
	return report
}

// RiskContagionReport is the result of RiskContagion for one worldline.
type RiskContagionReport struct {
	UpstreamWorldlines   map[ids.WorldlineId]struct{}
	DownstreamWorldlines map[ids.WorldlineId]struct{}
	HighestStage         event.Stage
}

const riskContagionDepth = 3

// RiskContagion computes, for every node of worldline, bounded (depth<=3)
// ancestor/descendant worldline sets and the highest observed stage.
func (idx *Index) RiskContagion(worldline ids.WorldlineId) RiskContagionReport {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	report := RiskContagionReport{
		UpstreamWorldlines:   make(map[ids.WorldlineId]struct{}),
		DownstreamWorldlines: make(map[ids.WorldlineId]struct{}),
	}
	depth := riskContagionDepth

	for _, id := range idx.byWorldline[worldline] {
		n, ok := idx.nodes[id]
		if !ok {
			continue
		}
		if n.Stage.Rank() > report.HighestStage.Rank() || report.HighestStage == "" {
			report.HighestStage = n.Stage
		}
		for _, aid := range idx.bfs(id, &depth, func(n *Node) []ids.EventId { return n.Parents }) {
			if an, ok := idx.nodes[aid]; ok && an.Worldline != worldline {
				report.UpstreamWorldlines[an.Worldline] = struct{}{}
			}
		}
		for _, did := range idx.bfs(id, &depth, func(n *Node) []ids.EventId { return n.Children }) {
			if dn, ok := idx.nodes[did]; ok && dn.Worldline != worldline {
				report.DownstreamWorldlines[dn.Worldline] = struct{}{}
			}
		}
	}
	return report
}
