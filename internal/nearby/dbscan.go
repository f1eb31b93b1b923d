package nearby

import (
	"math"
	"sort"
)

// dbscanMinPts is the minimum cluster size, the candidate included.
const dbscanMinPts = 3

// dbscan clusters ids using the supplied neighbourhood query. Points whose
// neighbourhood (plus themselves) is smaller than minPts are noise unless
// reached from a core point. Returns group number to sorted members.
func dbscan(ids []int64, neighbours func(int64) ([]int64, error), minPts int) (map[int64][]int64, error) {
	const (
		unvisited = 0
		noise     = -1
	)
	labels := make(map[int64]int, len(ids))

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	group := 0
	for _, id := range sorted {
		if labels[id] != unvisited {
			continue
		}
		near, err := neighbours(id)
		if err != nil {
			return nil, err
		}
		if len(near)+1 < minPts {
			labels[id] = noise
			continue
		}
		group++
		labels[id] = group

		// Expand: queue of reachable points.
		queue := append([]int64(nil), near...)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if labels[next] == noise {
				labels[next] = group // border point
			}
			if labels[next] != unvisited {
				continue
			}
			labels[next] = group
			reach, err := neighbours(next)
			if err != nil {
				return nil, err
			}
			if len(reach)+1 >= minPts {
				queue = append(queue, reach...)
			}
		}
	}

	groups := make(map[int64][]int64)
	for id, label := range labels {
		if label > 0 {
			groups[int64(label)] = append(groups[int64(label)], id)
		}
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	}
	return groups, nil
}

// bestEpsilon picks the radius in [0, 1] maximising the group count, by a
// golden-section search. The count is not strictly unimodal but is flat
// enough in practice for the search to land in a good region.
func bestEpsilon(count func(float64) (int, error)) (float64, error) {
	phi := (math.Sqrt(5) - 1) / 2
	lo, hi := 0.0, 1.0
	for i := 0; i < 30; i++ {
		a := hi - phi*(hi-lo)
		b := lo + phi*(hi-lo)
		na, err := count(a)
		if err != nil {
			return 0, err
		}
		nb, err := count(b)
		if err != nil {
			return 0, err
		}
		if na >= nb {
			hi = b
		} else {
			lo = a
		}
	}
	return (lo + hi) / 2, nil
}
