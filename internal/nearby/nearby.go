// Package nearby scores spatial similarity between activities of the same
// group and clusters them into named groups for display. Similarity comes
// from an R-tree overlap count; clustering is a DBSCAN whose radius is
// picked by a golden-section search.
package nearby

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/dhconnelly/rtreego"

	"traindb/internal/calc"
	"traindb/internal/pipeline"
	"traindb/internal/reader"
	"traindb/internal/store"
)

// Owner and constant names.
const (
	NearbyOwner    = "NearbyCalculator"
	NearbyConstant = "Nearby"
)

// Params configure the similarity index.
type Params struct {
	// Border is the half-width of the cell around each point, metres.
	Border float64 `json:"border"`
	// Fraction downsamples points before indexing; 1 keeps everything.
	Fraction float64 `json:"fraction"`
}

// DefaultParams: 30 m cells, no downsampling.
func DefaultParams() Params { return Params{Border: 30, Fraction: 1} }

func init() {
	store.RegisterConstantSchema(NearbyConstant, []string{"border", "fraction"})
	pipeline.Register("NearbyCalculator", func() pipeline.Pipeline { return &NearbyCalculator{} })
}

// cell is one indexed point with its activity.
type cell struct {
	rect     *rtreego.Rect
	activity int64
}

func (l *cell) Bounds() *rtreego.Rect { return l.rect }

type activityInfo struct {
	constraint string
	points     int
	distance   float64
}

// NearbyCalculator incrementally scores each new activity against every
// previously indexed one, then reclusters the touched groups. Pair rows for
// old activities persist; only new activities are indexed per run.
type NearbyCalculator struct {
	params  Params
	tree    *rtreego.Rtree
	indexed map[int64]activityInfo
	touched map[string]bool
}

func (n *NearbyCalculator) Name() string  { return "NearbyCalculator" }
func (n *NearbyCalculator) Owner() string { return NearbyOwner }

// Cost declares the work serial: workers would each need the full index.
func (n *NearbyCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 1.0, Calc: 0.0} }

func (n *NearbyCalculator) Startup(c *pipeline.Context) error {
	n.params = DefaultParams()
	var override Params
	err := c.DB.GetConstantJSON(NearbyConstant, time.Now(), &override)
	if err != nil && !errors.Is(err, store.ErrConstantNotFound) {
		return err
	}
	if err == nil {
		n.params = override
	}

	n.tree = rtreego.NewTree(2, 25, 50)
	n.indexed = make(map[int64]activityInfo)
	n.touched = make(map[string]bool)

	// Rebuild the in-memory index from activities scored on earlier runs.
	done, err := c.DB.TimestampedKeys(NearbyOwner, "")
	if err != nil {
		return err
	}
	journals, err := c.DB.ActivityJournals(0)
	if err != nil {
		return err
	}
	for _, j := range journals {
		if !done[j.SourceID] {
			continue
		}
		if err := n.index(c, j.SourceID); err != nil {
			return err
		}
	}
	return nil
}

func (n *NearbyCalculator) Shutdown(c *pipeline.Context) error {
	for constraint := range n.touched {
		if err := n.recluster(c, constraint); err != nil {
			return err
		}
	}
	return nil
}

func (n *NearbyCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return calc.MissingSources(c, NearbyOwner, store.KindActivity)
}

func (n *NearbyCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	journal, err := c.DB.GetActivityJournal(item.ID)
	if err != nil {
		return err
	}
	points, dist, err := n.points(c, item.ID, journal.GroupName)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	// Count, per previously indexed activity, the points of this one whose
	// cell overlaps any of theirs.
	overlap := make(map[int64]int)
	for _, p := range points {
		rect, err := n.cellRect(p[0], p[1])
		if err != nil {
			return err
		}
		hit := make(map[int64]bool)
		for _, s := range n.tree.SearchIntersect(rect) {
			other := s.(*cell).activity
			if other == item.ID || hit[other] {
				continue
			}
			hit[other] = true
			overlap[other]++
		}
	}

	this := activityInfo{constraint: journal.GroupName, points: len(points), distance: dist}
	for other, count := range overlap {
		info := n.indexed[other]
		if info.constraint != journal.GroupName {
			continue
		}
		sim := similarity(count, this, info)
		lo, hi := item.ID, other
		if lo > hi {
			lo, hi = hi, lo
		}
		if err := c.DB.SaveSimilarity(store.Similarity{
			Constraint: journal.GroupName, Lo: lo, Hi: hi, Similarity: sim,
		}); err != nil {
			return err
		}
	}

	if err := n.insert(item.ID, points); err != nil {
		return err
	}
	n.indexed[item.ID] = this
	n.touched[journal.GroupName] = true
	return nil
}

// similarity = (overlap / points of the smaller) * (shorter / longer
// distance).
func similarity(overlap int, a, b activityInfo) float64 {
	smaller := a.points
	if b.points < smaller {
		smaller = b.points
	}
	if smaller == 0 {
		return 0
	}
	sim := float64(overlap) / float64(smaller)
	dS, dL := math.Min(a.distance, b.distance), math.Max(a.distance, b.distance)
	if dL > 0 {
		sim *= dS / dL
	}
	return sim
}

// points loads the projected waypoints of one activity, downsampled by the
// configured fraction. The sampling is seeded by the activity id so reruns
// index identical points.
func (n *NearbyCalculator) points(c *pipeline.Context, activityID int64, group string) ([][2]float64, float64, error) {
	var names []store.StatisticName
	for _, name := range []string{"x", "y", "distance"} {
		sn, err := c.DB.GetStatisticName(name, reader.ActivityOwner, group)
		if errors.Is(err, store.ErrNameNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		names = append(names, *sn)
	}
	frame, err := c.DB.SourceFrame(activityID, names, false)
	if err != nil {
		return nil, 0, err
	}
	xs, ys := frame.Column("x"), frame.Column("y")
	if xs == nil || ys == nil {
		return nil, 0, nil
	}

	var dist float64
	if dc := frame.Column("distance"); dc != nil {
		for _, d := range dc {
			if !math.IsNaN(d) && d > dist {
				dist = d
			}
		}
	}

	rng := rand.New(rand.NewSource(activityID))
	var points [][2]float64
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		if n.params.Fraction < 1 && rng.Float64() >= n.params.Fraction {
			continue
		}
		points = append(points, [2]float64{xs[i], ys[i]})
	}
	return points, dist, nil
}

func (n *NearbyCalculator) index(c *pipeline.Context, activityID int64) error {
	journal, err := c.DB.GetActivityJournal(activityID)
	if err != nil {
		return err
	}
	points, dist, err := n.points(c, activityID, journal.GroupName)
	if err != nil {
		return err
	}
	if err := n.insert(activityID, points); err != nil {
		return err
	}
	n.indexed[activityID] = activityInfo{
		constraint: journal.GroupName, points: len(points), distance: dist,
	}
	return nil
}

func (n *NearbyCalculator) insert(activityID int64, points [][2]float64) error {
	for _, p := range points {
		rect, err := n.cellRect(p[0], p[1])
		if err != nil {
			return err
		}
		n.tree.Insert(&cell{rect: rect, activity: activityID})
	}
	return nil
}

func (n *NearbyCalculator) cellRect(x, y float64) (*rtreego.Rect, error) {
	b := n.params.Border
	return rtreego.NewRect(
		rtreego.Point{x - b, y - b}, []float64{2 * b, 2 * b})
}

// recluster runs the DBSCAN over the similarity rows of one group and
// replaces its stored nearby groups.
func (n *NearbyCalculator) recluster(c *pipeline.Context, constraint string) error {
	sims, err := c.DB.Similarities(constraint)
	if err != nil {
		return err
	}
	if len(sims) == 0 {
		return c.DB.ReplaceNearbyGroups(constraint, nil)
	}

	maxSim := 0.0
	members := make(map[int64]bool)
	for _, sim := range sims {
		if sim.Similarity > maxSim {
			maxSim = sim.Similarity
		}
		members[sim.Lo] = true
		members[sim.Hi] = true
	}
	if maxSim == 0 {
		return c.DB.ReplaceNearbyGroups(constraint, nil)
	}
	ids := make([]int64, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}

	// Neighbourhood by similarity-derived distance: d = 1 - sim/maxSim,
	// pulling pair rows from both sides of the candidate.
	neighbours := func(eps float64) func(int64) ([]int64, error) {
		return func(id int64) ([]int64, error) {
			pairs, err := c.DB.SimilaritiesOf(constraint, id)
			if err != nil {
				return nil, err
			}
			var near []int64
			for _, pair := range pairs {
				other := pair.Lo
				if other == id {
					other = pair.Hi
				}
				if 1-pair.Similarity/maxSim <= eps {
					near = append(near, other)
				}
			}
			return near, nil
		}
	}

	eps, err := bestEpsilon(func(eps float64) (int, error) {
		groups, err := dbscan(ids, neighbours(eps), dbscanMinPts)
		if err != nil {
			return 0, err
		}
		return len(groups), nil
	})
	if err != nil {
		return err
	}
	groups, err := dbscan(ids, neighbours(eps), dbscanMinPts)
	if err != nil {
		return err
	}
	return c.DB.ReplaceNearbyGroups(constraint, groups)
}
