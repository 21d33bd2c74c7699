package cube

import (
	"errors"
	"fmt"
	"time"
)

type location struct {
	cube  int
	index int
}

// JointCube presents several cubes with disjoint ids as one cube. Ids keep
// the order of the cubes they come from. Writes go to the underlying cube.
type JointCube struct {
	cubes   []NPVCube
	ids     []string
	loc     []location
	idIndex map[string]int
}

// NewJointCube joins cubes that share asof, dates, samples and depth. Nil
// cubes are skipped.
func NewJointCube(cubes ...NPVCube) (*JointCube, error) {
	var parts []NPVCube
	for _, c := range cubes {
		if c != nil {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("joint cube needs at least one cube")
	}
	first := parts[0]
	j := &JointCube{cubes: parts, idIndex: map[string]int{}}
	for ci, c := range parts {
		if !c.Asof().Equal(first.Asof()) || c.Samples() != first.Samples() || c.Depth() != first.Depth() {
			return nil, fmt.Errorf("cube %d does not match asof, samples or depth of cube 0", ci)
		}
		if !sameDates(c.Dates(), first.Dates()) {
			return nil, fmt.Errorf("cube %d has a different date grid", ci)
		}
		for i, id := range c.IDs() {
			if _, dup := j.idIndex[id]; dup {
				return nil, fmt.Errorf("id %q appears in more than one cube", id)
			}
			j.idIndex[id] = len(j.ids)
			j.ids = append(j.ids, id)
			j.loc = append(j.loc, location{cube: ci, index: i})
		}
	}
	return j, nil
}

func sameDates(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Shape accessors delegate to the first cube.
func (j *JointCube) Asof() time.Time    { return j.cubes[0].Asof() }
func (j *JointCube) IDs() []string      { return j.ids }
func (j *JointCube) Dates() []time.Time { return j.cubes[0].Dates() }
func (j *JointCube) NumIDs() int        { return len(j.ids) }
func (j *JointCube) NumDates() int      { return j.cubes[0].NumDates() }
func (j *JointCube) Samples() int       { return j.cubes[0].Samples() }
func (j *JointCube) Depth() int         { return j.cubes[0].Depth() }

func (j *JointCube) GetT0(id, depth int) float64 {
	l := j.loc[id]
	return j.cubes[l.cube].GetT0(l.index, depth)
}

func (j *JointCube) SetT0(value float64, id, depth int) error {
	l := j.loc[id]
	return j.cubes[l.cube].SetT0(value, l.index, depth)
}

func (j *JointCube) Get(id, date, sample, depth int) float64 {
	l := j.loc[id]
	return j.cubes[l.cube].Get(l.index, date, sample, depth)
}

func (j *JointCube) Set(value float64, id, date, sample, depth int) error {
	l := j.loc[id]
	return j.cubes[l.cube].Set(value, l.index, date, sample, depth)
}

func (j *JointCube) Remove(id int) {
	l := j.loc[id]
	j.cubes[l.cube].Remove(l.index)
}

func (j *JointCube) RemoveSample(id, sample int) {
	l := j.loc[id]
	j.cubes[l.cube].RemoveSample(l.index, sample)
}

func (j *JointCube) Index(id string) (int, error) {
	i, ok := j.idIndex[id]
	if !ok {
		return 0, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return i, nil
}

func (j *JointCube) DateIndex(d time.Time) (int, error) {
	return dateIndex(j.Dates(), d)
}
