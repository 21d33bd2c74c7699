// Package cube stores simulated trade values indexed by
// (trade, date, sample, depth), plus one T0 value per (trade, depth).
package cube

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrAlreadySet = errors.New("cube: value already set")
	ErrNotFound   = errors.New("cube: not found")
)

// NPVCube is a dense value store. Index arguments that are out of range
// panic, the same way slice indexing does.
type NPVCube interface {
	Asof() time.Time
	IDs() []string
	Dates() []time.Time
	NumIDs() int
	NumDates() int
	Samples() int
	Depth() int

	GetT0(id, depth int) float64
	SetT0(value float64, id, depth int) error
	Get(id, date, sample, depth int) float64
	Set(value float64, id, date, sample, depth int) error

	// Remove zeroes every value of id, T0 included, and clears the written flags.
	Remove(id int)
	// RemoveSample zeroes the values of id for one sample.
	RemoveSample(id, sample int)

	Index(id string) (int, error)
	DateIndex(d time.Time) (int, error)
}

// Number is the storage precision of an in-memory cube.
type Number interface {
	~float32 | ~float64
}

// InMemoryCube keeps all values in one slice ordered by
// trade, then date, then sample, then depth.
type InMemoryCube[T Number] struct {
	asof    time.Time
	ids     []string
	idIndex map[string]int
	dates   []time.Time
	samples int
	depth   int

	t0        []T
	t0Written []bool
	data      []T
	written   []bool
}

// New returns a double precision cube.
func New(asof time.Time, ids []string, dates []time.Time, samples, depth int) (*InMemoryCube[float64], error) {
	return NewInMemoryCube[float64](asof, ids, dates, samples, depth)
}

// NewSinglePrecision returns a float32 backed cube.
func NewSinglePrecision(asof time.Time, ids []string, dates []time.Time, samples, depth int) (*InMemoryCube[float32], error) {
	return NewInMemoryCube[float32](asof, ids, dates, samples, depth)
}

// NewInMemoryCube allocates a zeroed cube. dates must be strictly increasing
// and after asof.
func NewInMemoryCube[T Number](asof time.Time, ids []string, dates []time.Time, samples, depth int) (*InMemoryCube[T], error) {
	if samples <= 0 || depth <= 0 {
		return nil, fmt.Errorf("cube needs positive samples and depth, got %d and %d", samples, depth)
	}
	if len(dates) > 0 && !dates[0].After(asof) {
		return nil, fmt.Errorf("cube date %s is not after asof %s", dates[0].Format(dateLayout), asof.Format(dateLayout))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("cube dates not strictly increasing at %d", i)
		}
	}
	c := &InMemoryCube[T]{
		asof:    asof,
		ids:     append([]string(nil), ids...),
		idIndex: make(map[string]int, len(ids)),
		dates:   append([]time.Time(nil), dates...),
		samples: samples,
		depth:   depth,
	}
	for i, id := range c.ids {
		if _, dup := c.idIndex[id]; dup {
			return nil, fmt.Errorf("duplicate cube id %q", id)
		}
		c.idIndex[id] = i
	}
	c.t0 = make([]T, len(ids)*depth)
	c.t0Written = make([]bool, len(c.t0))
	c.data = make([]T, len(ids)*len(dates)*samples*depth)
	c.written = make([]bool, len(c.data))
	return c, nil
}

// Shape accessors of the NPVCube interface.
func (c *InMemoryCube[T]) Asof() time.Time    { return c.asof }
func (c *InMemoryCube[T]) IDs() []string      { return c.ids }
func (c *InMemoryCube[T]) Dates() []time.Time { return c.dates }
func (c *InMemoryCube[T]) NumIDs() int        { return len(c.ids) }
func (c *InMemoryCube[T]) NumDates() int      { return len(c.dates) }
func (c *InMemoryCube[T]) Samples() int       { return c.samples }
func (c *InMemoryCube[T]) Depth() int         { return c.depth }

func (c *InMemoryCube[T]) t0Pos(id, depth int) int {
	if id < 0 || id >= len(c.ids) || depth < 0 || depth >= c.depth {
		panic(fmt.Sprintf("cube: T0 index (%d, %d) out of range", id, depth))
	}
	return id*c.depth + depth
}

func (c *InMemoryCube[T]) pos(id, date, sample, depth int) int {
	if id < 0 || id >= len(c.ids) || date < 0 || date >= len(c.dates) ||
		sample < 0 || sample >= c.samples || depth < 0 || depth >= c.depth {
		panic(fmt.Sprintf("cube: index (%d, %d, %d, %d) out of range", id, date, sample, depth))
	}
	return ((id*len(c.dates)+date)*c.samples+sample)*c.depth + depth
}

func (c *InMemoryCube[T]) GetT0(id, depth int) float64 {
	return float64(c.t0[c.t0Pos(id, depth)])
}

// SetT0 fails with ErrAlreadySet when the cell was written before.
func (c *InMemoryCube[T]) SetT0(value float64, id, depth int) error {
	p := c.t0Pos(id, depth)
	if c.t0Written[p] {
		return fmt.Errorf("%w: T0 of %s at depth %d", ErrAlreadySet, c.ids[id], depth)
	}
	c.t0[p] = T(value)
	c.t0Written[p] = true
	return nil
}

func (c *InMemoryCube[T]) Get(id, date, sample, depth int) float64 {
	return float64(c.data[c.pos(id, date, sample, depth)])
}

// Set stores value rounded to T. Each cell takes one write.
func (c *InMemoryCube[T]) Set(value float64, id, date, sample, depth int) error {
	p := c.pos(id, date, sample, depth)
	if c.written[p] {
		return fmt.Errorf("%w: %s date %d sample %d depth %d", ErrAlreadySet, c.ids[id], date, sample, depth)
	}
	c.data[p] = T(value)
	c.written[p] = true
	return nil
}

// Remove zeroes id so it can be written again.
func (c *InMemoryCube[T]) Remove(id int) {
	start := c.t0Pos(id, 0)
	for p := start; p < start+c.depth; p++ {
		c.t0[p] = 0
		c.t0Written[p] = false
	}
	n := len(c.dates) * c.samples * c.depth
	if n == 0 {
		return
	}
	start = c.pos(id, 0, 0, 0)
	for p := start; p < start+n; p++ {
		c.data[p] = 0
		c.written[p] = false
	}
}

func (c *InMemoryCube[T]) RemoveSample(id, sample int) {
	for d := range c.dates {
		start := c.pos(id, d, sample, 0)
		for p := start; p < start+c.depth; p++ {
			c.data[p] = 0
			c.written[p] = false
		}
	}
}

// Index maps a trade or netting set id to its row.
func (c *InMemoryCube[T]) Index(id string) (int, error) {
	i, ok := c.idIndex[id]
	if !ok {
		return 0, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return i, nil
}

func (c *InMemoryCube[T]) DateIndex(d time.Time) (int, error) {
	return dateIndex(c.dates, d)
}

func dateIndex(dates []time.Time, d time.Time) (int, error) {
	i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(d) })
	if i == len(dates) || !dates[i].Equal(d) {
		return 0, fmt.Errorf("%w: date %s", ErrNotFound, d.Format("2006-01-02"))
	}
	return i, nil
}

// GetByID reads a value addressed by trade id and date.
func GetByID(c NPVCube, id string, d time.Time, sample, depth int) (float64, error) {
	i, err := c.Index(id)
	if err != nil {
		return 0, err
	}
	j, err := c.DateIndex(d)
	if err != nil {
		return 0, err
	}
	return c.Get(i, j, sample, depth), nil
}

// SetByID writes a value addressed by trade id and date.
func SetByID(c NPVCube, value float64, id string, d time.Time, sample, depth int) error {
	i, err := c.Index(id)
	if err != nil {
		return err
	}
	j, err := c.DateIndex(d)
	if err != nil {
		return err
	}
	return c.Set(value, i, j, sample, depth)
}

// GetT0ByID reads the T0 value of a trade id.
func GetT0ByID(c NPVCube, id string, depth int) (float64, error) {
	i, err := c.Index(id)
	if err != nil {
		return 0, err
	}
	return c.GetT0(i, depth), nil
}
