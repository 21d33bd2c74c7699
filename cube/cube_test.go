package cube

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/banachtech/riskcube/util"
	"github.com/stretchr/testify/require"
)

var asof = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testDates(n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = asof.AddDate(0, i+1, 0)
	}
	return dates
}

func TestInMemoryCubeSetGet(t *testing.T) {
	ids := []string{"A", "B", "C"}
	c, err := New(asof, ids, testDates(4), 5, 2)
	require.NoError(t, err)

	require.Equal(t, 3, c.NumIDs())
	require.Equal(t, 4, c.NumDates())
	require.Equal(t, 5, c.Samples())
	require.Equal(t, 2, c.Depth())

	// unwritten cells read as zero
	require.Equal(t, 0.0, c.Get(2, 3, 4, 1))
	require.Equal(t, 0.0, c.GetT0(1, 0))

	for i := range ids {
		require.NoError(t, c.SetT0(float64(100*i), i, 0))
		for j := 0; j < 4; j++ {
			for s := 0; s < 5; s++ {
				for d := 0; d < 2; d++ {
					require.NoError(t, c.Set(float64(i*1000+j*100+s*10+d), i, j, s, d))
				}
			}
		}
	}
	for i := range ids {
		require.Equal(t, float64(100*i), c.GetT0(i, 0))
		for j := 0; j < 4; j++ {
			for s := 0; s < 5; s++ {
				for d := 0; d < 2; d++ {
					require.Equal(t, float64(i*1000+j*100+s*10+d), c.Get(i, j, s, d))
				}
			}
		}
	}
}

func TestInMemoryCubeWriteOnce(t *testing.T) {
	c, err := New(asof, []string{"A"}, testDates(1), 1, 1)
	require.NoError(t, err)

	require.NoError(t, c.Set(1, 0, 0, 0, 0))
	err = c.Set(2, 0, 0, 0, 0)
	require.True(t, errors.Is(err, ErrAlreadySet))
	require.Equal(t, 1.0, c.Get(0, 0, 0, 0))

	require.NoError(t, c.SetT0(3, 0, 0))
	require.ErrorIs(t, c.SetT0(4, 0, 0), ErrAlreadySet)

	c.Remove(0)
	require.Equal(t, 0.0, c.Get(0, 0, 0, 0))
	require.Equal(t, 0.0, c.GetT0(0, 0))
	require.NoError(t, c.Set(5, 0, 0, 0, 0))
	require.NoError(t, c.SetT0(6, 0, 0))
}

func TestInMemoryCubeRemoveSample(t *testing.T) {
	c, err := New(asof, []string{"A", "B"}, testDates(2), 3, 1)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for s := 0; s < 3; s++ {
				require.NoError(t, c.Set(1, i, j, s, 0))
			}
		}
	}
	c.RemoveSample(0, 1)
	for j := 0; j < 2; j++ {
		require.Equal(t, 1.0, c.Get(0, j, 0, 0))
		require.Equal(t, 0.0, c.Get(0, j, 1, 0))
		require.Equal(t, 1.0, c.Get(0, j, 2, 0))
		require.Equal(t, 1.0, c.Get(1, j, 1, 0))
	}
	require.NoError(t, c.Set(7, 0, 1, 1, 0))
}

func TestInMemoryCubeOutOfRange(t *testing.T) {
	c, err := New(asof, []string{"A"}, testDates(1), 1, 1)
	require.NoError(t, err)
	require.Panics(t, func() { c.Get(1, 0, 0, 0) })
	require.Panics(t, func() { c.Get(0, 0, 1, 0) })
	require.Panics(t, func() { _ = c.Set(1, 0, 0, 0, 1) })
	require.Panics(t, func() { c.GetT0(0, 1) })
}

func TestNewCubeValidation(t *testing.T) {
	testCases := []struct {
		name    string
		ids     []string
		dates   []time.Time
		samples int
	}{
		{"duplicate id", []string{"A", "A"}, testDates(1), 1},
		{"no samples", []string{"A"}, testDates(1), 0},
		{"decreasing", []string{"A"}, []time.Time{asof.AddDate(0, 2, 0), asof.AddDate(0, 1, 0)}, 1},
		{"before asof", []string{"A"}, []time.Time{asof.AddDate(0, 0, -10), asof}, 1},
		{"on asof", []string{"A"}, []time.Time{asof, asof.AddDate(0, 1, 0)}, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(asof, tc.ids, tc.dates, tc.samples, 1)
			require.Error(t, err)
		})
	}
	_, err := New(asof, []string{"A"}, nil, 1, 1)
	require.NoError(t, err)
}

func TestLookups(t *testing.T) {
	dates := testDates(3)
	c, err := New(asof, []string{"X", "Y"}, dates, 2, 1)
	require.NoError(t, err)

	i, err := c.Index("Y")
	require.NoError(t, err)
	require.Equal(t, 1, i)
	_, err = c.Index("Z")
	require.ErrorIs(t, err, ErrNotFound)

	j, err := c.DateIndex(dates[2])
	require.NoError(t, err)
	require.Equal(t, 2, j)
	_, err = c.DateIndex(asof)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SetByID(c, 4.5, "Y", dates[1], 1, 0))
	v, err := GetByID(c, "Y", dates[1], 1, 0)
	require.NoError(t, err)
	require.Equal(t, 4.5, v)
	require.Equal(t, 4.5, c.Get(1, 1, 1, 0))
}

func TestSinglePrecisionCube(t *testing.T) {
	c, err := NewSinglePrecision(asof, []string{"A"}, testDates(1), 1, 1)
	require.NoError(t, err)
	require.NoError(t, c.Set(1.0/3.0, 0, 0, 0, 0))
	require.InDelta(t, 1.0/3.0, c.Get(0, 0, 0, 0), 1e-7)
	require.NotEqual(t, 1.0/3.0, c.Get(0, 0, 0, 0))
}

func TestJointCube(t *testing.T) {
	dates := testDates(2)
	a, err := New(asof, []string{"A1", "A2"}, dates, 2, 1)
	require.NoError(t, err)
	b, err := New(asof, []string{"B1"}, dates, 2, 1)
	require.NoError(t, err)
	require.NoError(t, a.Set(1, 1, 0, 1, 0))
	require.NoError(t, b.Set(2, 0, 1, 0, 0))

	j, err := NewJointCube(a, nil, b)
	require.NoError(t, err)
	require.Equal(t, []string{"A1", "A2", "B1"}, j.IDs())
	require.Equal(t, 1.0, j.Get(1, 0, 1, 0))
	require.Equal(t, 2.0, j.Get(2, 1, 0, 0))

	require.NoError(t, j.Set(3, 2, 0, 0, 0))
	require.Equal(t, 3.0, b.Get(0, 0, 0, 0))
	require.ErrorIs(t, j.Set(9, 2, 0, 0, 0), ErrAlreadySet)

	idx, err := j.Index("B1")
	require.NoError(t, err)
	require.Equal(t, 2, idx)

	j.Remove(2)
	require.Equal(t, 0.0, b.Get(0, 1, 0, 0))

	dup, err := New(asof, []string{"A1"}, dates, 2, 1)
	require.NoError(t, err)
	_, err = NewJointCube(a, dup)
	require.Error(t, err)

	other, err := New(asof, []string{"C"}, testDates(3), 2, 1)
	require.NoError(t, err)
	_, err = NewJointCube(a, other)
	require.Error(t, err)
	_, err = NewJointCube()
	require.Error(t, err)
}

func TestCSVRoundTrip(t *testing.T) {
	dates := testDates(3)
	ids := make([]string, 4)
	netting := map[string]string{}
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", util.RandomTradeID(), i)
		netting[ids[i]] = fmt.Sprintf("NS%d", i%2)
	}
	c, err := New(asof, ids, dates, 3, 2)
	require.NoError(t, err)
	for i := range ids {
		for d := 0; d < 2; d++ {
			require.NoError(t, c.SetT0(util.RandomFloat(-100, 100), i, d))
			for j := range dates {
				for s := 0; s < 3; s++ {
					require.NoError(t, c.Set(util.RandomFloat(-1e6, 1e6), i, j, s, d))
				}
			}
		}
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, c, netting))

	got, gotNetting, err := ReadCSV(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, netting, gotNetting)
	require.True(t, asof.Equal(got.Asof()))
	require.Equal(t, 3, got.Samples())
	require.Equal(t, 2, got.Depth())
	require.Equal(t, len(dates), got.NumDates())

	for _, id := range ids {
		i, _ := c.Index(id)
		k, err := got.Index(id)
		require.NoError(t, err)
		for d := 0; d < 2; d++ {
			require.Equal(t, c.GetT0(i, d), got.GetT0(k, d))
			for j := range dates {
				for s := 0; s < 3; s++ {
					require.Equal(t, c.Get(i, j, s, d), got.Get(k, j, s, d))
				}
			}
		}
	}
}

func TestReadCSVSeparatorsAndComments(t *testing.T) {
	input := strings.Join([]string{
		"#Id,NettingSet,DateIndex,Date,Sample,Depth,Value",
		"# a comment",
		"",
		"T1;NS;0;2024-03-01;0;0;10",
		"T1\tNS\t1\t2024-04-01\t1\t0\t11",
		"T1,NS,1,2024-04-01,2,0,12",
		"T1,NS,2,2024-05-01,1,0,13",
	}, "\n")
	c, netting, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"T1": "NS"}, netting)
	require.Equal(t, 2, c.Samples())
	require.Equal(t, 10.0, c.GetT0(0, 0))
	require.Equal(t, 12.0, c.Get(0, 0, 1, 0))
	require.Equal(t, 13.0, c.Get(0, 1, 0, 0))
	// never written
	require.Equal(t, 0.0, c.Get(0, 1, 1, 0))
}

func TestReadCSVErrors(t *testing.T) {
	testCases := []struct {
		name  string
		lines []string
	}{
		{"token count", []string{"T1,NS,0,2024-03-01,0,0"}},
		{"bad value", []string{"T1,NS,0,2024-03-01,0,0,x"}},
		{"zero sample", []string{"T1,NS,0,2024-03-01,0,0,1", "T1,NS,1,2024-04-01,0,0,1"}},
		{"netting set conflict", []string{"T1,NS,0,2024-03-01,0,0,1", "T1,OTHER,1,2024-04-01,1,0,1"}},
		{"dates decreasing", []string{"T1,NS,0,2024-03-01,0,0,1", "T1,NS,1,2024-05-01,1,0,1", "T1,NS,2,2024-04-01,1,0,1"}},
		{"date index conflict", []string{"T1,NS,0,2024-03-01,0,0,1", "T1,NS,1,2024-04-01,1,0,1", "T1,NS,1,2024-04-02,2,0,1"}},
		{"no T0", []string{"T1,NS,1,2024-04-01,1,0,1"}},
		{"date on T0", []string{"T1,NS,0,2024-03-01,0,0,1", "T1,NS,1,2024-03-01,1,0,1"}},
		{"duplicate cell", []string{"T1,NS,0,2024-03-01,0,0,1", "T1,NS,1,2024-04-01,1,0,1", "T1,NS,1,2024-04-01,1,0,2"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ReadCSV(strings.NewReader(strings.Join(tc.lines, "\n")))
			require.Error(t, err)
		})
	}
}

func TestCSVFile(t *testing.T) {
	c, err := New(asof, []string{"A"}, testDates(1), 1, 1)
	require.NoError(t, err)
	require.NoError(t, c.Set(2.5, 0, 0, 0, 0))
	path := t.TempDir() + "/cube.csv"
	require.NoError(t, WriteCSVFile(path, c, nil))
	got, netting, err := ReadCSVFile(path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"A": ""}, netting)
	require.Equal(t, 2.5, got.Get(0, 0, 0, 0))
}
