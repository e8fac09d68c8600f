package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type particles struct {
	Pos    []float32 `kernel:"pos"`
	Vel    []float32
	Field  *mat.Dense `kernel:"field"`
	Dt     float32    `kernel:"dt"`
	Hidden int        `kernel:"-"`
	secret int
}

func TestLookup(t *testing.T) {
	p := &particles{Pos: []float32{1}, Vel: []float32{2}, Field: mat.NewDense(1, 1, nil), Dt: 0.1}

	v, err := Value(p, "dt")
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), v)

	v, err = Value(p, "Vel")
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, v)

	addr, err := Addr(p, "pos")
	require.NoError(t, err)
	pos := addr.([]float32)
	assert.Same(t, &p.Pos[0], &pos[0], "slice fields yield the slice itself")

	addr, err = Addr(p, "dt")
	require.NoError(t, err)
	assert.Same(t, &p.Dt, addr.(*float32))

	addr, err = Addr(p, "field")
	require.NoError(t, err)
	assert.Same(t, p.Field, addr.(*mat.Dense))

	_, err = Value(p, "secret")
	assert.ErrorIs(t, err, ErrNoField)
	_, err = Value(*p, "dt")
	assert.Error(t, err)

	assert.Equal(t, []string{"pos", "Vel", "field", "dt"}, Names(p))
}

func TestSet(t *testing.T) {
	p := &particles{}
	require.NoError(t, Set(p, "dt", 0.5))
	assert.Equal(t, float32(0.5), p.Dt)
	assert.Error(t, Set(p, "Vel", "x"))
}

var gravity = 9.81

func TestStatic(t *testing.T) {
	RegisterStatic("gravity", &gravity)
	v, err := Static("gravity")
	require.NoError(t, err)
	assert.Equal(t, 9.81, v)

	gravity = 1.62
	v, err = Static("gravity")
	require.NoError(t, err)
	assert.Equal(t, 1.62, v)

	_, err = Static("none")
	assert.ErrorIs(t, err, ErrNoField)
	assert.Panics(t, func() { RegisterStatic("bad", gravity) })
}
