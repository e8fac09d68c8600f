package host

import (
	"testing"
	"unsafe"

	"github.com/notargets/devsync/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestIdentity(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2, 3}

	ida, err := IdentityOf(a)
	require.NoError(t, err)
	idb, err := IdentityOf(b)
	require.NoError(t, err)
	assert.NotEqual(t, ida, idb, "equal contents must not share identity")

	again, err := IdentityOf(a)
	require.NoError(t, err)
	assert.Equal(t, ida, again)
	assert.Equal(t, 3, ida.Len)

	head, err := IdentityOf(a[:2])
	require.NoError(t, err)
	assert.Equal(t, ida.Addr, head.Addr)
	assert.NotEqual(t, ida, head, "a shorter view of the same array is another object")

	// the slice header location identifies *[]T, so reassigning the
	// contents keeps the identity
	holder := &a
	idp, err := IdentityOf(holder)
	require.NoError(t, err)
	*holder = append(*holder, 4)
	idp2, err := IdentityOf(holder)
	require.NoError(t, err)
	assert.Equal(t, idp, idp2)

	for _, bad := range []interface{}{nil, []float32{}, 3.0, (*mat.Dense)(nil)} {
		_, err := IdentityOf(bad)
		assert.ErrorIs(t, err, ErrNotAddressable, "%T", bad)
	}
}

func TestPinDirect(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	p, err := Heap{}.Pin(data, 0)
	require.NoError(t, err)
	assert.False(t, p.IsCopy)
	assert.Equal(t, unsafe.Pointer(&data[0]), p.Addr)
	assert.Equal(t, 16, p.Size)
	assert.Equal(t, device.Float32, p.Type)
	assert.Equal(t, []int{4}, p.Dims)
	assert.Equal(t, int64(1), PinsAlive())
	p.Unpin(true)
	p.Unpin(true)
	assert.Equal(t, int64(0), PinsAlive())
}

func TestPinConvertFloat16(t *testing.T) {
	data := []float32{0.5, 1.5, -2}
	p, err := Heap{}.Pin(data, device.Float16)
	require.NoError(t, err)
	assert.True(t, p.IsCopy)
	assert.Equal(t, 6, p.Size)

	// simulated device writes 1, 2, 3
	half := view[uint16](p.Bytes())
	copy(half, []uint16{0x3c00, 0x4000, 0x4200}) // 1, 2, 3
	p.Unpin(false)
	assert.Equal(t, []float32{0.5, 1.5, -2}, data, "abort leaves host untouched")

	p, err = Heap{}.Pin(data, device.Float16)
	require.NoError(t, err)
	copy(view[uint16](p.Bytes()), []uint16{0x3c00, 0x4000, 0x4200})
	p.Unpin(true)
	assert.Equal(t, []float32{1, 2, 3}, data)
}

func TestPinNested(t *testing.T) {
	grid := [][]int32{{1, 2, 3}, {4, 5, 6}}
	p, err := Heap{}.Pin(grid, 0)
	require.NoError(t, err)
	assert.True(t, p.IsCopy)
	assert.Equal(t, []int{2, 3}, p.Dims)
	flat := view[int32](p.Bytes())
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, flat)
	flat[4] = 50
	p.Unpin(true)
	assert.Equal(t, int32(50), grid[1][1])

	_, err = Heap{}.Pin([][]int32{{1}, {2, 3}}, 0)
	assert.Error(t, err)
}

func TestPinDense(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	p, err := Heap{}.Pin(m, 0)
	require.NoError(t, err)
	assert.False(t, p.IsCopy)
	assert.Equal(t, []int{2, 2}, p.Dims)
	p.Unpin(false)

	big := mat.NewDense(3, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	sub := big.Slice(0, 2, 1, 3).(*mat.Dense)
	p, err = Heap{}.Pin(sub, device.Float32)
	require.NoError(t, err)
	assert.True(t, p.IsCopy)
	f := view[float32](p.Bytes())
	assert.Equal(t, []float32{2, 3, 5, 6}, f)
	f[0] = 20
	p.Unpin(true)
	assert.Equal(t, 20.0, big.At(0, 1))
	assert.Equal(t, 4.0, big.At(1, 0))
}

func TestCopyingPinner(t *testing.T) {
	data := []int64{7, 8}
	p, err := Copying{}.Pin(&data, 0)
	require.NoError(t, err)
	assert.True(t, p.IsCopy)
	assert.NotEqual(t, unsafe.Pointer(&data[0]), p.Addr)
	view[int64](p.Bytes())[0] = 70
	p.Unpin(true)
	assert.Equal(t, int64(70), data[0])
}

func TestPinScalarPointerAndArray(t *testing.T) {
	x := 2.5
	p, err := Heap{}.Pin(&x, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Size)
	p.Unpin(false)

	arr := [4]uint8{1, 2, 3, 4}
	p, err = Heap{}.Pin(&arr, 0)
	require.NoError(t, err)
	assert.Equal(t, device.UINT8, p.Type)
	assert.Equal(t, unsafe.Pointer(&arr[0]), p.Addr)
	p.Unpin(false)

	_, err = Heap{}.Pin([]string{"a"}, 0)
	assert.Error(t, err)
}

func TestShape(t *testing.T) {
	dims, err := Shape([][]int32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, dims)

	dims, err = Shape(mat.NewDense(4, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, dims)

	v := []float64{1, 2, 3}
	dims, err = Shape(&v)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, dims)

	_, err = Shape([]float64{})
	assert.ErrorIs(t, err, ErrNotAddressable)
}
