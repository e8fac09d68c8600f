package device

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeClamp(t *testing.T) {
	tests := []struct {
		name       string
		in         Range
		maxGroup   int
		wantGlobal [3]int
		wantLocal  [3]int
	}{
		{"exact fit", NewRange(1024), 256, [3]int{1024, 1, 1}, [3]int{256, 1, 1}},
		{"round up", NewRange(1000), 256, [3]int{1024, 1, 1}, [3]int{256, 1, 1}},
		{"small global", NewRange(5), 256, [3]int{8, 1, 1}, [3]int{4, 1, 1}},
		{"explicit local too big", NewRange(100).WithLocal(512), 128, [3]int{128, 1, 1}, [3]int{128, 1, 1}},
		{"explicit local kept", NewRange(100).WithLocal(32), 256, [3]int{128, 1, 1}, [3]int{32, 1, 1}},
		{"2d halves largest", NewRange2D(100, 100), 256, [3]int{112, 112, 1}, [3]int{16, 16, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp(tt.maxGroup)
			assert.Equal(t, tt.wantGlobal, got.Global)
			assert.Equal(t, tt.wantLocal, got.Local)
			assert.LessOrEqual(t, got.GroupSize(), tt.maxGroup)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestRangeValidate(t *testing.T) {
	err := NewRange(100).WithLocal(30).Validate()
	require.Error(t, err)
	assert.Equal(t, InvalidWorkGroupSize, StatusOf(err))

	err = Range{Dims: 4}.Validate()
	assert.Equal(t, InvalidValue, StatusOf(err))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, Success, StatusOf(nil))

	err := errors.Wrap(Fail(OutOfResources, "enqueue write"), "arg a")
	assert.Equal(t, OutOfResources, StatusOf(err))
	assert.True(t, IsStatus(err, OutOfResources))
	assert.Contains(t, err.Error(), "CL_OUT_OF_RESOURCES")
	assert.Contains(t, err.Error(), "enqueue write")

	assert.Equal(t, InvalidOperation, StatusOf(errors.New("plain")))
	assert.Equal(t, "CL_STATUS(-999)", Status(-999).String())
}

func TestDataType(t *testing.T) {
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, INT64.Size())
	assert.Equal(t, 2, Float16.Size())
	assert.Equal(t, "double", Float64.String())
	assert.Equal(t, "RW|HOST", (MemReadWrite | MemUseHostPtr).String())
}
