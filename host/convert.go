package host

import (
	"reflect"
	"unsafe"

	"github.com/notargets/devsync/device"
	"github.com/x448/float16"
)

func view[T any](b []byte) []T {
	var zero T
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/int(unsafe.Sizeof(zero)))
}

func asFloat(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
	}
	return 0
}

func setFloat(v reflect.Value, f float64) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		v.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(uint64(f))
	case reflect.Bool:
		v.SetBool(f != 0)
	}
}

// encode writes the elements of src into dst as dt
func encode(dst []byte, dt device.DataType, src reflect.Value) {
	n := src.Len()
	switch dt {
	case device.Float16:
		out := view[uint16](dst)
		for i := 0; i < n; i++ {
			out[i] = float16.Fromfloat32(float32(asFloat(src.Index(i)))).Bits()
		}
	case device.Float32:
		out := view[float32](dst)
		for i := 0; i < n; i++ {
			out[i] = float32(asFloat(src.Index(i)))
		}
	case device.Float64:
		out := view[float64](dst)
		for i := 0; i < n; i++ {
			out[i] = asFloat(src.Index(i))
		}
	case device.INT8:
		out := view[int8](dst)
		for i := 0; i < n; i++ {
			out[i] = int8(asFloat(src.Index(i)))
		}
	case device.UINT8:
		for i := 0; i < n; i++ {
			dst[i] = uint8(asFloat(src.Index(i)))
		}
	case device.INT16:
		out := view[int16](dst)
		for i := 0; i < n; i++ {
			out[i] = int16(asFloat(src.Index(i)))
		}
	case device.INT32:
		out := view[int32](dst)
		for i := 0; i < n; i++ {
			out[i] = int32(asFloat(src.Index(i)))
		}
	case device.INT64:
		out := view[int64](dst)
		for i := 0; i < n; i++ {
			out[i] = int64(asFloat(src.Index(i)))
		}
	}
}

// decode reads dt elements from src into dst
func decode(src []byte, dt device.DataType, dst reflect.Value) {
	n := dst.Len()
	switch dt {
	case device.Float16:
		in := view[uint16](src)
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), float64(float16.Frombits(in[i]).Float32()))
		}
	case device.Float32:
		in := view[float32](src)
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), float64(in[i]))
		}
	case device.Float64:
		in := view[float64](src)
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), in[i])
		}
	case device.INT8:
		in := view[int8](src)
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), float64(in[i]))
		}
	case device.UINT8:
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), float64(src[i]))
		}
	case device.INT16:
		in := view[int16](src)
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), float64(in[i]))
		}
	case device.INT32:
		in := view[int32](src)
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), float64(in[i]))
		}
	case device.INT64:
		in := view[int64](src)
		for i := 0; i < n; i++ {
			setFloat(dst.Index(i), float64(in[i]))
		}
	}
}
