// Package field reads and writes named fields of host objects. A field
// matches by Go name or by its `kernel:"name"` tag.
package field

import (
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoField is returned when a host object has no field with the given name
var ErrNoField = errors.New("no such field")

func lookup(obj interface{}, name string) (reflect.Value, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, errors.Errorf("field %q: host object must be a non-nil struct pointer, got %T", name, obj)
	}
	sv := rv.Elem()
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("kernel"), ",")
		if f.Name == name || tag == name {
			return sv.Field(i), nil
		}
	}
	return reflect.Value{}, errors.Wrapf(ErrNoField, "%q in %v", name, st)
}

// Addr returns the host object held by the named field. Slice and pointer
// fields are returned as they are, so a []float32 field yields the slice
// (identified by its backing array) and a *mat.Dense field the matrix
// itself. Other fields yield a pointer to the field.
func Addr(obj interface{}, name string) (interface{}, error) {
	fv, err := lookup(obj, name)
	if err != nil {
		return nil, err
	}
	switch fv.Kind() {
	case reflect.Slice:
		return fv.Interface(), nil
	case reflect.Ptr:
		if fv.IsNil() {
			return nil, errors.Errorf("field %q is nil", name)
		}
		return fv.Interface(), nil
	}
	return fv.Addr().Interface(), nil
}

// Value returns the current value of the named field
func Value(obj interface{}, name string) (interface{}, error) {
	fv, err := lookup(obj, name)
	if err != nil {
		return nil, err
	}
	return fv.Interface(), nil
}

// Set assigns value to the named field
func Set(obj interface{}, name string, value interface{}) error {
	fv, err := lookup(obj, name)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(value)
	if !v.IsValid() || !v.Type().AssignableTo(fv.Type()) {
		if v.IsValid() && v.Type().ConvertibleTo(fv.Type()) {
			v = v.Convert(fv.Type())
		} else {
			return errors.Errorf("field %q: cannot assign %T to %v", name, value, fv.Type())
		}
	}
	fv.Set(v)
	return nil
}

// Names lists the bindable field names of obj, tag names preferred
func Names(obj interface{}) []string {
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	var names []string
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Type().Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("kernel"), ","); tag != "" && tag != "-" {
			names = append(names, tag)
		} else if tag != "-" {
			names = append(names, f.Name)
		}
	}
	return names
}

var (
	staticsMu sync.RWMutex
	statics   = make(map[string]interface{})
)

// RegisterStatic makes a package-level variable readable as a static kernel
// argument. ptr must point at the variable.
func RegisterStatic(name string, ptr interface{}) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		panic("field: RegisterStatic needs a non-nil pointer for " + name)
	}
	staticsMu.Lock()
	defer staticsMu.Unlock()
	statics[name] = ptr
}

// Static returns the current value of a registered static
func Static(name string) (interface{}, error) {
	staticsMu.RLock()
	ptr, ok := statics[name]
	staticsMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNoField, "static %q not registered", name)
	}
	return reflect.ValueOf(ptr).Elem().Interface(), nil
}

// StaticAddr returns the registered pointer of a static
func StaticAddr(name string) (interface{}, error) {
	staticsMu.RLock()
	defer staticsMu.RUnlock()
	ptr, ok := statics[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoField, "static %q not registered", name)
	}
	return ptr, nil
}
