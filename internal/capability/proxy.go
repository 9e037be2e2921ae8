// Package capability builds read-only attribute snapshots ("proxies") of host
// objects so that sandboxed scripts only see an allowed subset of them.
package capability

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrNoAttribute is returned when a name is not exposed by a proxy.
	ErrNoAttribute = errors.New("no such attribute")
	// ErrNotCallable is returned by Call for attributes that are not functions.
	ErrNotCallable = errors.New("attribute is not callable")
	// ErrMethod is returned by Get for function attributes; use Call.
	ErrMethod = errors.New("attribute is a method")
)

// Predicate decides, for one attribute, whether it matches a policy.
type Predicate func(name string, value any) bool

// Never matches nothing. It is the default for both predicates.
func Never(string, any) bool { return false }

// Proxy is a shallow snapshot of the exposed attributes of one object.
type Proxy struct {
	typeName string
	attrs    map[string]any
	exclude  Predicate
	include  Predicate
	lease    *Lease
}

// New snapshots o. An attribute is exposed when include matches it, or when
// it is neither excluded nor private. Nil predicates match nothing.
func New(o any, exclude, include Predicate) *Proxy {
	return newProxy(o, exclude, include, nil)
}

func newProxy(o any, exclude, include Predicate, lease *Lease) *Proxy {
	if exclude == nil {
		exclude = Never
	}
	if include == nil {
		include = Never
	}
	p := &Proxy{
		attrs:   make(map[string]any),
		exclude: exclude,
		include: include,
		lease:   lease,
	}
	if o == nil {
		p.typeName = "nil"
		return p
	}
	p.typeName = reflect.TypeOf(o).String()

	attrs, keyed := attributes(o)
	for name, v := range attrs {
		if p.allowed(name, v, keyed) {
			p.attrs[name] = v
		}
	}
	return p
}

func (p *Proxy) allowed(name string, v any, keyed bool) bool {
	if p.include(name, v) {
		return true
	}
	if _, ok := v.(*Proxy); ok {
		return true
	}
	return !p.exclude(name, v) && !private(name, keyed)
}

// private reports whether a name is hidden by convention. Map keys are data
// rather than identifiers, so only the underscore rule applies to them.
func private(name string, keyed bool) bool {
	if name == "" || strings.HasPrefix(name, "_") {
		return true
	}
	if keyed {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name)
	return !unicode.IsUpper(r)
}

// attributes lists the candidate attributes of o before filtering. keyed is
// true when they came from a string-keyed map.
func attributes(o any) (out map[string]any, keyed bool) {
	out = make(map[string]any)
	v := reflect.ValueOf(o)

	if v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String {
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}

	// Methods first: a pointer receiver sees both value and pointer methods.
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		out[m.Name] = v.Method(i).Interface()
	}

	sv := v
	for sv.Kind() == reflect.Pointer {
		if sv.IsNil() {
			return out, false
		}
		sv = sv.Elem()
	}
	if sv.Kind() != reflect.Struct {
		return out, false
	}
	// VisibleFields includes fields promoted from embedded structs.
	for _, f := range reflect.VisibleFields(sv.Type()) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		if _, dup := out[f.Name]; dup {
			continue
		}
		fv, err := sv.FieldByIndexErr(f.Index)
		if err != nil {
			continue
		}
		out[f.Name] = fv.Interface()
	}
	return out, false
}

// TypeName returns the Go type of the wrapped object.
func (p *Proxy) TypeName() string { return p.typeName }

// Names returns the exposed attribute names, sorted.
func (p *Proxy) Names() []string {
	names := make([]string, 0, len(p.attrs))
	for n := range p.attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is exposed.
func (p *Proxy) Has(name string) bool {
	_, ok := p.attrs[name]
	return ok
}

// Get returns an exposed attribute. Composite values (structs, pointers to
// structs, string-keyed maps) are wrapped with the same policy. Methods are
// only reachable through Call.
func (p *Proxy) Get(name string) (any, error) {
	release, err := p.lease.hold()
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s", err, p.typeName, name)
	}
	defer release()

	v, ok := p.attrs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoAttribute, p.typeName, name)
	}
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethod, p.typeName, name)
	}
	return p.Attenuate(v), nil
}

// Attenuate wraps composite values in a proxy sharing p's predicates and
// lease. Slices of objects become []any of attenuated elements. Scalars,
// functions and existing proxies pass through unchanged.
func (p *Proxy) Attenuate(v any) any {
	return attenuate(v, p.exclude, p.include, p.lease)
}

// Attenuate wraps v when it is composite; see Proxy.Attenuate.
func Attenuate(v any, exclude, include Predicate) any {
	return attenuate(v, exclude, include, nil)
}

func attenuate(v any, exclude, include Predicate, lease *Lease) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(*Proxy); ok {
		return v
	}
	rv := reflect.ValueOf(v)
	if isComposite(rv) {
		return newProxy(v, exclude, include, lease)
	}
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && holdsObjects(rv.Type().Elem()) {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = attenuate(rv.Index(i).Interface(), exclude, include, lease)
		}
		return out
	}
	return v
}

func holdsObjects(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct, reflect.Pointer, reflect.Map, reflect.Interface, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

func isComposite(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Struct:
		return true
	case reflect.Map:
		return v.Type().Key().Kind() == reflect.String
	case reflect.Pointer:
		return !v.IsNil() && (v.Elem().Kind() == reflect.Struct || v.Type().NumMethod() > 0)
	case reflect.Interface:
		return !v.IsNil() && isComposite(v.Elem())
	}
	return false
}

// GetString returns a string attribute.
func (p *Proxy) GetString(name string) (string, error) {
	v, err := p.Get(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s.%s is %T, not string", p.typeName, name, v)
	}
	return s, nil
}

// GetInt returns an integer attribute.
func (p *Proxy) GetInt(name string) (int, error) {
	v, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), nil
	}
	return 0, fmt.Errorf("%s.%s is %T, not int", p.typeName, name, v)
}

// GetBool returns a boolean attribute.
func (p *Proxy) GetBool(name string) (bool, error) {
	v, err := p.Get(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s.%s is %T, not bool", p.typeName, name, v)
	}
	return b, nil
}

// GetProxy returns a composite attribute as a proxy.
func (p *Proxy) GetProxy(name string) (*Proxy, error) {
	v, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	sub, ok := v.(*Proxy)
	if !ok {
		return nil, fmt.Errorf("%s.%s is %T, not an object", p.typeName, name, v)
	}
	return sub, nil
}

// Call invokes an exposed function attribute. A trailing error result is
// returned as the error; a single remaining result is returned attenuated,
// several are returned as an attenuated []any.
func (p *Proxy) Call(name string, args ...any) (result any, err error) {
	release, err := p.lease.hold()
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s", err, p.typeName, name)
	}
	defer release()

	v, ok := p.attrs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoAttribute, p.typeName, name)
	}
	fn := reflect.ValueOf(v)
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotCallable, p.typeName, name)
	}

	in, err := convertArgs(fn.Type(), args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", p.typeName, name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%s.%s panicked: %v", p.typeName, name, r)
		}
	}()

	return p.results(fn.Call(in))
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func (p *Proxy) results(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if e := out[n-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return p.Attenuate(out[0].Interface()), nil
	}
	vals := make([]any, len(out))
	for i, o := range out {
		vals[i] = p.Attenuate(o.Interface())
	}
	return vals, nil
}

func convertArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	nin := ft.NumIn()
	variadic := ft.IsVariadic()
	if (!variadic && len(args) != nin) || (variadic && len(args) < nin-1) {
		return nil, fmt.Errorf("want %d arguments, got %d", nin, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var want reflect.Type
		if variadic && i >= nin-1 {
			want = ft.In(nin - 1).Elem()
		} else {
			want = ft.In(i)
		}
		if a == nil {
			switch want.Kind() {
			case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
				in[i] = reflect.Zero(want)
				continue
			}
			return nil, fmt.Errorf("argument %d: nil for %s", i, want)
		}
		av := reflect.ValueOf(a)
		switch {
		case av.Type().AssignableTo(want):
			in[i] = av
		case av.Type().ConvertibleTo(want) && isNumeric(av.Kind()) && isNumeric(want.Kind()):
			in[i] = av.Convert(want)
		default:
			return nil, fmt.Errorf("argument %d: cannot use %T as %s", i, a, want)
		}
	}
	return in, nil
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

var (
	closerType = reflect.TypeOf((*io.Closer)(nil)).Elem()
	fsType     = reflect.TypeOf((*fs.FS)(nil)).Elem()
	fileType   = reflect.TypeOf((*os.File)(nil))
	dbType     = reflect.TypeOf((*sql.DB)(nil))
)

// IsResourceHandle reports whether v is (or returns) a handle onto the host's
// file system, database or another closable resource.
func IsResourceHandle(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	if isHandleType(t) {
		return true
	}
	if t.Kind() == reflect.Func {
		for i := 0; i < t.NumOut(); i++ {
			if isHandleType(t.Out(i)) {
				return true
			}
		}
	}
	return false
}

func isHandleType(t reflect.Type) bool {
	if t == fileType || t == dbType {
		return true
	}
	if t.Kind() == reflect.Interface {
		return t == closerType || t == fsType || t.Implements(closerType) || t.Implements(fsType)
	}
	return t.Implements(closerType) || t.Implements(fsType)
}
