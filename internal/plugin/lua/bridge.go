package lua

import (
	"math"
	"reflect"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua.
//
// Go maps with string keys become tables, slices become 1-based arrays.
// Lua numbers come back as int64 when they hold an integer and float64
// otherwise. Functions and userdata without a Go value convert to nil.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a Bridge for L.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToLuaValue converts a Go value to a Lua value.
//
// A map or slice reached twice converts to the same table, so self
// referencing payloads become cyclic tables instead of recursing forever.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	return b.toLua(v, make(map[seenKey]*lua.LTable))
}

// seenKey identifies a Go map or slice by its backing storage.
type seenKey struct {
	kind reflect.Kind
	ptr  uintptr
	n    int
}

func (b *Bridge) toLua(v any, seen map[seenKey]*lua.LTable) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	}
	return b.reflectToLua(reflect.ValueOf(v), seen)
}

// reflectToLua handles maps, slices and the remaining numeric kinds.
func (b *Bridge) reflectToLua(rv reflect.Value, seen map[seenKey]*lua.LTable) lua.LValue {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.toLua(rv.Elem().Interface(), seen)
	case reflect.Slice:
		if rv.IsNil() {
			return lua.LNil
		}
		t := b.L.CreateTable(rv.Len(), 0)
		// Empty slices can share storage without sharing identity.
		if rv.Len() > 0 {
			key := seenKey{kind: reflect.Slice, ptr: rv.Pointer(), n: rv.Len()}
			if prev, ok := seen[key]; ok {
				return prev
			}
			seen[key] = t
		}
		b.fillArray(t, rv, seen)
		return t
	case reflect.Array:
		t := b.L.CreateTable(rv.Len(), 0)
		b.fillArray(t, rv, seen)
		return t
	case reflect.Map:
		if rv.IsNil() {
			return lua.LNil
		}
		key := seenKey{kind: reflect.Map, ptr: rv.Pointer()}
		if t, ok := seen[key]; ok {
			return t
		}
		t := b.L.CreateTable(0, rv.Len())
		seen[key] = t
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(b.toLua(iter.Key().Interface(), seen), b.toLua(iter.Value().Interface(), seen))
		}
		return t
	case reflect.Invalid:
		return lua.LNil
	}

	ud := b.L.NewUserData()
	ud.Value = rv.Interface()
	return ud
}

func (b *Bridge) fillArray(t *lua.LTable, rv reflect.Value, seen map[seenKey]*lua.LTable) {
	for i := 0; i < rv.Len(); i++ {
		t.RawSetInt(i+1, b.toLua(rv.Index(i).Interface(), seen))
	}
}

// ToGoValue converts a Lua value to a Go value.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGo(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGo(lv lua.LValue, visiting map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		// Cycles convert to nil at the point they close
		if visiting[v] {
			return nil
		}
		visiting[v] = true
		defer delete(visiting, v)
		return b.tableToGo(v, visiting)
	case *lua.LUserData:
		return v.Value
	}
	return nil
}

// tableToGo returns a []any for a table with keys 1..n and a map otherwise.
// An empty table becomes an empty map.
func (b *Bridge) tableToGo(t *lua.LTable, visiting map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = b.toGo(t.RawGetInt(i), visiting)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[tableKey(k)] = b.toGo(v, visiting)
	})
	return m
}

func tableKey(k lua.LValue) string {
	if n, ok := k.(lua.LNumber); ok {
		f := float64(n)
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return k.String()
}

// ToMap converts a Lua table to a map. It returns false when lv is not a
// table or holds a non-empty array.
func (b *Bridge) ToMap(lv lua.LValue) (map[string]any, bool) {
	t, ok := lv.(*lua.LTable)
	if !ok {
		return nil, false
	}
	m, ok := b.ToGoValue(t).(map[string]any)
	return m, ok
}
