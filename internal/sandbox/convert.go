package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Shopify/go-lua"
)

// maxNesting bounds how deep tables may nest when crossing the host boundary
const maxNesting = 64

var (
	errTooDeep     = fmt.Errorf("value nested deeper than %d levels", maxNesting)
	errCyclicTable = errors.New("cyclic table")
	errStackFull   = errors.New("interpreter stack exhausted")
)

// pushValue pushes a Go value decoded from JSON (or built from Go literals) onto the stack
func pushValue(l *lua.State, v any) error {
	return pushNested(l, v, 0)
}

func pushNested(l *lua.State, v any, depth int) error {
	if depth > maxNesting {
		return errTooDeep
	}
	if !l.CheckStack(3) {
		return errStackFull
	}

	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case string:
		l.PushString(val)
	case int:
		l.PushInteger(val)
	case int32:
		l.PushInteger(int(val))
	case int64:
		l.PushInteger(int(val))
	case float32:
		l.PushNumber(float64(val))
	case float64:
		l.PushNumber(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			l.PushInteger(int(i))
		} else if f, err := val.Float64(); err == nil {
			l.PushNumber(f)
		} else {
			l.PushString(val.String())
		}
	case []any:
		l.CreateTable(len(val), 0)
		for i, item := range val {
			if err := pushNested(l, item, depth+1); err != nil {
				return err
			}
			l.RawSetInt(-2, i+1)
		}
	case []string:
		l.CreateTable(len(val), 0)
		for i, item := range val {
			l.PushString(item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.CreateTable(0, len(val))
		for _, k := range sortedKeys(val) {
			if err := pushNested(l, val[k], depth+1); err != nil {
				return err
			}
			l.SetField(-2, k)
		}
	case map[string]string:
		l.CreateTable(0, len(val))
		for k, item := range val {
			l.PushString(item)
			l.SetField(-2, k)
		}
	default:
		// Structs and other shapes go through their JSON form
		raw, err := json.Marshal(val)
		if err != nil {
			l.PushString(fmt.Sprint(val))
			return nil
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			l.PushString(string(raw))
			return nil
		}
		return pushNested(l, decoded, depth)
	}
	return nil
}

// toGo converts the value at index. Tables with keys 1..n become []any,
// other tables map[string]any; integral numbers become int64.
// Shared subtables are fine; a table that contains itself is an error.
func toGo(l *lua.State, index int) (any, error) {
	c := converter{l: l, active: make(map[any]bool)}
	return c.value(index, 0)
}

type converter struct {
	l      *lua.State
	active map[any]bool
}

func (c *converter) value(index, depth int) (any, error) {
	l := c.l
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return nil, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return normalizeNumber(n), nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeTable:
		return c.table(index, depth)
	default:
		return fmt.Sprintf("<%s>", lua.TypeNameOf(l, index)), nil
	}
}

func (c *converter) table(index, depth int) (any, error) {
	l := c.l
	if depth >= maxNesting {
		return nil, errTooDeep
	}
	if !l.CheckStack(3) {
		return nil, errStackFull
	}
	index = l.AbsIndex(index)

	id := l.ToValue(index)
	if c.active[id] {
		return nil, errCyclicTable
	}
	c.active[id] = true
	defer delete(c.active, id)

	isArray := true
	maxIndex, count := 0, 0
	l.PushNil()
	for l.Next(index) {
		count++
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if n, _ := l.ToNumber(-2); n >= 1 && n == math.Trunc(n) {
				if int(n) > maxIndex {
					maxIndex = int(n)
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		out := make([]any, 0, count)
		for i := 1; i <= count; i++ {
			l.RawGetInt(index, i)
			item, err := c.value(-1, depth+1)
			l.Pop(1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}

	out := make(map[string]any, count)
	l.PushNil()
	for l.Next(index) {
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			// ToString would convert the key in place and break Next
			n, _ := l.ToNumber(-2)
			key = fmt.Sprint(normalizeNumber(n))
		default:
			l.Pop(1)
			continue
		}
		item, err := c.value(-1, depth+1)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		out[key] = item
		l.Pop(1)
	}
	return out, nil
}

// checkGo converts the value at index or raises a Lua error naming fn
func checkGo(l *lua.State, index int, fn string) any {
	v, err := toGo(l, index)
	if err != nil {
		lua.Errorf(l, "%s: %s", fn, err.Error())
	}
	return v
}

// mustPush pushes v or raises a Lua error naming fn
func mustPush(l *lua.State, v any, fn string) {
	if err := pushValue(l, v); err != nil {
		lua.Errorf(l, "%s: %s", fn, err.Error())
	}
}

func normalizeNumber(n float64) any {
	if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 && !math.IsInf(n, 0) {
		return int64(n)
	}
	return n
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
