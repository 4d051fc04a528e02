package script

import (
	"encoding/json"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

// ToGoValue converts a Lua value to a Go value. Tables with contiguous
// integer keys from 1 become slices; other tables become maps.
func ToGoValue(lv lua.LValue) any {
	return toGo(lv, make(map[*lua.LTable]bool))
}

func toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGo(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = toGo(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value. Values other than scalars,
// slices and string-keyed maps go through their JSON encoding.
func ToLuaValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, ToLuaValue(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, ToLuaValue(L, item))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	default:
		return jsonToLua(L, v)
	}
}

func jsonToLua(L *lua.LState, v any) lua.LValue {
	raw, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return lua.LString(string(raw))
	}
	return ToLuaValue(L, generic)
}

// EventToTable exposes an event to Lua as
// {type=..., payload=..., metadata={id=..., timestamp=..., ...}}.
// Metadata keys use the same camelCase names as the JSON encoding.
func EventToTable(L *lua.LState, e event.Event) *lua.LTable {
	md := e.Metadata
	meta := L.CreateTable(0, 16)
	meta.RawSetString("id", lua.LString(md.ID))
	meta.RawSetString("timestamp", lua.LNumber(md.Timestamp))
	meta.RawSetString("priority", lua.LString(md.Priority))
	meta.RawSetString("scope", lua.LString(md.Scope))
	setString(meta, "source", md.Source)
	setString(meta, "target", md.Target)
	setString(meta, "branchId", md.BranchID)
	setString(meta, "businessId", md.BusinessID)
	setString(meta, "userId", md.UserID)
	setString(meta, "sessionId", md.SessionID)
	setString(meta, "correlationId", md.CorrelationID)
	if md.TTL != 0 {
		meta.RawSetString("ttl", lua.LNumber(md.TTL))
	}
	meta.RawSetString("retryCount", lua.LNumber(md.RetryCount))
	meta.RawSetString("persistent", lua.LBool(md.Persistent))
	meta.RawSetString("encrypted", lua.LBool(md.Encrypted))

	t := L.CreateTable(0, 3)
	t.RawSetString("type", lua.LString(e.Type))
	t.RawSetString("payload", ToLuaValue(L, e.Payload))
	t.RawSetString("metadata", meta)
	return t
}

func setString(t *lua.LTable, key, value string) {
	if value != "" {
		t.RawSetString(key, lua.LString(value))
	}
}

// MetadataFromTable reads the metadata fields a script may set on a
// published event. Unknown keys are ignored; invalid priorities and scopes
// are reported.
func MetadataFromTable(t *lua.LTable) (event.Metadata, error) {
	var md event.Metadata
	if t == nil {
		return md, nil
	}

	str := func(key string) string {
		if s, ok := t.RawGetString(key).(lua.LString); ok {
			return string(s)
		}
		return ""
	}

	md.Source = str("source")
	md.Target = str("target")
	md.BranchID = str("branchId")
	md.BusinessID = str("businessId")
	md.UserID = str("userId")
	md.SessionID = str("sessionId")
	md.CorrelationID = str("correlationId")
	if b, ok := t.RawGetString("persistent").(lua.LBool); ok {
		md.Persistent = bool(b)
	}

	if p := str("priority"); p != "" {
		priority, err := event.ParsePriority(p)
		if err != nil {
			return md, err
		}
		md.Priority = priority
	}
	if s := str("scope"); s != "" {
		scope, err := event.ParseScope(s)
		if err != nil {
			return md, err
		}
		md.Scope = scope
	}
	return md, nil
}
