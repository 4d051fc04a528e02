// Package script runs Lua rule conditions and actions on gopher-lua.
//
// Each compiled Condition or Action owns one sandboxed State. Only the base,
// table, string and math libraries are opened, and the base functions that
// load code (dofile, loadfile, load, loadstring, require) are removed. Every
// evaluation runs under a context deadline, so a script that loops forever
// fails with ErrTimeout instead of stalling the bus.
//
// Chunks are parsed and compiled once; Match and Handle only bind globals
// and call the compiled prototype.
//
// Conversion between Go and Lua values follows these rules:
//
//	nil                  <-> nil
//	bool                 <-> boolean
//	integers and floats  <-> number (integral numbers come back as int64)
//	string, []byte        -> string
//	[]any, []string      <-> sequence table
//	map[string]any       <-> table
//	anything else         -> its JSON encoding, decoded into the above
package script
