package toposort

import "sync"

// SymbolTable maps strings to dense integer IDs and back. Interning is
// concurrency-safe; IDs are assigned in first-seen order starting at zero.
type SymbolTable struct {
	strToID map[string]int
	idToStr []string
	lock    sync.RWMutex
}

// NewSymbolTable creates an empty SymbolTable.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		strToID: make(map[string]int),
		idToStr: make([]string, 0),
	}
}

// Intern returns the ID for name, assigning the next free ID on first use.
func (table *SymbolTable) Intern(name string) int {
	table.lock.RLock()
	id, exists := table.strToID[name]
	table.lock.RUnlock()

	if exists {
		return id
	}

	table.lock.Lock()
	defer table.lock.Unlock()

	// Double check: another writer may have interned name meanwhile.
	if existing, found := table.strToID[name]; found {
		return existing
	}

	id = len(table.idToStr)
	table.idToStr = append(table.idToStr, name)
	table.strToID[name] = id

	return id
}

// Lookup returns the ID for name without interning it.
func (table *SymbolTable) Lookup(name string) (int, bool) {
	table.lock.RLock()
	defer table.lock.RUnlock()

	id, exists := table.strToID[name]

	return id, exists
}

// Resolve returns the string for id, or "" when id was never assigned.
func (table *SymbolTable) Resolve(id int) string {
	table.lock.RLock()
	defer table.lock.RUnlock()

	if id < 0 || id >= len(table.idToStr) {
		return ""
	}

	return table.idToStr[id]
}

// Len returns the number of interned symbols.
func (table *SymbolTable) Len() int {
	table.lock.RLock()
	defer table.lock.RUnlock()

	return len(table.idToStr)
}
