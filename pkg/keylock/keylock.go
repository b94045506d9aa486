// Package keylock serializa secciones críticas por clave dentro del proceso
// (asignación de folios por empresa y tipo, envío por documento).
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map mutex por clave. Las entradas se liberan cuando nadie las usa. El cero es usable.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock bloquea la clave y devuelve la función que la libera.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len claves con al menos un usuario (tests).
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
