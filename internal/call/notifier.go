package call

import "sync"

// Executor schedules an observer notification on the observer's execution
// context (a UI run loop, a dispatch queue). A nil Executor means the
// notification is delivered synchronously on the mutating call stack.
type Executor func(func())

// observerSet is the synchronized observer registry shared by the models and
// the participant list. Re-adding an observer replaces its executor instead
// of duplicating the registration. notify iterates over a snapshot taken
// under the lock, so observers may remove themselves (or others) while a
// notification is in flight.
type observerSet[O comparable] struct {
	mu        sync.Mutex
	observers map[O]Executor
}

func newObserverSet[O comparable]() *observerSet[O] {
	return &observerSet[O]{observers: make(map[O]Executor)}
}

func (s *observerSet[O]) add(o O, exec Executor) {
	s.mu.Lock()
	s.observers[o] = exec
	s.mu.Unlock()
}

func (s *observerSet[O]) remove(o O) {
	s.mu.Lock()
	delete(s.observers, o)
	s.mu.Unlock()
}

// notify invokes fire once per registered observer, synchronously when the
// observer has no executor and scheduled otherwise.
func (s *observerSet[O]) notify(fire func(O)) {
	s.mu.Lock()
	type entry struct {
		observer O
		exec     Executor
	}
	snapshot := make([]entry, 0, len(s.observers))
	for o, exec := range s.observers {
		snapshot = append(snapshot, entry{o, exec})
	}
	s.mu.Unlock()

	for _, e := range snapshot {
		if e.exec == nil {
			fire(e.observer)
			continue
		}
		observer := e.observer
		e.exec(func() { fire(observer) })
	}
}
