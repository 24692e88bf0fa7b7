// Package registry tracks the provider and worker instances running in one
// process so the admin endpoints can list them.
package registry

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mailru/easyjson/jwriter"
)

type Kind string

const (
	KindProvider Kind = "provider"
	KindWorker   Kind = "worker"
)

type instance struct {
	id      uuid.UUID
	kind    Kind
	name    string
	started time.Time
	state   func() string
}

// Info is a point in time view of one instance.
type Info struct {
	ID      uuid.UUID
	Kind    Kind
	Name    string
	State   string
	Started time.Time
}

type Registry struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*instance
	now       func() time.Time
}

func New() *Registry {
	return &Registry{instances: make(map[uuid.UUID]*instance), now: time.Now}
}

// Register adds an instance; state is called whenever it is listed.
func (r *Registry) Register(kind Kind, name string, state func() string) uuid.UUID {
	inst := &instance{
		id:      uuid.New(),
		kind:    kind,
		name:    name,
		started: r.now(),
		state:   state,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.id] = inst
	return inst.id
}

func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.instances[id]
	delete(r.instances, id)
	return ok
}

func (r *Registry) Get(id uuid.UUID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return Info{}, false
	}
	return inst.info(), true
}

func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, inst := range r.instances {
		if inst.kind == kind {
			n++
		}
	}
	return n
}

// List returns every instance ordered by kind, then name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.instances))
	for _, inst := range r.instances {
		infos = append(infos, inst.info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Kind != infos[j].Kind {
			return infos[i].Kind < infos[j].Kind
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (inst *instance) info() Info {
	state := ""
	if inst.state != nil {
		state = inst.state()
	}
	return Info{ID: inst.id, Kind: inst.kind, Name: inst.name, State: state, Started: inst.started}
}

func (i Info) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(i.ID.String())
	w.RawString(`,"kind":`)
	w.String(string(i.Kind))
	w.RawString(`,"name":`)
	w.String(i.Name)
	w.RawString(`,"state":`)
	w.String(i.State)
	w.RawString(`,"started":`)
	w.String(i.Started.UTC().Format(time.RFC3339Nano))
	w.RawByte('}')
}

func (i Info) MarshalJSON() ([]byte, error) {
	var w jwriter.Writer
	i.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// WriteJSON writes infos as a JSON array.
func WriteJSON(out io.Writer, infos []Info) error {
	var w jwriter.Writer
	w.RawByte('[')
	for n, i := range infos {
		if n > 0 {
			w.RawByte(',')
		}
		i.MarshalEasyJSON(&w)
	}
	w.RawByte(']')
	if w.Error != nil {
		return w.Error
	}
	_, err := w.DumpTo(out)
	return err
}
