package pieces

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/flowrun/pkg/schema"
)

// Piece is a named, versioned bundle of related actions.
type Piece struct {
	Name    string
	Version string
	Actions []Action
}

// NewPiece creates a Piece from its actions.
func NewPiece(name, version string, actions ...Action) *Piece {
	return &Piece{Name: name, Version: version, Actions: actions}
}

// Registry is the thread-safe piece registry used by the executor to
// resolve an action's run entry point from its piece identity.
type Registry struct {
	mu     sync.RWMutex
	pieces map[string]map[string]Action // "name@version" -> action name -> Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		pieces: make(map[string]map[string]Action),
	}
}

func pieceKey(name, version string) string {
	return fmt.Sprintf("%s@%s", name, version)
}

// Register adds a piece and its actions. Returns error on duplicate piece
// version or duplicate action name within the piece.
func (r *Registry) Register(p *Piece) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "piece is nil")
	}
	if p.Name == "" || p.Version == "" {
		return schema.NewError(schema.ErrCodeValidation, "piece name and version are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pieceKey(p.Name, p.Version)
	if _, exists := r.pieces[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "piece %q already registered", key)
	}

	actions := make(map[string]Action, len(p.Actions))
	for _, a := range p.Actions {
		if a == nil || a.Name() == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "piece %q has an unnamed action", key)
		}
		if _, dup := actions[a.Name()]; dup {
			return schema.NewErrorf(schema.ErrCodeConflict, "piece %q action %q already registered", key, a.Name())
		}
		actions[a.Name()] = a
	}

	r.pieces[key] = actions
	return nil
}

// Resolve looks up an action by piece identity, version, and action name.
// A miss at any level is a non-retryable resolution error.
func (r *Registry) Resolve(pieceName, pieceVersion, actionName string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := pieceKey(pieceName, pieceVersion)
	actions, ok := r.pieces[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeResolution, "piece %q not registered", key)
	}
	action, ok := actions[actionName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeResolution, "piece %q has no action %q", key, actionName)
	}
	return action, nil
}

// PieceInfo is a summary of a registered piece for listing.
type PieceInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Actions []string `json:"actions"`
}

// List returns info for all registered pieces, sorted by key.
func (r *Registry) List() []PieceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.pieces))
	for k := range r.pieces {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	infos := make([]PieceInfo, 0, len(keys))
	for _, k := range keys {
		var name, version string
		for i := len(k) - 1; i >= 0; i-- {
			if k[i] == '@' {
				name, version = k[:i], k[i+1:]
				break
			}
		}
		actions := make([]string, 0, len(r.pieces[k]))
		for an := range r.pieces[k] {
			actions = append(actions, an)
		}
		sort.Strings(actions)
		infos = append(infos, PieceInfo{Name: name, Version: version, Actions: actions})
	}
	return infos
}

// Has checks if a piece version is registered.
func (r *Registry) Has(name, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pieces[pieceKey(name, version)]
	return ok
}
