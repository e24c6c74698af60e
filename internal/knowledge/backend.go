package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/persist"
)

// GraphVersion is the graph file format version.
const GraphVersion = "1.0"

// GraphFile is the default file name of the JSON backend.
const GraphFile = "knowledge.json"

// Graph is the persisted form of the whole store. It doubles as the export
// format.
type Graph struct {
	Version     string              `json:"version"`
	Generation  uint64              `json:"generation"`
	LastUpdated time.Time           `json:"last_updated"`
	Nodes       []Node              `json:"nodes"`
	TagIndex    map[string][]string `json:"tag_index"`
}

// Backend persists full graph snapshots.
//
// Save must be all-or-nothing. It returns errs.ErrConcurrencyConflict when
// the stored generation is not expectGen, which means another writer got
// there first.
type Backend interface {
	Load(ctx context.Context) (*Graph, error)
	Save(ctx context.Context, g *Graph, expectGen uint64) error
	Close() error
}

// timeNow is a package-level var so tests can pin timestamps.
var timeNow = time.Now

// ─── JSON file backend ──────────────────────────────────────────────────────

// JSONBackend stores the graph as one JSON document replaced atomically on
// every save.
type JSONBackend struct {
	path string
	opts persist.Options
}

// NewJSONBackend returns a backend for the graph file at path.
func NewJSONBackend(path string, opts persist.Options) *JSONBackend {
	return &JSONBackend{path: path, opts: opts}
}

// Path returns the graph file location.
func (b *JSONBackend) Path() string { return b.path }

// Load reads the graph file. A missing file yields an empty graph.
func (b *JSONBackend) Load(ctx context.Context) (*Graph, error) {
	data, err := persist.ReadFile(ctx, b.path, b.opts)
	if errors.Is(err, os.ErrNotExist) {
		return &Graph{Version: GraphVersion, TagIndex: map[string][]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: read graph: %w", err)
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errs.Corrupt(b.path, err)
	}
	return &g, nil
}

// Save writes g if the file on disk is still at expectGen.
func (b *JSONBackend) Save(ctx context.Context, g *Graph, expectGen uint64) error {
	onDisk, err := b.generation(ctx)
	if err != nil {
		return err
	}
	if onDisk != expectGen {
		return fmt.Errorf("knowledge: graph generation %d, expected %d: %w", onDisk, expectGen, errs.ErrConcurrencyConflict)
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("knowledge: marshal graph: %w", err)
	}
	if err := persist.WriteFile(ctx, b.path, data, b.opts); err != nil {
		return fmt.Errorf("knowledge: write graph: %w", err)
	}
	return nil
}

func (b *JSONBackend) generation(ctx context.Context) (uint64, error) {
	data, err := persist.ReadFile(ctx, b.path, b.opts)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("knowledge: read graph: %w", err)
	}
	var head struct {
		Generation uint64 `json:"generation"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, errs.Corrupt(b.path, err)
	}
	return head.Generation, nil
}

// Close is a no-op.
func (b *JSONBackend) Close() error { return nil }
