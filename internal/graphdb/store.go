// File: internal/graphdb/store.go
// Brief: SQLite snapshot of the build graph (save/load).

// Package graphdb persists fbuild's node graph between invocations as a
// single SQLite file. A snapshot is written to a temporary file and renamed
// over the previous one, so readers see either the old or the new graph.
package graphdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stamp"
	"github.com/example/fbuild/internal/version"
)

const (
	FormatMarker  = "fbuild-graph"
	FormatVersion = 1
)

var (
	ErrIO              = errors.New("graph store i/o failure")
	ErrCorruptSnapshot = errors.New("corrupt graph snapshot")
)

var sqliteHeader = []byte("SQLite format 3\x00")

// StoreError ties a failure to the snapshot path and to ErrIO or
// ErrCorruptSnapshot.
type StoreError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func ioError(op, path string, err error) error {
	return &StoreError{Op: op, Path: path, Kind: ErrIO, Err: err}
}

func corrupt(path string, err error) error {
	return &StoreError{Op: "load", Path: path, Kind: ErrCorruptSnapshot, Err: err}
}

// Meta describes a snapshot.
type Meta struct {
	Version       int
	EngineVersion string
	SnapshotID    string
	CreatedAt     time.Time
	Nodes         int
}

func openDB(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	dsn := path
	if readOnly {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
		q := u.Query()
		q.Set("mode", "ro")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return db, nil
}

var schema = []string{
	`PRAGMA journal_mode=DELETE;`,
	`PRAGMA synchronous=FULL;`,
	`
CREATE TABLE fbuild_meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`,
	`
CREATE TABLE fbuild_nodes (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  origin TEXT NOT NULL,
  settings_json TEXT NOT NULL,
  outputs_json TEXT NOT NULL,
  stamp INTEGER NOT NULL,
  settings_digest TEXT NOT NULL,
  file_exists INTEGER NOT NULL,
  file_mtime_ns INTEGER NOT NULL,
  file_size INTEGER NOT NULL,
  file_hash INTEGER NOT NULL,
  file_racy INTEGER NOT NULL,
  listing_json TEXT NOT NULL
);`,
	`
CREATE TABLE fbuild_edges (
  node_id INTEGER NOT NULL,
  dynamic INTEGER NOT NULL,
  position INTEGER NOT NULL,
  dep_name TEXT NOT NULL,
  PRIMARY KEY (node_id, dynamic, position),
  FOREIGN KEY (node_id) REFERENCES fbuild_nodes(id) ON DELETE CASCADE
);`,
	`
CREATE TABLE fbuild_dep_stamps (
  node_id INTEGER NOT NULL,
  position INTEGER NOT NULL,
  dep_name TEXT NOT NULL,
  stamp INTEGER NOT NULL,
  PRIMARY KEY (node_id, position),
  FOREIGN KEY (node_id) REFERENCES fbuild_nodes(id) ON DELETE CASCADE
);`,
}

// Save writes g to path. The graph must not be building.
func Save(ctx context.Context, path string, g *graph.Graph) error {
	_, err := SaveWithMeta(ctx, path, g)
	return err
}

// SaveWithMeta is Save returning the metadata it recorded.
func SaveWithMeta(ctx context.Context, path string, g *graph.Graph) (Meta, error) {
	if g == nil {
		return Meta{}, ioError("save", path, errors.New("graph is nil"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Meta{}, ioError("save", path, err)
	}
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return Meta{}, ioError("save", path, err)
	}
	meta := Meta{
		Version:       FormatVersion,
		EngineVersion: version.Get().Version,
		SnapshotID:    uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Nodes:         g.Len(),
	}
	if err := writeSnapshot(ctx, tmp, g, meta); err != nil {
		_ = os.Remove(tmp)
		return Meta{}, ioError("save", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Meta{}, ioError("save", path, err)
	}
	return meta, nil
}

func writeSnapshot(ctx context.Context, path string, g *graph.Graph, meta Meta) error {
	db, err := openDB(ctx, path, false)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	metaRows := [][2]string{
		{"format", FormatMarker},
		{"version", strconv.Itoa(meta.Version)},
		{"engine_version", meta.EngineVersion},
		{"snapshot_id", meta.SnapshotID},
		{"created_at", meta.CreatedAt.Format(time.RFC3339Nano)},
		{"node_count", strconv.Itoa(meta.Nodes)},
	}
	for _, kv := range metaRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO fbuild_meta (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return errors.Wrap(err, "write meta")
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
INSERT INTO fbuild_nodes (
  id, name, kind, origin, settings_json, outputs_json, stamp, settings_digest,
  file_exists, file_mtime_ns, file_size, file_hash, file_racy, listing_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare nodes")
	}
	defer nodeStmt.Close()
	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO fbuild_edges (node_id, dynamic, position, dep_name) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare edges")
	}
	defer edgeStmt.Close()
	stampStmt, err := tx.PrepareContext(ctx, `INSERT INTO fbuild_dep_stamps (node_id, position, dep_name, stamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare dep stamps")
	}
	defer stampStmt.Close()

	for _, n := range g.Nodes() {
		settingsJSON, err := graph.MarshalSettings(n.Settings)
		if err != nil {
			return errors.Wrapf(err, "encode settings of %s", n.Name)
		}
		outputsJSON, err := json.Marshal(nonNil(n.Outputs))
		if err != nil {
			return errors.Wrapf(err, "encode outputs of %s", n.Name)
		}
		rec := n.Record
		listingJSON, err := json.Marshal(nonNil(rec.Listing))
		if err != nil {
			return errors.Wrapf(err, "encode listing of %s", n.Name)
		}
		if _, err := nodeStmt.ExecContext(ctx,
			int64(n.ID), n.Name, n.Kind.String(), n.Origin.String(), string(settingsJSON), string(outputsJSON),
			int64(rec.Stamp), rec.SettingsDigest.String(),
			boolInt(rec.File.Exists), rec.File.ModTime, rec.File.Size, int64(rec.File.ContentHash), boolInt(rec.File.Racy),
			string(listingJSON),
		); err != nil {
			return errors.Wrapf(err, "write node %s", n.Name)
		}
		for i, dep := range n.StaticDepNames() {
			if _, err := edgeStmt.ExecContext(ctx, int64(n.ID), 0, i, dep); err != nil {
				return errors.Wrapf(err, "write edges of %s", n.Name)
			}
		}
		for i, depID := range g.DynamicDeps(n.ID) {
			if _, err := edgeStmt.ExecContext(ctx, int64(n.ID), 1, i, g.Node(depID).Name); err != nil {
				return errors.Wrapf(err, "write edges of %s", n.Name)
			}
		}
		for i, ds := range rec.DepStamps {
			if _, err := stampStmt.ExecContext(ctx, int64(n.ID), i, ds.Name, int64(ds.Stamp)); err != nil {
				return errors.Wrapf(err, "write dep stamps of %s", n.Name)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// Load reads the snapshot at path into a new graph.
func Load(ctx context.Context, path string) (*graph.Graph, error) {
	g, _, err := LoadWithMeta(ctx, path)
	return g, err
}

// LoadWithMeta fails with ErrIO when path cannot be read and with
// ErrCorruptSnapshot when its contents are not a snapshot this version
// understands. Nothing is recovered from a damaged snapshot.
func LoadWithMeta(ctx context.Context, path string) (*graph.Graph, Meta, error) {
	if err := checkHeader(path); err != nil {
		return nil, Meta{}, err
	}
	db, err := openDB(ctx, path, true)
	if err != nil {
		return nil, Meta{}, corrupt(path, err)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, Meta{}, corrupt(path, err)
	}
	g, err := readGraph(ctx, db)
	if err != nil {
		return nil, Meta{}, corrupt(path, err)
	}
	return g, meta, nil
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ioError("load", path, err)
	}
	defer f.Close()
	head := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return corrupt(path, errors.New("file too short"))
		}
		return ioError("load", path, err)
	}
	if !bytes.Equal(head, sqliteHeader) {
		return corrupt(path, errors.New("not a database"))
	}
	return nil
}

func readMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM fbuild_meta`)
	if err != nil {
		return Meta{}, errors.Wrap(err, "read meta")
	}
	defer rows.Close()
	kv := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, errors.Wrap(err, "read meta")
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, errors.Wrap(err, "read meta")
	}
	if kv["format"] != FormatMarker {
		return Meta{}, errors.Errorf("format marker %q, want %q", kv["format"], FormatMarker)
	}
	ver, err := strconv.Atoi(kv["version"])
	if err != nil || ver != FormatVersion {
		return Meta{}, errors.Errorf("snapshot version %q, want %d", kv["version"], FormatVersion)
	}
	meta := Meta{
		Version:       ver,
		EngineVersion: kv["engine_version"],
		SnapshotID:    kv["snapshot_id"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, kv["created_at"]); err == nil {
		meta.CreatedAt = ts
	}
	meta.Nodes, _ = strconv.Atoi(kv["node_count"])
	return meta, nil
}

type loadedNode struct {
	id      int64
	decl    graph.Declaration
	record  graph.BuildRecord
	dynamic []string
}

func readGraph(ctx context.Context, db *sql.DB) (*graph.Graph, error) {
	rows, err := db.QueryContext(ctx, `
SELECT id, name, kind, origin, settings_json, outputs_json, stamp, settings_digest,
       file_exists, file_mtime_ns, file_size, file_hash, file_racy, listing_json
FROM fbuild_nodes ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "read nodes")
	}
	var nodes []*loadedNode
	byID := map[int64]*loadedNode{}
	for rows.Next() {
		var (
			id, stampVal, mtime, size, hash, exists, racy int64
			name, kindStr, originStr, digestStr           string
			settingsJSON, outputsJSON, listingJSON        string
		)
		if err := rows.Scan(&id, &name, &kindStr, &originStr, &settingsJSON, &outputsJSON, &stampVal, &digestStr,
			&exists, &mtime, &size, &hash, &racy, &listingJSON); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "read nodes")
		}
		kind, err := graph.ParseKind(kindStr)
		if err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "node %s", name)
		}
		settings, err := graph.UnmarshalSettings(kind, []byte(settingsJSON))
		if err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "node %s", name)
		}
		var outputs, listing []string
		if err := json.Unmarshal([]byte(outputsJSON), &outputs); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "node %s outputs", name)
		}
		if err := json.Unmarshal([]byte(listingJSON), &listing); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "node %s listing", name)
		}
		dgst := digest.Digest(digestStr)
		if dgst != "" {
			if err := dgst.Validate(); err != nil {
				rows.Close()
				return nil, errors.Wrapf(err, "node %s settings digest", name)
			}
		}
		origin := graph.OriginDeclared
		switch originStr {
		case graph.OriginDeclared.String():
		case graph.OriginDiscovered.String():
			origin = graph.OriginDiscovered
		default:
			rows.Close()
			return nil, errors.Errorf("node %s: unknown origin %q", name, originStr)
		}
		ln := &loadedNode{
			id: id,
			decl: graph.Declaration{
				Name:     name,
				Kind:     kind,
				Outputs:  outputs,
				Settings: settings,
				Origin:   origin,
			},
			record: graph.BuildRecord{
				Stamp:          stamp.Stamp(uint64(stampVal)),
				SettingsDigest: dgst,
				File: stamp.FileInfo{
					Exists:      exists != 0,
					ModTime:     mtime,
					Size:        size,
					ContentHash: uint64(hash),
					Racy:        racy != 0,
				},
				Listing: listing,
			},
		}
		nodes = append(nodes, ln)
		byID[id] = ln
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "read nodes")
	}
	rows.Close()

	if err := readEdges(ctx, db, byID); err != nil {
		return nil, err
	}
	if err := readDepStamps(ctx, db, byID); err != nil {
		return nil, err
	}

	g := graph.New()
	ids := make(map[*loadedNode]graph.NodeID, len(nodes))
	for _, ln := range nodes {
		id, err := g.Declare(ln.decl)
		if err != nil {
			return nil, err
		}
		ids[ln] = id
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	for _, ln := range nodes {
		id := ids[ln]
		g.Node(id).Record = ln.record
		var dyn []graph.NodeID
		for _, name := range ln.dynamic {
			depID, ok := g.Resolve(name)
			if !ok {
				return nil, errors.Errorf("node %s: dynamic dependency %q missing", ln.decl.Name, name)
			}
			dyn = append(dyn, depID)
		}
		if err := g.SetDynamicDependencies(id, dyn); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func readEdges(ctx context.Context, db *sql.DB, byID map[int64]*loadedNode) error {
	rows, err := db.QueryContext(ctx, `SELECT node_id, dynamic, dep_name FROM fbuild_edges ORDER BY node_id, dynamic, position`)
	if err != nil {
		return errors.Wrap(err, "read edges")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			nodeID, dynamic int64
			dep             string
		)
		if err := rows.Scan(&nodeID, &dynamic, &dep); err != nil {
			return errors.Wrap(err, "read edges")
		}
		ln := byID[nodeID]
		if ln == nil {
			return errors.Errorf("edge from unknown node %d", nodeID)
		}
		if dynamic != 0 {
			ln.dynamic = append(ln.dynamic, dep)
		} else {
			ln.decl.Deps = append(ln.decl.Deps, dep)
		}
	}
	return errors.Wrap(rows.Err(), "read edges")
}

func readDepStamps(ctx context.Context, db *sql.DB, byID map[int64]*loadedNode) error {
	rows, err := db.QueryContext(ctx, `SELECT node_id, dep_name, stamp FROM fbuild_dep_stamps ORDER BY node_id, position`)
	if err != nil {
		return errors.Wrap(err, "read dep stamps")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			nodeID, s int64
			dep       string
		)
		if err := rows.Scan(&nodeID, &dep, &s); err != nil {
			return errors.Wrap(err, "read dep stamps")
		}
		ln := byID[nodeID]
		if ln == nil {
			return errors.Errorf("dep stamp for unknown node %d", nodeID)
		}
		ln.record.DepStamps = append(ln.record.DepStamps, graph.DepStamp{Name: dep, Stamp: stamp.Stamp(uint64(s))})
	}
	return errors.Wrap(rows.Err(), "read dep stamps")
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
