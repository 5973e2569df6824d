package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/crdt/workspace"
	"github.com/diaryx/syncd/internal/storage/causallog"
	"github.com/diaryx/syncd/internal/storage/docstore"
	"github.com/diaryx/syncd/internal/sync/identity"
)

// Mode selects how an uploaded archive merges with existing state.
type Mode string

const (
	// ModeReplace imports the archive as the workspace's new truth:
	// files absent from the archive are tombstoned (their attachment
	// references too; blob bytes are the external store's concern).
	ModeReplace Mode = "replace"

	// ModeMerge unions the archive into existing state.
	ModeMerge Mode = "merge"
)

// ParseMode validates a mode query parameter. Empty defaults to merge.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeMerge):
		return ModeMerge, nil
	case string(ModeReplace):
		return ModeReplace, nil
	default:
		return "", domain.ErrBadRequest.WithDetails("unknown snapshot mode " + s)
	}
}

const (
	filesPrefix  = "files/"
	metaEntry    = "_meta/snapshot.json"
	trailerEntry = "_meta/state_vector.json"
	stateEntry   = "_meta/crdt_state.json"
)

// stateDoc is one document's CRDT-level snapshot inside the archive's
// state entry. The rendered files are for humans and merge-imports;
// the state entry lets a bootstrapping client reproduce the server's
// replica (and state vector) exactly.
type stateDoc struct {
	DocID string `json:"doc_id"`
	Snap  []byte `json:"snap"`
}

// meta is the archive's descriptive header entry.
type meta struct {
	Version     int    `json:"version"`
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	FileCount   int    `json:"file_count"`
}

// Build renders the workspace's current file tree into an archive. The
// returned state vector is the workspace document's vector at build
// time, also recorded in the archive's trailer entry.
func Build(store *docstore.Store, workspaceID string) ([]byte, causallog.StateVector, error) {
	wsDoc := docstore.WorkspaceDocID(workspaceID)
	sv := store.StateVector(wsDoc)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	count := 0
	var buildErr error
	store.Workspace(wsDoc).Iter(func(v workspace.View) bool {
		if v.Tombstoned {
			return true
		}
		body := store.Body(docstore.BodyDocID(workspaceID, v.Path)).AsString()
		content := frontmatterFromView(v).render(body)

		w, err := zw.Create(filesPrefix + v.Path)
		if err != nil {
			buildErr = err
			return false
		}
		if _, err := io.WriteString(w, content); err != nil {
			buildErr = err
			return false
		}
		count++
		return true
	})
	if buildErr != nil {
		return nil, nil, fmt.Errorf("archive: write entry: %w", buildErr)
	}

	mw, err := zw.Create(metaEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: write meta: %w", err)
	}
	if err := json.NewEncoder(mw).Encode(meta{
		Version:     1,
		ID:          identity.NewSnapshotID(),
		WorkspaceID: workspaceID,
		FileCount:   count,
	}); err != nil {
		return nil, nil, fmt.Errorf("archive: encode meta: %w", err)
	}

	var states []stateDoc
	wsSnap, err := store.Snapshot(wsDoc)
	if err != nil {
		return nil, nil, err
	}
	states = append(states, stateDoc{DocID: wsDoc, Snap: wsSnap})
	store.Workspace(wsDoc).Iter(func(v workspace.View) bool {
		if v.Tombstoned {
			return true
		}
		bodyDoc := docstore.BodyDocID(workspaceID, v.Path)
		snap, err := store.Snapshot(bodyDoc)
		if err != nil {
			buildErr = err
			return false
		}
		states = append(states, stateDoc{DocID: bodyDoc, Snap: snap})
		return true
	})
	if buildErr != nil {
		return nil, nil, fmt.Errorf("archive: snapshot document: %w", buildErr)
	}
	sw, err := zw.Create(stateEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: write state entry: %w", err)
	}
	if err := json.NewEncoder(sw).Encode(states); err != nil {
		return nil, nil, fmt.Errorf("archive: encode state entry: %w", err)
	}

	tw, err := zw.Create(trailerEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: write trailer: %w", err)
	}
	svBytes, err := sv.Encode()
	if err != nil {
		return nil, nil, err
	}
	if _, err := tw.Write(svBytes); err != nil {
		return nil, nil, fmt.Errorf("archive: write state vector: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("archive: finalize: %w", err)
	}
	return buf.Bytes(), sv, nil
}

// File is one decoded archive entry.
type File struct {
	Path    string
	Meta    frontmatter
	Body    string
}

// Bootstrap imports an archive into a fresh client replica using the
// embedded CRDT-level snapshots, reproducing the source replica (and
// its state vector) exactly. Archives without a state entry fall back
// to a merge import of the rendered files.
//
// Returns the number of files materialized.
func Bootstrap(store *docstore.Store, workspaceID string, data []byte) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, domain.ErrSnapshotCorrupt.WithDetails("not a zip archive").WithCause(err)
	}

	for _, f := range zr.File {
		if f.Name != stateEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return 0, domain.ErrSnapshotCorrupt.WithDetails("open state entry").WithCause(err)
		}
		var states []stateDoc
		decodeErr := json.NewDecoder(rc).Decode(&states)
		rc.Close()
		if decodeErr != nil {
			return 0, domain.ErrSnapshotCorrupt.WithDetails("bad state entry").WithCause(decodeErr)
		}

		files := 0
		for _, sd := range states {
			if err := store.ImportSnapshot(sd.DocID, sd.Snap); err != nil {
				return files, err
			}
			if strings.HasPrefix(sd.DocID, docstore.DocKindBody) {
				files++
			}
		}
		return files, nil
	}

	return Import(store, workspaceID, data, ModeMerge)
}

// Read decodes an archive into its files and trailer vector.
func Read(data []byte) ([]File, causallog.StateVector, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, domain.ErrSnapshotCorrupt.WithDetails("not a zip archive").WithCause(err)
	}

	var files []File
	sv := causallog.StateVector{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, nil, domain.ErrSnapshotCorrupt.WithDetails("open " + f.Name).WithCause(err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, domain.ErrSnapshotCorrupt.WithDetails("read " + f.Name).WithCause(err)
		}

		switch {
		case f.Name == trailerEntry:
			sv, err = causallog.DecodeStateVector(raw)
			if err != nil {
				return nil, nil, domain.ErrSnapshotCorrupt.WithDetails("bad state vector").WithCause(err)
			}
		case f.Name == metaEntry, f.Name == stateEntry:
			// Meta is informational; the state entry is Bootstrap's
			// concern.
		case strings.HasPrefix(f.Name, filesPrefix):
			path := strings.TrimPrefix(f.Name, filesPrefix)
			fm, body, err := parseFrontmatter(string(raw))
			if err != nil {
				return nil, nil, domain.ErrSnapshotCorrupt.WithDetails(path).WithCause(err)
			}
			files = append(files, File{Path: path, Meta: fm, Body: body})
		}
	}
	return files, sv, nil
}

// Import replays an uploaded archive through the workspace and body
// CRDTs under the store's own client id, so the causal log remains the
// single source of truth. Returns the number of files imported.
func Import(store *docstore.Store, workspaceID string, data []byte, mode Mode) (int, error) {
	files, _, err := Read(data)
	if err != nil {
		return 0, err
	}

	wsDoc := docstore.WorkspaceDocID(workspaceID)
	ws := store.Workspace(wsDoc)

	uploaded := make(map[string]bool, len(files))
	for _, f := range files {
		uploaded[f.Path] = true
	}

	if mode == ModeReplace {
		// Tombstone everything the new truth omits.
		var missing []string
		ws.Iter(func(v workspace.View) bool {
			if !v.Tombstoned && !uploaded[v.Path] {
				missing = append(missing, v.Path)
			}
			return true
		})
		for _, path := range missing {
			update, err := ws.Tombstone(path)
			if err != nil {
				return 0, err
			}
			if _, err := store.RecordLocal(wsDoc, update); err != nil {
				return 0, err
			}
		}
	}

	imported := 0
	for _, f := range files {
		delta := workspace.RecordDelta{Extra: f.Meta.Extra}
		if f.Meta.Title != "" {
			delta.Title = &f.Meta.Title
		}
		if f.Meta.Parent != "" {
			delta.Parent = &f.Meta.Parent
		}
		if f.Meta.Description != "" {
			delta.Description = &f.Meta.Description
		}
		if f.Meta.ModifiedAt != 0 {
			delta.ModifiedAt = &f.Meta.ModifiedAt
		}
		if f.Meta.Children != nil {
			delta.MakeContainer = true
		}
		if len(f.Meta.Audiences) > 0 {
			delta.Audiences = make(map[string]bool, len(f.Meta.Audiences))
			for _, a := range f.Meta.Audiences {
				delta.Audiences[a] = true
			}
		}

		update, err := ws.Put(f.Path, delta)
		if err != nil {
			return imported, err
		}
		if _, err := store.RecordLocal(wsDoc, update); err != nil {
			return imported, err
		}

		// A previously tombstoned record comes back to life when the
		// archive re-supplies it.
		if v, ok := ws.Get(f.Path); ok && v.Tombstoned {
			update, err := ws.Restore(f.Path)
			if err != nil {
				return imported, err
			}
			if _, err := store.RecordLocal(wsDoc, update); err != nil {
				return imported, err
			}
		}

		for _, child := range f.Meta.Children {
			if v, _ := ws.Get(f.Path); v.Children == nil || !contains(v.Children, child) {
				update, err := ws.AddChild(f.Path, child)
				if err != nil {
					return imported, err
				}
				if _, err := store.RecordLocal(wsDoc, update); err != nil {
					return imported, err
				}
			}
		}

		if err := setBody(store, workspaceID, f.Path, f.Body); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// setBody makes the body document's visible text equal content,
// expressed as ordinary delete+insert updates through the CRDT.
func setBody(store *docstore.Store, workspaceID, path, content string) error {
	docID := docstore.BodyDocID(workspaceID, path)
	b := store.Body(docID)

	if cur := b.AsString(); cur == content {
		return nil
	}
	if n := b.Length(); n > 0 {
		update, err := b.Delete(0, n)
		if err != nil {
			return err
		}
		if _, err := store.RecordLocal(docID, update); err != nil {
			return err
		}
	}
	if content != "" {
		update, err := b.Insert(0, content)
		if err != nil {
			return err
		}
		if _, err := store.RecordLocal(docID, update); err != nil {
			return err
		}
	}
	return nil
}
