// Package records turns configured record specifiers into configuration properties.
package records

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/animalet/sargantana-ksm/internal/snapshot"
	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/pkg/errors"
)

var opaqueID = regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)

// IsOpaqueID reports whether spec is a record UID rather than a folder/title pair.
func IsOpaqueID(spec string) bool {
	return opaqueID.MatchString(spec)
}

// Snapshot is an immutable view of every record and folder, fetched once per resolution batch.
type Snapshot struct {
	records []ksm.Record
	folders []ksm.Folder
}

// NewSnapshot copies records and folders.
func NewSnapshot(records []ksm.Record, folders []ksm.Folder) (*Snapshot, error) {
	r, err := snapshot.Of(records)
	if err != nil {
		return nil, err
	}
	f, err := snapshot.Of(folders)
	if err != nil {
		return nil, err
	}
	return &Snapshot{records: r, folders: f}, nil
}

// FetchSnapshot reads all records and all folders.
func FetchSnapshot(ctx context.Context, sm ksm.SecretsManager, opts ksm.Options) (*Snapshot, error) {
	secrets, err := sm.GetSecrets(ctx, opts, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list KSM records")
	}
	folders, err := sm.GetFolders(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list KSM folders")
	}
	return NewSnapshot(secrets.Records, folders)
}

// Records returns a copy of the records in snapshot order.
func (s *Snapshot) Records() []ksm.Record { return snapshot.MustOf(s.records) }

// Folders returns a copy of the folders in snapshot order.
func (s *Snapshot) Folders() []ksm.Folder { return snapshot.MustOf(s.folders) }

// Resolve returns the UID that spec names. Opaque UIDs are returned unchanged; a folder/title
// pair is split on its first slash and looked up by exact name and title.
//
// Keeper does not enforce unique titles within a folder. When several records match, the first
// one in snapshot order wins.
func Resolve(spec string, s *Snapshot) (string, error) {
	if IsOpaqueID(spec) {
		return spec, nil
	}
	folderName, title, ok := strings.Cut(spec, "/")
	if !ok {
		return "", resolutionError(spec, "Invalid record specifier: %s", spec)
	}

	var folderUID string
	found := false
	for _, f := range s.folders {
		if f.Name == folderName {
			folderUID, found = f.UID, true
			break
		}
	}
	if !found {
		return "", resolutionError(spec, "Folder not found: %s", folderName)
	}

	for _, r := range s.records {
		if r.FolderUID == folderUID && r.Data.Title == title {
			return r.UID, nil
		}
	}
	return "", resolutionError(spec, "Record '%s' not found in folder '%s'", title, folderName)
}

func resolutionError(spec, format string, args ...any) *ksmerr.ResolutionError {
	return &ksmerr.ResolutionError{Specifier: spec, Message: fmt.Sprintf(format, args...)}
}
