package pipeline

import (
	"github.com/vmware2scw/vmware2scw/internal/state"
)

// Artifact keys. Values live in MigrationState.Artifacts, which doubles as
// the forward-compatible extra bag; these typed accessors are the only way
// stages read and write the well-known keys.
const (
	ArtifactSnapshotID    = "snapshot_id"
	ArtifactVMDKPaths     = "vmdk_paths"
	ArtifactQcow2Path     = "qcow2_path"
	ArtifactS3Key         = "s3_key"
	ArtifactScwSnapshotID = "scw_snapshot_id"
	ArtifactScwImageID    = "scw_image_id"
)

// Artifacts is a typed view over a migration's artifact bag.
type Artifacts struct {
	st *state.MigrationState
}

func ArtifactsOf(st *state.MigrationState) Artifacts {
	return Artifacts{st: st}
}

func (a Artifacts) SnapshotID() string           { return a.st.ArtifactString(ArtifactSnapshotID) }
func (a Artifacts) SetSnapshotID(id string)      { a.st.SetArtifact(ArtifactSnapshotID, id) }
func (a Artifacts) Qcow2Path() string            { return a.st.ArtifactString(ArtifactQcow2Path) }
func (a Artifacts) SetQcow2Path(p string)        { a.st.SetArtifact(ArtifactQcow2Path, p) }
func (a Artifacts) S3Key() string                { return a.st.ArtifactString(ArtifactS3Key) }
func (a Artifacts) SetS3Key(k string)            { a.st.SetArtifact(ArtifactS3Key, k) }
func (a Artifacts) ScwSnapshotID() string        { return a.st.ArtifactString(ArtifactScwSnapshotID) }
func (a Artifacts) SetScwSnapshotID(id string)   { a.st.SetArtifact(ArtifactScwSnapshotID, id) }
func (a Artifacts) ScwImageID() string           { return a.st.ArtifactString(ArtifactScwImageID) }
func (a Artifacts) SetScwImageID(id string)      { a.st.SetArtifact(ArtifactScwImageID, id) }

func (a Artifacts) VMDKPaths() []string {
	var paths []string
	a.st.Artifact(ArtifactVMDKPaths, &paths)
	return paths
}

func (a Artifacts) SetVMDKPaths(paths []string) {
	a.st.SetArtifact(ArtifactVMDKPaths, paths)
}
