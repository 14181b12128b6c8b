package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactPrefix marks files staged by this package in the scratch directory.
const ArtifactPrefix = "sf-"

// Artifact is one staged source file. It is written once and owned by a
// single invocation.
type Artifact struct {
	ID   string
	Path string
}

// newArtifactID returns 128 random bits, hex encoded.
func newArtifactID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Stage writes code to a fresh, unpredictably named file in dir. The file is
// created exclusively so an existing path is never reused or overwritten.
// On any failure nothing is left behind.
func Stage(dir, ext, code string) (*Artifact, error) {
	id, err := newArtifactID()
	if err != nil {
		return nil, fmt.Errorf("%w: generating id: %v", ErrStaging, err)
	}
	path := filepath.Join(dir, ArtifactPrefix+id+ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 -- name generated above
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaging, err)
	}
	if _, err := f.WriteString(code); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: writing: %v", ErrStaging, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: closing: %v", ErrStaging, err)
	}
	return &Artifact{ID: id, Path: path}, nil
}

// Remove deletes the artifact. A file that is already gone is not an error.
func (a *Artifact) Remove() error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// isArtifactName reports whether name looks like something Stage created.
func isArtifactName(name string) bool {
	return strings.HasPrefix(name, ArtifactPrefix) && len(name) >= len(ArtifactPrefix)+32
}
