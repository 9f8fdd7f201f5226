package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// WorkspaceErrorMarker is the stderr signature cargo emits when it
// misclassifies a loose package as a malformed workspace member.
const WorkspaceErrorMarker = "current package believes it's in a workspace when it's not"

// ErrPatchConflict is returned when the manifest lock is contended and
// the patcher was configured to fail fast.
var ErrPatchConflict = errors.New("manifest is locked by another patch transaction")

// NeedsWorkspacePatch reports whether the given process output carries
// the workspace misdetection signature.
func NeedsWorkspacePatch(output string) bool {
	return strings.Contains(output, WorkspaceErrorMarker)
}

// PatchOptions configure a patch transaction.
type PatchOptions struct {
	// Block makes lock acquisition wait instead of failing fast.
	Block bool

	// RetryInterval is the poll interval for fail-fast retries.
	RetryInterval time.Duration

	// MaxRetries bounds fail-fast retries before ErrPatchConflict.
	MaxRetries int
}

// DefaultPatchOptions returns the options used by the command builder.
func DefaultPatchOptions() PatchOptions {
	return PatchOptions{
		Block:         false,
		RetryInterval: 100 * time.Millisecond,
		MaxRetries:    20,
	}
}

// WithPatched runs body with the manifest at path temporarily patched
// to opt out of workspace membership: an empty [workspace] table is
// appended unless one is already present.
//
// The transaction holds an exclusive filesystem lock keyed by the
// manifest's canonical path, so at most one patch is active per
// manifest at a time. The manifest's exact original bytes are restored
// on every exit path, including an error or panic raised inside body.
func WithPatched(path string, opts PatchOptions, body func() error) (err error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving manifest path: %w", err)
	}

	lock := flock.New(canonical + ".runcrate.lock")
	if err := acquire(lock, opts); err != nil {
		return err
	}
	// The sidecar lock file stays behind after Unlock. Removing it
	// would let a third patcher create and lock a fresh inode at the
	// same path while another still holds the old one, breaking mutual
	// exclusion.
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("releasing manifest lock: %w", uerr)
		}
	}()

	original, err := os.ReadFile(canonical)
	if err != nil {
		return fmt.Errorf("snapshotting manifest: %w", err)
	}

	patched := original
	if !strings.Contains(string(original), "[workspace]") {
		patched = append(append([]byte{}, original...), []byte("\n[workspace]\n")...)
		if err := os.WriteFile(canonical, patched, 0o644); err != nil {
			return fmt.Errorf("patching manifest: %w", err)
		}
	}

	// Restore before the lock is released, on every exit path. Deferred
	// functions run during panic unwinding too, so a panic inside body
	// still restores the original bytes.
	defer func() {
		if rerr := restore(canonical, original); rerr != nil && err == nil {
			err = rerr
		}
	}()

	return body()
}

func acquire(lock *flock.Flock, opts PatchOptions) error {
	if opts.Block {
		if err := lock.Lock(); err != nil {
			return fmt.Errorf("acquiring manifest lock: %w", err)
		}
		return nil
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for i := 0; i < retries; i++ {
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring manifest lock: %w", err)
		}
		if ok {
			return nil
		}
		time.Sleep(interval)
	}
	return ErrPatchConflict
}

func restore(path string, original []byte) error {
	current, err := os.ReadFile(path)
	if err == nil && string(current) == string(original) {
		return nil
	}
	if err := os.WriteFile(path, original, 0o644); err != nil {
		return fmt.Errorf("restoring manifest: %w", err)
	}
	return nil
}
