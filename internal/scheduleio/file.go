package scheduleio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const lockWait = 30 * time.Second

// ReadFile opens path for reading under a shared file lock. Spec §5
// allows exactly this much cross-iteration sharing: "each iteration
// opens it for read and writes its own distinct output file."
func ReadFile(path string) (Schedule, error) {
	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()

	ok, err := lock.TryRLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return Schedule{}, fmt.Errorf("scheduleio: locking %s: %w", path, err)
	}
	if !ok {
		return Schedule{}, fmt.Errorf("scheduleio: timed out waiting for a read lock on %s", path)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("scheduleio: opening %s: %w", path, err)
	}
	defer f.Close()

	return Read(f)
}

// WriteFile writes s to a freshly, uniquely named file under dir,
// under an exclusive lock, and returns the path written. Nothing is
// ever overwritten in place: every iteration gets its own file (spec
// §5), and a write failure leaves no partial file behind (spec §7).
func WriteFile(dir string, s Schedule) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("schedule-%s.txt", uuid.NewString()))

	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()

	ok, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("scheduleio: locking %s: %w", path, err)
	}
	if !ok {
		return "", fmt.Errorf("scheduleio: timed out acquiring a write lock for %s", path)
	}
	defer lock.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("scheduleio: creating %s: %w", path, err)
	}
	if err := Write(f, s); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("scheduleio: writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("scheduleio: closing %s: %w", path, err)
	}

	return path, nil
}
