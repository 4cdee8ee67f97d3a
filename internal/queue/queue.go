// Package queue persists offline export jobs across restarts. Each job
// is mirrored to a JSON file; the in-memory slice is the working queue
// and the directory is the durable copy reloaded on startup.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/domain"
)

const mirrorPrefix = "offline"

// Queue is the persistent export queue. All operations take one coarse
// lock; the queue is small and contention-free in practice.
type Queue struct {
	mu        sync.Mutex
	jobs      []*domain.ExportJob
	dir       string // mirror files
	exportDir string // destination files for claims
	lastID    int64
	log       *zap.Logger
}

// NewQueue creates the queue, restoring any mirrored jobs from dir.
func NewQueue(dir, exportDir string, log *zap.Logger) (*Queue, error) {
	for _, d := range []string{dir, exportDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}
	q := &Queue{dir: dir, exportDir: exportDir, log: log}
	if err := q.Reload(); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue assigns the job an id, writes its mirror file and appends it
// to the queue.
func (q *Queue) Enqueue(job *domain.ExportJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.ID = q.nextID()
	if job.FileName == "" {
		ext := "." + format(job)
		if job.Gzip {
			ext += ".gz"
		}
		job.FileName = "records-" + strconv.FormatInt(job.ID, 10) + ext
	}

	if err := q.writeMirror(job); err != nil {
		return err
	}
	q.jobs = append(q.jobs, job)
	q.log.Info("export job queued",
		zap.Int64("job", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("queued", len(q.jobs)))
	return nil
}

// DequeueNext claims and returns the oldest unclaimed job matching the
// filters: maxRows > 0 restricts to jobs requesting at most that many
// rows, jobType restricts to that type. Returns nil when nothing
// matches.
func (q *Queue) DequeueNext(maxRows int64, jobType domain.JobType) *domain.ExportJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.Claimed() {
			continue
		}
		if jobType != "" && job.Type != jobType {
			continue
		}
		if maxRows > 0 && (job.RequestedRows <= 0 || job.RequestedRows > maxRows) {
			continue
		}
		job.FileLocation = q.claimPath(job)
		return job
	}
	return nil
}

// Remove deletes the job's mirror file and drops it from the queue.
// Removing an absent job is a no-op.
func (q *Queue) Remove(job *domain.ExportJob) {
	q.mu.Lock()
	defer q.mu.Unlock()

	path := q.mirrorPath(job.ID)
	for _, p := range []string{path, path + ".backup"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			q.log.Warn("failed to remove mirror file", zap.String("path", p), zap.Error(err))
		}
	}

	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if j.ID != job.ID {
			kept = append(kept, j)
		}
	}
	q.jobs = kept
}

// Reload rebuilds the queue from the mirror directory, ordered by file
// modification time. Claims do not survive a reload: any partial output
// at the deterministic claim path is deleted so the job restarts clean.
func (q *Queue) Reload() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return fmt.Errorf("read queue dir: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, mirrorPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: filepath.Join(q.dir, name), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	q.jobs = q.jobs[:0]
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			q.log.Warn("skipping unreadable mirror file", zap.String("path", f.path), zap.Error(err))
			continue
		}
		var job domain.ExportJob
		if err := json.Unmarshal(data, &job); err != nil {
			q.log.Warn("skipping corrupt mirror file", zap.String("path", f.path), zap.Error(err))
			continue
		}
		job.FileLocation = ""
		if partial := q.claimPath(&job); fileExists(partial) {
			if err := os.Remove(partial); err != nil {
				q.log.Warn("failed to remove partial export", zap.String("path", partial), zap.Error(err))
			}
		}
		if job.ID > q.lastID {
			q.lastID = job.ID
		}
		q.jobs = append(q.jobs, &job)
	}

	if len(q.jobs) > 0 {
		q.log.Info("restored export queue", zap.Int("jobs", len(q.jobs)))
	}
	return nil
}

// All returns a snapshot of the queued jobs in order.
func (q *Queue) All() []*domain.ExportJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*domain.ExportJob(nil), q.jobs...)
}

// Len returns the number of queued jobs, claimed ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// writeMirror persists the job file atomically: write to a temp file,
// keep any previous version as a .backup sibling, then rename into
// place.
func (q *Queue) writeMirror(job *domain.ExportJob) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %d: %w", job.ID, err)
	}

	path := q.mirrorPath(job.ID)
	if fileExists(path) {
		if err := os.Rename(path, path+".backup"); err != nil {
			return fmt.Errorf("back up mirror file: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write mirror file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish mirror file: %w", err)
	}
	return nil
}

func (q *Queue) mirrorPath(id int64) string {
	return filepath.Join(q.dir, mirrorPrefix+strconv.FormatInt(id, 10)+".json")
}

// claimPath derives the deterministic destination for a job's output:
// a stable per-requester directory, the job id, then the file name.
func (q *Queue) claimPath(job *domain.ExportJob) string {
	requester := uuid.NewMD5(uuid.NameSpaceOID, []byte(job.Email)).String()
	return filepath.Join(q.exportDir, requester, strconv.FormatInt(job.ID, 10), job.FileName)
}

// nextID returns a strictly increasing millisecond timestamp id.
// Callers hold q.mu.
func (q *Queue) nextID() int64 {
	id := time.Now().UnixMilli()
	if id <= q.lastID {
		id = q.lastID + 1
	}
	q.lastID = id
	return id
}

func format(job *domain.ExportJob) string {
	if job.Format == "" {
		return "csv"
	}
	return job.Format
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
