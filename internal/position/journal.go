package position

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"atm_algo/internal/models"
)

// Journal is an append-only JSONL trade log. Every open and every close is a
// line; the last line per position ID is its current state.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{path: path, file: file}, nil
}

func (j *Journal) Append(_ context.Context, p models.Position) error {
	return j.write(p)
}

func (j *Journal) Update(_ context.Context, p models.Position) error {
	return j.write(p)
}

func (j *Journal) write(p models.Position) error {
	line, err := sonic.Marshal(p)
	if err != nil {
		return fmt.Errorf("journal.encode %s: %w", p.ID, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("journal.write %s: %w", p.ID, err)
	}
	return nil
}

// LoadOpen replays the journal and returns positions whose last record is OPEN.
func (j *Journal) LoadOpen(_ context.Context) ([]models.Position, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	latest := make(map[string]models.Position)
	var order []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var p models.Position
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		if _, seen := latest[p.ID]; !seen {
			order = append(order, p.ID)
		}
		latest[p.ID] = p
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var out []models.Position
	for _, id := range order {
		if p := latest[id]; p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
