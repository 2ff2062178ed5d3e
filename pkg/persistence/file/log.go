package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"slices"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// LogRepository appends one JSON line per entry to logs/<execution id>.jsonl. Repeated steps are
// dropped when read.
type LogRepository struct {
	p *Persistence
}

func (r *LogRepository) Append(_ context.Context, entry models.LogEntry) error {
	if err := persistence.ValidateID(entry.ExecutionID); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := os.MkdirAll(r.p.path("logs"), dirMode); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	f, err := os.OpenFile(r.p.path("logs", entry.ExecutionID+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) StreamSince(_ context.Context, executionID string, since time.Time) iter.Seq2[models.LogEntry, error] {
	return func(yield func(models.LogEntry, error) bool) {
		if err := persistence.ValidateID(executionID); err != nil {
			yield(models.LogEntry{}, err)

			return
		}

		entries, err := r.read(executionID)
		if err != nil {
			yield(models.LogEntry{}, err)

			return
		}

		for _, entry := range entries {
			if entry.Timestamp.Before(since) {
				continue
			}

			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (r *LogRepository) read(executionID string) ([]models.LogEntry, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	f, err := os.Open(r.p.path("logs", executionID+".jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var entries []models.LogEntry

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var entry models.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	slices.SortStableFunc(entries, func(a, b models.LogEntry) int { return a.Step - b.Step })

	// A retried append may have written a step twice; the first line wins.
	return slices.CompactFunc(entries, func(a, b models.LogEntry) bool { return a.Step == b.Step }), nil
}
