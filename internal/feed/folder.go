package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
	"github.com/sentinelsoc/iocwatch/internal/store"
)

// Record is one indicator line of a feed file.
type Record struct {
	Type               string  `json:"type"`
	Value              string  `json:"value"`
	ScanFrequencyHours int     `json:"scan_frequency_hours,omitempty"`
	AlertOnChange      *bool   `json:"alert_on_change,omitempty"`
	OrganizationID     *string `json:"organization_id,omitempty"`
}

// FolderOptions controls feed-folder behavior.
type FolderOptions struct {
	Dir      string
	Watch    bool
	Patterns []string // e.g. []string{"*.jsonl", "*.json"}
	Logger   *log.Logger
	// When true and in Watch mode, start JSONL files at EOF on startup to avoid
	// re-importing existing lines each time the job starts.
	TailFromEnd bool
}

// FolderImporter loads indicators from a directory of feed files into the
// watchlist (one-shot or watch mode). Indicators already tracked are skipped.
type FolderImporter struct {
	store *store.Store
	opts  FolderOptions

	offsets map[string]int64 // per-file tail offset for jsonl
	mu      sync.Mutex

	imported int
	skipped  int
	errors   int
}

// NewFolderImporter constructs a folder importer.
func NewFolderImporter(st *store.Store, opts FolderOptions) *FolderImporter {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[feed] ", log.LstdFlags)
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.jsonl", "*.json"}
	}
	return &FolderImporter{
		store:   st,
		opts:    opts,
		offsets: make(map[string]int64),
	}
}

// Counts returns how many indicators were imported, skipped as duplicates,
// and rejected with errors so far.
func (fi *FolderImporter) Counts() (imported, skipped, errors int) {
	return fi.imported, fi.skipped, fi.errors
}

// Run executes the import per options (one-shot or watch).
func (fi *FolderImporter) Run(ctx context.Context) error {
	if err := fi.scanOnce(ctx); err != nil {
		return err
	}

	if !fi.opts.Watch {
		fi.opts.Logger.Printf("Completed one-shot import: imported=%d skipped=%d errors=%d",
			fi.imported, fi.skipped, fi.errors)
		return nil
	}

	return fi.watchLoop(ctx)
}

func (fi *FolderImporter) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range fi.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		ok, _ := filepath.Match(p, lower)
		if ok {
			return true
		}
	}
	return false
}

func (fi *FolderImporter) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(fi.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !fi.matches(e.Name()) {
			continue
		}
		path := filepath.Join(fi.opts.Dir, e.Name())
		if strings.HasSuffix(strings.ToLower(e.Name()), ".jsonl") {
			// If configured to tail from end in watch mode, initialize the offset
			// to EOF so existing lines are not re-imported on every startup.
			if fi.opts.Watch && fi.opts.TailFromEnd {
				if st, err := os.Stat(path); err == nil {
					fi.mu.Lock()
					fi.offsets[path] = st.Size()
					fi.mu.Unlock()
				}
				continue
			}
			if _, err := fi.processJSONL(ctx, path, 0); err != nil {
				fi.opts.Logger.Printf("error processing %s: %v", path, err)
				fi.errors++
			}
		} else if strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			if err := fi.processJSONFile(ctx, path); err != nil {
				fi.opts.Logger.Printf("error processing %s: %v", path, err)
				fi.errors++
			}
		}
	}
	return nil
}

func (fi *FolderImporter) watchLoop(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(fi.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	fi.opts.Logger.Printf("Watching feed directory: %s (patterns: %s)", fi.opts.Dir, strings.Join(fi.opts.Patterns, ","))

	for {
		select {
		case <-ctx.Done():
			fi.opts.Logger.Printf("Watch stopping: imported=%d skipped=%d errors=%d",
				fi.imported, fi.skipped, fi.errors)
			return ctx.Err()
		case ev := <-w.Events:
			name := filepath.Base(ev.Name)
			if !fi.matches(name) {
				continue
			}
			lower := strings.ToLower(name)

			if (ev.Op&fsnotify.Create) != 0 || (ev.Op&fsnotify.Write) != 0 {
				switch {
				case strings.HasSuffix(lower, ".jsonl"):
					// Tail from last offset (or 0 if new file)
					fi.mu.Lock()
					offset := fi.offsets[ev.Name]
					fi.mu.Unlock()

					newOffset, err := fi.processJSONL(ctx, ev.Name, offset)
					if err != nil {
						fi.opts.Logger.Printf("error tailing %s: %v", ev.Name, err)
						fi.errors++
						continue
					}
					fi.mu.Lock()
					fi.offsets[ev.Name] = newOffset
					fi.mu.Unlock()
				case strings.HasSuffix(lower, ".json"):
					// Re-process entire file on write; duplicates are skipped anyway
					if err := fi.processJSONFile(ctx, ev.Name); err != nil {
						fi.opts.Logger.Printf("error processing %s: %v", ev.Name, err)
						fi.errors++
					}
				}
			}
			if (ev.Op&fsnotify.Remove) != 0 || (ev.Op&fsnotify.Rename) != 0 {
				fi.mu.Lock()
				delete(fi.offsets, ev.Name)
				fi.mu.Unlock()
			}
		case err := <-w.Errors:
			if err != nil {
				fi.opts.Logger.Printf("watch error: %v", err)
			}
		}
	}
}

func (fi *FolderImporter) processJSONL(ctx context.Context, path string, startOffset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		// File might be transiently missing (rename/rotate)
		return startOffset, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err == nil {
		// Handle truncation: if shrunk, reset offset
		if st.Size() < startOffset {
			startOffset = 0
		}
	}
	if startOffset > 0 {
		if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
			return startOffset, err
		}
	}

	reader := bufio.NewReaderSize(f, 1024*1024)

	// Advance the offset by the exact bytes consumed per line so LF and
	// CRLF feeds both resume precisely where tailing left off.
	bytesRead := startOffset
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return bytesRead, err
		}
		atEOF := err == io.EOF

		if atEOF && fi.opts.Watch && line != "" {
			// A partial line without its newline is still being written;
			// leave the offset at its start and pick it up on the next event.
			return bytesRead, nil
		}

		bytesRead += int64(len(line))
		rec := strings.TrimSpace(line)
		if rec != "" {
			if perr := fi.processRecordJSON(ctx, []byte(rec)); perr != nil {
				fi.opts.Logger.Printf("record error in %s: %v", path, perr)
				fi.errors++
			}
		}
		if atEOF {
			return bytesRead, nil
		}
	}
}

func (fi *FolderImporter) processJSONFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	trim := strings.TrimSpace(string(data))
	if trim == "" {
		return nil
	}

	// If array, iterate; else parse single
	if strings.HasPrefix(trim, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(trim), &arr); err != nil {
			return err
		}
		for _, raw := range arr {
			if err := fi.processRecordJSON(ctx, raw); err != nil {
				fi.opts.Logger.Printf("record error in %s: %v", path, err)
				fi.errors++
			}
		}
		return nil
	}

	return fi.processRecordJSON(ctx, []byte(trim))
}

func (fi *FolderImporter) processRecordJSON(ctx context.Context, raw []byte) error {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("parse record: %w", err)
	}
	return fi.Import(ctx, rec)
}

// Import validates and inserts one feed record. Indicators already tracked
// are counted as skipped, not errors.
func (fi *FolderImporter) Import(ctx context.Context, rec Record) error {
	typ, err := ioc.ParseType(rec.Type)
	if err != nil {
		return err
	}
	value := ioc.Normalize(typ, rec.Value)
	if err := ioc.ValidateValue(typ, value); err != nil {
		return err
	}

	existing, err := fi.store.GetItemByIndicator(ctx, typ, value)
	if err != nil {
		return err
	}
	if existing != nil {
		fi.skipped++
		return nil
	}

	alertOnChange := true
	if rec.AlertOnChange != nil {
		alertOnChange = *rec.AlertOnChange
	}

	_, err = fi.store.AddItem(ctx, store.WatchlistItem{
		IndicatorType:      typ,
		IndicatorValue:     value,
		ScanFrequencyHours: rec.ScanFrequencyHours,
		IsActive:           true,
		AlertOnChange:      alertOnChange,
		OrganizationID:     rec.OrganizationID,
	})
	if err != nil {
		return err
	}
	fi.imported++
	return nil
}
