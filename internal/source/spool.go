package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"friendwatch/internal/storage"
	logx "friendwatch/pkg/logx"
)

const spoolOffsetPrefix = "spool-offset-"

type SpoolOptions struct {
	Path string
	// Store keeps the read offset across restarts. Optional.
	Store storage.Store
	// FromStart reads an existing file from the beginning when no offset is
	// stored. Otherwise reading starts at the current end.
	FromStart bool
	// PollInterval is a fallback for filesystems without change events.
	PollInterval time.Duration
	Logger       logx.Logger
}

// Spool tails a JSONL file of presence batches.
type Spool struct {
	opts   SpoolOptions
	offset int64
	saved  int64

	lines   atomic.Uint64
	skipped atomic.Uint64
}

type SpoolStats struct {
	Offset  int64
	Lines   uint64
	Skipped uint64
}

func NewSpool(opts SpoolOptions) *Spool {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	return &Spool{opts: opts, saved: -1}
}

func (s *Spool) Stats() SpoolStats {
	return SpoolStats{Offset: atomic.LoadInt64(&s.offset), Lines: s.lines.Load(), Skipped: s.skipped.Load()}
}

// Run pushes every complete line appended to the spool into feed until ctx
// is done.
func (s *Spool) Run(ctx context.Context, feed *Feed) error {
	log := s.opts.Logger
	dir := filepath.Dir(s.opts.Path)
	file := filepath.Base(s.opts.Path)

	atomic.StoreInt64(&s.offset, s.initialOffset(ctx))
	log.Info("spool tail started", logx.String("path", s.opts.Path), logx.Int64("offset", atomic.LoadInt64(&s.offset)))

	var events <-chan fsnotify.Event
	var errs <-chan error
	w, err := fsnotify.NewWatcher()
	if err == nil {
		if err = w.Add(dir); err != nil {
			_ = w.Close()
		}
	}
	if err != nil {
		log.Warn("spool watch unavailable; polling only", logx.String("dir", dir), logx.Err(err))
	} else {
		defer w.Close()
		events, errs = w.Events, w.Errors
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	if err := s.drain(ctx, feed); err != nil {
		return s.exit(ctx, err)
	}
	for {
		select {
		case <-ctx.Done():
			return s.exit(ctx, nil)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Info("spool rotated", logx.String("path", s.opts.Path))
				atomic.StoreInt64(&s.offset, 0)
				continue
			}
			if err := s.drain(ctx, feed); err != nil {
				return s.exit(ctx, err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("spool watch error", logx.Err(err))
		case <-ticker.C:
			if err := s.drain(ctx, feed); err != nil {
				return s.exit(ctx, err)
			}
		}
	}
}

func (s *Spool) exit(ctx context.Context, err error) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	s.saveOffset(sctx)
	cancel()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrFeedClosed) {
		return nil
	}
	return err
}

// drain reads complete lines from the current offset. A trailing line
// without a newline is left for the next call.
func (s *Spool) drain(ctx context.Context, feed *Feed) error {
	f, err := os.Open(s.opts.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	off := atomic.LoadInt64(&s.offset)
	if st, err := f.Stat(); err == nil && st.Size() < off {
		s.opts.Logger.Warn("spool truncated; rereading", logx.Int64("size", st.Size()), logx.Int64("offset", off))
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return err
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		next := off + int64(len(line))
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			off = next
			continue
		}
		b, derr := DecodeBatch(trimmed)
		if derr != nil {
			s.skipped.Add(1)
			s.opts.Logger.Warn("spool line skipped", logx.Int64("offset", off), logx.Err(derr))
			off = next
			continue
		}
		if err := feed.Push(ctx, b); err != nil {
			atomic.StoreInt64(&s.offset, off)
			return err
		}
		s.lines.Add(1)
		off = next
	}
	atomic.StoreInt64(&s.offset, off)
	s.saveOffset(ctx)
	return nil
}

func (s *Spool) offsetKey() string {
	return spoolOffsetPrefix + filepath.Base(s.opts.Path)
}

func (s *Spool) initialOffset(ctx context.Context) int64 {
	if s.opts.Store != nil {
		raw, ok, err := s.opts.Store.Get(ctx, s.offsetKey())
		if err != nil {
			s.opts.Logger.Warn("spool offset unreadable", logx.Err(err))
		} else if ok {
			if n, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil && n >= 0 {
				s.saved = n
				return n
			}
		}
	}
	if s.opts.FromStart {
		return 0
	}
	if st, err := os.Stat(s.opts.Path); err == nil {
		return st.Size()
	}
	return 0
}

func (s *Spool) saveOffset(ctx context.Context) {
	off := atomic.LoadInt64(&s.offset)
	if s.opts.Store == nil || off == s.saved {
		return
	}
	if err := s.opts.Store.Set(ctx, s.offsetKey(), []byte(strconv.FormatInt(off, 10))); err != nil {
		s.opts.Logger.Debug("spool offset not saved", logx.Err(err))
		return
	}
	s.saved = off
}
