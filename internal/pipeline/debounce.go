package pipeline

import (
	"slices"
	"strings"
	"time"

	"filedrop/internal/model"
)

type pendingChange struct {
	event model.FileEvent
	due   time.Time
}

// Debounce holds back FILE_CHANGED events until a path has been quiet for
// delay, keeping only the latest one. Every other event is forwarded at
// once. An add for a path supersedes its pending change, and a removal
// discards pending changes for the path and everything below it, so a late
// change can never bring a removed entry back.
func Debounce(inCh <-chan model.FileEvent, delay time.Duration) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	if delay <= 0 {
		go func() {
			defer close(outCh)
			for event := range inCh {
				outCh <- event
			}
		}()
		return outCh
	}

	go func() {
		defer close(outCh)

		pending := make(map[string]pendingChange)
		timer := time.NewTimer(delay)
		timer.Stop()
		var timerCh <-chan time.Time

		for {
			select {
			case event, ok := <-inCh:
				if !ok {
					timer.Stop()
					flush(outCh, pending, time.Time{})
					return
				}

				switch {
				case event.Type == model.EventFileChanged:
					pending[event.Path] = pendingChange{
						event: event,
						due:   time.Now().Add(delay),
					}
				case event.IsRemove():
					dropBelow(pending, event.Path)
					outCh <- event
				case event.IsAdd():
					delete(pending, event.Path)
					outCh <- event
				default:
					outCh <- event
				}

			case now := <-timerCh:
				flush(outCh, pending, now)
			}

			timerCh = nil
			if next, ok := earliest(pending); ok {
				timer.Reset(time.Until(next))
				timerCh = timer.C
			}
		}
	}()

	return outCh
}

// flush emits pending changes due at or before now, oldest first. A zero
// now flushes everything.
func flush(outCh chan<- model.FileEvent, pending map[string]pendingChange, now time.Time) {
	var due []pendingChange
	for path, p := range pending {
		if now.IsZero() || !p.due.After(now) {
			due = append(due, p)
			delete(pending, path)
		}
	}

	slices.SortFunc(due, func(a, b pendingChange) int {
		if c := a.due.Compare(b.due); c != 0 {
			return c
		}
		return strings.Compare(a.event.Path, b.event.Path)
	})

	for _, p := range due {
		outCh <- p.event
	}
}

func dropBelow(pending map[string]pendingChange, root string) {
	if root == "" {
		clear(pending)
		return
	}

	prefix := root + "/"
	for path := range pending {
		if path == root || strings.HasPrefix(path, prefix) {
			delete(pending, path)
		}
	}
}

func earliest(pending map[string]pendingChange) (time.Time, bool) {
	var next time.Time
	for _, p := range pending {
		if next.IsZero() || p.due.Before(next) {
			next = p.due
		}
	}
	return next, !next.IsZero()
}
