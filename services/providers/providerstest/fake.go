// Package providerstest provides a configurable in-memory context provider for tests.
package providerstest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

// Fake is a ContextProvider whose behaviour is set by its fields.
// A document with no configured fragment fails PromptFragment.
type Fake struct {
	snapshot providers.Snapshot

	mu        sync.Mutex
	next      []models.Document
	refreshFn func(ctx context.Context) error
	fragments map[string]*models.PromptFragment
	fragErr   error
	fragDelay time.Duration

	refreshCalls  atomic.Int32
	fragmentCalls atomic.Int32
}

// New returns a fake that already publishes docs
func New(docs ...models.Document) *Fake {
	f := &Fake{fragments: make(map[string]*models.PromptFragment)}
	f.next = docs
	f.snapshot.Store(docs)
	return f
}

// Doc builds a document with a fixed embedding
func Doc(title string, embedding ...float64) models.Document {
	return models.NewDocument(title, embedding, nil)
}

// WithNextDocuments sets what the next successful Refresh publishes
func (f *Fake) WithNextDocuments(docs ...models.Document) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = docs
	return f
}

// WithRefresh overrides Refresh. A nil error publishes the next documents.
func (f *Fake) WithRefresh(fn func(ctx context.Context) error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshFn = fn
	return f
}

// WithRefreshError makes every Refresh fail with err
func (f *Fake) WithRefreshError(err error) *Fake {
	return f.WithRefresh(func(context.Context) error { return err })
}

// WithFragment sets the fragment returned for a document title
func (f *Fake) WithFragment(title, text string, examples ...models.Example) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fragments == nil {
		f.fragments = make(map[string]*models.PromptFragment)
	}
	f.fragments[title] = &models.PromptFragment{Text: text, Examples: examples}
	return f
}

// WithFragmentError makes every PromptFragment fail with err
func (f *Fake) WithFragmentError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fragErr = err
	return f
}

// WithFragmentDelay makes PromptFragment wait before answering
func (f *Fake) WithFragmentDelay(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fragDelay = d
	return f
}

// Refresh implements providers.ContextProvider
func (f *Fake) Refresh(ctx context.Context) error {
	f.refreshCalls.Add(1)

	f.mu.Lock()
	fn, next := f.refreshFn, f.next
	f.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return f.snapshot.Publish(ctx, next)
}

// Documents implements providers.ContextProvider
func (f *Fake) Documents() []models.Document {
	return f.snapshot.Load()
}

// PromptFragment implements providers.ContextProvider
func (f *Fake) PromptFragment(ctx context.Context, doc models.Document, _ string) (*models.PromptFragment, error) {
	f.fragmentCalls.Add(1)

	f.mu.Lock()
	frag, err, delay := f.fragments[doc.Title], f.fragErr, f.fragDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if frag == nil {
		return nil, errors.New("no fragment for " + doc.Title)
	}
	return frag, nil
}

// RefreshCalls returns how many times Refresh was called
func (f *Fake) RefreshCalls() int {
	return int(f.refreshCalls.Load())
}

// FragmentCalls returns how many times PromptFragment was called
func (f *Fake) FragmentCalls() int {
	return int(f.fragmentCalls.Load())
}

// Block is a refresh function that never returns on its own; it ignores ctx
// until release is closed.
func Block(release <-chan struct{}) func(ctx context.Context) error {
	return func(context.Context) error {
		<-release
		return nil
	}
}
