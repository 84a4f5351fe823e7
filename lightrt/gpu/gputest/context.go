package gputest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/lightcache/lightrt/gpu"
)

var ErrNested = errors.New("gputest: context entered while another is current")

type Context struct {
	label    string
	disposed bool
}

func (c *Context) Label() string  { return c.label }
func (c *Context) Disposed() bool { return c.disposed }

type Companion struct {
	label     string
	discarded bool
}

func (c *Companion) Label() string   { return c.label }
func (c *Companion) Discarded() bool { return c.discarded }

// ContextProvider is a recording gpu.ContextProvider. It treats any Enter while something is
// already current as a violation and refuses it, with the exception of the companion, which is
// entered inside its dedicated context.
type ContextProvider struct {
	mu sync.Mutex

	contexts   []*Context
	companions []*Companion
	events     []string

	current          any
	currentCompanion *Companion
	interactive      bool
	violations       int

	// FailCreate makes CreateBackgroundContext fail.
	FailCreate bool
	// FailEnterAfter makes the n-th Enter (context or interactive, 1-based) and all later ones fail.
	// Zero disables injection.
	FailEnterAfter int
	enters         int
}

func NewContextProvider() *ContextProvider {
	return &ContextProvider{}
}

func (p *ContextProvider) record(format string, args ...any) {
	p.events = append(p.events, fmt.Sprintf(format, args...))
}

func (p *ContextProvider) CreateBackgroundContext() (gpu.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCreate {
		return nil, fmt.Errorf("create context: %w", ErrInjected)
	}
	c := &Context{label: fmt.Sprintf("context-%d", len(p.contexts)+1)}
	p.contexts = append(p.contexts, c)
	p.record("create %s", c.label)
	return c, nil
}

func (p *ContextProvider) DisposeContext(c gpu.Context) {
	tc, ok := c.(*Context)
	if !ok || tc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tc.disposed = true
	p.record("dispose %s", tc.label)
}

func (p *ContextProvider) enter(label string, target any) error {
	p.enters++
	if p.FailEnterAfter > 0 && p.enters >= p.FailEnterAfter {
		p.record("enter %s failed", label)
		return fmt.Errorf("enter %s: %w", label, ErrInjected)
	}
	if p.current != nil {
		p.violations++
		return fmt.Errorf("enter %s: %w", label, ErrNested)
	}
	p.current = target
	p.record("enter %s", label)
	return nil
}

func (p *ContextProvider) EnterContext(c gpu.Context) error {
	tc, ok := c.(*Context)
	if !ok || tc == nil || tc.disposed {
		return gpu.ErrForeignHandle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enter(tc.label, tc)
}

func (p *ContextProvider) LeaveContext(c gpu.Context) {
	tc, ok := c.(*Context)
	if !ok || tc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == tc {
		p.current = nil
	}
	p.record("leave %s", tc.label)
}

func (p *ContextProvider) CreateCompanionContext() (gpu.Companion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Companion{label: fmt.Sprintf("companion-%d", len(p.companions)+1)}
	p.companions = append(p.companions, c)
	p.record("create %s", c.label)
	return c, nil
}

func (p *ContextProvider) DiscardCompanionContext(c gpu.Companion) {
	tc, ok := c.(*Companion)
	if !ok || tc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentCompanion != tc {
		// A companion may only be discarded while it is current.
		p.violations++
	} else {
		p.currentCompanion = nil
	}
	tc.discarded = true
	p.record("discard %s", tc.label)
}

func (p *ContextProvider) EnterCompanion(c gpu.Companion) error {
	tc, ok := c.(*Companion)
	if !ok || tc == nil || tc.discarded {
		return gpu.ErrForeignHandle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dedicated := p.current.(*Context); !dedicated || p.currentCompanion != nil {
		p.violations++
		return fmt.Errorf("enter %s: %w", tc.label, ErrNested)
	}
	p.currentCompanion = tc
	p.record("enter %s", tc.label)
	return nil
}

func (p *ContextProvider) LeaveCompanion(c gpu.Companion) {
	tc, ok := c.(*Companion)
	if !ok || tc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentCompanion == tc {
		p.currentCompanion = nil
	}
	p.record("leave %s", tc.label)
}

func (p *ContextProvider) EnterInteractive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", gpu.ErrContextBusy, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("interactive", "interactive"); err != nil {
		return err
	}
	p.interactive = true
	return nil
}

func (p *ContextProvider) LeaveInteractive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interactive {
		p.current = nil
		p.interactive = false
	}
	p.record("leave interactive")
}

// Events returns the recorded operation log.
func (p *ContextProvider) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *ContextProvider) Contexts() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Context(nil), p.contexts...)
}

func (p *ContextProvider) Companions() []*Companion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Companion(nil), p.companions...)
}

// Violations counts nesting and discard-order violations.
func (p *ContextProvider) Violations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.violations
}

// Current reports whether any context is current.
func (p *ContextProvider) Current() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil || p.currentCompanion != nil
}
