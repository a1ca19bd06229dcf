// Package calendar serves upcoming events from one or more ICS feeds.
package calendar

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

const (
	// DocumentTitle is the single document this provider publishes
	DocumentTitle = "All calendar events (meetings, appointments, tasks) for the next week."

	fragmentHeader   = "Calendar events for the next week:\n"
	defaultLookahead = 7 * 24 * time.Hour
	defaultTimeout   = 30 * time.Second
)

// Event is a calendar entry kept between refreshes
type Event struct {
	Summary string
	Start   time.Time
}

// Provider implements providers.ContextProvider for ICS calendars
type Provider struct {
	cfg        config.CalendarConfig
	embedder   providers.Embedder
	httpClient *http.Client
	location   *time.Location
	lookahead  time.Duration
	now        func() time.Time

	docs   providers.Snapshot
	events atomic.Pointer[[]Event]
}

// Option configures a Provider
type Option func(*Provider)

// WithHTTPClient sets the client used to download calendars
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithClock overrides the time source used to select upcoming events
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates a calendar provider
func New(cfg config.CalendarConfig, embedder providers.Embedder, opts ...Option) (*Provider, error) {
	if len(cfg.Calendars) == 0 {
		return nil, fmt.Errorf("calendar provider needs at least one calendar")
	}

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	p := &Provider{
		cfg:        cfg,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: defaultTimeout},
		location:   loc,
		lookahead:  cfg.Lookahead,
		now:        time.Now,
	}
	if p.lookahead <= 0 {
		p.lookahead = defaultLookahead
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Refresh downloads every calendar. Nothing is published unless all succeed.
func (p *Provider) Refresh(ctx context.Context) error {
	var events []Event
	for _, src := range p.cfg.Calendars {
		evs, err := p.fetch(ctx, src)
		if err != nil {
			return err
		}
		events = append(events, evs...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	doc, err := providers.EmbedDocument(ctx, p.embedder, DocumentTitle, nil)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("calendar refresh abandoned: %w", err)
	}
	p.events.Store(&events)
	return p.docs.Publish(ctx, []models.Document{doc})
}

func (p *Provider) fetch(ctx context.Context, src config.CalendarSource) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar request: %w", err)
	}
	if src.Username != "" || src.Password != "" {
		req.SetBasicAuth(src.Username, src.Password)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch calendar %s: status %d", src.URL, resp.StatusCode)
	}

	cal, err := ics.ParseCalendar(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar %s: %w", src.URL, err)
	}

	var events []Event
	for _, ev := range cal.Events() {
		start, err := ev.GetStartAt()
		if err != nil {
			// events without a usable DTSTART cannot be placed in the week
			continue
		}
		summary := ""
		if prop := ev.GetProperty(ics.ComponentPropertySummary); prop != nil {
			summary = prop.Value
		}
		events = append(events, Event{Summary: summary, Start: start})
	}
	return events, nil
}

// Documents returns the published documents
func (p *Provider) Documents() []models.Document {
	return p.docs.Load()
}

// Upcoming returns the events starting within the lookahead window
func (p *Provider) Upcoming() []Event {
	all := p.events.Load()
	if all == nil {
		return nil
	}

	start := p.now()
	end := start.Add(p.lookahead)

	var out []Event
	for _, ev := range *all {
		if !ev.Start.Before(start) && ev.Start.Before(end) {
			out = append(out, ev)
		}
	}
	return out
}

// PromptFragment lists the upcoming events
func (p *Provider) PromptFragment(_ context.Context, _ models.Document, _ string) (*models.PromptFragment, error) {
	var b strings.Builder
	b.WriteString(fragmentHeader)
	for _, ev := range p.Upcoming() {
		at := ev.Start.In(p.location)
		fmt.Fprintf(&b, "\n- %s at %s on %s, %s",
			ev.Summary, at.Format("03:04 PM"), at.Format("Monday"), at.Format("January 02"))
	}
	return &models.PromptFragment{Text: b.String()}, nil
}
