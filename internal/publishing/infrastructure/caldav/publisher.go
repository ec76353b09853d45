// Package caldav implements domain.Publisher over CalDAV (Apple Calendar,
// Fastmail, Nextcloud, and similar), adapted from the calendar sync client's
// client-construction and upsert pattern.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"golang.org/x/oauth2"
)

// PropXPubkeeper marks events this engine created, mirroring the calendar
// sync client's custom-property convention.
const PropXPubkeeper = "X-PUBKEEPER"

// TargetResolver maps a targetId to the CalDAV calendar collection it
// publishes into. Credential and transport wiring is treated as an
// external concern; this is that seam.
type TargetResolver interface {
	CalendarPath(ctx context.Context, targetID string) (string, error)
}

// Publisher implements domain.Publisher by PUTting a VEVENT to the
// resolved calendar collection.
type Publisher struct {
	baseURL  string
	resolver TargetResolver
	logger   *slog.Logger

	httpClient *http.Client
}

// NewBasicAuthPublisher builds a Publisher authenticating with a CalDAV
// app-specific password (Apple/Fastmail style).
func NewBasicAuthPublisher(baseURL, username, password string, resolver TargetResolver, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		baseURL:  baseURL,
		resolver: resolver,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &basicAuthTransport{
				username: username,
				password: password,
				base:     http.DefaultTransport,
			},
		},
	}
}

// NewOAuth2Publisher builds a Publisher authenticating with an OAuth2
// token source (Google/Microsoft-hosted CalDAV bridges).
func NewOAuth2Publisher(baseURL string, tokenSource oauth2.TokenSource, resolver TargetResolver, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		baseURL:  baseURL,
		resolver: resolver,
		logger:   logger,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &oauth2.Transport{Source: tokenSource, Base: http.DefaultTransport},
		},
	}
}

// PublishEvent implements domain.Publisher.
func (p *Publisher) PublishEvent(ctx context.Context, targetID string, details domain.EventDetails, startsAt, endsAt time.Time) (domain.PublishOutcome, error) {
	client, err := caldav.NewClient(p.httpClient, p.baseURL)
	if err != nil {
		return domain.PublishOutcome{}, fmt.Errorf("build caldav client: %w", err)
	}

	calPath, err := p.resolver.CalendarPath(ctx, targetID)
	if err != nil {
		return domain.PublishOutcome{}, fmt.Errorf("resolve target calendar: %w", err)
	}

	eventID := deterministicEventID(targetID, startsAt)
	eventPath := fmt.Sprintf("%s%s.ics", calPath, eventID)

	cal := toICalendar(eventID, details, startsAt, endsAt)
	if _, err := client.PutCalendarObject(ctx, eventPath, cal); err != nil {
		return domain.PublishOutcome{}, classifyTransportError(err)
	}

	return domain.PublishOutcome{EventID: eventID}, nil
}

// classifyTransportError turns a CalDAV client error into the rate-limit
// or transient error shape PublishWorker expects: a wrapped HTTP status of
// 429, or a message mentioning rate limiting, classifies as a rate-limit
// error.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	status := 0
	msg := err.Error()
	if idx := strings.Index(msg, "HTTP error "); idx >= 0 {
		rest := msg[idx+len("HTTP error "):]
		end := strings.IndexAny(rest, " :")
		if end < 0 {
			end = len(rest)
		}
		if code, convErr := strconv.Atoi(rest[:end]); convErr == nil {
			status = code
		}
	}
	return domain.ClassifyPublishError("", status, msg)
}

func deterministicEventID(targetID string, startsAt time.Time) string {
	return fmt.Sprintf("pubkeeper-%s-%d", targetID, startsAt.UTC().UnixMilli())
}

func toICalendar(eventID string, details domain.EventDetails, startsAt, endsAt time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//pubkeeper//Publishing Engine//EN")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, eventID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, startsAt.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, endsAt.UTC())
	event.Props.SetText(ical.PropSummary, details.Title)
	if details.Description != "" {
		event.Props.SetText(ical.PropDescription, details.Description)
	}

	marker := ical.NewProp(PropXPubkeeper)
	marker.Value = "1"
	event.Props[PropXPubkeeper] = []ical.Prop{*marker}

	cal.Children = append(cal.Children, event.Component)
	return cal
}

type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}
