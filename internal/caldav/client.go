// Package caldav is the only part of the system that talks to the network:
// a thin CalDAV client used to pull remote calendar objects into the local
// store and push local series out. The engine itself never touches it.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-webdav/caldav"

	"github.com/planora/planora/internal/domain"
	"github.com/planora/planora/internal/ics"
)

type Calendar struct {
	Path        string
	DisplayName string
}

type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	client       *caldav.Client
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

func (c *Client) SetCalendarPath(path string) {
	c.calendarPath = path
}

func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{username: c.username, password: c.password},
		Timeout:   30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}
	c.client = client
	return client, nil
}

type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns the calendars of the authenticated principal.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{Path: cal.Path, DisplayName: cal.Name})
	}
	return result, nil
}

// FetchEvents queries the calendar for VEVENTs in [from, to] and parses each
// returned object. Objects that fail to parse are skipped.
func (c *Client) FetchEvents(ctx context.Context, calendarPath string, from, to time.Time) ([]ics.ParsedEvent, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	if calendarPath == "" {
		calendarPath = c.calendarPath
	}
	if calendarPath == "" {
		return nil, fmt.Errorf("calendar path not specified")
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var events []ics.ParsedEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		parsed, err := ics.Import(obj.Data)
		if err != nil {
			continue
		}
		events = append(events, parsed...)
	}
	return events, nil
}

// PushSeries publishes a series with its overrides and exceptions as one
// calendar object named after its UID. PUT replaces, so update equals create.
func (c *Client) PushSeries(ctx context.Context, calendarPath string, series *domain.Event, overrides []*domain.Event, exceptions []*domain.RecurrenceException) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if calendarPath == "" {
		calendarPath = c.calendarPath
	}
	if calendarPath == "" {
		return fmt.Errorf("calendar path not specified")
	}

	cal, err := ics.Export(series, overrides, exceptions)
	if err != nil {
		return fmt.Errorf("export series %d: %w", series.ID, err)
	}

	uid := series.CalDAVUID
	if uid == "" {
		uid = fmt.Sprintf("planora-%d@planora.local", series.ID)
	}

	objectPath := calendarPath
	if !strings.HasSuffix(objectPath, "/") {
		objectPath += "/"
	}
	objectPath += uid + ".ics"

	if _, err := client.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return fmt.Errorf("put calendar object: %w", err)
	}
	return nil
}
