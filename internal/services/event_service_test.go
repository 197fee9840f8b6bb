package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/metrics"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

var errFlaky = errors.New("backend unavailable")

// flakyStore fails selected writes of the wrapped store.
type flakyStore struct {
	repository.Store

	mu sync.Mutex
	// failInsert fails inserts whose document has this day.
	failInsertDay string
	// failUpdateID and failDeleteID fail writes to that record id.
	failUpdateID string
	failDeleteID string
	// failuresLeft bounds how many times each rule fires; 0 means always.
	failuresLeft int
	calls        int
}

func (s *flakyStore) fire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failuresLeft == 0 {
		return true
	}
	if s.failuresLeft > 0 {
		s.failuresLeft--
		if s.failuresLeft == 0 {
			s.failuresLeft = -1
		}
		return true
	}
	return false
}

func (s *flakyStore) Insert(ctx context.Context, collection string, doc any) (string, error) {
	if r, ok := doc.(models.EventRecord); ok && r.Day.String() == s.failInsertDay && s.fire() {
		return "", errFlaky
	}
	return s.Store.Insert(ctx, collection, doc)
}

func (s *flakyStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if id == s.failUpdateID && s.fire() {
		return errFlaky
	}
	return s.Store.Update(ctx, collection, id, fields)
}

func (s *flakyStore) Delete(ctx context.Context, collection, id string) error {
	if id == s.failDeleteID && s.fire() {
		return errFlaky
	}
	return s.Store.Delete(ctx, collection, id)
}

type staticIDs struct{ next int64 }

func (g *staticIDs) Next() int64 {
	g.next++
	return g.next
}

type organizerSet map[string]bool

func (s organizerSet) Has(id string) bool { return s[id] }

var knownOrganizers = organizerSet{"home": true, "work": true}

func trip(start, end string) models.LogicalEvent {
	return models.LogicalEvent{
		Name:         "Trip",
		Color:        "green",
		StartDate:    calendar.MustParseDay(start),
		EndDate:      calendar.MustParseDay(end),
		StartTime:    "08:00",
		EndTime:      "20:00",
		CreatorID:    "ana@example.com",
		CreatorName:  "Ana",
		OrganizerIDs: []string{"home"},
	}
}

// editSeries edits the stored series of ev.ParentEventID.
func editSeries(ctx context.Context, t *testing.T, svc *EventService, ev models.LogicalEvent, organizers expansion.OrganizerSet) (SweepReport, error) {
	t.Helper()
	existing, err := svc.Series(ctx, ev.ParentEventID)
	require.NoError(t, err)
	return svc.EditEvent(ctx, ev, existing, organizers)
}

func newEventService(t *testing.T, store repository.Store, opts ...Option) *EventService {
	t.Helper()
	opts = append([]Option{WithParentIDs(&staticIDs{next: 1000})}, opts...)
	return NewEventService(store, zap.NewNop(), opts...)
}

func TestCreateEvent_WritesOneRecordPerDay(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	defer store.Close()
	svc := newEventService(t, store)

	report, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-03"), knownOrganizers)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, int64(1001), report.ParentEventID)
	assert.Len(t, report.Created, 3)

	series, err := svc.Series(ctx, 1001)
	require.NoError(t, err)
	require.Len(t, series, 3)
	want := []struct{ day, end string }{
		{"2024-01-01", "2024-01-03"},
		{"2024-01-02", "2024-01-03"},
		{"2024-01-03", "2024-01-03"},
	}
	for i, w := range want {
		assert.Equal(t, w.day, series[i].Day.String())
		assert.Equal(t, w.end, series[i].EndDateOfSeries.String())
		assert.Equal(t, int64(1001), series[i].ParentEventID)
		assert.NotEmpty(t, series[i].ID)
	}
}

func TestCreateEvent_ValidationPreventsWrites(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	defer store.Close()
	svc := newEventService(t, store)

	ev := trip("2024-01-03", "2024-01-01")
	_, err := svc.CreateEvent(ctx, ev, knownOrganizers)
	var verr *expansion.ValidationError
	require.ErrorAs(t, err, &verr)

	ev = trip("2024-01-01", "2024-01-01")
	ev.OrganizerIDs = []string{"school"}
	_, err = svc.CreateEvent(ctx, ev, knownOrganizers)
	require.ErrorAs(t, err, &verr)

	docs, err := store.Query(ctx, models.EventsCollection)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCreateEvent_PartialFailureKeepsWrittenDays(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	defer mem.Close()
	store := &flakyStore{Store: mem, failInsertDay: "2024-01-02"}
	svc := newEventService(t, store)

	report, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-03"), knownOrganizers)
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.False(t, report.Succeeded())
	assert.Len(t, report.Created, 2)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, OpCreate, report.Failures[0].Op)
	assert.Equal(t, "2024-01-02", report.Failures[0].Day)

	series, err := svc.Series(ctx, report.ParentEventID)
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestCreateEvent_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	defer mem.Close()
	store := &flakyStore{Store: mem, failInsertDay: "2024-01-02", failuresLeft: 2}
	m := metrics.New()
	svc := newEventService(t, store, WithRetries(2, time.Millisecond), WithMetrics(m))

	report, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-03"), knownOrganizers)
	require.NoError(t, err)
	assert.Len(t, report.Created, 3)
	assert.Equal(t, 3, store.calls)
}

func TestCreateEvent_RetryStopsOnCancel(t *testing.T) {
	mem := repository.NewMemoryStore()
	defer mem.Close()
	store := &flakyStore{Store: mem, failInsertDay: "2024-01-01"}
	svc := newEventService(t, store, WithRetries(5, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-01"), knownOrganizers)
	require.Error(t, err)
	assert.Len(t, report.Failures, 1)
}

func TestEditEvent_ShrinkAndRename(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	defer store.Close()
	svc := newEventService(t, store)

	created, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-03"), knownOrganizers)
	require.NoError(t, err)
	before, err := svc.Series(ctx, created.ParentEventID)
	require.NoError(t, err)

	ev := trip("2024-01-01", "2024-01-02")
	ev.ParentEventID = created.ParentEventID
	ev.Name = "Weekend"
	ev.OrganizerIDs = []string{"home", "work"}
	report, err := editSeries(ctx, t, svc, ev, knownOrganizers)
	require.NoError(t, err)
	assert.Len(t, report.Updated, 2)
	assert.Equal(t, []string{before[2].ID}, report.Deleted)
	assert.Empty(t, report.Created)

	after, err := svc.Series(ctx, created.ParentEventID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
	for _, r := range after {
		assert.Equal(t, "Weekend", r.Name)
		assert.Equal(t, []string{"home", "work"}, r.OrganizerIDs)
		assert.Equal(t, "2024-01-02", r.EndDateOfSeries.String())
	}
}

func TestEditEvent_GrowCreatesMissingDays(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	defer store.Close()
	svc := newEventService(t, store)

	created, err := svc.CreateEvent(ctx, trip("2024-01-02", "2024-01-02"), knownOrganizers)
	require.NoError(t, err)

	ev := trip("2024-01-01", "2024-01-04")
	ev.ParentEventID = created.ParentEventID
	ev.CreatorID = "someone-else@example.com"
	report, err := editSeries(ctx, t, svc, ev, knownOrganizers)
	require.NoError(t, err)
	assert.Len(t, report.Created, 3)
	assert.Len(t, report.Updated, 1)

	series, err := svc.Series(ctx, created.ParentEventID)
	require.NoError(t, err)
	require.Len(t, series, 4)
	for _, r := range series {
		assert.Equal(t, "ana@example.com", r.CreatorID, "edits keep the series creator")
	}

	got, err := svc.LogicalEvent(ctx, created.ParentEventID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", got.StartDate.String())
	assert.Equal(t, "2024-01-04", got.EndDate.String())
}

func TestEditEvent_FailedDeleteIsReportedNotRetriedForever(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	defer mem.Close()
	svc := newEventService(t, mem)

	created, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-03"), knownOrganizers)
	require.NoError(t, err)
	before, err := svc.Series(ctx, created.ParentEventID)
	require.NoError(t, err)

	flaky := &flakyStore{Store: mem, failDeleteID: before[2].ID}
	svc = newEventService(t, flaky, WithRetries(1, 0))

	ev := trip("2024-01-01", "2024-01-02")
	ev.ParentEventID = created.ParentEventID
	report, err := editSeries(ctx, t, svc, ev, knownOrganizers)
	require.Error(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, OpDelete, report.Failures[0].Op)
	assert.Equal(t, before[2].ID, report.Failures[0].RecordID)
	assert.Len(t, report.Updated, 2, "other writes still happen")
	assert.Equal(t, 2, flaky.calls)
}

func TestEditEvent_UnknownSeries(t *testing.T) {
	store := repository.NewMemoryStore()
	defer store.Close()
	svc := newEventService(t, store)

	_, err := svc.LogicalEvent(context.Background(), 77)
	assert.ErrorIs(t, err, ErrSeriesNotFound)

	ev := trip("2024-01-01", "2024-01-01")
	_, err = svc.EditEvent(context.Background(), ev, nil, nil)
	var verr *expansion.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "parentEventId", verr.Field)
}

func TestDeleteEvent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	defer store.Close()
	svc := newEventService(t, store)

	keep, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-01"), knownOrganizers)
	require.NoError(t, err)
	drop, err := svc.CreateEvent(ctx, trip("2024-01-01", "2024-01-03"), knownOrganizers)
	require.NoError(t, err)

	report, err := svc.DeleteEvent(ctx, drop.ParentEventID)
	require.NoError(t, err)
	assert.Len(t, report.Deleted, 3)

	series, err := svc.Series(ctx, drop.ParentEventID)
	require.NoError(t, err)
	assert.Empty(t, series)
	series, err = svc.Series(ctx, keep.ParentEventID)
	require.NoError(t, err)
	assert.Len(t, series, 1)

	_, err = svc.DeleteEvent(ctx, drop.ParentEventID)
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestClockParentIDsAreIncreasing(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &ClockParentIDs{now: func() time.Time { return fixed }}

	a, b, c := g.Next(), g.Next(), g.Next()
	assert.Equal(t, fixed.UnixNano(), a)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestSweepReportErr(t *testing.T) {
	var r SweepReport
	assert.NoError(t, r.Err())

	r.Failures = []*WriteFailure{
		{Op: OpCreate, Day: "2024-01-01", Err: errFlaky},
		{Op: OpDelete, Day: "2024-01-02", RecordID: "x", Err: context.Canceled},
	}
	err := r.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "delete 2024-01-02 (x)")
}
