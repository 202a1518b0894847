package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/limiter"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/repository"
)

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]*model.Account

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*model.Account{}
	}
	if _, exists := f.byEmail[a.Email]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *a
	f.byEmail[a.Email] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byEmail {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.SessionRecord

	createErr error
	// afterLookup runs after GetByRefreshHash found a row, outside the lock.
	afterLookup func()
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: map[uuid.UUID]*model.SessionRecord{}}
}

func (f *fakeSessions) Create(_ context.Context, s *model.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	c := *s
	f.byID[s.ID] = &c
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id uuid.UUID) (*model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessions) GetByRefreshHash(_ context.Context, hash []byte) (*model.SessionRecord, error) {
	f.mu.Lock()
	var found *model.SessionRecord
	for _, s := range f.byID {
		if string(s.RefreshHash) == string(hash) {
			c := *s
			found = &c
		}
	}
	hook := f.afterLookup
	f.mu.Unlock()
	if found == nil {
		return nil, errs.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return found, nil
}

func (f *fakeSessions) Rotate(_ context.Context, id uuid.UUID, oldHash, hash []byte, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok || string(s.RefreshHash) != string(oldHash) {
		return errs.ErrNotFound
	}
	s.RefreshHash = append([]byte(nil), hash...)
	s.ExpiresAt = exp
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

func (f *fakeSessions) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeEvents struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Event
	now  time.Time

	insertErr error
}

var _ repository.EventRepository = (*fakeEvents)(nil)

func newFakeEvents() *fakeEvents {
	return &fakeEvents{rows: map[uuid.UUID]model.Event{}, now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeEvents) Insert(_ context.Context, in model.NewEvent) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.Must(uuid.NewV4())
	}
	ev := model.Event{
		ID: in.ID, Name: in.Name, Description: in.Description, QRCode: in.QRCode,
		ExpiresAt: in.ExpiresAt, CreatedAt: f.now, UserID: in.UserID,
	}
	f.rows[ev.ID] = ev
	return &ev, nil
}

func (f *fakeEvents) Get(_ context.Context, id uuid.UUID) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &ev, nil
}

type fakeMedia struct {
	mu     sync.Mutex
	events *fakeEvents
	rows   []model.Media
	now    time.Time
}

var _ repository.MediaRepository = (*fakeMedia)(nil)

func (f *fakeMedia) Insert(ctx context.Context, in model.NewMedia) (*model.Media, error) {
	if _, err := f.events.Get(ctx, in.EventID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(time.Second)
	m := model.Media{ID: uuid.Must(uuid.NewV4()), EventID: in.EventID, Type: in.Type, URL: in.URL, CreatedAt: f.now, UserID: in.UserID}
	f.rows = append(f.rows, m)
	return &m, nil
}

func (f *fakeMedia) ListByEvent(_ context.Context, eventID uuid.UUID) ([]model.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Media{}
	for _, m := range f.rows {
		if m.EventID == eventID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
