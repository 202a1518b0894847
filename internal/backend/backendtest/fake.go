// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/backend"
	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
)

// Operation names used for call counting, failure injection and holds.
const (
	OpGetUser     = "GetUser"
	OpSignIn      = "SignInWithPassword"
	OpSignUp      = "SignUp"
	OpSignOut     = "SignOut"
	OpInsertEvent = "InsertEvent"
	OpGetEvent    = "GetEvent"
	OpInsertMedia = "InsertMedia"
	OpSelectMedia = "SelectMedia"
	OpUpload      = "Upload"
)

// Hold parks one call until released. The call's result is computed before it parks.
type Hold struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed once the held call has computed its result and parked.
func (h *Hold) Entered() <-chan struct{} { return h.entered }

// Release lets the held call return.
func (h *Hold) Release() { h.once.Do(func() { close(h.release) }) }

type account struct {
	user     model.User
	password string
}

type subscription struct {
	f  *Fake
	id int
}

func (s subscription) Cancel() {
	s.f.mu.Lock()
	delete(s.f.subs, s.id)
	s.f.mu.Unlock()
}

// Fake is an in-memory backend.Client. Session changes are delivered
// synchronously, before the triggering call returns.
type Fake struct {
	mu       sync.Mutex
	accounts map[string]account
	session  *model.Session
	events   map[uuid.UUID]model.Event
	media    []model.Media
	subs     map[int]backend.SessionHandler
	nextSub  int
	calls    map[string]int
	fail     map[string]error
	holds    map[string][]*Hold
	tick     time.Time
	closed   bool

	// NoRow makes InsertEvent succeed without returning a row.
	NoRow bool
	// BaseURL prefixes upload URLs.
	BaseURL string
}

var _ backend.Client = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		accounts: map[string]account{},
		events:   map[uuid.UUID]model.Event{},
		subs:     map[int]backend.SessionHandler{},
		calls:    map[string]int{},
		fail:     map[string]error{},
		holds:    map[string][]*Hold{},
		tick:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		BaseURL:  "https://cdn.test",
	}
}

// AddUser registers an account directly and returns its user.
func (f *Fake) AddUser(email, password string) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := model.User{ID: uuid.Must(uuid.NewV4()), Email: email, CreatedAt: f.now()}
	f.accounts[email] = account{user: u, password: password}
	return u
}

// Fail makes every later call of op return err wrapped as a backend error. A nil err clears it.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// HoldNext parks the next call of op. Holds queue up in call order.
func (f *Fake) HoldNext(op string) *Hold {
	h := &Hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.holds[op] = append(f.holds[op], h)
	f.mu.Unlock()
	return h
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Media returns every stored media row.
func (f *Fake) Media() []model.Media {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Media(nil), f.media...)
}

// Events returns how many events are stored.
func (f *Fake) Events() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ExpireSession drops the session and notifies subscribers, as a server-side revoke would.
func (f *Fake) ExpireSession() {
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.publish(model.AuthSignedOut, nil)
}

// now advances a logical clock so rows inserted later sort later.
func (f *Fake) now() time.Time {
	f.tick = f.tick.Add(time.Second)
	return f.tick
}

// begin counts the call and returns the injected failure and hold, if any. Caller holds f.mu.
func (f *Fake) begin(op string) (*Hold, error) {
	f.calls[op]++
	var h *Hold
	if q := f.holds[op]; len(q) > 0 {
		h = q[0]
		f.holds[op] = q[1:]
	}
	if err := f.fail[op]; err != nil {
		return h, errs.Backend(op, err)
	}
	return h, nil
}

func park(ctx context.Context, h *Hold) error {
	if h == nil {
		return nil
	}
	close(h.entered)
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) publish(ev model.AuthEvent, s *model.Session) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]backend.SessionHandler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, f.subs[id])
	}
	f.mu.Unlock()
	for _, h := range hs {
		var c *model.Session
		if s != nil {
			cp := *s
			c = &cp
		}
		h(ev, c)
	}
}

func (f *Fake) currentUser() (model.User, bool) {
	if f.session == nil {
		return model.User{}, false
	}
	return f.session.User, true
}

func (f *Fake) GetUser(ctx context.Context) (*model.User, error) {
	f.mu.Lock()
	h, err := f.begin(OpGetUser)
	u, ok := f.currentUser()
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return nil, perr
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *Fake) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	f.mu.Lock()
	h, err := f.begin(OpSignIn)
	var s *model.Session
	if err == nil {
		acc, ok := f.accounts[email]
		if !ok || acc.password != password {
			err = errs.Backend(OpSignIn, errs.ErrUnauthorized)
		} else {
			s = &model.Session{
				AccessToken:  uuid.Must(uuid.NewV4()).String(),
				RefreshToken: uuid.Must(uuid.NewV4()).String(),
				ExpiresAt:    f.tick.Add(time.Hour),
				User:         acc.user,
			}
			f.session = s
		}
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return nil, perr
	}
	if err != nil {
		return nil, err
	}
	f.publish(model.AuthSignedIn, s)
	out := *s
	return &out, nil
}

func (f *Fake) SignUp(ctx context.Context, email, password string) (*model.User, error) {
	f.mu.Lock()
	h, err := f.begin(OpSignUp)
	var u model.User
	if err == nil {
		if _, dup := f.accounts[email]; dup {
			err = errs.Backend(OpSignUp, errs.ErrAlreadyExists)
		} else if email == "" || len(password) < 6 {
			err = errs.Backend(OpSignUp, errs.ErrInvalidArgument)
		} else {
			u = model.User{ID: uuid.Must(uuid.NewV4()), Email: email, CreatedAt: f.now()}
			f.accounts[email] = account{user: u, password: password}
		}
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return nil, perr
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	f.mu.Lock()
	h, err := f.begin(OpSignOut)
	if err == nil {
		f.session = nil
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	f.publish(model.AuthSignedOut, nil)
	return nil
}

// OnSessionChange registers h and delivers AuthInitialSession immediately.
func (f *Fake) OnSessionChange(h backend.SessionHandler) backend.Subscription {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.subs[id] = h
	var s *model.Session
	if f.session != nil {
		cp := *f.session
		s = &cp
	}
	f.mu.Unlock()
	h(model.AuthInitialSession, s)
	return subscription{f: f, id: id}
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Fake) authorize(op string) (model.User, error) {
	u, ok := f.currentUser()
	if !ok {
		return model.User{}, errs.Backend(op, errs.ErrUnauthorized)
	}
	return u, nil
}

func (f *Fake) InsertEvent(ctx context.Context, row model.NewEvent) (*model.Event, error) {
	f.mu.Lock()
	h, err := f.begin(OpInsertEvent)
	var ev *model.Event
	if err == nil {
		var u model.User
		u, err = f.authorize(OpInsertEvent)
		switch {
		case err != nil:
		case row.UserID != u.ID:
			err = errs.Backend(OpInsertEvent, errs.ErrUnauthorized)
		case row.Name == "":
			err = errs.Backend(OpInsertEvent, errs.ErrInvalidArgument)
		default:
			id := row.ID
			if id == uuid.Nil {
				id = uuid.Must(uuid.NewV4())
			}
			if _, dup := f.events[id]; dup {
				err = errs.Backend(OpInsertEvent, errs.ErrAlreadyExists)
				break
			}
			stored := model.Event{
				ID: id, Name: row.Name, Description: row.Description, QRCode: row.QRCode,
				ExpiresAt: row.ExpiresAt, CreatedAt: f.now(), UserID: row.UserID,
			}
			f.events[id] = stored
			if !f.NoRow {
				ev = &stored
			}
		}
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return nil, perr
	}
	return ev, err
}

func (f *Fake) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	f.mu.Lock()
	h, err := f.begin(OpGetEvent)
	var ev *model.Event
	if err == nil {
		if stored, ok := f.events[id]; ok {
			ev = &stored
		} else {
			err = errs.Backend(OpGetEvent, errs.ErrNotFound)
		}
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return nil, perr
	}
	return ev, err
}

func (f *Fake) InsertMedia(ctx context.Context, row model.NewMedia) (*model.Media, error) {
	f.mu.Lock()
	h, err := f.begin(OpInsertMedia)
	var m *model.Media
	if err == nil {
		var u model.User
		u, err = f.authorize(OpInsertMedia)
		switch {
		case err != nil:
		case row.UserID != u.ID:
			err = errs.Backend(OpInsertMedia, errs.ErrUnauthorized)
		case !row.Type.Valid() || row.URL == "":
			err = errs.Backend(OpInsertMedia, errs.ErrInvalidArgument)
		default:
			if _, ok := f.events[row.EventID]; !ok {
				err = errs.Backend(OpInsertMedia, errs.ErrNotFound)
				break
			}
			stored := model.Media{
				ID: uuid.Must(uuid.NewV4()), EventID: row.EventID, Type: row.Type,
				URL: row.URL, CreatedAt: f.now(), UserID: row.UserID,
			}
			f.media = append(f.media, stored)
			m = &stored
		}
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return nil, perr
	}
	return m, err
}

func (f *Fake) SelectMedia(ctx context.Context, eventID uuid.UUID) ([]model.Media, error) {
	f.mu.Lock()
	h, err := f.begin(OpSelectMedia)
	var out []model.Media
	if err == nil {
		if _, err = f.authorize(OpSelectMedia); err == nil {
			out = []model.Media{}
			for _, m := range f.media {
				if m.EventID == eventID {
					out = append(out, m)
				}
			}
			sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		}
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return nil, perr
	}
	return out, err
}

func (f *Fake) Upload(ctx context.Context, eventID uuid.UUID, kind model.MediaType, _ string, data []byte) (string, error) {
	f.mu.Lock()
	h, err := f.begin(OpUpload)
	var url string
	if err == nil {
		if _, err = f.authorize(OpUpload); err == nil {
			if len(data) == 0 {
				err = errs.Backend(OpUpload, errs.ErrInvalidArgument)
			} else {
				url = f.BaseURL + "/events/" + eventID.String() + "/" + string(kind) + "-" + uuid.Must(uuid.NewV4()).String()
			}
		}
	}
	f.mu.Unlock()
	if perr := park(ctx, h); perr != nil {
		return "", perr
	}
	return url, err
}

// Close marks the fake closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}
