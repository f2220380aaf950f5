package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/submission"
	"wetmill_sms/internal/domain/wetmill"
	idb "wetmill_sms/internal/infra/database"
)

var kigali = mustLoad("Africa/Kigali")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type sentMessage struct {
	Conn outgoing.Connection
	Text string
}

type fakeRouter struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[string]bool // identities that fail
	seq    int
}

func (r *fakeRouter) AddOutgoing(_ context.Context, conn outgoing.Connection, text string) (*outgoing.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg := &outgoing.Message{
		ID:           fmt.Sprintf("msg-%d", r.seq),
		ConnectionID: conn.ID,
		Backend:      conn.Backend,
		Identity:     conn.Identity,
		Text:         text,
		Status:       outgoing.StatusSent,
	}
	if r.failOn[conn.Identity] {
		msg.Status = outgoing.StatusFailed
		return msg, fmt.Errorf("backend unavailable")
	}
	r.sent = append(r.sent, sentMessage{Conn: conn, Text: text})
	return msg, nil
}

func (r *fakeRouter) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, m := range r.sent {
		out[i] = m.Text
	}
	return out
}

func (r *fakeRouter) identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, m := range r.sent {
		out[i] = m.Conn.Identity
	}
	return out
}

func conn(id int64, phone string) outgoing.Connection {
	return outgoing.Connection{ID: id, Backend: "twilio", Identity: phone}
}

func actor(id int64, kind recipient.Kind, wetmillID int64, c outgoing.Connection, lang string) *recipient.Actor {
	a := &recipient.Actor{ID: id, Role: kind, Name: fmt.Sprintf("%s-%d", kind, id), Connection: c, WetmillID: wetmillID, IsActive: true}
	if lang != "" {
		a.Language.String, a.Language.Valid = lang, true
	}
	return a
}

type fakeActors struct {
	actors []*recipient.Actor
}

func (f *fakeActors) GetByID(_ context.Context, id int64) (*recipient.Actor, error) {
	for _, a := range f.actors {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, idb.ErrActorNotFound
}

func (f *fakeActors) ListActiveByWetmill(_ context.Context, kind recipient.Kind, wetmillID int64) ([]*recipient.Actor, error) {
	var out []*recipient.Actor
	for _, a := range f.actors {
		if a.Role == kind && a.WetmillID == wetmillID && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeActors) ExistsForConnection(_ context.Context, kind recipient.Kind, connectionID int64) (bool, error) {
	for _, a := range f.actors {
		if a.Role == kind && a.Connection.ID == connectionID && a.IsActive {
			return true, nil
		}
	}
	return false, nil
}

type deliveryCall struct {
	BroadcastID, WetmillID, SeasonID int64
	MessageIDs                       []string
}

type fakeMessages struct {
	mu         sync.Mutex
	blurbs     []*message.Blurb
	ccs        []*message.CC
	helps      []*message.Help
	reports    []*message.ScheduledReport
	broadcasts []*message.SeasonEndBroadcast
	deliveries []deliveryCall
	dispatched map[int64]time.Time

	scheduled         []*message.Broadcast
	broadcastMessages map[int64][]string
}

func (f *fakeMessages) GetBlurb(_ context.Context, form, slug string) (*message.Blurb, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.blurbs {
		if b.Form == form && b.Slug == slug {
			return b, nil
		}
	}
	return nil, idb.ErrBlurbNotFound
}

func (f *fakeMessages) CreateBlurb(_ context.Context, b *message.Blurb) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = int64(len(f.blurbs) + 1)
	f.blurbs = append(f.blurbs, b)
	return nil
}

func (f *fakeMessages) GetCC(_ context.Context, form, slug string) (*message.CC, error) {
	for _, c := range f.ccs {
		if c.Form == form && c.Slug == slug {
			return c, nil
		}
	}
	return nil, idb.ErrCCNotFound
}

func (f *fakeMessages) ListCCsByForm(_ context.Context, form string) ([]*message.CC, error) {
	var out []*message.CC
	for _, c := range f.ccs {
		if c.Form == form {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeMessages) ListHelpByPriority(_ context.Context) ([]*message.Help, error) {
	out := append([]*message.Help(nil), f.helps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (f *fakeMessages) ListReports(_ context.Context) ([]*message.ScheduledReport, error) {
	return f.reports, nil
}

func (f *fakeMessages) ListActiveReports(_ context.Context) ([]*message.ScheduledReport, error) {
	var out []*message.ScheduledReport
	for _, r := range f.reports {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeMessages) GetReportBySlug(_ context.Context, slug string) (*message.ScheduledReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reports {
		if r.Slug == slug {
			cp := *r
			if at, ok := f.dispatched[r.ID]; ok {
				cp.LastDispatchedAt.Time, cp.LastDispatchedAt.Valid = at, true
			}
			return &cp, nil
		}
	}
	return nil, idb.ErrReportNotFound
}

func (f *fakeMessages) MarkReportDispatched(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatched == nil {
		f.dispatched = map[int64]time.Time{}
	}
	f.dispatched[id] = at
	return nil
}

func (f *fakeMessages) GetBroadcast(_ context.Context, id int64) (*message.SeasonEndBroadcast, error) {
	for _, b := range f.broadcasts {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, idb.ErrBroadcastNotFound
}

func (f *fakeMessages) RecordDeliveries(_ context.Context, broadcastID, wetmillID, seasonID int64, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, deliveryCall{broadcastID, wetmillID, seasonID, ids})
	return nil
}

func (f *fakeMessages) ListDeliveredMessageIDs(_ context.Context, broadcastID, wetmillID, seasonID int64) ([]string, error) {
	var out []string
	for _, d := range f.deliveries {
		if d.BroadcastID == broadcastID && d.WetmillID == wetmillID && d.SeasonID == seasonID {
			out = append(out, d.MessageIDs...)
		}
	}
	return out, nil
}

func (f *fakeMessages) CreateBroadcast(_ context.Context, b *message.Broadcast) error {
	if err := b.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = int64(len(f.scheduled) + 1)
	f.scheduled = append(f.scheduled, b)
	return nil
}

func (f *fakeMessages) GetScheduledBroadcast(_ context.Context, id int64) (*message.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.scheduled {
		if b.ID == id {
			cp := *b
			return &cp, nil
		}
	}
	return nil, idb.ErrScheduledBroadcastNotFound
}

func (f *fakeMessages) ListPendingBroadcasts(_ context.Context, now time.Time) ([]*message.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*message.Broadcast
	for _, b := range f.scheduled {
		if b.IsPending(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SendOn.Time.Before(out[j].SendOn.Time) })
	return out, nil
}

func (f *fakeMessages) MarkBroadcastSent(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.scheduled {
		if b.ID == id {
			if b.Sent {
				return false, nil
			}
			b.Sent = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessages) RecordBroadcastMessages(_ context.Context, broadcastID int64, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastMessages == nil {
		f.broadcastMessages = map[int64][]string{}
	}
	f.broadcastMessages[broadcastID] = append(f.broadcastMessages[broadcastID], ids...)
	return nil
}

func (f *fakeMessages) ListBroadcastMessageIDs(_ context.Context, broadcastID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcastMessages[broadcastID], nil
}

type wetmillSeason struct{ WetmillID, SeasonID int64 }

type fakeWetmills struct {
	wetmills []*wetmill.Wetmill
	seasons  []*wetmill.Season
	withData map[int64]bool
	metrics  wetmill.Metrics
	// withSMS marks wetmills that sent every SMS accounting form.
	withSMS map[int64]bool
	csps    map[wetmillSeason]int64
}

func (f *fakeWetmills) GetWetmill(_ context.Context, id int64) (*wetmill.Wetmill, error) {
	for _, w := range f.wetmills {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, idb.ErrWetmillNotFound
}

func (f *fakeWetmills) GetSeason(_ context.Context, id int64) (*wetmill.Season, error) {
	for _, s := range f.seasons {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, idb.ErrSeasonNotFound
}

func (f *fakeWetmills) ListWithReports(_ context.Context, countryID, _ int64) ([]*wetmill.Wetmill, error) {
	var out []*wetmill.Wetmill
	for _, w := range f.wetmills {
		if w.CountryID == countryID && f.withData[w.ID] {
			out = append(out, w)
		}
	}
	return out, nil
}

func containsID(ids []int64, id int64) bool {
	for _, want := range ids {
		if want == id {
			return true
		}
	}
	return false
}

func (f *fakeWetmills) ListMatching(_ context.Context, filter wetmill.Filter) ([]*wetmill.Wetmill, error) {
	var out []*wetmill.Wetmill
	for _, w := range f.wetmills {
		if w.CountryID != filter.CountryID {
			continue
		}
		if len(filter.Only) > 0 && !containsID(filter.Only, w.ID) {
			continue
		}
		if containsID(filter.Exclude, w.ID) {
			continue
		}
		if filter.CSPSeasonID.Valid {
			csp, ok := f.csps[wetmillSeason{w.ID, filter.CSPSeasonID.Int64}]
			if len(filter.OnlyCSPs) > 0 && (!ok || !containsID(filter.OnlyCSPs, csp)) {
				continue
			}
			if ok && containsID(filter.ExcludeCSPs, csp) {
				continue
			}
		}
		if filter.ReportSeasonID.Valid && !f.withData[w.ID] {
			continue
		}
		if filter.SMSSeasonID.Valid && !f.withSMS[w.ID] {
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeWetmills) FinalizedMetrics(_ context.Context, _, _ int64) (wetmill.Metrics, error) {
	if f.metrics == nil {
		return wetmill.Metrics{}, nil
	}
	return f.metrics, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type fakeSubmissions struct {
	mu   sync.Mutex
	subs []*submission.Submission
}

func (f *fakeSubmissions) Create(_ context.Context, s *submission.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = int64(len(f.subs) + 1)
	s.IsActive = true
	f.subs = append(f.subs, s)
	return nil
}

func (f *fakeSubmissions) GetByID(_ context.Context, id int64) (*submission.Submission, error) {
	for _, s := range f.subs {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, idb.ErrSubmissionNotFound
}

func hasKind(kinds []submission.Kind, k submission.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (f *fakeSubmissions) ListPending(_ context.Context, kinds []submission.Kind, since time.Time) ([]*submission.Submission, error) {
	var out []*submission.Submission
	for _, s := range f.subs {
		if !s.Approved && hasKind(kinds, s.Kind) && !s.CreatedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeSubmissions) ExistsCreatedBetween(_ context.Context, s *submission.Submission, after, before time.Time) (bool, error) {
	for _, o := range f.subs {
		if o.ID == s.ID || o.Kind != s.Kind || o.AccountantID != s.AccountantID || o.WetmillID != s.WetmillID {
			continue
		}
		if o.CreatedAt.After(after) && o.CreatedAt.Before(before) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubmissions) ExistsApprovedBefore(_ context.Context, kind submission.Kind, wetmillID, seasonID int64, before time.Time) (bool, error) {
	for _, o := range f.subs {
		if o.Approved && o.IsActive && o.Kind == kind && o.WetmillID == wetmillID && o.SeasonID == seasonID && o.ReportDay.Before(before) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubmissions) ExistsApprovedOn(_ context.Context, kind submission.Kind, wetmillID int64, day time.Time) (bool, error) {
	for _, o := range f.subs {
		if o.Approved && o.IsActive && o.Kind == kind && o.WetmillID == wetmillID && sameDay(o.ReportDay, day) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubmissions) Approve(_ context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.subs {
		if o.ID == id {
			if o.Approved {
				return false, nil
			}
			o.Approved = true
			o.ApprovedAt.Time, o.ApprovedAt.Valid = at, true
			return true, nil
		}
	}
	return false, idb.ErrSubmissionNotFound
}

func (f *fakeSubmissions) DeactivateDuplicates(_ context.Context, s *submission.Submission, kinds []submission.Kind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.subs {
		if o.ID == s.ID || !o.Approved || !o.IsActive || o.WetmillID != s.WetmillID || !hasKind(kinds, o.Kind) {
			continue
		}
		same := sameDay(o.ReportDay, s.ReportDay)
		if s.Kind.IsWeekly() {
			same = o.StartOfWeek.Valid && s.StartOfWeek.Valid && sameDay(o.StartOfWeek.Time, s.StartOfWeek.Time)
		}
		if same {
			o.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeSubmissions) ListWetmillIDsReportingSince(_ context.Context, kinds []submission.Kind, day time.Time) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	for _, o := range f.subs {
		if o.Approved && o.IsActive && hasKind(kinds, o.Kind) && !o.ReportDay.Before(day) && !seen[o.WetmillID] {
			seen[o.WetmillID] = true
			out = append(out, o.WetmillID)
		}
	}
	return out, nil
}

func (f *fakeSubmissions) ListWetmillIDsForWeek(_ context.Context, kind submission.Kind, weekStart time.Time) ([]int64, error) {
	var out []int64
	for _, o := range f.subs {
		if o.Approved && o.IsActive && o.Kind == kind && o.StartOfWeek.Valid && sameDay(o.StartOfWeek.Time, weekStart) {
			out = append(out, o.WetmillID)
		}
	}
	return out, nil
}

func (f *fakeSubmissions) ListActiveForSeason(_ context.Context, wetmillID, seasonID int64) ([]*submission.Submission, error) {
	var out []*submission.Submission
	for _, o := range f.subs {
		if o.IsActive && o.WetmillID == wetmillID && o.SeasonID == seasonID {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReportDay.Before(out[j].ReportDay) })
	return out, nil
}

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	calls int
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}
