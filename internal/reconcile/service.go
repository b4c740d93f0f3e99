package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/quizsync/internal/events"
	"github.com/mind-engage/quizsync/internal/metrics"
	"github.com/mind-engage/quizsync/internal/prefetch"
	"github.com/mind-engage/quizsync/internal/quiz"
	"github.com/mind-engage/quizsync/internal/remote"
	"github.com/mind-engage/quizsync/internal/tracing"
)

// Component names quiz resources in the lock registry and activity logs.
const Component = "mod_quiz"

type Store interface {
	ListAttempts(ctx context.Context, siteID string, quizID int64) ([]quiz.OfflineAttempt, error)
	ListAllAttempts(ctx context.Context, siteID string) ([]quiz.OfflineAttempt, error)
	ListAnswers(ctx context.Context, siteID string, attemptID int64) ([]quiz.SlotAnswers, error)
	DeleteAttempt(ctx context.Context, siteID string, attemptID int64) error
	DeleteSlotAnswers(ctx context.Context, siteID string, attemptID int64, slot int) error
	LastSync(ctx context.Context, siteID string, quizID int64) (time.Time, error)
	SetLastSync(ctx context.Context, siteID string, quizID int64, t time.Time) error
	Warnings(ctx context.Context, siteID string, quizID int64) ([]string, error)
	SetWarnings(ctx context.Context, siteID string, quizID int64, warnings []string) error
	ClearWarnings(ctx context.Context, siteID string, quizID int64) error
}

// RemoteAPI is the part of the site web services a sync needs.
type RemoteAPI interface {
	GetQuiz(ctx context.Context, courseID, quizID int64, opts remote.ReadOpts) (quiz.Quiz, error)
	ListAttempts(ctx context.Context, quizID int64, opts remote.ReadOpts) ([]quiz.Attempt, error)
	AccessInfo(ctx context.Context, quizID int64, opts remote.ReadOpts) (quiz.AccessInfo, error)
	AttemptData(ctx context.Context, attemptID int64, page int, preflight map[string]string) ([]quiz.Question, error)
	ProcessAttempt(ctx context.Context, attemptID int64, answers []quiz.SlotAnswers, preflight map[string]string, finish bool) error
	LogPageView(ctx context.Context, attemptID int64, page int, preflight map[string]string) error
	InvalidateQuiz(ctx context.Context, quizID int64) error
}

type RemoteFunc func(siteID string) (RemoteAPI, error)

type Questions interface {
	SequenceCheckMatches(q quiz.Question, token string) bool
	PrepareForSubmission(ctx context.Context, q quiz.Question, fields map[string]string) error
	DeleteOfflineData(ctx context.Context, q quiz.Question, answers quiz.SlotAnswers, siteID string) error
}

type Network interface {
	Online(ctx context.Context, siteID string) bool
}

type Locks interface {
	IsBlocked(ctx context.Context, component, resourceID, siteID string) bool
}

type ActivityLogs interface {
	SyncActivity(ctx context.Context, siteID, component string, instanceID int64) error
}

type Preflight interface {
	Data(ctx context.Context, siteID string, q quiz.Quiz, attempt quiz.Attempt, info quiz.AccessInfo, ask bool) (map[string]string, error)
}

type Prefetcher interface {
	AfterSync(ctx context.Context, siteID string, q quiz.Quiz) (prefetch.Outcome, error)
}

type Sites interface {
	IDs() []string
}

// Deps are the collaborators of the service. Logs, Preflight, Prefetch,
// Events and Sites are optional.
type Deps struct {
	Store     Store
	Remotes   RemoteFunc
	Questions Questions
	Network   Network
	Locks     Locks
	Logs      ActivityLogs
	Preflight Preflight
	Prefetch  Prefetcher
	Events    events.Bus
	Sites     Sites
}

// Service reconciles offline quiz attempts with the site.
type Service struct {
	Deps

	Interval    time.Duration // SyncIfStale window
	Concurrency int           // SyncAllPending parallelism
	Now         func() time.Time
	Log         *zap.Logger
	Metrics     *metrics.Metrics

	inflight *inflight
}

type Option func(*Service)

func WithInterval(d time.Duration) Option { return func(s *Service) { s.Interval = d } }

func WithConcurrency(n int) Option { return func(s *Service) { s.Concurrency = n } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.Log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.Metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.Now = now } }

func New(d Deps, opts ...Option) *Service {
	s := &Service{
		Deps:        d,
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Now:         time.Now,
		Log:         zap.NewNop(),
		inflight:    newInflight(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	return s
}

// HasPendingWork reports whether the quiz has an offline attempt on the site.
func (s *Service) HasPendingWork(ctx context.Context, siteID string, quizID int64) bool {
	attempts, err := s.Store.ListAttempts(ctx, siteID, quizID)
	if err != nil {
		s.Log.Debug("list offline attempts", zap.String("site", siteID), zap.Int64("quiz", quizID), zap.Error(err))
		return false
	}
	return len(attempts) > 0
}

// SyncIfStale runs Sync unless the quiz was synced less than Interval ago,
// in which case it returns nil and no error.
func (s *Service) SyncIfStale(ctx context.Context, q quiz.Quiz, askPreflight bool, siteID string) (*quiz.SyncResult, error) {
	last, err := s.Store.LastSync(ctx, siteID, q.ID)
	if err != nil {
		s.Log.Warn("read last sync time", zap.String("site", siteID), zap.Int64("quiz", q.ID), zap.Error(err))
	}
	if err == nil && !last.IsZero() && s.Now().Sub(last) < s.Interval {
		return nil, nil
	}
	res, err := s.Sync(ctx, q, askPreflight, siteID)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Sync reconciles the offline attempt of q with the site. Callers arriving
// while a sync of the same quiz runs share its result. A started sync runs
// to completion even if ctx is cancelled.
func (s *Service) Sync(ctx context.Context, q quiz.Quiz, askPreflight bool, siteID string) (quiz.SyncResult, error) {
	return s.inflight.do(inflightKey(siteID, q.ID), func() (quiz.SyncResult, error) {
		start := s.Now()
		if s.Locks != nil && s.Locks.IsBlocked(ctx, Component, strconv.FormatInt(q.ID, 10), siteID) {
			s.Metrics.SyncObserved(outcomeOf(ErrSyncBlocked, false), 0)
			return quiz.SyncResult{}, ErrSyncBlocked
		}
		res, err := s.run(context.WithoutCancel(ctx), q, askPreflight, siteID)
		s.Metrics.SyncObserved(outcomeOf(err, res.Updated), s.Now().Sub(start))
		return res, err
	})
}

func inflightKey(siteID string, quizID int64) string {
	return siteID + "/" + strconv.FormatInt(quizID, 10)
}

// syncRun carries what finalize needs to know about one reconciliation.
type syncRun struct {
	site      string
	quiz      quiz.Quiz
	rc        RemoteAPI
	log       *zap.Logger
	offline   *quiz.OfflineAttempt
	online    *quiz.Attempt
	slots     map[int]quiz.SlotAnswers // answers that survived validation
	questions map[int]quiz.Question
	warnings  []string
	submitted bool
	remove    bool
}

func (s *Service) run(ctx context.Context, q quiz.Quiz, askPreflight bool, siteID string) (res quiz.SyncResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "reconcile.Sync")
	span.SetAttributes(attribute.String("site", siteID), attribute.Int64("quiz", q.ID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := s.Log.With(zap.String("site", siteID), zap.Int64("quiz", q.ID))
	rc, err := s.Remotes(siteID)
	if err != nil {
		return quiz.SyncResult{}, err
	}
	r := &syncRun{site: siteID, quiz: q, rc: rc, log: log}

	if s.Logs != nil {
		if err := s.Logs.SyncActivity(ctx, siteID, Component, q.ID); err != nil {
			log.Warn("sync activity logs", zap.Error(err))
		}
	}

	attempts, err := s.Store.ListAttempts(ctx, siteID, q.ID)
	if err != nil {
		return quiz.SyncResult{}, fmt.Errorf("list offline attempts: %w", err)
	}
	if len(attempts) == 0 {
		return s.finalize(ctx, r)
	}
	r.offline = &attempts[0]

	if s.Network != nil && !s.Network.Online(ctx, siteID) {
		return quiz.SyncResult{}, ErrCannotConnect
	}

	online, err := rc.ListAttempts(ctx, q.ID, remote.ReadOpts{Fresh: true})
	if err != nil {
		return quiz.SyncResult{}, fmt.Errorf("list online attempts: %w", err)
	}
	for i := range online {
		if online[i].ID == r.offline.ID {
			r.online = &online[i]
			break
		}
	}
	if r.online == nil || quiz.IsFinished(r.online.State) {
		log.Info("discarding offline attempt", zap.Int64("attempt", r.offline.ID))
		r.warnings = append(r.warnings, WarnAttemptFinishedOnline)
		r.remove = true
		return s.finalize(ctx, r)
	}

	answers, err := s.Store.ListAnswers(ctx, siteID, r.offline.ID)
	if err != nil {
		return quiz.SyncResult{}, fmt.Errorf("list offline answers: %w", err)
	}
	if len(answers) == 0 {
		r.remove = true
		return s.finalize(ctx, r)
	}

	slots := make(map[int]quiz.SlotAnswers, len(answers))
	for _, a := range answers {
		slots[a.Slot] = a
	}

	pf := map[string]string{}
	if s.Preflight != nil {
		info, err := rc.AccessInfo(ctx, q.ID, remote.ReadOpts{Fresh: true})
		if err != nil {
			return quiz.SyncResult{}, fmt.Errorf("access info: %w", err)
		}
		if pf, err = s.Preflight.Data(ctx, siteID, q, *r.online, info, askPreflight); err != nil {
			return quiz.SyncResult{}, err
		}
	}

	questions := map[int]quiz.Question{}
	for _, page := range quiz.PagesForSlots(r.online.Layout, slots) {
		qs, err := rc.AttemptData(ctx, r.online.ID, page, pf)
		if err != nil {
			return quiz.SyncResult{}, fmt.Errorf("attempt data page %d: %w", page, err)
		}
		for _, qq := range qs {
			questions[qq.Slot] = qq
		}
	}

	discarded, err := s.validateSlots(ctx, r, slots, questions)
	if err != nil {
		return quiz.SyncResult{}, err
	}
	r.slots, r.questions = slots, questions
	if discarded > 0 {
		if r.offline.Finished {
			r.warnings = append(r.warnings, WarnDataDiscardedFinished)
		} else {
			r.warnings = append(r.warnings, WarnDataDiscarded)
		}
		s.Metrics.Discarded(discarded)
	}

	submit := make([]quiz.SlotAnswers, 0, len(slots))
	for _, slot := range sortedSlots(slots) {
		a := slots[slot]
		if err := s.Questions.PrepareForSubmission(ctx, questions[slot], a.Fields); err != nil {
			return quiz.SyncResult{}, fmt.Errorf("prepare slot %d: %w", slot, err)
		}
		submit = append(submit, a)
	}

	finish := r.offline.Finished && discarded == 0
	if err := rc.ProcessAttempt(ctx, r.online.ID, submit, pf, finish); err != nil {
		return quiz.SyncResult{}, fmt.Errorf("process attempt: %w", err)
	}
	r.submitted = true
	r.remove = true
	s.Metrics.Submitted(len(submit))
	log.Info("offline answers submitted",
		zap.Int64("attempt", r.online.ID), zap.Int("answers", len(submit)),
		zap.Int("discarded", discarded), zap.Bool("finish", finish))

	if !finish {
		if err := rc.LogPageView(ctx, r.online.ID, r.offline.CurrentPage, pf); err != nil {
			log.Warn("replay page view", zap.Int("page", r.offline.CurrentPage), zap.Error(err))
		}
	}
	return s.finalize(ctx, r)
}

// validateSlots drops every slot whose question is gone online or was
// answered since the offline copy was taken. Kept slots get the current
// sequence check so the site accepts them.
func (s *Service) validateSlots(ctx context.Context, r *syncRun, slots map[int]quiz.SlotAnswers, questions map[int]quiz.Question) (int, error) {
	discarded := 0
	for _, slot := range sortedSlots(slots) {
		a := slots[slot]
		q, ok := questions[slot]
		if ok && s.Questions.SequenceCheckMatches(q, a.SequenceCheck) {
			a.SequenceCheck = strconv.Itoa(q.SequenceCheck)
			slots[slot] = a
			continue
		}
		delete(slots, slot)
		discarded++
		if err := s.Store.DeleteSlotAnswers(ctx, r.site, r.offline.ID, slot); err != nil {
			return discarded, fmt.Errorf("delete slot %d answers: %w", slot, err)
		}
		if !ok {
			q = quiz.Question{Slot: slot}
		}
		if err := s.Questions.DeleteOfflineData(ctx, q, a, r.site); err != nil {
			r.log.Warn("delete offline question data", zap.Int("slot", slot), zap.Error(err))
		}
	}
	return discarded, nil
}

// finalize runs for every branch that did not fail.
func (s *Service) finalize(ctx context.Context, r *syncRun) (quiz.SyncResult, error) {
	res := quiz.SyncResult{Warnings: r.warnings, Updated: r.submitted || r.remove}

	if err := r.rc.InvalidateQuiz(ctx, r.quiz.ID); err != nil {
		r.log.Warn("invalidate quiz cache", zap.Error(err))
	}
	if res.Updated && s.Prefetch != nil {
		if out, err := s.Prefetch.AfterSync(ctx, r.site, r.quiz); err != nil {
			r.log.Warn("prefetch quiz", zap.Error(err))
		} else {
			r.log.Debug("prefetch quiz", zap.String("outcome", string(out)))
		}
	}

	if r.remove && r.offline != nil {
		s.deleteOfflineData(ctx, r)
		if err := s.Store.DeleteAttempt(ctx, r.site, r.offline.ID); err != nil {
			return quiz.SyncResult{}, fmt.Errorf("delete offline attempt: %w", err)
		}
	}

	if r.submitted && r.online != nil && !quiz.IsFinished(r.online.State) {
		finished, err := s.attemptFinished(ctx, r)
		if err != nil {
			r.log.Warn("re-read online attempt", zap.Error(err))
		}
		res.AttemptFinished = finished
	}

	if err := s.Store.SetLastSync(ctx, r.site, r.quiz.ID, s.Now()); err != nil {
		r.log.Warn("store last sync time", zap.Error(err))
	}
	if len(res.Warnings) > 0 {
		if err := s.Store.SetWarnings(ctx, r.site, r.quiz.ID, res.Warnings); err != nil {
			r.log.Warn("store sync warnings", zap.Error(err))
		}
	}
	return res, nil
}

// deleteOfflineData lets the question delegate drop what it stored outside
// the answer rows for every slot still attached to the attempt.
func (s *Service) deleteOfflineData(ctx context.Context, r *syncRun) {
	for _, slot := range sortedSlots(r.slots) {
		q, ok := r.questions[slot]
		if !ok {
			q = quiz.Question{Slot: slot}
		}
		if err := s.Questions.DeleteOfflineData(ctx, q, r.slots[slot], r.site); err != nil {
			r.log.Warn("delete offline question data", zap.Int("slot", slot), zap.Error(err))
		}
	}
}

func (s *Service) attemptFinished(ctx context.Context, r *syncRun) (bool, error) {
	attempts, err := r.rc.ListAttempts(ctx, r.quiz.ID, remote.ReadOpts{Fresh: true})
	if err != nil {
		return false, err
	}
	for _, a := range attempts {
		if a.ID == r.online.ID {
			return quiz.IsFinished(a.State), nil
		}
	}
	return false, nil
}

// SyncAllPending syncs every quiz with an offline attempt on siteID, or on
// every known site when siteID is empty. Failures of one quiz are logged and
// do not stop the others.
func (s *Service) SyncAllPending(ctx context.Context, siteID string, force bool) error {
	ctx, span := tracing.Tracer().Start(ctx, "reconcile.SyncAllPending")
	defer span.End()

	sites := []string{siteID}
	if siteID == "" {
		if s.Sites == nil {
			return errors.New("no site registry configured")
		}
		sites = s.Sites.IDs()
	}

	var errs []error
	g := new(errgroup.Group)
	g.SetLimit(s.Concurrency)
	for _, site := range sites {
		attempts, err := s.Store.ListAllAttempts(ctx, site)
		if err != nil {
			errs = append(errs, fmt.Errorf("site %s: list offline attempts: %w", site, err))
			continue
		}
		seen := map[int64]bool{}
		for _, a := range attempts {
			if seen[a.QuizID] {
				continue
			}
			seen[a.QuizID] = true
			if s.Locks != nil && s.Locks.IsBlocked(ctx, Component, strconv.FormatInt(a.QuizID, 10), site) {
				s.Log.Debug("quiz blocked, skipping", zap.String("site", site), zap.Int64("quiz", a.QuizID))
				continue
			}
			g.Go(func() error {
				s.syncPending(ctx, site, a, force)
				return nil
			})
		}
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Service) syncPending(ctx context.Context, siteID string, a quiz.OfflineAttempt, force bool) {
	log := s.Log.With(zap.String("site", siteID), zap.Int64("quiz", a.QuizID))

	rc, err := s.Remotes(siteID)
	if err != nil {
		log.Warn("auto sync skipped, no remote for site", zap.Error(err))
		return
	}
	q, err := rc.GetQuiz(ctx, a.CourseID, a.QuizID, remote.ReadOpts{Fresh: true})
	if err != nil {
		log.Warn("auto sync skipped, fetch quiz", zap.Error(err))
		return
	}

	var res *quiz.SyncResult
	if force {
		var r quiz.SyncResult
		if r, err = s.Sync(ctx, q, false, siteID); err == nil {
			res = &r
		}
	} else {
		res, err = s.SyncIfStale(ctx, q, false, siteID)
	}
	if err != nil {
		log.Warn("auto sync failed", zap.Error(err))
		return
	}
	if res == nil || !res.Updated || s.Events == nil {
		return
	}
	s.Events.Emit(ctx, events.AutoSynced, events.AutoSyncedPayload{
		QuizID:          q.ID,
		AttemptFinished: res.AttemptFinished,
		Warnings:        res.Warnings,
	}, siteID)
}

// Warnings returns the warnings stored by earlier syncs of the quiz.
func (s *Service) Warnings(ctx context.Context, siteID string, quizID int64) ([]string, error) {
	return s.Store.Warnings(ctx, siteID, quizID)
}

func (s *Service) ClearWarnings(ctx context.Context, siteID string, quizID int64) error {
	return s.Store.ClearWarnings(ctx, siteID, quizID)
}

func sortedSlots(m map[int]quiz.SlotAnswers) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
