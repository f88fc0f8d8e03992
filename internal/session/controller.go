// Package session runs one student's attempt at one exam: the countdown,
// navigation, answers, integrity monitoring and the one-shot submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/activitylog"
	"github.com/stemsi/exstem-examroom/internal/answer"
	"github.com/stemsi/exstem-examroom/internal/integrity"
	"github.com/stemsi/exstem-examroom/internal/metrics"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/scoring"
)

var (
	ErrInvalidExam           = errors.New("invalid exam data")
	ErrAlreadyStarted        = errors.New("session already started")
	ErrNotInProgress         = errors.New("session is not in progress")
	ErrNoPendingConfirmation = errors.New("no submission awaiting confirmation")
	ErrUnknownQuestion       = errors.New("question does not belong to this exam")
	ErrNotPhotoQuestion      = errors.New("question does not accept uploads")
	ErrSessionClosed         = errors.New("session closed before the upload finished")
)

// ResultSink persists a finished session. It is called exactly once.
type ResultSink interface {
	Submit(ctx context.Context, draft model.ExamResultDraft) error
}

// TimerState is the per-second countdown projection.
type TimerState struct {
	RemainingTimeSeconds int    `json:"remaining_time_seconds"`
	RemainingTime        string `json:"remaining_time"`
}

// Outcome is the terminal projection, sent once the sink call resolves.
type Outcome struct {
	Result        model.ResultSummary `json:"result"`
	AutoSubmitted bool                `json:"auto_submitted"`
	Saved         bool                `json:"saved"`
	Warning       string              `json:"warning,omitempty"`
}

// Observer receives session updates. Methods are called outside the
// controller's lock and must not block for long.
type Observer interface {
	OnState(model.SessionSnapshot)
	OnTick(TimerState)
	OnNotice(Notice)
	OnResult(Outcome)
}

type nopObserver struct{}

func (nopObserver) OnState(model.SessionSnapshot) {}
func (nopObserver) OnTick(TimerState)             {}
func (nopObserver) OnNotice(Notice)               {}
func (nopObserver) OnResult(Outcome)              {}

// Options describe the session being created.
type Options struct {
	SessionID   uuid.UUID
	StudentName string
	Exam        model.Exam
	// Questions in presentation order.
	Questions    []model.Question
	Integrity    integrity.Config
	MaxFileBytes int64
}

// Deps are the collaborators of a controller. Env and Sink are required.
type Deps struct {
	Env       integrity.Environment
	Sink      ResultSink
	Logger    zerolog.Logger
	Now       func() time.Time
	NewTicker TickerFunc
}

// Controller is the session state machine:
// loading -> in_progress -> submitting -> submitted.
//
// All session state is guarded by mu. Activity log listeners run while the
// monitor holds its own lock and must never call back into the controller.
type Controller struct {
	id          uuid.UUID
	studentName string
	exam        model.Exam
	questions   []model.Question
	byID        map[string]model.QuestionType
	integrity   integrity.Config

	env     integrity.Environment
	log     *activitylog.Log
	answers *answer.Store
	monitor *integrity.Monitor
	sink    ResultSink
	logger  zerolog.Logger
	now     func() time.Time
	ticker  TickerFunc

	mu             sync.Mutex
	status         model.SessionStatus
	index          int
	remaining      int
	confirmPending bool
	saving         bool
	observer       Observer
	stopTimer      chan struct{}
	summary        model.ResultSummary
	outcome        *Outcome
	uploads        sync.WaitGroup

	done chan struct{}
}

// New creates a controller in the loading state.
func New(opts Options, deps Deps) (*Controller, error) {
	if len(opts.Questions) == 0 {
		return nil, fmt.Errorf("%w: exam %s has no questions", ErrInvalidExam, opts.Exam.ID)
	}
	byID := make(map[string]model.QuestionType, len(opts.Questions))
	for i := range opts.Questions {
		if err := opts.Questions[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidExam, err)
		}
		byID[opts.Questions[i].ID.String()] = opts.Questions[i].Type
	}
	if deps.Env == nil || deps.Sink == nil {
		return nil, errors.New("session: environment and result sink are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewTicker == nil {
		deps.NewTicker = NewTicker
	}
	if opts.SessionID == uuid.Nil {
		opts.SessionID = uuid.New()
	}
	opts.Integrity.MaxViolations = opts.Integrity.Limit()

	logger := deps.Logger.With().
		Str("component", "exam_session").
		Str("session_id", opts.SessionID.String()).
		Str("exam_id", opts.Exam.ID.String()).
		Logger()

	c := &Controller{
		id:          opts.SessionID,
		studentName: opts.StudentName,
		exam:        opts.Exam,
		questions:   append([]model.Question(nil), opts.Questions...),
		byID:        byID,
		integrity:   opts.Integrity,
		env:         deps.Env,
		log:         activitylog.New(deps.Now),
		answers:     answer.NewStore(opts.MaxFileBytes),
		sink:        deps.Sink,
		logger:      logger,
		now:         deps.Now,
		ticker:      deps.NewTicker,
		status:      model.SessionStatusLoading,
		observer:    nopObserver{},
		done:        make(chan struct{}),
	}
	c.monitor = integrity.NewMonitor(deps.Env, c.log, integrity.Callbacks{
		OnViolation:            c.onViolation,
		OnMaxViolationsReached: c.onMaxViolations,
	}, logger)
	return c, nil
}

// ID returns the session ID.
func (c *Controller) ID() uuid.UUID { return c.id }

// StudentName returns the name the session was joined with.
func (c *Controller) StudentName() string { return c.studentName }

// Exam returns the exam snapshot the session runs on.
func (c *Controller) Exam() model.Exam { return c.exam }

// Environment returns the browser environment the session observes.
func (c *Controller) Environment() integrity.Environment { return c.env }

// Log returns the session's activity log.
func (c *Controller) Log() *activitylog.Log { return c.log }

// Questions returns the questions in presentation order with answer keys removed.
func (c *Controller) Questions() []model.Question {
	out := make([]model.Question, len(c.questions))
	for i := range c.questions {
		out[i] = c.questions[i].ForStudent()
	}
	return out
}

// SetObserver replaces the observer. A nil observer discards updates.
func (c *Controller) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// DetachObserver discards updates if o is still the current observer.
func (c *Controller) DetachObserver(o Observer) {
	c.mu.Lock()
	if c.observer == o {
		c.observer = nopObserver{}
	}
	c.mu.Unlock()
}

// Start moves the session from loading to in_progress: the countdown is
// seeded from the exam duration, the integrity monitor is enabled and
// fullscreen is requested once. ctx scopes the fullscreen request and is the
// parent of the submission call, which outlives its cancellation.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != model.SessionStatusLoading {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.status = model.SessionStatusInProgress
	c.remaining = c.exam.DurationSeconds()
	c.mu.Unlock()

	metrics.SessionsActive().Inc()
	c.log.Append(model.ActionSessionStarted, map[string]any{
		"durationSeconds": c.exam.DurationSeconds(),
		"questionCount":   len(c.questions),
	})
	c.monitor.Enable(c.integrity)
	c.monitor.RequestFullscreen(ctx)

	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		c.monitor.Disable()
		return nil
	}
	c.stopTimer = make(chan struct{})
	go c.runTimer(ctx, c.ticker(time.Second), c.stopTimer)
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	c.logger.Info().Str("student", c.studentName).Msg("Session started")
	obs.OnNotice(newNotice(NoticeExamStarted, nil))
	obs.OnState(snap)
	return nil
}

func (c *Controller) runTimer(ctx context.Context, t Ticker, stop <-chan struct{}) {
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			c.tick(ctx)
		}
	}
}

// Tick advances the countdown by one second. When it reaches zero the
// session is submitted automatically.
func (c *Controller) Tick() {
	c.tick(context.Background())
}

func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		return
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		res := c.beginFinishLocked()
		c.mu.Unlock()
		c.completeFinish(ctx, res, true)
		return
	}
	state := TimerState{RemainingTimeSeconds: c.remaining, RemainingTime: FormatRemaining(c.remaining)}
	obs := c.observer
	c.mu.Unlock()
	obs.OnTick(state)
}

// Answer overwrites the answer for a question.
func (c *Controller) Answer(questionID, value string) error {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		return ErrNotInProgress
	}
	if _, ok := c.byID[questionID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	c.answers.SetAnswer(questionID, value)
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	obs.OnState(snap)
	return nil
}

// UploadPhoto validates f synchronously and encodes it in the background.
// Validation errors are returned directly and leave the answers untouched.
// The returned channel yields the encode outcome; an encode finishing after
// the session left in_progress is discarded with ErrSessionClosed.
func (c *Controller) UploadPhoto(questionID string, f answer.File) (<-chan error, error) {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		return nil, ErrNotInProgress
	}
	qt, ok := c.byID[questionID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if qt != model.QuestionTypePhotoUpload {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPhotoQuestion, questionID, qt)
	}
	c.uploads.Add(1)
	c.mu.Unlock()

	if err := c.answers.Validate(f); err != nil {
		c.uploads.Done()
		return nil, err
	}

	result := make(chan error, 1)
	go func() {
		defer c.uploads.Done()
		result <- c.encodePhoto(questionID, f)
	}()
	return result, nil
}

func (c *Controller) encodePhoto(questionID string, f answer.File) error {
	uri, err := c.answers.Encode(f)
	if err != nil {
		c.logger.Warn().Err(err).Str("question_id", questionID).Msg("Photo encode failed")
		c.mu.Lock()
		obs := c.observer
		c.mu.Unlock()
		obs.OnNotice(newNotice(NoticePhotoFailed, map[string]any{"question_id": questionID}))
		return err
	}

	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		c.logger.Debug().Str("question_id", questionID).Msg("Discarding photo encoded after submission")
		return ErrSessionClosed
	}
	c.answers.SetAnswer(questionID, uri)
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	obs.OnNotice(newNotice(NoticePhotoUploaded, map[string]any{"question_id": questionID}))
	obs.OnState(snap)
	return nil
}

// Next moves to the following question. It reports whether the index moved.
func (c *Controller) Next() bool {
	return c.navigate(func(i int) int { return i + 1 })
}

// Previous moves to the preceding question.
func (c *Controller) Previous() bool {
	return c.navigate(func(i int) int { return i - 1 })
}

// JumpTo moves to index. Out-of-range indexes leave the position unchanged.
func (c *Controller) JumpTo(index int) bool {
	return c.navigate(func(int) int { return index })
}

func (c *Controller) navigate(target func(int) int) bool {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		return false
	}
	next := target(c.index)
	if next < 0 || next >= len(c.questions) || next == c.index {
		c.mu.Unlock()
		return false
	}
	c.index = next
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	obs.OnState(snap)
	return true
}

// RequestSubmit opens the confirmation step of a manual submission.
func (c *Controller) RequestSubmit() error {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		return ErrNotInProgress
	}
	first := !c.confirmPending
	c.confirmPending = true
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	if first {
		c.log.Append(model.ActionSubmitRequested, nil)
	}
	obs.OnState(snap)
	return nil
}

// CancelSubmitConfirmation returns to the exam without submitting.
func (c *Controller) CancelSubmitConfirmation() {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress || !c.confirmPending {
		c.mu.Unlock()
		return
	}
	c.confirmPending = false
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	c.log.Append(model.ActionSubmitCancelled, nil)
	obs.OnState(snap)
}

// ConfirmSubmit submits the session after RequestSubmit.
func (c *Controller) ConfirmSubmit(ctx context.Context) error {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		return ErrNotInProgress
	}
	if !c.confirmPending {
		c.mu.Unlock()
		return ErrNoPendingConfirmation
	}
	res := c.beginFinishLocked()
	c.mu.Unlock()

	c.completeFinish(ctx, res, false)
	return nil
}

// AutoSubmit submits the session without confirmation, as on timeout. It
// reports false if the session was not in progress.
func (c *Controller) AutoSubmit(ctx context.Context) bool {
	c.mu.Lock()
	if c.status != model.SessionStatusInProgress {
		c.mu.Unlock()
		return false
	}
	res := c.beginFinishLocked()
	c.mu.Unlock()

	c.completeFinish(ctx, res, true)
	return true
}

// beginFinishLocked enters submitting and computes the score. The caller
// must hold mu and have checked the session is in progress.
func (c *Controller) beginFinishLocked() scoring.Result {
	c.status = model.SessionStatusSubmitting
	c.confirmPending = false
	c.saving = true
	if c.stopTimer != nil {
		close(c.stopTimer)
		c.stopTimer = nil
	}
	res := scoring.Score(c.questions, c.answers.Snapshot())
	c.summary = model.ResultSummary{
		Score:          res.Score,
		MaxScore:       scoring.MaxScore(c.questions),
		CorrectCount:   res.CorrectCount,
		TotalQuestions: len(c.questions),
		GradingStatus:  res.GradingStatus(),
	}
	return res
}

// completeFinish detaches the monitor, releases fullscreen, enters submitted
// and hands the draft to the sink in the background.
func (c *Controller) completeFinish(ctx context.Context, res scoring.Result, auto bool) {
	c.monitor.Disable()

	action, trigger := model.ActionSubmitted, "manual"
	if auto {
		action, trigger = model.ActionAutoSubmitted, "auto"
	}
	c.log.Append(action, map[string]any{
		"score":        res.Score,
		"correctCount": res.CorrectCount,
	})
	c.monitor.ExitFullscreen(ctx)

	violations := c.monitor.ViolationCount()

	c.mu.Lock()
	draft := model.ExamResultDraft{
		ID:               uuid.New(),
		ExamID:           c.exam.ID,
		SessionID:        c.id,
		StudentName:      c.studentName,
		Score:            res.Score,
		CorrectCount:     res.CorrectCount,
		TotalQuestions:   len(c.questions),
		Answers:          c.answers.Snapshot(),
		GradingStatus:    res.GradingStatus(),
		SubmittedAt:      c.now().UTC(),
		AutoSubmitted:    auto,
		ViolationCount:   violations,
		FlaggedForReview: violations >= c.integrity.Limit(),
		ActivityLog:      c.log.Entries(),
	}
	c.status = model.SessionStatusSubmitted
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	metrics.SessionsActive().Dec()
	metrics.SessionsSubmitted().WithLabelValues(trigger).Inc()
	c.logger.Info().
		Bool("auto", auto).
		Float64("score", res.Score).
		Int("violations", violations).
		Msg("Session submitted")

	obs.OnState(snap)

	go c.persist(context.WithoutCancel(ctx), draft)
}

func (c *Controller) persist(ctx context.Context, draft model.ExamResultDraft) {
	err := c.sink.Submit(ctx, draft)

	outcome := Outcome{AutoSubmitted: draft.AutoSubmitted, Saved: err == nil}
	var notice Notice
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to save result")
		metrics.ResultSaves().WithLabelValues("failed").Inc()
		notice = newNotice(NoticeResultSaveFailed, nil)
		outcome.Warning = notice.Message
	} else {
		metrics.ResultSaves().WithLabelValues("saved").Inc()
		notice = newNotice(NoticeResultSaved, nil)
	}

	c.mu.Lock()
	c.saving = false
	outcome.Result = c.summary
	c.outcome = &outcome
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()
	close(c.done)

	obs.OnNotice(notice)
	obs.OnResult(outcome)
	obs.OnState(snap)
}

// Done is closed once the submission call has resolved.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Outcome returns the terminal outcome once the submission call resolved.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return Outcome{}, false
	}
	return *c.outcome, true
}

// Result returns the score computed at submission.
func (c *Controller) Result() (model.ResultSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.SessionStatusSubmitting && c.status != model.SessionStatusSubmitted {
		return model.ResultSummary{}, false
	}
	return c.summary, true
}

// Status returns the current state.
func (c *Controller) Status() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the status projection.
func (c *Controller) Snapshot() model.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// WaitUploads blocks until in-flight photo encodes have finished.
func (c *Controller) WaitUploads() {
	c.uploads.Wait()
}

func (c *Controller) snapshotLocked() model.SessionSnapshot {
	return model.SessionSnapshot{
		SessionID:            c.id,
		Status:               c.status,
		CurrentQuestionIndex: c.index,
		RemainingTimeSeconds: c.remaining,
		RemainingTime:        FormatRemaining(c.remaining),
		Answers:              c.answers.Snapshot(),
		IsSubmitting:         c.saving,
		ConfirmPending:       c.confirmPending,
		ViolationCount:       c.monitor.ViolationCount(),
	}
}

func (c *Controller) onViolation(kind model.ViolationKind, count int) {
	metrics.Violations().WithLabelValues(string(kind)).Inc()

	c.mu.Lock()
	snap, obs := c.snapshotLocked(), c.observer
	c.mu.Unlock()

	obs.OnNotice(violationNotice(kind, count, c.integrity.Limit()))
	obs.OnState(snap)
}

// onMaxViolations only warns. Submission stays with the timer and the student.
func (c *Controller) onMaxViolations(count int) {
	c.logger.Warn().Int("count", count).Msg("Max violations reached")

	c.mu.Lock()
	obs := c.observer
	c.mu.Unlock()

	obs.OnNotice(newNotice(NoticeMaxViolations, map[string]any{
		"violation_count": count,
		"max_violations":  c.integrity.Limit(),
	}))
}
