// Package coordinator drives the human-supervised removal workflow. Each
// operation reloads the persisted snapshot, checks its preconditions, runs
// at most one step through the channel, and persists the outcome, so the
// workflow can be resumed from any point after a restart.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/groupsweep/internal/eventlog"
	"github.com/user/groupsweep/internal/state"
	"github.com/user/groupsweep/internal/stepchan"
	"github.com/user/groupsweep/internal/workflow"
)

// ErrRemovalDeclined is returned after a group has been skipped because the
// operator rejected its removal plan. The cursor has already advanced.
var ErrRemovalDeclined = errors.New("removal declined by operator")

// Confirmer asks the operator to approve a removal plan before it runs.
type Confirmer interface {
	Confirm(ctx context.Context, group workflow.Thread, plan *workflow.RemovalPlan) (bool, error)
}

// AutoConfirm approves every plan. Useful for tests and dry scripting, never
// wired as the default.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, workflow.Thread, *workflow.RemovalPlan) (bool, error) {
	return true, nil
}

// Liveness reports whether the worker process is still alive. Used to tell
// a stuck step apart from a dead worker when a step times out.
type Liveness interface {
	IsRunning() bool
}

// Options configures a Coordinator.
type Options struct {
	Store     *state.Store
	Channel   *stepchan.Channel
	Confirmer Confirmer
	Worker    Liveness          // optional
	Events    *eventlog.EventLog // optional
	Logger    *slog.Logger
	Timeout   time.Duration
}

// Coordinator owns the controller side of the workflow.
type Coordinator struct {
	store   *state.Store
	channel *stepchan.Channel
	confirm Confirmer
	worker  Liveness
	events  *eventlog.EventLog
	logger  *slog.Logger
	timeout time.Duration
}

// New constructs a coordinator. Store, Channel and Confirmer are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil || opts.Channel == nil {
		return nil, errors.New("store and channel are required")
	}
	if opts.Confirmer == nil {
		return nil, errors.New("confirmer is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = stepchan.DefaultAwaitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		store:   opts.Store,
		channel: opts.Channel,
		confirm: opts.Confirmer,
		worker:  opts.Worker,
		events:  opts.Events,
		logger:  opts.Logger,
		timeout: opts.Timeout,
	}, nil
}

// Snapshot reloads and returns the persisted workflow state.
func (c *Coordinator) Snapshot() (*state.WorkflowState, error) {
	return c.store.Load()
}

// Classify inventories the conversation list and stores the thread table.
func (c *Coordinator) Classify(ctx context.Context) (int, error) {
	st, err := c.store.Load()
	if err != nil {
		return 0, err
	}
	if err := c.checkWorker("classify"); err != nil {
		return 0, err
	}

	res, err := c.submitStep(ctx, stepchan.StepClassify, nil, "")
	if err != nil {
		return 0, err
	}

	threads, err := workflow.ParseClassification(res.Text)
	if err != nil {
		return 0, fmt.Errorf("classify result: %w", err)
	}

	st.Threads = threads
	st.StepLogs[state.ClassifyLogKey] = res.Text
	if err := c.store.Save(st); err != nil {
		return 0, err
	}
	c.logger.Info("classified threads", "count", len(threads))
	return len(threads), nil
}

// Filter recomputes the unread-group worklist from the stored threads and
// resets the cursor to its start. Runs locally, no step is submitted.
func (c *Coordinator) Filter(ctx context.Context) (int, error) {
	st, err := c.store.Load()
	if err != nil {
		return 0, err
	}
	if len(st.Threads) == 0 {
		return 0, precondition("filter", "no threads classified yet; run classify first")
	}

	st.UnreadGroups = workflow.FilterUnreadGroups(st.Threads)
	st.CurrentGroupIndex = 0
	st.ClearEphemeral()

	if err := c.store.Save(st); err != nil {
		return 0, err
	}
	c.transition(fmt.Sprintf("filtered %d unread group(s) from %d thread(s)", len(st.UnreadGroups), len(st.Threads)))
	return len(st.UnreadGroups), nil
}

// ReadCurrent opens the group at the cursor and stores its raw read output.
// Any suspects from a previous attempt at this group are discarded first.
func (c *Coordinator) ReadCurrent(ctx context.Context) (workflow.Thread, error) {
	st, err := c.store.Load()
	if err != nil {
		return workflow.Thread{}, err
	}
	group, err := c.currentGroup(st, "read")
	if err != nil {
		return workflow.Thread{}, err
	}
	if err := c.checkWorker("read"); err != nil {
		return workflow.Thread{}, err
	}

	st.ClearEphemeral()
	if err := c.store.Save(st); err != nil {
		return workflow.Thread{}, err
	}

	params := map[string]any{
		"thread_id":   group.ID,
		"thread_name": group.Name,
	}
	res, err := c.submitStep(ctx, stepchan.StepReadMessages, params, group.ID)
	if err != nil {
		return workflow.Thread{}, err
	}

	shots, err := json.Marshal(res.Screenshots)
	if err != nil {
		return workflow.Thread{}, fmt.Errorf("encode screenshots: %w", err)
	}
	st.StepLogs[state.ReadLogKey(group.ID)] = res.Text
	st.StepLogs[state.ScreenshotLogKey(group.ID)] = string(shots)

	if err := c.store.Save(st); err != nil {
		return workflow.Thread{}, err
	}
	c.logger.Info("read group", "group", group.Name, "screenshots", len(res.Screenshots))
	return group, nil
}

// ExtractCurrent parses the stored read output into the current group's
// suspect list.
func (c *Coordinator) ExtractCurrent(ctx context.Context) (int, error) {
	st, err := c.store.Load()
	if err != nil {
		return 0, err
	}
	group, err := c.currentGroup(st, "extract")
	if err != nil {
		return 0, err
	}

	text, ok := st.StepLogs[state.ReadLogKey(group.ID)]
	if !ok {
		return 0, precondition("extract", "group %q has not been read yet; run read first", group.Name)
	}
	var screenshots []string
	if raw, ok := st.StepLogs[state.ScreenshotLogKey(group.ID)]; ok {
		if err := json.Unmarshal([]byte(raw), &screenshots); err != nil {
			return 0, fmt.Errorf("decode stored screenshots: %w", err)
		}
	}

	suspects, err := workflow.ExtractSuspects(group, text, screenshots)
	if err != nil {
		return 0, fmt.Errorf("extract suspects: %w", err)
	}

	st.CurrentSuspects = suspects
	st.CurrentPlan = nil
	if err := c.store.Save(st); err != nil {
		return 0, err
	}
	c.logger.Info("extracted suspects", "group", group.Name, "count", len(suspects))
	return len(suspects), nil
}

// PlanCurrent builds the removal plan for the current group from its
// extracted suspects. The plan starts unconfirmed.
func (c *Coordinator) PlanCurrent(ctx context.Context) (*workflow.RemovalPlan, error) {
	st, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	group, err := c.currentGroup(st, "plan")
	if err != nil {
		return nil, err
	}
	if _, ok := st.StepLogs[state.ReadLogKey(group.ID)]; !ok {
		return nil, precondition("plan", "group %q has not been read yet; run read and extract first", group.Name)
	}

	note := fmt.Sprintf("Remove %d member(s) from %s", len(st.CurrentSuspects), group.Name)
	if len(st.CurrentSuspects) == 0 {
		note = fmt.Sprintf("No suspects identified in %s; advance without removal", group.Name)
	}
	plan := workflow.NewRemovalPlan(st.CurrentSuspects, note)

	st.CurrentPlan = plan
	if err := c.store.Save(st); err != nil {
		return nil, err
	}
	c.logger.Info("built removal plan", "group", group.Name, "suspects", len(plan.Suspects))
	return plan, nil
}

// RemoveCurrent resolves the current group's plan and advances the cursor.
// An empty plan advances without a worker call, a declined plan advances
// unconfirmed, and an approved plan is persisted as confirmed before the
// step runs so a crash cannot replay an unapproved removal.
func (c *Coordinator) RemoveCurrent(ctx context.Context) error {
	st, err := c.store.Load()
	if err != nil {
		return err
	}
	group, err := c.currentGroup(st, "remove")
	if err != nil {
		return err
	}
	plan := st.CurrentPlan
	if plan == nil {
		return precondition("remove", "no removal plan for group %q; run plan first", group.Name)
	}

	if len(plan.Suspects) == 0 {
		c.transition(fmt.Sprintf("no suspects in group %s; skipping removal", group.Name))
		return c.advance(st)
	}

	if err := c.checkWorker("remove"); err != nil {
		return err
	}

	approved, err := c.confirm.Confirm(ctx, group, plan)
	if err != nil {
		return fmt.Errorf("confirm removal: %w", err)
	}
	if !approved {
		c.transition(fmt.Sprintf("removal declined for group %s", group.Name))
		if err := c.advance(st); err != nil {
			return err
		}
		return ErrRemovalDeclined
	}

	plan.Confirmed = true
	if err := c.store.Save(st); err != nil {
		return err
	}

	suspects := make([]map[string]any, 0, len(plan.Suspects))
	for _, s := range plan.Suspects {
		suspects = append(suspects, map[string]any{
			"sender_id":   s.SenderID,
			"sender_name": s.SenderName,
			"thread_id":   s.ThreadID,
		})
	}
	params := map[string]any{"suspects": suspects}
	res, err := c.submitStep(ctx, stepchan.StepRemove, params, group.ID)
	if err != nil {
		return err
	}

	plan.Note = res.Text
	st.StepLogs[state.RemovalLogKey(group.ID)] = res.Text
	if err := c.store.Save(st); err != nil {
		return err
	}
	c.logger.Info("removal complete", "group", group.Name, "members", len(plan.Suspects))
	return c.advance(st)
}

// Advance folds the current group's outcome into the accumulated results
// and moves the cursor to the next group. Remove does this itself; the
// operation stays available to recover from a failed removal step.
func (c *Coordinator) Advance(ctx context.Context) error {
	st, err := c.store.Load()
	if err != nil {
		return err
	}
	if _, err := c.currentGroup(st, "advance"); err != nil {
		return err
	}
	return c.advance(st)
}

func (c *Coordinator) advance(st *state.WorkflowState) error {
	st.Advance()
	if err := c.store.Save(st); err != nil {
		return err
	}

	if st.PassComplete() {
		c.transition(fmt.Sprintf("pass complete: %d group(s) processed", len(st.UnreadGroups)))
	} else {
		c.transition(fmt.Sprintf("advanced to group %d of %d", st.CurrentGroupIndex+1, len(st.UnreadGroups)))
	}
	return nil
}

// ClearChannel removes any stale slot files, e.g. after a timed-out step
// the operator has given up on.
func (c *Coordinator) ClearChannel() error {
	return c.channel.Clear()
}

// checkWorker guards worker-backed steps: a dead worker is a precondition
// failure, not a timeout to wait out.
func (c *Coordinator) checkWorker(op string) error {
	if c.worker != nil && !c.worker.IsRunning() {
		return precondition(op, "worker is not running; start it first")
	}
	return nil
}

func (c *Coordinator) currentGroup(st *state.WorkflowState, op string) (workflow.Thread, error) {
	if len(st.UnreadGroups) == 0 {
		return workflow.Thread{}, precondition(op, "no unread groups; run classify and filter first")
	}
	group, ok := st.CurrentGroup()
	if !ok {
		return workflow.Thread{}, precondition(op, "all %d group(s) already processed; run filter to start a new pass", len(st.UnreadGroups))
	}
	return group, nil
}

// submitStep clears stale slots, submits one request and waits for its
// terminal status.
func (c *Coordinator) submitStep(ctx context.Context, step string, params map[string]any, threadID string) (*stepchan.Result, error) {
	if err := c.channel.Clear(); err != nil {
		return nil, fmt.Errorf("clear stale channel slots: %w", err)
	}
	if err := c.channel.Submit(step, params); err != nil {
		return nil, err
	}
	c.logEvent(func(l *eventlog.EventLog) error { return l.StepSubmitted(step, threadID) })

	res, err := c.channel.AwaitResult(ctx, c.timeout)
	if err != nil {
		c.logEvent(func(l *eventlog.EventLog) error { return l.StepFailed(step, threadID, err) })
		if errors.Is(err, stepchan.ErrTimeout) {
			return nil, c.diagnoseTimeout(step, err)
		}
		return nil, err
	}

	c.logEvent(func(l *eventlog.EventLog) error { return l.StepComplete(step, threadID, "") })
	return res, nil
}

// diagnoseTimeout distinguishes a dead worker from one that is merely slow.
// The request slot survives a timeout so the operator decides what happens
// next.
func (c *Coordinator) diagnoseTimeout(step string, err error) error {
	if c.worker != nil && !c.worker.IsRunning() {
		return fmt.Errorf("step %s: worker is no longer running: %w", step, err)
	}
	return fmt.Errorf("step %s: worker did not finish within %s; it may still be busy, so the request was left in place: %w", step, c.timeout, err)
}

func (c *Coordinator) transition(detail string) {
	c.logger.Info(detail)
	c.logEvent(func(l *eventlog.EventLog) error { return l.Transition(detail) })
}

func (c *Coordinator) logEvent(fn func(*eventlog.EventLog) error) {
	if c.events == nil {
		return
	}
	if err := fn(c.events); err != nil {
		c.logger.Warn("failed to append audit entry", "error", err)
	}
}
