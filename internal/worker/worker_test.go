package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/user/groupsweep/internal/agent"
	"github.com/user/groupsweep/internal/stepchan"
)

func startWorker(t *testing.T, ch *stepchan.Channel, ag agent.Agent) context.CancelFunc {
	t.Helper()
	w := New(ch, ag, 10, slog.Default())
	w.SetPollInterval(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	return cancel
}

func TestWorkerExecutesClassify(t *testing.T) {
	dir := t.TempDir()
	controller := stepchan.New(dir, slog.Default())
	controller.SetPollInterval(10 * time.Millisecond)
	workerSide := stepchan.New(dir, slog.Default())

	ag := &agent.Scripted{Responses: []agent.ScriptedResponse{
		{Match: "conversation list", Result: agent.Result{
			Text:        `{"threads": [{"thread_id": "g1", "name": "Family", "unread": true, "is_group": true}]}`,
			Screenshots: []string{"captures/list.png"},
		}},
	}}
	cancel := startWorker(t, workerSide, ag)
	defer cancel()

	if err := controller.Submit(stepchan.StepClassify, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, err := controller.AwaitResult(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if !strings.Contains(res.Text, `"thread_id": "g1"`) {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Screenshots) != 1 {
		t.Fatalf("screenshots = %v", res.Screenshots)
	}
}

func TestWorkerReadPassesThreadName(t *testing.T) {
	dir := t.TempDir()
	controller := stepchan.New(dir, slog.Default())
	controller.SetPollInterval(10 * time.Millisecond)
	workerSide := stepchan.New(dir, slog.Default())

	ag := &agent.Scripted{Responses: []agent.ScriptedResponse{
		{Match: `"Weekend Hikers"`, Result: agent.Result{Text: `{"suspects": []}`}},
	}}
	cancel := startWorker(t, workerSide, ag)
	defer cancel()

	params := map[string]any{"thread_id": "g7", "thread_name": "Weekend Hikers"}
	if err := controller.Submit(stepchan.StepReadMessages, params); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, err := controller.AwaitResult(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if res.Text != `{"suspects": []}` {
		t.Fatalf("text = %q", res.Text)
	}

	calls := ag.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0], "Weekend Hikers") {
		t.Fatalf("calls = %v", calls)
	}
}

func TestWorkerRemoveRequiresSuspects(t *testing.T) {
	dir := t.TempDir()
	controller := stepchan.New(dir, slog.Default())
	controller.SetPollInterval(10 * time.Millisecond)
	workerSide := stepchan.New(dir, slog.Default())

	cancel := startWorker(t, workerSide, &agent.Scripted{})
	defer cancel()

	params := map[string]any{"suspects": []any{}}
	if err := controller.Submit(stepchan.StepRemove, params); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := controller.AwaitResult(context.Background(), 5*time.Second)
	var stepErr *stepchan.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want step error", err)
	}
	if !strings.Contains(stepErr.Message, "no suspects") {
		t.Fatalf("message = %q", stepErr.Message)
	}
}

func TestWorkerRemoveRejectsIncompleteSuspects(t *testing.T) {
	dir := t.TempDir()
	controller := stepchan.New(dir, slog.Default())
	controller.SetPollInterval(10 * time.Millisecond)
	workerSide := stepchan.New(dir, slog.Default())

	cancel := startWorker(t, workerSide, &agent.Scripted{})
	defer cancel()

	params := map[string]any{"suspects": []any{
		map[string]any{"sender_name": "Spam Bot"},
	}}
	if err := controller.Submit(stepchan.StepRemove, params); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := controller.AwaitResult(context.Background(), 5*time.Second)
	var stepErr *stepchan.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want step error", err)
	}
	if !strings.Contains(stepErr.Message, "sender_id") {
		t.Fatalf("message = %q", stepErr.Message)
	}
}

func TestWorkerAgentFailureBecomesStepError(t *testing.T) {
	dir := t.TempDir()
	controller := stepchan.New(dir, slog.Default())
	controller.SetPollInterval(10 * time.Millisecond)
	workerSide := stepchan.New(dir, slog.Default())

	ag := &agent.Scripted{Responses: []agent.ScriptedResponse{
		{Match: "conversation list", Err: errors.New("browser closed")},
	}}
	cancel := startWorker(t, workerSide, ag)
	defer cancel()

	if err := controller.Submit(stepchan.StepClassify, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := controller.AwaitResult(context.Background(), 5*time.Second)
	var stepErr *stepchan.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want step error", err)
	}
	if !strings.Contains(stepErr.Message, "browser closed") {
		t.Fatalf("message = %q", stepErr.Message)
	}
}

func TestWorkerUnknownStep(t *testing.T) {
	dir := t.TempDir()
	controller := stepchan.New(dir, slog.Default())
	controller.SetPollInterval(10 * time.Millisecond)
	workerSide := stepchan.New(dir, slog.Default())

	cancel := startWorker(t, workerSide, &agent.Scripted{})
	defer cancel()

	if err := controller.Submit("defragment", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := controller.AwaitResult(context.Background(), 5*time.Second)
	var stepErr *stepchan.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want step error", err)
	}
	if !strings.Contains(stepErr.Message, "unknown step") {
		t.Fatalf("message = %q", stepErr.Message)
	}
}

func TestWorkerHandlesSequentialSteps(t *testing.T) {
	dir := t.TempDir()
	controller := stepchan.New(dir, slog.Default())
	controller.SetPollInterval(10 * time.Millisecond)
	workerSide := stepchan.New(dir, slog.Default())

	ag := &agent.Scripted{Responses: []agent.ScriptedResponse{
		{Match: "conversation list", Result: agent.Result{Text: `{"threads": []}`}},
		{Match: "member management", Result: agent.Result{Text: "removed Spam Bot"}},
	}}
	cancel := startWorker(t, workerSide, ag)
	defer cancel()

	if err := controller.Submit(stepchan.StepClassify, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := controller.AwaitResult(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("classify: %v", err)
	}

	params := map[string]any{"suspects": []any{
		map[string]any{"sender_id": "u9", "sender_name": "Spam Bot", "thread_id": "g1"},
	}}
	if err := controller.Submit(stepchan.StepRemove, params); err != nil {
		t.Fatalf("Submit remove: %v", err)
	}
	res, err := controller.AwaitResult(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Text != "removed Spam Bot" {
		t.Fatalf("text = %q", res.Text)
	}

	calls := ag.Calls()
	if len(calls) != 2 || !strings.Contains(calls[1], "Spam Bot (id u9)") {
		t.Fatalf("calls = %v", calls)
	}
}
