package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/user/groupsweep/internal/coordinator"
	"github.com/user/groupsweep/internal/eventlog"
	"github.com/user/groupsweep/internal/state"
	"github.com/user/groupsweep/internal/supervisor"
	"github.com/user/groupsweep/internal/workflow"
)

const sessionHelp = `Commands:
  server start|stop   manage the automation server
  worker start|stop   manage the step worker
  classify            inventory the conversation list
  filter              build the unread-group worklist
  read                read the current group's new messages
  extract             extract spam suspects from the read output
  plan                build the removal plan for the current group
  remove              resolve the removal plan and move to the next group
  advance             skip to the next group without removal
  status              show workflow and process state
  clear               clear stale step channel files
  help                show this help
  quit                exit (running processes are stopped)`

// session is the interactive controller. It owns the operator terminal and
// doubles as the coordinator's Confirmer so removal approval happens inline.
type session struct {
	in     io.Reader
	out    io.Writer
	tty    bool
	logger *slog.Logger

	coord  *coordinator.Coordinator
	store  *state.Store
	server *supervisor.ServerSupervisor
	worker *supervisor.WorkerSupervisor
	events *eventlog.EventLog

	reader *bufio.Reader
}

func (s *session) loop(ctx context.Context) error {
	s.reader = bufio.NewReader(s.in)
	fmt.Fprintln(s.out, "groupsweep controller session. Type 'help' for commands.")

	for {
		if s.tty {
			fmt.Fprint(s.out, "groupsweep> ")
		}
		line, err := s.reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			if strings.TrimSpace(line) == "" {
				break
			}
		} else if err != nil {
			return err
		}

		quit, err := s.dispatch(ctx, strings.TrimSpace(line))
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			break
		}
	}

	s.shutdown()
	return nil
}

func (s *session) dispatch(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "help":
		fmt.Fprintln(s.out, sessionHelp)
	case "server":
		return false, s.manageServer(ctx, fields[1:])
	case "worker":
		return false, s.manageWorker(ctx, fields[1:])
	case "classify":
		n, err := s.coord.Classify(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Classified %d thread(s).\n", n)
	case "filter":
		n, err := s.coord.Filter(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%d unread group(s) to process.\n", n)
	case "read":
		group, err := s.coord.ReadCurrent(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Read new messages in %q.\n", group.Name)
	case "extract":
		n, err := s.coord.ExtractCurrent(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Extracted %d suspect(s).\n", n)
	case "plan":
		plan, err := s.coord.PlanCurrent(ctx)
		if err != nil {
			return false, err
		}
		s.printPlan(plan)
	case "remove":
		err := s.coord.RemoveCurrent(ctx)
		if errors.Is(err, coordinator.ErrRemovalDeclined) {
			fmt.Fprintln(s.out, "Removal declined; the group was skipped.")
			s.printCursor()
			return false, nil
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Removal handled.")
		s.printCursor()
	case "advance":
		if err := s.coord.Advance(ctx); err != nil {
			return false, err
		}
		s.printCursor()
	case "status":
		return false, s.printStatus(ctx)
	case "clear":
		if err := s.coord.ClearChannel(); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Step channel cleared.")
	case "quit", "exit":
		return true, nil
	default:
		fmt.Fprintf(s.out, "unknown command %q; type 'help'\n", fields[0])
	}
	return false, nil
}

func (s *session) manageServer(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: server start|stop")
	}
	switch args[0] {
	case "start":
		if err := s.server.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Server is healthy.")
		s.supervision("server started")
	case "stop":
		if err := s.server.Stop(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Server stopped.")
		s.supervision("server stopped")
	default:
		return fmt.Errorf("usage: server start|stop")
	}
	return nil
}

func (s *session) manageWorker(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: worker start|stop")
	}
	switch args[0] {
	case "start":
		if err := s.worker.Start(ctx); err != nil {
			return err
		}
		go s.relayWorkerOutput(s.worker.Lines())
		if err := s.worker.WaitReady(ctx, 30*time.Second); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Worker is ready for step requests.")
		s.supervision("worker started")
	case "stop":
		if err := s.worker.Stop(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Worker stopped.")
		s.supervision("worker stopped")
	default:
		return fmt.Errorf("usage: worker start|stop")
	}
	return nil
}

func (s *session) supervision(detail string) {
	if s.events == nil {
		return
	}
	if err := s.events.Supervision(detail); err != nil {
		s.logger.Warn("failed to append audit entry", "error", err)
	}
}

func (s *session) relayWorkerOutput(lines <-chan string) {
	for line := range lines {
		fmt.Fprintf(s.out, "worker | %s\n", line)
	}
}

// Confirm shows the plan and asks the operator for an explicit yes.
func (s *session) Confirm(ctx context.Context, group workflow.Thread, plan *workflow.RemovalPlan) (bool, error) {
	fmt.Fprintf(s.out, "About to remove %d member(s) from %q:\n", len(plan.Suspects), group.Name)
	for _, suspect := range plan.Suspects {
		fmt.Fprintf(s.out, "  - %s: %s\n", suspect.SenderName, suspect.EvidenceText)
	}
	fmt.Fprint(s.out, "Proceed with removal? [y/N] ")

	line, err := s.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (s *session) printPlan(plan *workflow.RemovalPlan) {
	fmt.Fprintln(s.out, plan.Note)
	for _, suspect := range plan.Suspects {
		fmt.Fprintf(s.out, "  - %s (%s): %s\n", suspect.SenderName, suspect.SenderID, suspect.EvidenceText)
	}
}

func (s *session) printCursor() {
	st, err := s.store.Load()
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if st.PassComplete() {
		fmt.Fprintf(s.out, "All %d group(s) processed.\n", len(st.UnreadGroups))
		return
	}
	if group, ok := st.CurrentGroup(); ok {
		fmt.Fprintf(s.out, "Now on group %d of %d: %q.\n", st.CurrentGroupIndex+1, len(st.UnreadGroups), group.Name)
	}
}

func (s *session) printStatus(ctx context.Context) error {
	st, err := s.store.Load()
	if err != nil {
		return err
	}

	serverState, serverDiag := s.server.Check(ctx)
	fmt.Fprintf(s.out, "server: %s", serverState)
	if serverDiag != "" {
		fmt.Fprintf(s.out, " (%s)", serverDiag)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "worker: %s", s.worker.State())
	if exitErr := s.worker.ExitError(); exitErr != nil {
		fmt.Fprintf(s.out, " (%v)", exitErr)
	}
	fmt.Fprintln(s.out)

	fmt.Fprintf(s.out, "threads: %d, unread groups: %d\n", len(st.Threads), len(st.UnreadGroups))
	if group, ok := st.CurrentGroup(); ok {
		fmt.Fprintf(s.out, "current group: %q (%d of %d)\n", group.Name, st.CurrentGroupIndex+1, len(st.UnreadGroups))
		fmt.Fprintf(s.out, "current suspects: %d, plan: %v\n", len(st.CurrentSuspects), st.CurrentPlan != nil)
	} else if len(st.UnreadGroups) > 0 {
		fmt.Fprintln(s.out, "pass complete")
	}
	fmt.Fprintf(s.out, "accumulated: %d suspect(s) across %d plan(s)\n", len(st.AllSuspects), len(st.AllPlans))
	return nil
}

func (s *session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.worker.IsRunning() {
		if err := s.worker.Stop(ctx); err != nil {
			s.logger.Warn("failed to stop worker", "error", err)
		}
	}
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Warn("failed to stop server", "error", err)
	}
}
