package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so signals reach
// every process it forks, not just the direct child. Shell wrappers would
// otherwise leave grandchildren holding the output pipes.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// signalGroup delivers sig to the child's process group, falling back to the
// child alone if the group is already gone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		cmd.Process.Signal(sig)
	}
}
