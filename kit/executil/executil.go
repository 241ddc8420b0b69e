package executil

import (
	"context"
	"os"
	"os/exec"
)

// RunCmd runs a command with stdout and stderr attached to the
// current process.
func RunCmd(commands ...string) error {
	return RunCmdContext(context.Background(), "", commands...)
}

func RunCmdContext(ctx context.Context, dir string, commands ...string) error {
	cmd := MakeCmd(ctx, dir, commands...)
	return cmd.Run()
}

func MakeCmd(ctx context.Context, dir string, commands ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, commands[0], commands[1:]...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	return cmd
}
