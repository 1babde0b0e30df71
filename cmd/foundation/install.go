package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Upstream convenience installers, fetched and executed the way their
// projects document. Only reached with an explicit --install-missing.
var toolInstallers = []struct {
	binary string
	url    string
}{
	{"docker", "https://get.docker.com"},
	{"git", "https://raw.githubusercontent.com/ElliottStorey/git-install/main/install.sh"},
	{"railpack", "https://railpack.com/install.sh"},
}

// installMissingTools installs docker, git and railpack when they are
// not on PATH.
func installMissingTools(ctx context.Context) error {
	for _, tool := range toolInstallers {
		if _, err := exec.LookPath(tool.binary); err == nil {
			continue
		}
		fmt.Printf("Installing %s...\n", tool.binary)
		if err := runInstallScript(ctx, tool.binary, tool.url); err != nil {
			return fmt.Errorf("install %s: %w", tool.binary, err)
		}
		fmt.Printf("%s installed.\n", tool.binary)
	}
	return nil
}

func runInstallScript(ctx context.Context, name, url string) error {
	script := "get-" + name + ".sh"
	defer func() { _ = os.Remove(script) }()

	fetch := exec.CommandContext(ctx, "curl", "-fsSL", url, "-o", script)
	fetch.Stdout = os.Stdout
	fetch.Stderr = os.Stderr
	if err := fetch.Run(); err != nil {
		return err
	}
	run := exec.CommandContext(ctx, "sh", script)
	run.Stdout = os.Stdout
	run.Stderr = os.Stderr
	return run.Run()
}
