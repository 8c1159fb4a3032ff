package terminal

import (
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Shell runs command lines for the host platform.
type Shell struct {
	Program string
	Flag    string
}

// DetectShell picks the shell for command lines. An explicit program wins;
// otherwise Windows hosts prefer pwsh, then powershell, then cmd.exe, and
// other hosts use /bin/sh.
func DetectShell(program string) Shell {
	if program != "" {
		return ShellFor(program)
	}
	if runtime.GOOS == "windows" {
		for _, candidate := range []string{"pwsh", "powershell"} {
			if _, err := exec.LookPath(candidate); err == nil {
				return ShellFor(candidate)
			}
		}
		return ShellFor("cmd.exe")
	}
	return ShellFor("/bin/sh")
}

// ShellFor returns the shell for a program, choosing its command flag.
func ShellFor(program string) Shell {
	switch shellKind(program) {
	case "pwsh", "powershell":
		return Shell{Program: program, Flag: "-Command"}
	case "cmd":
		return Shell{Program: program, Flag: "/C"}
	}
	return Shell{Program: program, Flag: "-c"}
}

func shellKind(program string) string {
	base := strings.ToLower(filepath.Base(strings.ReplaceAll(program, `\`, "/")))
	return strings.TrimSuffix(base, ".exe")
}

// Command builds the process that runs line through the shell.
func (s Shell) Command(line string) *exec.Cmd {
	return exec.Command(s.Program, s.Flag, line)
}

// Quote makes value a single literal argument for this shell.
func (s Shell) Quote(value string) string {
	switch shellKind(s.Program) {
	case "pwsh", "powershell":
		return "'" + strings.ReplaceAll(value, "'", "''") + "'"
	case "cmd":
		return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
	}
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
