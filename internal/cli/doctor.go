package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"qce/internal/config"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose installation health",
		Long: `Run diagnostic checks on your qce installation.

This command checks:
- Configuration file validity
- Data directory accessibility
- Database accessibility
- NapCat host connectivity`,
		RunE: runDoctor,
	}
}

type checkResult struct {
	name    string
	status  string // ok, warning, error
	message string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)

	fmt.Println("QCE Doctor")
	fmt.Println("==========")
	fmt.Println()

	results := []checkResult{
		checkSystemInfo(),
		checkConfigFile(cliCtx),
		checkDataDir(cliCtx),
		checkDatabase(cliCtx),
		checkHost(cmd.Context(), cliCtx),
	}

	hasError := false
	for _, r := range results {
		icon := "✓"
		switch r.status {
		case "warning":
			icon = "!"
		case "error":
			icon = "✗"
			hasError = true
		}
		fmt.Printf("%s %-16s %s\n", icon, r.name, r.message)
	}

	fmt.Println()
	if hasError {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("All checks passed.")
	return nil
}

func checkSystemInfo() checkResult {
	return checkResult{
		name:    "system",
		status:  "ok",
		message: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkConfigFile(cliCtx *CLIContext) checkResult {
	path := cliCtx.ConfigPath
	if _, err := os.Stat(path); err != nil {
		return checkResult{
			name:    "config",
			status:  "warning",
			message: fmt.Sprintf("%s not found, using defaults (run: qce init)", path),
		}
	}
	return checkResult{name: "config", status: "ok", message: path}
}

func checkDataDir(cliCtx *CLIContext) checkResult {
	dir, err := config.ExpandPath(cliCtx.Config.Storage.DataDir)
	if err != nil || dir == "" {
		if dir, err = config.DefaultConfigDir(); err != nil {
			return checkResult{name: "data dir", status: "error", message: err.Error()}
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return checkResult{name: "data dir", status: "error", message: err.Error()}
	}
	probe := filepath.Join(dir, ".qce-doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return checkResult{name: "data dir", status: "error", message: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	os.Remove(probe)
	return checkResult{name: "data dir", status: "ok", message: dir}
}

func checkDatabase(cliCtx *CLIContext) checkResult {
	db, err := cliCtx.GetStorage()
	if err != nil {
		return checkResult{name: "database", status: "error", message: err.Error()}
	}
	sessions, err := db.ListSessions()
	if err != nil {
		return checkResult{name: "database", status: "error", message: err.Error()}
	}
	return checkResult{name: "database", status: "ok", message: fmt.Sprintf("%d sessions", len(sessions))}
}

func checkHost(ctx context.Context, cliCtx *CLIContext) checkResult {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	host, err := cliCtx.GetClient(dialCtx)
	if err != nil {
		return checkResult{
			name:    "host",
			status:  "error",
			message: fmt.Sprintf("%s unreachable: %v", cliCtx.Config.Host.URL, err),
		}
	}
	if err := host.Probe(dialCtx); err != nil {
		return checkResult{name: "host", status: "error", message: fmt.Sprintf("probe failed: %v", err)}
	}
	return checkResult{name: "host", status: "ok", message: cliCtx.Config.Host.URL}
}
