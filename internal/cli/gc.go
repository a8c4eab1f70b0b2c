package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/internal/daemon"
	"github.com/pkgfs-project/pkgfsd/internal/gc"
	"github.com/pkgfs-project/pkgfsd/internal/notify"
	"github.com/pkgfs-project/pkgfsd/pkg/config"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/spf13/cobra"
)

var (
	gcPlanID   string
	gcLocation string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune old states",
	Long: `Prune old-state directories of an installation location.

Pruning runs in two phases: "gc plan" records what the retention policy
allows to delete, "gc run" deletes exactly that after checking the plan is
still valid.`,
}

var gcPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create a GC plan",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		collector, loc, closer := newCollector(cfg)
		defer closer()

		policy := model.RetentionPolicy{
			KeepMinStates: cfg.RetentionPolicy.KeepMinStates,
			KeepMinAge:    cfg.RetentionPolicy.KeepMinAge,
		}
		plan, err := collector.Plan(policy)
		if err != nil {
			fmtErr("create gc plan: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(plan)
			return
		}

		fmt.Printf("GC Plan: %s\n", plan.PlanID)
		fmt.Printf("  Protected by retention: %d states\n", plan.ProtectedByRetention)
		fmt.Printf("  Protected by boot: %d states\n", plan.ProtectedByBoot)
		fmt.Printf("  To delete: %d states\n", len(plan.ToDelete))
		fmt.Printf("  Estimated reclaim: ~%d MB\n", plan.DeletableBytes/1024/1024)
		fmt.Println()
		fmt.Printf("Run: pkgfsd gc run -l %s --plan-id %s\n", loc, plan.PlanID)
	},
}

var gcRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a GC plan",
	Run: func(cmd *cobra.Command, args []string) {
		if gcPlanID == "" {
			fmtErr("--plan-id is required")
			os.Exit(1)
		}
		cfg := requireConfig()
		collector, _, closer := newCollector(cfg)
		defer closer()

		deleted, err := collector.Run(gcPlanID)
		if err != nil {
			fmtErr("run gc: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]any{"plan_id": gcPlanID, "deleted": deleted})
			return
		}
		fmt.Printf("GC completed: %d states deleted.\n", len(deleted))
	},
}

// newCollector builds a collector for the --location volume. Pruning
// events go to the configured webhooks; the returned func flushes them.
func newCollector(cfg *config.Config) (*gc.Collector, model.MountType, func()) {
	loc := requireLocation(gcLocation)
	vol := requireVolume(cfg, loc)
	log := logging.Component("gc")
	dispatcher := notify.NewDispatcher(daemon.NotifyConfig(cfg), log)
	collector := gc.NewCollector(filepath.Join(vol.PackagesPath(), model.AdminDirName), gc.Options{
		Location:  loc,
		BootState: vol.OldState,
		Notifier:  dispatcher,
		Log:       log,
	})
	return collector, loc, func() { dispatcher.Close() }
}

func init() {
	gcCmd.PersistentFlags().StringVarP(&gcLocation, "location", "l", "system", "installation location (system, home, custom)")
	gcRunCmd.Flags().StringVar(&gcPlanID, "plan-id", "", "plan ID to execute")
	gcCmd.AddCommand(gcPlanCmd)
	gcCmd.AddCommand(gcRunCmd)
	rootCmd.AddCommand(gcCmd)
}
