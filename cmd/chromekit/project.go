package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/chromekit/internal/registry"
)

// createCmd registers a project and scaffolds its directory.
var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new fork project",
	Long: `Create a new fork project in the workspace.

The project directory is scaffolded with a default configuration and an
empty overlays directory. The project records the shared checkout's
current commit as its source pointer.

Examples:
  chromekit create nimbus
  chromekit -w ~/forks create nimbus`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

// deleteCmd removes a project.
var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a fork project",
	Long: `Delete a fork project: its working view, overlays, configuration,
and registry entry. The shared checkout is never touched. A project with
a build in progress cannot be deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

// statusCmd reports project states.
var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show project pipeline status",
	Long: `Show the pipeline status of one project, or all projects when no
name is given. Also reports the shared checkout's lock state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runCreate(cmd *cobra.Command, args []string) error {
	w, log, err := openWorkspace()
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := w.CreateProject(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Created project %s\n", args[0])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	w, log, err := openWorkspace()
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := w.DeleteProject(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted project %s\n", args[0])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	w, log, err := openWorkspace()
	if err != nil {
		return err
	}
	defer log.Sync()

	var records []*registry.Record
	if len(args) == 1 {
		rec, err := w.Registry().Get(args[0])
		if err != nil {
			return err
		}
		records = append(records, rec)
	} else {
		records = w.Registry().List()
	}

	fmt.Printf("Checkout lock: %s\n", w.Checkout().LockState())
	if ref, err := w.Checkout().SnapshotRef(); err == nil {
		fmt.Printf("Checkout ref:  %s\n", ref)
	}
	if len(records) == 0 {
		fmt.Println("No projects.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tSOURCE REF\tLAST BUILD\tLAST ERROR")
	for _, rec := range records {
		lastBuild := "-"
		if rec.LastBuild != nil {
			lastBuild = rec.LastBuild.Format("2006-01-02 15:04:05")
		}
		lastErr := rec.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		ref := rec.SourceRef
		if len(ref) > 12 {
			ref = ref[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.Name, rec.Status, ref, lastBuild, lastErr)
	}
	return tw.Flush()
}
