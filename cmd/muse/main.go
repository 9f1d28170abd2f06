// cmd/muse/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"muse/internal/bisect"
	"muse/internal/bundle"
	"muse/internal/manifest"
	"muse/internal/model"
	"muse/internal/repo"
	"muse/internal/vcserr"
	"muse/internal/worktree"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	exitOK       = 0
	exitInternal = 1
	exitUser     = 2
	exitNoRepo   = 3
)

var rootCmd = &cobra.Command{
	Use:   "muse",
	Short: "Muse is version control for music-production projects",
	Long: `Muse tracks MIDI and audio working trees the way git tracks source:
content-addressed snapshots, branches, bisect, and selective restore,
built for large binary takes instead of text.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// openRepo locates the repository from the current directory up.
func openRepo() (*repo.Repo, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	root, err := repo.FindRoot(dir)
	if err != nil {
		return nil, err
	}
	return repo.Open(root)
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Muse repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			if err := repo.Init(dir); err != nil {
				return err
			}
			fmt.Println("Initialized empty Muse repository in", dir)
			return nil
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit [message]",
		Short: "Snapshot the working tree as a new commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			commit, err := r.Commit(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("[%s %s] %s\n", commit.Branch, commit.ID[:8], commit.Message)
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "List commits on the current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			commits, err := r.Log()
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				fmt.Println("No commits yet")
				return nil
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			for _, c := range commits {
				fmt.Printf("%s  %s  %s  %s\n",
					yellow(c.ID[:8]),
					c.Timestamp.Local().Format(time.RFC3339),
					c.Author,
					c.Message,
				)
			}
			return nil
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show working tree changes against HEAD",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			head, err := r.HeadManifest()
			if err != nil {
				return err
			}
			current, err := r.Tree.Scan()
			if err != nil {
				return err
			}

			printDiff(manifest.Diff(head, current))
			return nil
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff [base] [target]",
		Short: "Compare two snapshots (default: HEAD~1 against HEAD)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			base, target := "HEAD~1", "HEAD"
			if len(args) >= 1 {
				base = args[0]
			}
			if len(args) == 2 {
				target = args[1]
			}

			baseFiles, _, err := r.ManifestAt(base)
			if err != nil {
				return err
			}
			targetFiles, _, err := r.ManifestAt(target)
			if err != nil {
				return err
			}

			printDiff(manifest.Diff(baseFiles, targetFiles))
			return nil
		},
	}

	var branchCmd = &cobra.Command{
		Use:   "branch [name]",
		Short: "List branches, or create one at HEAD",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if len(args) == 1 {
				if err := r.CreateBranch(args[0], ""); err != nil {
					return err
				}
				fmt.Printf("Created branch %s\n", args[0])
				return nil
			}

			branches, err := r.Refs.ListBranches()
			if err != nil {
				return err
			}
			head, err := r.Refs.ReadHEAD()
			if err != nil {
				return err
			}
			for _, b := range branches {
				marker := " "
				if b == head.Branch {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, b)
			}
			return nil
		},
	}

	var checkoutCmd = &cobra.Command{
		Use:   "checkout <ref>",
		Short: "Switch branches or detach at a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Checkout(args[0]); err != nil {
				return err
			}
			fmt.Printf("Checked out %s\n", args[0])
			return nil
		},
	}

	var resetMode string
	var resetCmd = &cobra.Command{
		Use:   "reset <ref>",
		Short: "Move the current branch to a commit",
		Long: `Moves the current branch ref to the target commit. --mode=soft and
--mode=mixed touch the ref only; --mode=hard also replaces the working
tree with the target snapshot, validating every object first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := model.ResetMode(resetMode)
			switch mode {
			case model.ResetSoft, model.ResetMixed, model.ResetHard:
			default:
				return fmt.Errorf("invalid reset mode %q (soft, mixed, hard)", resetMode)
			}

			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			result, err := r.Worktree.Reset(args[0], mode)
			if err != nil {
				return err
			}

			fmt.Printf("Reset (%s) to %s\n", result.Mode, result.TargetCommit[:8])
			if mode == model.ResetHard {
				fmt.Printf("  %d files restored, %d deleted\n", result.FilesRestored, result.FilesDeleted)
			}
			return nil
		},
	}
	resetCmd.Flags().StringVar(&resetMode, "mode", "mixed", "reset mode: soft, mixed, hard")

	var restoreSource string
	var restoreStaged bool
	var restoreCmd = &cobra.Command{
		Use:   "restore [paths...]",
		Short: "Restore paths from a snapshot without moving refs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			result, err := r.Worktree.Restore(args, restoreSource, restoreStaged)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("Restored from %s:\n", result.SourceCommit[:8])
			for _, path := range result.FilesRestored {
				fmt.Printf("\t%s %s\n", green("✓"), path)
			}
			return nil
		},
	}
	restoreCmd.Flags().StringVar(&restoreSource, "source", "", "snapshot to restore from (default HEAD)")
	restoreCmd.Flags().BoolVar(&restoreStaged, "staged", false, "restore the staged copy (reserved; behaves like the default)")

	rootCmd.AddCommand(initCmd, commitCmd, logCmd, statusCmd, diffCmd,
		branchCmd, checkoutCmd, resetCmd, restoreCmd,
		bisectCommand(), bundleCommand(), watchCommand())
}

func bisectCommand() *cobra.Command {
	var bisectCmd = &cobra.Command{
		Use:   "bisect",
		Short: "Binary-search history for the commit that broke a take",
	}

	var startCmd = &cobra.Command{
		Use:   "start",
		Short: "Open a bisect session",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Bisect.Start(); err != nil {
				return err
			}
			fmt.Println("Bisect session started; mark a good and a bad commit")
			return nil
		},
	}

	mark := func(verdict string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			ref := "HEAD"
			if len(args) == 1 {
				ref = args[0]
			}
			result, err := r.Bisect.Mark(ref, verdict)
			if err != nil {
				return err
			}
			printBisectStep(result)
			return nil
		}
	}

	var goodCmd = &cobra.Command{
		Use:   "good [ref]",
		Short: "Mark a commit as good (default HEAD)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  mark("good"),
	}
	var badCmd = &cobra.Command{
		Use:   "bad [ref]",
		Short: "Mark a commit as bad (default HEAD)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  mark("bad"),
	}

	var maxSteps int
	var runCmd = &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Drive the search with a command (exit 0 = good)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			result, err := r.Bisect.Run(args, maxSteps)
			if err != nil {
				return err
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("Culprit found in %d steps: %s\n", result.Steps, red(result.Culprit[:8]))
			return nil
		},
	}
	runCmd.Flags().IntVar(&maxSteps, "max-steps", 32, "abort after this many steps")

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the current bisect session",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			session, state, err := r.Bisect.Status()
			if err != nil {
				return err
			}
			if state == bisect.StateNoSession {
				fmt.Println("No bisect session")
				return nil
			}
			fmt.Printf("State: %s\n", state)
			if session.Good != "" {
				fmt.Printf("Good:  %s\n", session.Good[:8])
			}
			if session.Bad != "" {
				fmt.Printf("Bad:   %s\n", session.Bad[:8])
			}
			if session.Current != "" {
				fmt.Printf("Next:  %s\n", session.Current[:8])
			}
			fmt.Printf("Tested: %d commits\n", len(session.Tested))
			return nil
		},
	}

	var resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "End the session and restore the pre-bisect state",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Bisect.Reset(); err != nil {
				return err
			}
			fmt.Println("Bisect session cleared")
			return nil
		},
	}

	bisectCmd.AddCommand(startCmd, goodCmd, badCmd, runCmd, statusCmd, resetCmd)
	return bisectCmd
}

func bundleCommand() *cobra.Command {
	var bundleCmd = &cobra.Command{
		Use:   "bundle",
		Short: "Export and import compressed snapshot bundles",
	}

	var createCmd = &cobra.Command{
		Use:   "create <ref> <dest>",
		Short: "Pack a snapshot's objects into a bundle file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			files, commitID, err := r.ManifestAt(args[0])
			if err != nil {
				return err
			}
			commit, err := r.Store.GetCommit(commitID)
			if err != nil {
				return err
			}

			writer := bundle.NewWriter(r.Objects, r.Logger)
			if err := writer.Create(args[1], commitID, commit.SnapshotID, files); err != nil {
				return err
			}
			fmt.Printf("Bundled %s (%d files) into %s\n", commitID[:8], len(files), args[1])
			return nil
		},
	}

	var extractCmd = &cobra.Command{
		Use:   "extract <bundle>",
		Short: "Load a bundle's objects into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			header, err := bundle.Extract(args[0], r.Objects, r.Logger)
			if err != nil {
				return err
			}
			fmt.Printf("Extracted %d objects from commit %s\n", len(header.Files), header.CommitID[:8])
			return nil
		},
	}

	bundleCmd.AddCommand(createCmd, extractCmd)
	return bundleCmd
}

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report working-tree changes live",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			watcher, err := worktree.NewWatcher(r.Tree, r.Logger)
			if err != nil {
				return err
			}
			defer watcher.Close()

			fmt.Printf("Watching %s (Ctrl-C to stop)\n", r.Tree.Root())

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)

			yellow := color.New(color.FgYellow).SprintFunc()
			for {
				select {
				case event, ok := <-watcher.Events():
					if !ok {
						return nil
					}
					fmt.Printf("%s %s\n", yellow(event.Op), event.Path)
				case <-interrupt:
					return nil
				}
			}
		},
	}
}

func printDiff(d *model.DiffResult) {
	if d.Empty() {
		fmt.Println("No changes (working tree clean)")
		return
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for _, path := range d.Changed {
		fmt.Printf("\t%s %s\n", yellow("M"), path)
	}
	for _, path := range d.Added {
		fmt.Printf("\t%s %s\n", green("A"), path)
	}
	for _, path := range d.Removed {
		fmt.Printf("\t%s %s\n", red("D"), path)
	}
}

func printBisectStep(result *bisect.StepResult) {
	switch result.State {
	case bisect.StateAwaitingBounds:
		fmt.Printf("Waiting for a %s commit to be marked\n", result.Awaiting)
	case bisect.StateSearching:
		fmt.Printf("%d candidates remain; check out %s next\n", result.Remaining, result.Current[:8])
	case bisect.StateDone:
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("First bad commit: %s\n", red(result.Culprit[:8]))
	}
}

// exitCode maps domain error kinds to the process exit taxonomy.
func exitCode(err error) int {
	var verr *vcserr.Error
	if !errors.As(err, &verr) {
		return exitInternal
	}
	switch verr.Kind {
	case vcserr.KindNotARepository:
		return exitNoRepo
	case vcserr.KindObjectMissing:
		return exitInternal
	default:
		return exitUser
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}
