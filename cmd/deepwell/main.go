// cmd/deepwell/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Nu-SCPTheme/deepwell/internal/config"
	"github.com/Nu-SCPTheme/deepwell/internal/logging"
	"github.com/Nu-SCPTheme/deepwell/internal/page"
	"github.com/Nu-SCPTheme/deepwell/internal/process"
	"github.com/Nu-SCPTheme/deepwell/internal/revision"
	"github.com/Nu-SCPTheme/deepwell/internal/scoring"
	"github.com/Nu-SCPTheme/deepwell/internal/storage"
	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "deepwell",
	Short: "DeepWell is a wiki revision store",
	Long: `DeepWell stores wiki pages as files in per-wiki git repositories,
with page metadata, revision history and votes in a local database.
Every page operation becomes a commit attributed to the wiki user who
made it.`,
}

// app bundles everything a command needs: the loaded config, the
// metadata store and the page manager over it.
type app struct {
	config  *config.Config
	logger  *zap.Logger
	meta    *storage.Store
	manager *page.Manager
}

func initApp() (*app, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = config.Default()
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	meta, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	runner := process.NewRunner(cfg.ProcessTimeout(), logger.Logger)
	manager, err := page.NewManager(meta, cfg.Repositories, runner, logger.Logger)
	if err != nil {
		meta.Close()
		return nil, err
	}

	if err := manager.LoadWikis(context.Background()); err != nil {
		meta.Close()
		return nil, fmt.Errorf("loading wikis: %w", err)
	}

	return &app{config: cfg, logger: logger.Logger, meta: meta, manager: manager}, nil
}

func (a *app) Close() {
	a.meta.Close()
	a.logger.Sync()
}

// wikiBySlug resolves the --wiki flag, which names wikis by their slug
// rather than their ID.
func (a *app) wikiBySlug(slug string) (*storage.Wiki, error) {
	wikis, err := a.meta.ListWikis()
	if err != nil {
		return nil, err
	}
	for _, w := range wikis {
		if w.Slug == slug {
			return w, nil
		}
	}
	return nil, fmt.Errorf("no wiki with slug %q", slug)
}

// readContent reads page content from a file argument, or stdin when
// the argument is "-".
func readContent(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func init() {
	var wikiCmd = &cobra.Command{
		Use:   "wiki",
		Short: "Manage wikis",
		Long:  `Create wikis and change their settings. Each wiki owns one repository.`,
	}

	var addWikiCmd = &cobra.Command{
		Use:   "add [slug]",
		Short: "Create a new wiki",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			domain, _ := cmd.Flags().GetString("domain")

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if domain == "" {
				domain = a.config.Domain
			}

			wiki, err := a.manager.AddWiki(cmd.Context(), args[0], name, domain)
			if err != nil {
				return fmt.Errorf("creating wiki: %w", err)
			}

			fmt.Printf("Created wiki %s (%s)\n", wiki.Slug, wiki.ID)
			return nil
		},
	}

	var listWikisCmd = &cobra.Command{
		Use:   "list",
		Short: "List all wikis",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			wikis, err := a.meta.ListWikis()
			if err != nil {
				return fmt.Errorf("listing wikis: %w", err)
			}

			if len(wikis) == 0 {
				fmt.Println("No wikis found")
				return nil
			}

			for _, w := range wikis {
				fmt.Printf("%s  %s  %s  [%s]\n",
					w.ID[:8],
					w.CreatedAt.Format(time.RFC3339),
					w.Slug,
					w.Domain,
				)
			}
			return nil
		},
	}

	var setDomainCmd = &cobra.Command{
		Use:   "set-domain [slug] [domain]",
		Short: "Change the email domain used for commit authorship",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			wiki, err := a.wikiBySlug(args[0])
			if err != nil {
				return err
			}

			if err := a.manager.SetDomain(wiki.ID, args[1]); err != nil {
				return fmt.Errorf("setting domain: %w", err)
			}

			fmt.Printf("Domain of %s is now %s\n", wiki.Slug, args[1])
			return nil
		},
	}

	// withPageArgs wraps a page command body with the shared setup:
	// app init, wiki resolution and flag extraction.
	type pageCtx struct {
		a        *app
		wiki     *storage.Wiki
		username string
		message  string
	}
	withPage := func(cmd *cobra.Command, fn func(pc pageCtx) error) error {
		wikiSlug, _ := cmd.Flags().GetString("wiki")
		username, _ := cmd.Flags().GetString("user")
		message, _ := cmd.Flags().GetString("message")

		a, err := initApp()
		if err != nil {
			return err
		}
		defer a.Close()

		wiki, err := a.wikiBySlug(wikiSlug)
		if err != nil {
			return err
		}

		return fn(pageCtx{a: a, wiki: wiki, username: username, message: message})
	}

	var createCmd = &cobra.Command{
		Use:   "create [slug] [file]",
		Short: "Create a page from a file ('-' reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				content, err := readContent(args[1])
				if err != nil {
					return fmt.Errorf("reading content: %w", err)
				}

				title, _ := cmd.Flags().GetString("title")
				p, rev, err := pc.a.manager.CreatePage(cmd.Context(),
					pc.wiki.ID, args[0], content, title, pc.username, pc.message)
				if err != nil {
					return fmt.Errorf("creating page: %w", err)
				}

				fmt.Printf("Created page %s at %s\n", p.Slug, rev.CommitHash[:8])
				return nil
			})
		},
	}

	var editCmd = &cobra.Command{
		Use:   "edit [slug] [file]",
		Short: "Replace a page's content from a file ('-' reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				content, err := readContent(args[1])
				if err != nil {
					return fmt.Errorf("reading content: %w", err)
				}

				in := page.EditInput{Content: content}
				if cmd.Flags().Changed("title") {
					title, _ := cmd.Flags().GetString("title")
					in.Title = &title
				}

				rev, err := pc.a.manager.EditPage(cmd.Context(),
					pc.wiki.ID, args[0], in, pc.username, pc.message)
				if err != nil {
					return fmt.Errorf("editing page: %w", err)
				}

				fmt.Printf("Edited page %s at %s\n", args[0], rev.CommitHash[:8])
				return nil
			})
		},
	}

	var catCmd = &cobra.Command{
		Use:   "cat [slug]",
		Short: "Print a page's current content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				var content []byte
				var err error

				if cmd.Flags().Changed("at") {
					atStr, _ := cmd.Flags().GetString("at")
					at, perr := revision.ParseHash(atStr)
					if perr != nil {
						return perr
					}
					content, err = pc.a.manager.GetPageVersion(cmd.Context(), pc.wiki.ID, args[0], at)
				} else {
					content, err = pc.a.manager.GetPageContents(cmd.Context(), pc.wiki.ID, args[0])
				}
				if err != nil {
					return err
				}
				if content == nil {
					return fmt.Errorf("page %s does not exist", args[0])
				}

				os.Stdout.Write(content)
				return nil
			})
		},
	}

	var rmCmd = &cobra.Command{
		Use:   "rm [slug]",
		Short: "Delete a page",
		Long:  `Delete a page. Its history is kept and the page can be restored later.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				rev, err := pc.a.manager.RemovePage(cmd.Context(),
					pc.wiki.ID, args[0], pc.username, pc.message)
				if err != nil {
					return fmt.Errorf("removing page: %w", err)
				}

				if rev == nil {
					fmt.Printf("Removed page %s (no file to delete)\n", args[0])
				} else {
					fmt.Printf("Removed page %s at %s\n", args[0], rev.CommitHash[:8])
				}
				return nil
			})
		},
	}

	var mvCmd = &cobra.Command{
		Use:   "mv [old-slug] [new-slug]",
		Short: "Rename a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				rev, err := pc.a.manager.RenamePage(cmd.Context(),
					pc.wiki.ID, args[0], args[1], pc.username, pc.message)
				if err != nil {
					return fmt.Errorf("renaming page: %w", err)
				}

				fmt.Printf("Renamed %s to %s at %s\n", args[0], args[1], rev.CommitHash[:8])
				return nil
			})
		},
	}

	var restoreCmd = &cobra.Command{
		Use:   "restore [slug]",
		Short: "Bring back the most recently deleted page at a slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				p, rev, err := pc.a.manager.RestorePage(cmd.Context(),
					pc.wiki.ID, args[0], pc.username, pc.message)
				if err != nil {
					return fmt.Errorf("restoring page: %w", err)
				}

				fmt.Printf("Restored page %s at %s\n", p.Slug, rev.CommitHash[:8])
				return nil
			})
		},
	}

	var undoCmd = &cobra.Command{
		Use:   "undo [slug] [hash]",
		Short: "Revert one of a page's revisions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				at, err := revision.ParseHash(args[1])
				if err != nil {
					return err
				}

				rev, err := pc.a.manager.UndoRevision(cmd.Context(),
					pc.wiki.ID, args[0], at, pc.username, pc.message)
				if err != nil {
					if errors.Is(err, wikierr.ErrRevisionMismatch) {
						return fmt.Errorf("revision %s does not belong to page %s", args[1], args[0])
					}
					return fmt.Errorf("undoing revision: %w", err)
				}

				fmt.Printf("Reverted %s at %s\n", args[1][:8], rev.CommitHash[:8])
				return nil
			})
		},
	}

	var tagsCmd = &cobra.Command{
		Use:   "tags [slug] [tags...]",
		Short: "Replace a page's tag set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				rev, err := pc.a.manager.SetTags(cmd.Context(),
					pc.wiki.ID, args[0], args[1:], pc.username, pc.message)
				if err != nil {
					return fmt.Errorf("setting tags: %w", err)
				}

				if rev == nil {
					fmt.Println("Tags unchanged")
					return nil
				}
				fmt.Printf("Updated tags on %s at %s\n", args[0], rev.CommitHash[:8])
				return nil
			})
		},
	}

	var historyCmd = &cobra.Command{
		Use:   "history [slug]",
		Short: "List a page's revisions, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				p, err := pc.a.manager.GetPage(pc.wiki.ID, args[0])
				if err != nil {
					return err
				}

				revs, err := pc.a.manager.History(p.ID)
				if err != nil {
					return fmt.Errorf("listing revisions: %w", err)
				}

				for _, r := range revs {
					fmt.Printf("%s  %s  %-8s  %s  %s\n",
						r.CommitHash[:8],
						r.CreatedAt.Format(time.RFC3339),
						r.ChangeType,
						r.Username,
						r.Message,
					)
				}
				return nil
			})
		},
	}

	var amendCmd = &cobra.Command{
		Use:   "amend [revision-id] [message]",
		Short: "Rewrite the stored message of a revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			rev, err := a.manager.EditRevision(args[0], args[1])
			if err != nil {
				if errors.Is(err, wikierr.ErrRevisionMismatch) {
					return fmt.Errorf("no revision with ID %s", args[0])
				}
				return fmt.Errorf("editing revision: %w", err)
			}

			fmt.Printf("Updated message on %s\n", rev.CommitHash[:8])
			return nil
		},
	}

	var findCmd = &cobra.Command{
		Use:   "find [tags...]",
		Short: "List pages carrying all of the given tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				pages, err := pc.a.manager.PagesWithTags(pc.wiki.ID, args...)
				if err != nil {
					return fmt.Errorf("listing pages: %w", err)
				}

				for _, p := range pages {
					fmt.Printf("%-30s %s\n", p.Slug, strings.Join(p.Tags, " "))
				}
				return nil
			})
		},
	}

	var blameCmd = &cobra.Command{
		Use:   "blame [slug]",
		Short: "Show who last changed each line of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				var at *revision.Hash
				if cmd.Flags().Changed("at") {
					atStr, _ := cmd.Flags().GetString("at")
					hash, err := revision.ParseHash(atStr)
					if err != nil {
						return err
					}
					at = &hash
				}

				blame, err := pc.a.manager.GetBlame(cmd.Context(), pc.wiki.ID, args[0], at)
				if err != nil {
					return fmt.Errorf("computing blame: %w", err)
				}
				if blame == nil {
					return fmt.Errorf("page %s does not exist", args[0])
				}

				author := color.New(color.FgYellow).SprintFunc()
				hash := color.New(color.FgCyan).SprintFunc()
				for _, group := range blame.Groups {
					for _, line := range group.Lines {
						fmt.Printf("%s %-20s %4d) %s\n",
							hash(line.Commit.String()[:8]),
							author(group.Author.Name),
							line.NewLine,
							line.Text,
						)
					}
				}
				return nil
			})
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff [slug] [first] [second]",
		Short: "Show changes to a page between two revisions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				first, err := revision.ParseHash(args[1])
				if err != nil {
					return err
				}
				second, err := revision.ParseHash(args[2])
				if err != nil {
					return err
				}

				diff, err := pc.a.manager.GetDiff(cmd.Context(), pc.wiki.ID, args[0], first, second)
				if err != nil {
					return fmt.Errorf("computing diff: %w", err)
				}

				fmt.Printf("%d insertions, %d deletions (%.1f%% changed)\n",
					diff.Insertions, diff.Deletions, diff.PercentChanged)
				printColoredDiff(diff)
				return nil
			})
		},
	}

	var voteCmd = &cobra.Command{
		Use:   "vote [slug] [value]",
		Short: "Cast a rating on a page (+1, 0 or -1)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				value, err := strconv.ParseInt(args[1], 10, 16)
				if err != nil {
					return fmt.Errorf("parsing vote value: %w", err)
				}

				p, err := pc.a.manager.GetPage(pc.wiki.ID, args[0])
				if err != nil {
					return err
				}

				if err := pc.a.manager.Vote(p.ID, pc.username, int16(value)); err != nil {
					return fmt.Errorf("recording vote: %w", err)
				}

				fmt.Printf("Recorded %+d from %s on %s\n", value, pc.username, args[0])
				return nil
			})
		},
	}

	var scoreCmd = &cobra.Command{
		Use:   "score [slug]",
		Short: "Compute a page's rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPage(cmd, func(pc pageCtx) error {
				strategy, _ := cmd.Flags().GetString("strategy")
				scorer, err := scorerFor(strategy)
				if err != nil {
					return err
				}

				p, err := pc.a.manager.GetPage(pc.wiki.ID, args[0])
				if err != nil {
					return err
				}

				score, err := pc.a.manager.Rating(p.ID, scorer)
				if err != nil {
					return fmt.Errorf("computing score: %w", err)
				}

				fmt.Printf("%s: %g (%s)\n", args[0], score, strategy)
				return nil
			})
		},
	}

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run DeepWell in the foreground",
		Long: `Run DeepWell in the foreground, watching the config file and
applying author domain changes to running wikis until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			current := a.config
			watcher, err := config.NewWatcher(config.Path(), current, func(next *config.Config) {
				if err := a.manager.ApplyDefaultDomain(current.Domain, next.Domain); err != nil {
					a.logger.Error("applying domain change", zap.Error(err))
					return
				}
				current = next
			}, a.logger)
			if err != nil {
				return fmt.Errorf("watching config: %w", err)
			}
			defer watcher.Close()

			a.logger.Info("deepwell running",
				zap.String("repositories", a.config.Repositories),
				zap.String("database", a.config.Database))

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	var vacuumCmd = &cobra.Command{
		Use:   "vacuum [wiki-slug]",
		Short: "Prune unreachable objects from a wiki's repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deep, _ := cmd.Flags().GetBool("deep")

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			wiki, err := a.wikiBySlug(args[0])
			if err != nil {
				return err
			}

			pruned, err := a.manager.Vacuum(cmd.Context(), wiki.ID, deep)
			if err != nil {
				return fmt.Errorf("vacuuming repository: %w", err)
			}

			fmt.Printf("Pruned %d unreachable objects from %s\n", pruned, wiki.Slug)
			return nil
		},
	}

	// Flags
	addWikiCmd.Flags().StringP("name", "n", "", "Display name of the wiki")
	addWikiCmd.Flags().StringP("domain", "d", "", "Email domain for commit authorship")
	addWikiCmd.MarkFlagRequired("name")

	createCmd.Flags().StringP("title", "t", "", "Page title")
	editCmd.Flags().StringP("title", "t", "", "New page title")
	catCmd.Flags().String("at", "", "Read the page as of this commit hash")
	blameCmd.Flags().String("at", "", "Blame the page as of this commit hash")
	scoreCmd.Flags().StringP("strategy", "s", "wikidot",
		"Scoring strategy (wikidot, average, percent, wilson, null)")
	vacuumCmd.Flags().Bool("deep", false, "Also repack aggressively")

	for _, cmd := range []*cobra.Command{
		createCmd, editCmd, catCmd, rmCmd, mvCmd, restoreCmd,
		undoCmd, tagsCmd, historyCmd, findCmd, blameCmd, diffCmd, voteCmd, scoreCmd,
	} {
		cmd.Flags().StringP("wiki", "w", "", "Slug of the wiki to operate on")
		cmd.Flags().StringP("user", "u", "", "Wiki user performing the operation")
		cmd.Flags().StringP("message", "m", "", "Revision message")
		cmd.MarkFlagRequired("wiki")
	}
	for _, cmd := range []*cobra.Command{
		createCmd, editCmd, rmCmd, mvCmd, restoreCmd, undoCmd, tagsCmd, voteCmd,
	} {
		cmd.MarkFlagRequired("user")
	}

	// Wire up the tree
	rootCmd.AddCommand(wikiCmd)
	wikiCmd.AddCommand(addWikiCmd)
	wikiCmd.AddCommand(listWikisCmd)
	wikiCmd.AddCommand(setDomainCmd)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(amendCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(blameCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(vacuumCmd)
	rootCmd.AddCommand(runCmd)
}

func scorerFor(name string) (scoring.Scorer, error) {
	switch name {
	case "wikidot":
		return scoring.Wikidot{}, nil
	case "average":
		return scoring.Average{}, nil
	case "percent":
		return scoring.Percent{}, nil
	case "wilson":
		return scoring.Wilson{}, nil
	case "null":
		return scoring.Null{}, nil
	default:
		return nil, fmt.Errorf("unknown scoring strategy %q", name)
	}
}

func printColoredDiff(diff *revision.Diff) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range diff.Lines {
		switch line.Origin {
		case revision.OriginFileHeader, revision.OriginHunkHeader:
			header.Println(line.Text)
		case revision.OriginAdd, revision.OriginAddEOF:
			added.Printf("+%s\n", line.Text)
		case revision.OriginDelete, revision.OriginDeleteEOF:
			removed.Printf("-%s\n", line.Text)
		default:
			fmt.Printf(" %s\n", line.Text)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
