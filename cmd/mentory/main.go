package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mentory-go/internal/app"
	"mentory-go/internal/config"
	"mentory-go/internal/model"
	"mentory-go/internal/watchsync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates a MentoryApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "record add", "backup").
func newApp(operation string) (*app.MentoryApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewMentoryApp(cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on stderr and reads without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "mentory",
	Short:        "Mood journal with a personal mentor",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		storeID := uuid.New().String()
		cfg := config.NewConfig(storeID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Store ID: %s\n", storeID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		if cfg.Encryption.Type == "age" {
			fmt.Println("Run `mentory backup init` to create backup keys.")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Store ID:   %s\n", cfg.StoreID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Analysis:   %s %s\n", cfg.Analysis.Type, cfg.Analysis.Model)
		fmt.Printf("Sync:       listen %s, peer %s\n", cfg.Sync.ListenAddr, cfg.Sync.PeerURL)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// name command
var nameCmd = &cobra.Command{
	Use:   "name",
	Short: "Manage your name",
}

var nameSetCmd = &cobra.Command{
	Use:   "set NAME",
	Short: "Set your name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("name set")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.SetUserName(cmd.Context(), strings.Join(args, " "))
	},
}

var nameGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show your name",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("name get")
		if err != nil {
			return err
		}
		defer a.Close()

		name, err := a.UserName(cmd.Context())
		if err != nil {
			return err
		}
		if name == nil {
			fmt.Println("No name set.")
			return nil
		}
		fmt.Println(*name)
		return nil
	},
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage journal records",
}

var recordAddCmd = &cobra.Command{
	Use:   "add TEXT",
	Short: "Write a journal entry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawDate, _ := cmd.Flags().GetString("date")
		queueOnly, _ := cmd.Flags().GetBool("queue-only")

		var recordDate time.Time
		if rawDate != "" {
			d, err := time.ParseInLocation("2006-01-02", rawDate, time.Local)
			if err != nil {
				return fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", rawDate, err)
			}
			recordDate = d
		}

		a, err := newApp("record add")
		if err != nil {
			return err
		}
		defer a.Close()

		added, err := a.AddRecord(cmd.Context(), strings.Join(args, " "), recordDate, !queueOnly)
		if err != nil {
			return err
		}

		fmt.Printf("Emotion: %s\n", added.Pending.Emotion)
		fmt.Println(added.Pending.AnalyzedResult)
		for _, s := range added.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
		if added.Record == nil {
			fmt.Println("Queued; run `mentory record flush` to save.")
		}
		return nil
	},
}

var recordFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Save queued entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("record flush")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.FlushQueue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Saved %d record(s)\n", n)
		return nil
	},
}

var recordCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count saved and queued records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("record count")
		if err != nil {
			return err
		}
		defer a.Close()

		saved, err := a.RecordCount(cmd.Context())
		if err != nil {
			return err
		}
		pending, err := a.PendingCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d saved, %d queued\n", saved, pending)
		return nil
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("record list")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Records(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No records.")
			return nil
		}

		for _, r := range records {
			fmt.Printf("%s  %s  %-9s  %s\n", r.ID, r.RecordDate.Format("2006-01-02"), r.Emotion, r.AnalyzedResult)
			for _, s := range r.Suggestions {
				mark := " "
				if s.IsDone {
					mark = "x"
				}
				fmt.Printf("    [%s] %s  %s\n", mark, s.ID, s.Content)
			}
		}
		return nil
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete RECORD_ID",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("record delete")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.DeleteRecord(cmd.Context(), args[0])
	},
}

// suggestion command
var suggestionCmd = &cobra.Command{
	Use:   "suggestion",
	Short: "Manage suggestions",
}

var suggestionAddCmd = &cobra.Command{
	Use:   "add RECORD_ID TEXT",
	Short: "Add a suggestion to a record",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("suggestion add")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.AddSuggestion(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Println(s.ID)
		return nil
	},
}

var suggestionDoneCmd = &cobra.Command{
	Use:   "done SUGGESTION_ID",
	Short: "Mark a suggestion done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")

		a, err := newApp("suggestion done")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.MarkSuggestionDone(cmd.Context(), args[0], !undo)
	},
}

// character command
var characterCmd = &cobra.Command{
	Use:   "character",
	Short: "Manage the mentor persona",
}

var characterGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the mentor persona",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("character get")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.Character(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(c)
		return nil
	},
}

var characterSetCmd = &cobra.Command{
	Use:       "set cool|warm",
	Short:     "Choose the mentor persona",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(model.CharacterCool), string(model.CharacterWarm)},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("character set")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.SetCharacter(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Mentor is now %s\n", c)
		return nil
	},
}

// mentor command
var mentorCmd = &cobra.Command{
	Use:   "mentor",
	Short: "Mentor messages",
}

func printMentor(m model.MentorMessage) {
	character := "-"
	if m.Character != nil {
		character = string(*m.Character)
	}
	content := "(no message yet, run `mentory mentor refresh`)"
	if m.Content != nil {
		content = *m.Content
	}
	fmt.Printf("[%s] %s\n", character, content)
}

var mentorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the mentor message",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("mentor show")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.MentorMessage(cmd.Context())
		if err != nil {
			return err
		}
		printMentor(m)
		return nil
	},
}

var mentorRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask the mentor for a new message",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("mentor refresh")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.RefreshMentor(cmd.Context())
		if err != nil {
			return err
		}
		printMentor(m)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Share the mentor message with a companion device",
}

var syncServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve mentor updates until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("sync serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.ServeSync(cmd.Context())
	},
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow mentor updates from the serving device",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("sync watch")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.RunWatch(cmd.Context(), func(s watchsync.WatchSyncState) {
			fmt.Printf("%s  [%s] %s  (%s)\n", time.Now().Format("15:04:05"), s.MentorCharacter, s.MentorMessage, s.Status)
		})
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the journal to every vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Backup(cmd.Context())
		for _, r := range results {
			fmt.Printf("%-12s version %d  %d bytes\n", r.Vault, r.Version, r.Size)
		}
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		return nil
	},
}

var backupInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate backup encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backup init")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("New key passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}

		if err := a.InitBackupKeys(passphrase); err != nil {
			return err
		}
		fmt.Println("Backup keys created. Keep the passphrase safe: it is needed to restore.")
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the journal from a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp("restore")
		if err != nil {
			return err
		}
		defer a.Close()

		dest, err := a.Restore(cmd.Context(), vaultName, force, readPassphrase)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Journal restored to %s\n", dest)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// name subcommands
	nameCmd.AddCommand(nameSetCmd)
	nameCmd.AddCommand(nameGetCmd)

	// record subcommands
	recordCmd.AddCommand(recordAddCmd)
	recordAddCmd.Flags().String("date", "", "Day the entry belongs to (YYYY-MM-DD, default today)")
	recordAddCmd.Flags().Bool("queue-only", false, "Queue the analyzed entry without saving it")
	recordCmd.AddCommand(recordFlushCmd)
	recordCmd.AddCommand(recordCountCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordDeleteCmd)

	// suggestion subcommands
	suggestionCmd.AddCommand(suggestionAddCmd)
	suggestionCmd.AddCommand(suggestionDoneCmd)
	suggestionDoneCmd.Flags().Bool("undo", false, "Mark the suggestion as not done")

	// character and mentor subcommands
	characterCmd.AddCommand(characterGetCmd)
	characterCmd.AddCommand(characterSetCmd)
	mentorCmd.AddCommand(mentorShowCmd)
	mentorCmd.AddCommand(mentorRefreshCmd)

	// sync subcommands
	syncCmd.AddCommand(syncServeCmd)
	syncCmd.AddCommand(syncWatchCmd)

	backupCmd.AddCommand(backupInitCmd)
	restoreCmd.Flags().String("vault", "", "Vault to restore from (default: first configured)")
	restoreCmd.Flags().Bool("force", false, "Overwrite an existing journal")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(suggestionCmd)
	rootCmd.AddCommand(characterCmd)
	rootCmd.AddCommand(mentorCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
