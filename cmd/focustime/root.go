package main

import (
	"fmt"
	"strings"

	"github.com/focustime/focustime/internal/buildinfo"
	"github.com/focustime/focustime/internal/cmd"
	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/logging"
	"github.com/focustime/focustime/internal/util"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "~/.focustime/config.yaml"

// app carries the loaded configuration to the subcommands.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "focustime",
		Short:         "Focus timer for your TaskFlow tasks",
		Long:          `focustime signs in to TaskFlow with OAuth 2.1 + PKCE and runs focus sessions on your tasks.`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetVersionTemplate("focustime {{.Version}}\n")
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "Configuration file path")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.statusCmd(),
		a.whoamiCmd(),
		a.refreshCmd(),
		a.tasksCmd(),
		a.focusCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) load() error {
	path, err := config.ResolvePath(a.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	util.SetLogLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) loginCmd() *cobra.Command {
	opts := &cmd.LoginOptions{}
	c := &cobra.Command{
		Use:   "login",
		Short: "Sign in to TaskFlow",
		Long: `Sign in to TaskFlow in the browser.

A local server on the redirect URI port receives the callback. If the browser cannot
reach it (for example over SSH), paste the callback URL when prompted.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			opts.Prompt = cmd.DefaultPrompt()
			opts.Out = c.OutOrStdout()
			return cmd.DoLogin(c.Context(), a.cfg, opts)
		},
	}
	c.Flags().BoolVar(&opts.NoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	c.Flags().IntVar(&opts.CallbackPort, "callback-port", 0, "Override the local callback port (defaults to the redirect URI port)")
	return c
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.DoLogout(c.Context(), a.cfg, c.OutOrStdout())
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sign-in state, token expiry, scopes and profile",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.DoStatus(c.Context(), a.cfg, c.OutOrStdout())
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	var refresh bool
	c := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in TaskFlow user",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.DoWhoami(c.Context(), a.cfg, c.OutOrStdout(), refresh)
		},
	}
	c.Flags().BoolVar(&refresh, "refresh", false, "Fetch the profile from TaskFlow instead of the cache")
	return c
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token with the refresh token",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.DoRefresh(c.Context(), a.cfg, c.OutOrStdout())
		},
	}
}

func (a *app) tasksCmd() *cobra.Command {
	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "Manage TaskFlow tasks",
	}

	var pending, completed bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			filter := cmd.AllTasks
			switch {
			case pending:
				filter = cmd.PendingTasks
			case completed:
				filter = cmd.CompletedTasks
			}
			return cmd.DoListTasks(c.Context(), a.cfg, c.OutOrStdout(), filter)
		},
	}
	list.Flags().BoolVar(&pending, "pending", false, "Only incomplete tasks")
	list.Flags().BoolVar(&completed, "completed", false, "Only completed tasks")
	list.MarkFlagsMutuallyExclusive("pending", "completed")

	var description string
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.DoAddTask(c.Context(), a.cfg, c.OutOrStdout(), strings.Join(args, " "), description)
		},
	}
	add.Flags().StringVarP(&description, "description", "d", "", "Task description")

	var reopen bool
	complete := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.DoCompleteTask(c.Context(), a.cfg, c.OutOrStdout(), args[0], !reopen)
		},
	}
	complete.Flags().BoolVar(&reopen, "reopen", false, "Mark the task as not completed instead")

	remove := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.DoDeleteTask(c.Context(), a.cfg, c.OutOrStdout(), args[0])
		},
	}

	tasks.AddCommand(list, add, complete, remove)
	return tasks
}

func (a *app) focusCmd() *cobra.Command {
	opts := cmd.FocusOptions{}
	c := &cobra.Command{
		Use:   "focus [task-id]",
		Short: "Run a focus session, completing the task when it ends",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.TaskID = args[0]
			}
			return cmd.DoFocus(c.Context(), a.cfg, c.OutOrStdout(), opts)
		},
	}
	c.Flags().DurationVar(&opts.Duration, "duration", 0, "Focus duration (defaults to focus.duration)")
	c.Flags().DurationVar(&opts.Break, "break", 0, "Break duration (defaults to focus.break)")
	c.Flags().BoolVar(&opts.SkipBreak, "no-break", false, "Skip the break")
	return c
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report sign-ins and sign-outs made by other focustime processes",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.DoWatch(c.Context(), a.cfg, c.OutOrStdout())
		},
	}
}
