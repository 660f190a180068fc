package main

import (
	"context"
	"fmt"

	"github.com/andygrunwald/go-jira"
	"github.com/charmbracelet/fang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/config"
	"github.com/petr-muller/herald/internal/dynamic"
	"github.com/petr-muller/herald/internal/flagutil"
	"github.com/petr-muller/herald/internal/mappings"
	"github.com/petr-muller/herald/internal/prefs"
	"github.com/petr-muller/herald/internal/store"
	"github.com/petr-muller/herald/internal/tracker"
)

var (
	jiraOptions  flagutil.JiraOptions
	dataDir      string
	workspace    string
	cacheBackend string
	redisURL     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "herald-admin",
		Short: "Manage herald channel mappings and notification preferences",
		Long: `herald-admin manages the records that drive herald's webhook routing:
which chat channels are mapped to which tracker projects and components,
which repositories feed dynamic channel resolution, and which notification
categories each channel is subscribed to.`,
	}

	jiraOptions.AddPFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", config.MustHeraldDataDir(), "Directory holding mapping and preference records")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "default", "Chat workspace identifier used to scope mappings and preferences")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "cache", "memory", "Cache backend herald runs with: memory or redis. Only redis is reachable from here, so with memory a mutation cannot invalidate herald's cached lookups and they age out over their TTL instead")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "redis://localhost:6379/0", "Redis URL for the redis cache backend")

	rootCmd.AddCommand(
		newMapCmd(),
		newPrefsCmd(),
		newRepoCmd(),
		newIssueCmd(),
		newProjectCmd(),
	)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

// lookupCache connects to the cache herald serves lookups from, so mutation
// commands invalidate its entries before returning success. Only the redis
// backend is shared across processes; herald's in-memory cache cannot be
// reached from here and its entries age out over their TTL instead.
func lookupCache() (cache.Cache, error) {
	switch cacheBackend {
	case "redis":
		return cache.NewRedis(redisURL)
	case "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("--cache must be one of memory, redis: got %q", cacheBackend)
	}
}

func mappingService() (*mappings.Service, error) {
	c, err := lookupCache()
	if err != nil {
		return nil, fmt.Errorf("cannot connect to lookup cache: %w", err)
	}
	return mappings.NewService(store.NewStore(dataDir), c), nil
}

func prefService() (*prefs.Service, error) {
	c, err := lookupCache()
	if err != nil {
		return nil, fmt.Errorf("cannot connect to lookup cache: %w", err)
	}
	return prefs.NewService(store.NewStore(dataDir), c), nil
}

func newMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Manage project/component to channel mappings",
	}

	var project, component, channel string
	addMappingFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&project, "project", "", "Tracker project key")
		c.Flags().StringVar(&component, "component", "", "Optional component within the project")
		c.Flags().StringVar(&channel, "channel", "", "Chat channel to notify")
	}

	buildMapping := func() mappings.Mapping {
		m := mappings.Mapping{Workspace: workspace, Project: project, Channel: channel}
		if component != "" {
			m.Component = &component
		}
		return m
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Map a project (or component) to a channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" || channel == "" {
				return fmt.Errorf("--project and --channel must be specified and nonempty")
			}

			if err := validateProject(cmd.Context(), project); err != nil {
				return err
			}

			service, err := mappingService()
			if err != nil {
				return err
			}
			key, err := service.Put(cmd.Context(), buildMapping())
			if err != nil {
				return fmt.Errorf("cannot store mapping: %w", err)
			}
			fmt.Printf("Mapping stored under key %s\n", key)
			return nil
		},
	}
	addMappingFlags(addCmd)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a project (or component) to channel mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" || channel == "" {
				return fmt.Errorf("--project and --channel must be specified and nonempty")
			}

			service, err := mappingService()
			if err != nil {
				return err
			}
			if err := service.Remove(cmd.Context(), buildMapping()); err != nil {
				return fmt.Errorf("cannot remove mapping: %w", err)
			}
			fmt.Println("Mapping removed")
			return nil
		},
	}
	addMappingFlags(removeCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the mappings of the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := mappingService()
			if err != nil {
				return err
			}
			list, err := service.List(workspace)
			if err != nil {
				return fmt.Errorf("cannot list mappings: %w", err)
			}

			if len(list) == 0 {
				fmt.Println("No mappings stored")
				return nil
			}
			for _, m := range list {
				if m.Component != nil {
					fmt.Printf("  %s/%s -> %s\n", m.Project, *m.Component, m.Channel)
				} else {
					fmt.Printf("  %s -> %s\n", m.Project, m.Channel)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, removeCmd, listCmd)
	return cmd
}

func validateProject(ctx context.Context, project string) error {
	fetcher, err := adminFetcher()
	if err != nil {
		return err
	}
	if _, err := fetcher.Project(ctx, project); err != nil {
		return fmt.Errorf("project %s does not exist or is not accessible: %w", project, err)
	}
	return nil
}

// prefFlags pairs a flag name with the record field it sets.
type prefFlag struct {
	name  string
	field func(r *prefs.Record) **bool
}

var prefFlags = []prefFlag{
	{name: "issue-created", field: func(r *prefs.Record) **bool { return &r.IssueCreated }},
	{name: "issue-deleted", field: func(r *prefs.Record) **bool { return &r.IssueDeleted }},
	{name: "issue-comment", field: func(r *prefs.Record) **bool { return &r.IssueComment }},
	{name: "issue-status", field: func(r *prefs.Record) **bool { return &r.IssueStatus }},
	{name: "issue-state", field: func(r *prefs.Record) **bool { return &r.IssueState }},
	{name: "bug", field: func(r *prefs.Record) **bool { return &r.Bug }},
	{name: "task", field: func(r *prefs.Record) **bool { return &r.Task }},
	{name: "epic", field: func(r *prefs.Record) **bool { return &r.Epic }},
	{name: "story", field: func(r *prefs.Record) **bool { return &r.Story }},
	{name: "subtask", field: func(r *prefs.Record) **bool { return &r.Subtask }},
}

func newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Manage per-channel notification preferences",
	}

	values := map[string]*bool{}
	setCmd := &cobra.Command{
		Use:   "set <channel>",
		Short: "Set notification preference flags for a channel",
		Long: `Set notification preference flags for a channel. Only flags passed
explicitly are written; everything else keeps its default (enabled, except
the opt-in issue-status and issue-state categories).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record := prefs.Record{Channel: args[0]}
			touched := false
			for _, pf := range prefFlags {
				if cmd.Flags().Changed(pf.name) {
					*pf.field(&record) = values[pf.name]
					touched = true
				}
			}
			if !touched {
				return fmt.Errorf("at least one preference flag must be specified")
			}

			service, err := prefService()
			if err != nil {
				return err
			}
			if err := service.Set(cmd.Context(), workspace, record); err != nil {
				return fmt.Errorf("cannot store preferences: %w", err)
			}
			fmt.Printf("Preferences updated for channel %s\n", args[0])
			return nil
		},
	}
	for _, pf := range prefFlags {
		values[pf.name] = setCmd.Flags().Bool(pf.name, false, fmt.Sprintf("Toggle the %s flag", pf.name))
	}

	showCmd := &cobra.Command{
		Use:   "show <channel>",
		Short: "Show the effective (defaulted) preferences of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := prefService()
			if err != nil {
				return err
			}
			preferences, err := service.Get(cmd.Context(), workspace, args[0])
			if err != nil {
				return fmt.Errorf("cannot load preferences: %w", err)
			}

			fmt.Printf("Preferences for channel %s:\n", args[0])
			fmt.Printf("  issueCreated: %v\n", preferences.IssueCreated)
			fmt.Printf("  issueDeleted: %v\n", preferences.IssueDeleted)
			fmt.Printf("  issueComment: %v\n", preferences.IssueComment)
			fmt.Printf("  issueStatus:  %v\n", preferences.IssueStatus)
			fmt.Printf("  issueState:   %v\n", preferences.IssueState)
			fmt.Printf("  bug: %v, task: %v, epic: %v, story: %v, subtask: %v\n",
				preferences.Bug, preferences.Task, preferences.Epic, preferences.Story, preferences.Subtask)
			return nil
		},
	}

	cmd.AddCommand(setCmd, showCmd)
	return cmd
}

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the repository to channel graph for dynamic resolution",
	}

	resolver := func() *dynamic.Resolver {
		return dynamic.NewResolver(nil, store.NewStore(dataDir), "")
	}

	linkCmd := &cobra.Command{
		Use:   "link <repository> <channel>",
		Short: "Associate a source control repository with a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolver().Link(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Linked %s to %s\n", args[0], args[1])
			return nil
		},
	}

	unlinkCmd := &cobra.Command{
		Use:   "unlink <repository> <channel>",
		Short: "Remove a repository to channel association",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolver().Unlink(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Unlinked %s from %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(linkCmd, unlinkCmd)
	return cmd
}

func newIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Interact with tracker issues",
	}

	var project, issueType, summary, description string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tracker issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" || summary == "" {
				return fmt.Errorf("--project and --summary must be specified and nonempty")
			}
			fetcher, err := adminFetcher()
			if err != nil {
				return err
			}

			created, err := createIssue(cmd.Context(), fetcher, project, issueType, summary, description)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s\n", created.Key)
			return nil
		},
	}
	createCmd.Flags().StringVar(&project, "project", "", "Tracker project key")
	createCmd.Flags().StringVar(&issueType, "type", "Task", "Issue type")
	createCmd.Flags().StringVar(&summary, "summary", "", "Issue summary")
	createCmd.Flags().StringVar(&description, "description", "", "Issue description")

	searchCmd := &cobra.Command{
		Use:   "search <jql>",
		Short: "List the issues matching a JQL query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher, err := adminFetcher()
			if err != nil {
				return err
			}
			issues, err := fetcher.Search(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cannot search issues: %w", err)
			}
			if len(issues) == 0 {
				fmt.Println("No issues matched")
				return nil
			}
			for _, issue := range issues {
				summary := ""
				if issue.Fields != nil {
					summary = issue.Fields.Summary
				}
				fmt.Printf("%s: %s\n", issue.Key, summary)
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, searchCmd)
	return cmd
}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Interact with tracker projects",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accessible tracker projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher, err := adminFetcher()
			if err != nil {
				return err
			}
			projects, err := fetcher.Projects(cmd.Context())
			if err != nil {
				return fmt.Errorf("cannot list projects: %w", err)
			}
			for _, project := range projects {
				fmt.Printf("%s: %s\n", project.Key, project.Name)
			}
			return nil
		},
	}

	var name string
	createCmd := &cobra.Command{
		Use:   "create <key>",
		Short: "Create a tracker project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher, err := adminFetcher()
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}
			created, err := fetcher.CreateProject(cmd.Context(), &jira.Project{Key: args[0], Name: name})
			if err != nil {
				return fmt.Errorf("cannot create project %s: %w", args[0], err)
			}
			fmt.Printf("Created project %s\n", created.Key)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Project name (defaults to the key)")

	addComponentCmd := &cobra.Command{
		Use:   "add-component <project> <component>",
		Short: "Add a component to a tracker project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher, err := adminFetcher()
			if err != nil {
				return err
			}
			component := &jira.CreateComponentOptions{Project: args[0], Name: args[1]}
			if err := fetcher.CreateComponent(cmd.Context(), component); err != nil {
				return fmt.Errorf("cannot add component %s to %s: %w", args[1], args[0], err)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, createCmd, addComponentCmd)
	return cmd
}

func adminFetcher() (*tracker.Fetcher, error) {
	if err := jiraOptions.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Jira options: %w", err)
	}
	fetcher, err := jiraOptions.Fetcher(nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create tracker fetcher: %w", err)
	}
	return fetcher, nil
}

func createIssue(ctx context.Context, fetcher *tracker.Fetcher, project, issueType, summary, description string) (*jira.Issue, error) {
	issue := &jira.Issue{
		Fields: &jira.IssueFields{
			Project:     jira.Project{Key: project},
			Type:        jira.IssueType{Name: issueType},
			Summary:     summary,
			Description: description,
		},
	}

	created, err := fetcher.CreateIssue(ctx, issue)
	if err != nil {
		return nil, fmt.Errorf("cannot create issue: %w", err)
	}
	return created, nil
}
