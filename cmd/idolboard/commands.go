package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/idolboard/internal/api"
	"github.com/kalambet/idolboard/internal/config"
	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/match"
	"github.com/kalambet/idolboard/internal/playback"
	"github.com/kalambet/idolboard/internal/profile"
)

// --- commands ---

var commandsCmd = &cobra.Command{
	Use:     "commands",
	Aliases: []string{"ls"},
	Short:   "List voice commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), client.userPath("/commands"))
		if err != nil {
			return err
		}

		var result struct {
			Commands []string `json:"commands"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Commands) == 0 {
			fmt.Println("No commands yet. Add one with: idolboard upload <file> [command]")
			return nil
		}
		for _, name := range result.Commands {
			fmt.Println(name)
		}
		return nil
	},
}

var commandsRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a voice command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), client.userPath("/commands/"+url.PathEscape(args[0])))
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	commandsCmd.AddCommand(commandsRmCmd)
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file> [command]",
	Short: "Upload an audio clip as a voice command",
	Long: `Upload an audio clip as a voice command.

When no command name is given the file name without its extension is used.

Examples:
  idolboard upload ./hello.wav
  idolboard upload ./clip.m4a "good morning"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file := args[0]
		command := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if len(args) == 2 {
			command = args[1]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), "/upload", "audio", file, map[string]string{"command": command})
		if err != nil {
			return err
		}

		var result struct {
			Command string `json:"command"`
			Queued  bool   `json:"queued"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Queued {
			printSuccess("Uploaded %s (conversion queued)", result.Command)
		} else {
			printSuccess("Uploaded %s", result.Command)
		}
		return nil
	},
}

// --- match ---

var matchCmd = &cobra.Command{
	Use:   "match <phrase>",
	Short: "Show which command a phrase would trigger",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phrase := strings.Join(args, " ")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		uid, err := userID(cfg)
		if err != nil {
			return err
		}

		lib := library.New(library.NewResolver(cfg.Storage.DataDir), nil, cfg.Audio.Format)
		names, err := lib.ListCommands(uid)
		if err != nil {
			return err
		}

		res, ok := match.New(cfg.Match.Threshold).Match(phrase, names)
		if !ok {
			printWarning("No command matches %q", phrase)
			return nil
		}
		kind := "fuzzy"
		if res.Exact {
			kind = "exact"
		}
		fmt.Printf("%s  %s match, score %.2f\n", colorize(colorBold, res.Name), kind, res.Score)
		return nil
	},
}

// --- play ---

var playCmd = &cobra.Command{
	Use:   "play <name>",
	Short: "Play a command clip on this machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		uid, err := userID(cfg)
		if err != nil {
			return err
		}

		lib := library.New(library.NewResolver(cfg.Storage.DataDir), nil, cfg.Audio.Format)
		clip, err := lib.Lookup(uid, args[0])
		if errors.Is(err, library.ErrNotFound) {
			return fmt.Errorf("no command named %q", args[0])
		}
		if err != nil {
			return err
		}

		printStep("Playing %s", clip.Name)
		return playback.NewCommandPlayer(cfg.Audio.PlayerCommand).Play(cmd.Context(), clip.Path)
	},
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update the idol profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), client.userPath("/config"))
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(os.Stdout, p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long:  "Set a profile field. Fields: " + strings.Join(profile.Fields(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{key: value}
		if client.user != "" {
			body["user_id"] = client.user
		}
		resp, err := client.post(cmd.Context(), "/config", body)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileImageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Upload a profile image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), "/profile_image", "profile", args[0], nil)
		if err != nil {
			return err
		}

		var result struct {
			ImageURL string `json:"image_url"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Profile image set to %s", result.ImageURL)
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileImageCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent recognitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := client.userPath(fmt.Sprintf("/history?limit=%d&offset=%d", limit, offset))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			History []struct {
				ID        string  `json:"id"`
				Query     string  `json:"query"`
				Matched   string  `json:"matched"`
				Score     float64 `json:"score"`
				Action    string  `json:"action"`
				Source    string  `json:"source"`
				CreatedAt string  `json:"created_at"`
			} `json:"history"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.History) == 0 {
			fmt.Println("No recognitions yet.")
			return nil
		}

		for _, h := range result.History {
			target := h.Action
			if h.Matched != "" {
				target = fmt.Sprintf("%s %s (%.2f)", h.Action, h.Matched, h.Score)
			}
			fmt.Printf("%s  %s  %-5s  %q -> %s\n",
				colorize(colorCyan, h.ID[:min(8, len(h.ID))]),
				h.CreatedAt,
				h.Source,
				h.Query,
				target,
			)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recognition history",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the whole recognition history. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), client.userPath("/history"))
		if err != nil {
			return err
		}

		var result struct {
			Deleted int64 `json:"deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d entries", result.Deleted)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
	historyCmd.Flags().Int("offset", 0, "entries to skip")
	historyClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	historyCmd.AddCommand(historyClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret outside the main config file",
	Long:  "Store a secret outside the main config file. Keys: " + strings.Join(config.SecretKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s in %s", args[0], config.SecretsPath())
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.FilePath())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
	configCmd.AddCommand(configPathCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		s := api.NewMCPServer(api.MCPDeps{
			Library:     a.lib,
			Profiles:    a.profiles,
			Recognizer:  a.recognizer,
			Store:       a.store,
			DefaultUser: cfg.Identity.DefaultUser,
			Version:     version,
		})
		return server.NewStdioServer(s).Listen(cmd.Context(), os.Stdin, os.Stdout)
	},
}
