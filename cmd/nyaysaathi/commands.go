package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/nyaysaathi/internal/api"
	"github.com/kalambet/nyaysaathi/internal/config"
	"github.com/kalambet/nyaysaathi/internal/counsel"
	"github.com/kalambet/nyaysaathi/internal/drafting"
)

// --- sessions ---

func createSession(ctx context.Context, client *apiClient) (string, error) {
	resp, err := client.post(ctx, "/sessions", nil)
	if err != nil {
		return "", err
	}
	var s struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &s); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return s.ID, nil
}

func uploadFile(ctx context.Context, client *apiClient, sessionID, path string) (api.DocumentInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.DocumentInfo{}, fmt.Errorf("reading %s: %w", path, err)
	}
	name := filepath.Base(path)
	resp, err := client.upload(ctx, sessionID, name, mime.TypeByExtension(filepath.Ext(name)), data)
	if err != nil {
		return api.DocumentInfo{}, err
	}
	var info api.DocumentInfo
	if err := decodeJSON(resp, &info); err != nil {
		return api.DocumentInfo{}, fmt.Errorf("uploading %s: %w", name, err)
	}
	return info, nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a legal question",
	Long: `Ask a legal question in plain language.

Examples:
  nyaysaathi ask "My landlord is not returning my deposit, what can I do?"
  nyaysaathi ask --file ./notice.pdf "Do I have to reply to this notice?"
  nyaysaathi ask --session 3f1c... "What if I miss the deadline?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		sessionID, _ := cmd.Flags().GetString("session")
		file, _ := cmd.Flags().GetString("file")
		ctx := cmd.Context()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if sessionID == "" {
			if sessionID, err = createSession(ctx, client); err != nil {
				return err
			}
		}
		if file != "" {
			info, err := uploadFile(ctx, client, sessionID, file)
			if err != nil {
				return err
			}
			printStep("Attached %s (%s, %d characters)", info.Name, info.Kind, info.Chars)
		}

		resp, err := client.post(ctx, "/sessions/"+url.PathEscape(sessionID)+"/ask", map[string]string{"question": question})
		if err != nil {
			return err
		}
		var ans counsel.Answer
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}

		printAnswer(cmd.OutOrStdout(), ans)
		printStatus("Session", "%s", sessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session")
	askCmd.Flags().String("file", "", "attach a document (PDF, HTML, text or markdown) before asking")
}

func printAnswer(w io.Writer, ans counsel.Answer) {
	fmt.Fprintln(w, ans.Answer)
	printNumbered(w, "What you can do", ans.ActionPlan)
	printSection(w, "Sources", ans.Sources)
	if !ans.Structured {
		printWarning("the model's reply could not be structured; showing it as is")
	}
}

// --- explain ---

var explainCmd = &cobra.Command{
	Use:   "explain <file>",
	Short: "Explain a legal document in simple terms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		sessionID, err := createSession(ctx, client)
		if err != nil {
			return err
		}
		info, err := uploadFile(ctx, client, sessionID, args[0])
		if err != nil {
			return err
		}
		printStep("Reading %s (%s, %d characters)", info.Name, info.Kind, info.Chars)

		resp, err := client.post(ctx, "/sessions/"+url.PathEscape(sessionID)+"/explain", nil)
		if err != nil {
			return err
		}
		var exp counsel.Explanation
		if err := decodeJSON(resp, &exp); err != nil {
			return err
		}

		printExplanation(cmd.OutOrStdout(), exp)
		printStatus("Session", "%s (follow up with: nyaysaathi ask --session %s ...)", sessionID, sessionID)
		return nil
	},
}

func printExplanation(w io.Writer, exp counsel.Explanation) {
	fmt.Fprintln(w, colorize(colorBold, "Summary"))
	fmt.Fprintln(w, exp.Summary)
	printSection(w, "Key points", exp.KeyPoints)
	printSection(w, "Your obligations", exp.Obligations)
	printSection(w, "Risks", exp.Risks)
	printNumbered(w, "Next steps", exp.NextSteps)
}

// --- templates ---

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List fill-in templates and draft kinds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(ctx, "/templates")
		if err != nil {
			return err
		}
		var tpls struct {
			Templates []drafting.Template `json:"templates"`
		}
		if err := decodeJSON(resp, &tpls); err != nil {
			return err
		}

		resp, err = client.get(ctx, "/draft-kinds")
		if err != nil {
			return err
		}
		var kinds struct {
			Kinds []drafting.Kind `json:"kinds"`
		}
		if err := decodeJSON(resp, &kinds); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, colorize(colorBold, "Templates (nyaysaathi fill)"))
		for _, t := range tpls.Templates {
			fmt.Fprintf(w, "  %s\n", colorize(colorCyan, t.Name))
			for i := range t.Sections {
				printFields(w, t.Sections[i].Fields)
			}
		}
		fmt.Fprintln(w, colorize(colorBold, "\nDraft kinds (nyaysaathi draft)"))
		for _, k := range kinds.Kinds {
			fmt.Fprintf(w, "  %s\n", colorize(colorCyan, k.Name))
			printFields(w, k.Fields)
		}
		return nil
	},
}

func printFields(w io.Writer, fields []drafting.Field) {
	for _, f := range fields {
		mark := ""
		if f.Required {
			mark = " (required)"
		}
		fmt.Fprintf(w, "      %s%s\n", f.ID, mark)
	}
}

// parseSets turns repeated --set key=value flags into a value map. Keys may
// contain spaces ("Sender Name=Ravi").
func parseSets(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", p)
		}
		values[k] = v
	}
	return values, nil
}

// writeOutput writes text to path in print-safe form, or to w when path is
// empty.
func writeOutput(w io.Writer, path, text string) error {
	if path == "" {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	if err := os.WriteFile(path, []byte(drafting.PrintSafe(text)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	printSuccess("Saved to %s", path)
	return nil
}

// --- fill ---

var fillCmd = &cobra.Command{
	Use:   "fill <template>",
	Short: "Fill a legal template",
	Long: `Fill a fixed legal template. Blank fields are left as lines to write in.

Examples:
  nyaysaathi fill "Rental Agreement" --set landlord_name="A. Kumar" --set rent_amount=15000
  nyaysaathi fill NDA --set disclosing_party="Acme Pvt Ltd" --out nda.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		out, _ := cmd.Flags().GetString("out")
		values, err := parseSets(sets)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/templates/"+url.PathEscape(args[0])+"/fill", map[string]any{"values": values})
		if err != nil {
			return err
		}
		var filled api.FilledResponse
		if err := decodeJSON(resp, &filled); err != nil {
			return err
		}

		if len(filled.Missing) > 0 {
			printWarning("left blank: %s", strings.Join(filled.Missing, ", "))
		}
		return writeOutput(cmd.OutOrStdout(), out, filled.Text)
	},
}

// --- draft ---

var draftCmd = &cobra.Command{
	Use:   "draft <kind>",
	Short: "Draft a legal document with the chat model",
	Long: `Draft a legal document of the given kind.

Examples:
  nyaysaathi draft "Legal Notice" --set "Sender Name=Ravi" --set "Recipient Name=Mr. Sharma" \
      --set "Subject=Unpaid rent" --set "Details=Rent unpaid since March"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		out, _ := cmd.Flags().GetString("out")
		values, err := parseSets(sets)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Drafting %s...", args[0])
		resp, err := client.post(cmd.Context(), "/drafts", map[string]any{"kind": args[0], "values": values})
		if err != nil {
			return err
		}
		var d api.DraftResponse
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		printStatus("Draft", "%s", d.ID)
		return writeOutput(cmd.OutOrStdout(), out, d.Text)
	},
}

func init() {
	fillCmd.Flags().StringArray("set", nil, "field value as key=value (repeatable)")
	fillCmd.Flags().String("out", "", "write print-safe text to this file")
	draftCmd.Flags().StringArray("set", nil, "field value as key=value (repeatable)")
	draftCmd.Flags().String("out", "", "write print-safe text to this file")
}

// --- drafts ---

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List or show saved drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/drafts?limit=%d", limit))
		if err != nil {
			return err
		}
		var list struct {
			Drafts []api.DraftResponse `json:"drafts"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(list.Drafts) == 0 {
			fmt.Fprintln(w, "No drafts found.")
			return nil
		}
		for _, d := range list.Drafts {
			fmt.Fprintf(w, "%s  %s  %s\n",
				colorize(colorCyan, shortID(d.ID)),
				d.CreatedAt.Format("2006-01-02 15:04"),
				d.Kind,
			)
		}
		return nil
	},
}

var draftsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a saved draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/drafts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var d api.DraftResponse
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), out, d.Text)
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	draftsListCmd.Flags().Int("limit", 20, "maximum number of drafts to list")
	draftsShowCmd.Flags().String("out", "", "write print-safe text to this file")
	draftsCmd.AddCommand(draftsListCmd)
	draftsCmd.AddCommand(draftsShowCmd)
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
		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		if config.IsSecret(key) {
			printSuccess("Stored %s in the secret store", key)
			return nil
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
