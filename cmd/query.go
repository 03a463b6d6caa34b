package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/newsdex/internal/model"
)

var (
	flagCategory string
	flagPage     int
	flagSize     int
	flagJSON     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		e, st, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		size := flagSize
		if size == 0 {
			size = cfg.Server.PageSize
		}
		page, err := e.List(cmd.Context(), flagCategory, flagPage, size)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd, page)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPUBLISHED\tCATEGORY\tTITLE")
		for _, p := range page.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Published().Format(model.PublishTimeLayout), p.Category, p.Title)
		}
		tw.Flush()
		more := ""
		if page.HasNext {
			more = fmt.Sprintf(", next: --page %d", page.Page+1)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d total%s\n", page.Page, page.Total, more)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the full record for an id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		e, st, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		d, ok, err := e.Detail(cmd.Context(), model.ID(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("record %s not found", args[0])
		}
		return printJSON(cmd, d)
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List known categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		e, st, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		cats, err := e.Categories(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range cats {
			fmt.Fprintln(cmd.OutOrStdout(), c)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		e, st, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := e.Delete(cmd.Context(), model.ID(args[0]), flagCategory); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&flagCategory, "category", "", "only list this category")
	listCmd.Flags().IntVar(&flagPage, "page", 1, "page number, starting at 1")
	listCmd.Flags().IntVar(&flagSize, "size", 0, "records per page (default server.page_size)")
	listCmd.Flags().BoolVar(&flagJSON, "json", false, "print the page as JSON")

	deleteCmd.Flags().StringVar(&flagCategory, "category", "", "category the record belongs to")
	_ = deleteCmd.MarkFlagRequired("category")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
