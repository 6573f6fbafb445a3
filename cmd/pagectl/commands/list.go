package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

type pageReport struct {
	Page       int                 `json:"page"        yaml:"page"`
	PerPage    int                 `json:"per_page"    yaml:"per_page"`
	TotalPages int                 `json:"total_pages" yaml:"total_pages"`
	TotalRows  int                 `json:"total_rows"  yaml:"total_rows"`
	Data       []*listing.Resource `json:"data"        yaml:"data"`
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	var (
		flags    queryFlags
		all      bool
		maxPages int
		columns  []string
	)

	cmd := &cobra.Command{
		Use:     "list ROUTE",
		Aliases: []string{"ls"},
		Short:   "List a page of resources",
		Long:    "Fetch one page of a listing route, or every page with --all",
		Example: `  pagectl list /v1/maps --per-page 25 --sort -updated_at
  pagectl list /v1/maps --search name=Amsterdam --columns id,name
  pagectl list /v1/layers --all --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			route := strings.TrimSpace(args[0])
			if route == "" {
				return constants.ErrRouteRequired
			}

			client, _, err := newClientFromConfig()
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			query, err := flags.build(cmd, client.Defaults())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			format, err := outputFormat(out)
			if err != nil {
				return err
			}

			if all {
				rows, err := client.All(cmd.Context(), route, query, &listing.PaginationOptions{
					PageSize: query.PerPage(),
					MaxPages: maxPages,
				})
				if err != nil {
					return err
				}

				if format != constants.FormatTable {
					return writeStructured(out, format, rows)
				}

				err = renderResources(out, rows, columns)
				if err != nil {
					return err
				}

				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d rows\n", len(rows))

				return nil
			}

			page, err := client.List(cmd.Context(), route, query)
			if err != nil {
				return err
			}

			if format != constants.FormatTable {
				return writeStructured(out, format, pageReport{
					Page:       page.PageNumber(),
					PerPage:    page.Meta().PerPage,
					TotalPages: page.TotalPages(),
					TotalRows:  page.TotalRows(),
					Data:       page.Rows(),
				})
			}

			err = renderResources(out, page.Rows(), columns)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Page %d of %d (%d rows)\n",
				page.PageNumber(), page.TotalPages(), page.TotalRows())

			return nil
		},
	}

	flags.register(cmd, true)
	cmd.Flags().BoolVar(&all, "all", false, "fetch every page")
	cmd.Flags().IntVar(&maxPages, "max-pages", constants.MaxPages, "stop after this many pages with --all")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "comma separated columns for table output")

	return cmd
}
