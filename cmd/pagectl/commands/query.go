package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// queryFlags are the descriptor flags shared by list, query, watch and
// config defaults.
type queryFlags struct {
	page     int
	perPage  int
	search   []string
	sort     string
	deleted  string
	extra    []string
	hasExtra bool
}

func (f *queryFlags) register(cmd *cobra.Command, withExtra bool) {
	flags := cmd.Flags()
	flags.IntVar(&f.page, "page", constants.DefaultPage, "page number")
	flags.IntVar(&f.perPage, "per-page", constants.DefaultPerPage, "rows per page (1-50)")
	flags.StringArrayVar(&f.search, "search", nil, "search filter as field=value (repeatable)")
	flags.StringVar(&f.sort, "sort", "", "comma separated sort fields, prefix with - for descending")
	flags.StringVar(&f.deleted, "deleted", "", "soft-deleted rows: all, none or only")

	if withExtra {
		flags.StringArrayVar(&f.extra, "extra", nil, "extra query parameter as key=value, or key alone (repeatable)")
		f.hasExtra = true
	}
}

// changed returns the descriptor fields set on the command line.
func (f *queryFlags) changed(cmd *cobra.Command) (map[string]interface{}, error) {
	flags := cmd.Flags()
	changes := map[string]interface{}{}

	if flags.Changed("page") {
		changes[listing.FieldPage] = f.page
	}

	if flags.Changed("per-page") {
		changes[listing.FieldPerPage] = f.perPage
	}

	if flags.Changed("search") {
		pairs := map[string]interface{}{}

		for _, raw := range f.search {
			parsed, err := parseKeyValues([]string{raw}, false)
			if err != nil {
				return nil, err
			}

			for key, value := range parsed {
				existing, _ := pairs[key].([]string)
				pairs[key] = append(existing, value.(string))
			}
		}

		changes[listing.FieldSearch] = pairs
	}

	if flags.Changed("sort") {
		changes[listing.FieldSort] = f.sort
	}

	if flags.Changed("deleted") {
		changes[listing.FieldDeleted] = f.deleted
	}

	if f.hasExtra && flags.Changed("extra") {
		extra, err := parseKeyValues(f.extra, true)
		if err != nil {
			return nil, err
		}

		changes[listing.FieldExtra] = extra
	}

	return changes, nil
}

// build returns a descriptor seeded from defaults with the command line
// flags applied on top.
func (f *queryFlags) build(cmd *cobra.Command, defaults *listing.Defaults) (*listing.QueryDescriptor, error) {
	changes, err := f.changed(cmd)
	if err != nil {
		return nil, err
	}

	query := listing.NewQueryDescriptor(defaults)

	err = query.Apply(changes)
	if err != nil {
		return nil, err
	}

	return query, nil
}

type queryReport struct {
	Route      string                 `json:"route,omitempty" yaml:"route,omitempty"`
	URL        string                 `json:"url,omitempty"   yaml:"url,omitempty"`
	Query      string                 `json:"query"           yaml:"query"`
	Token      string                 `json:"token"           yaml:"token"`
	Parameters map[string]interface{} `json:"parameters"      yaml:"parameters"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "query [ROUTE]",
		Short: "Show how a query is encoded",
		Long:  "Print the query string, cache token and parameters a listing request would use, without contacting the API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := listing.NewDefaults()

			if configured := loadConfig().Defaults; len(configured) > 0 {
				err := defaults.Update(configured)
				if err != nil {
					return fmt.Errorf("invalid query defaults in config: %w", err)
				}
			}

			query, err := flags.build(cmd, defaults)
			if err != nil {
				return err
			}

			report := queryReport{
				Query:      query.Encode(),
				Token:      query.Token(),
				Parameters: query.ToParameterObject(),
			}

			if len(args) == 1 {
				report.Route = args[0]
				report.URL = listing.BuildURL(args[0], query)
			}

			out := cmd.OutOrStdout()

			format, err := outputFormat(out)
			if err != nil {
				return err
			}

			if format != constants.FormatTable {
				return writeStructured(out, format, report)
			}

			return displayQueryTable(out, report)
		},
	}

	flags.register(cmd, true)

	return cmd
}

func displayQueryTable(w io.Writer, report queryReport) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")

	if report.URL != "" {
		_ = table.Append([]string{"URL", report.URL})
	}

	_ = table.Append([]string{"Query", report.Query})
	_ = table.Append([]string{"Token", report.Token})

	keys := make([]string, 0, len(report.Parameters))
	for key := range report.Parameters {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	_ = table.Append([]string{"Parameters", strings.Join(keys, ", ")})

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render query table: %w", err)
	}

	return nil
}
