package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/handler"
	"github.com/gosight/funnel/internal/loader"
)

// NewReportCmd returns the `funnelctl report` command.
func NewReportCmd() *cobra.Command {
	var (
		cfgFile string
		path    string
		lenient bool
		start   string
		end     string
		tiers   string
		by      string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Load the configured source and print the funnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			if path != "" {
				cfg.Source.Kind = "file"
				cfg.Source.Path = path
			}
			if cmd.Flags().Changed("lenient") {
				cfg.Source.Lenient = lenient
			}

			src, closeSource, err := loader.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeSource()
			t, err := src.Load(cmd.Context(), loader.OptionsFromConfig(cfg))
			if err != nil {
				return err
			}

			q := url.Values{}
			if start != "" {
				q.Set("start", start)
			}
			if end != "" {
				q.Set("end", end)
			}
			if cmd.Flags().Changed("tiers") {
				q.Set("tiers", tiers)
			}
			f, err := handler.ParseFilter(q, t)
			if err != nil {
				return err
			}
			d, ok := funnel.ParseDimension(by)
			if !ok {
				return fmt.Errorf("--by: unknown dimension %q", by)
			}

			r := report{
				Source: src.Key(),
				Rows:   t.Len(),
				Filter: f,
				Result: funnel.Aggregate(t, f),
				By:     d.String(),
				Groups: funnel.AggregateBy(t, f, d),
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			return r.print(cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&cfgFile, "config", "", "config file path (default: $CONFIG_PATH or config/funnel.yaml)")
	fl.StringVar(&path, "path", "", "CSV file to load instead of the configured source")
	fl.BoolVar(&lenient, "lenient", false, "skip malformed rows instead of failing")
	fl.StringVar(&start, "start", "", "range start, YYYY-MM-DD or RFC3339")
	fl.StringVar(&end, "end", "", "range end, YYYY-MM-DD or RFC3339")
	fl.StringVar(&tiers, "tiers", "", "comma-separated city tiers (default: all)")
	fl.StringVar(&by, "by", "city_tier", "breakdown dimension: city_tier, category, seller or day")
	fl.BoolVar(&jsonOut, "json", false, "print JSON")
	return cmd
}

type report struct {
	Source string         `json:"source"`
	Rows   int            `json:"rows"`
	Filter funnel.Filter  `json:"filter"`
	Result funnel.Result  `json:"result"`
	By     string         `json:"by"`
	Groups []funnel.Group `json:"groups"`
}

func (r report) print(out io.Writer) error {
	fmt.Fprintf(out, "source %s, %d rows\n", r.Source, r.Rows)
	fmt.Fprintf(out, "range %s .. %s, tiers %v\n\n",
		r.Filter.Start.Format("2006-01-02 15:04"), r.Filter.End.Format("2006-01-02 15:04"), r.Filter.Tiers)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tACTORS\tCONVERSION\tSTEP")
	for _, m := range r.Result.Stages {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\n", m.Stage, m.Actors, 100*m.Conversion, 100*m.StepConversion)
	}
	fmt.Fprintf(w, "\nrevenue\t%.2f\norders\t%d\npurchasers\t%d\navg order value\t%.2f\n",
		r.Result.Revenue, r.Result.Orders, r.Result.Purchasers, r.Result.AvgOrderValue)

	fmt.Fprintf(w, "\n%s", r.By)
	for _, s := range funnel.Stages {
		fmt.Fprintf(w, "\t%s", s)
	}
	fmt.Fprintln(w, "\trevenue")
	for _, g := range r.Groups {
		fmt.Fprint(w, g.Key)
		for _, s := range funnel.Stages {
			fmt.Fprintf(w, "\t%d", g.Result.Actors(s))
		}
		fmt.Fprintf(w, "\t%.2f\n", g.Result.Revenue)
	}
	return w.Flush()
}
