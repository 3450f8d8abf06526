package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ayusman/gasketvision/internal/store"
)

func newTemplatesCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template"},
		Short:   "Manage gasket templates",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List templates",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return e.withStore(func(st *store.Store) error {
					return listTemplates(cmd.OutOrStdout(), st)
				})
			},
		},
		&cobra.Command{
			Use:   "import FILE",
			Short: "Create or update templates from a YAML file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				return e.withStore(func(st *store.Store) error {
					n, err := st.ImportYAML(f)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "imported %d templates\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "export [FILE]",
			Short: "Write all templates as YAML to FILE or stdout",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return e.withStore(func(st *store.Store) error {
					if len(args) == 0 {
						return st.ExportYAML(cmd.OutOrStdout())
					}
					f, err := os.Create(args[0])
					if err != nil {
						return err
					}
					if err := st.ExportYAML(f); err != nil {
						f.Close()
						return err
					}
					return f.Close()
				})
			},
		},
		&cobra.Command{
			Use:   "select NAME",
			Short: "Make NAME the template used by inspections",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return e.withStore(func(st *store.Store) error {
					t, err := st.Templates().GetByName(args[0])
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("template %q not found", args[0])
					}
					if err != nil {
						return err
					}
					if err := st.Templates().Select(t.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "selected %s\n", t.Name)
					return nil
				})
			},
		},
	)
	return cmd
}

func (e *env) withStore(fn func(*store.Store) error) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func listTemplates(w io.Writer, st *store.Store) error {
	templates, err := st.Templates().List()
	if err != nil {
		return err
	}
	var selectedID string
	if sel, err := st.Templates().Selected(); err == nil {
		selectedID = sel.ID
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHOLES\tEXPECTED_MM\tLAST_MM\tNOTCHES\tINSPECTIONS\tSELECTED")
	for _, t := range templates {
		last := "-"
		if t.LastObservedMM != nil {
			last = fmt.Sprintf("%.1f", *t.LastObservedMM)
		}
		sel := ""
		if t.ID == selectedID {
			sel = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%s\t%d\t%d\t%s\n",
			t.Name, t.HoleCount, t.ExpectedSeparationMM, last, len(t.Notches), t.Inspections, sel)
	}
	return tw.Flush()
}
