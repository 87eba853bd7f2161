// Command pdfedit inspects and edits PDF form documents from the
// command line: listing and reading objects, patching a field's value
// dictionary, and rendering an incremental update or a full flatten.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/core/editor"
	"github.com/benedoc-inc/pdfedit/logging"
)

var verbose bool

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfedit",
		Short: "Inspect and surgically edit PDF objects without a full parse tree",
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.AddCommand(listCmd(), readCmd(), setCmd(), flattenCmd(), clearCmd())
	return cmd
}

func openEditor(path string, log *zap.Logger) (*editor.Editor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return editor.Open(data, log)
}

func parseRef(s string) (dictscan.Ref, error) {
	var num, gen int
	if _, err := fmt.Sscanf(s, "%d %d", &num, &gen); err == nil {
		return dictscan.Ref{Num: num, Gen: gen}, nil
	}
	if _, err := fmt.Sscanf(s, "%d", &num); err == nil {
		return dictscan.Ref{Num: num, Gen: 0}, nil
	}
	return dictscan.Ref{}, fmt.Errorf("invalid object reference %q, expected \"num\" or \"num gen\"", s)
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <file>",
		Short: "List every live object reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			defer log.Sync()

			ed, err := openEditor(args[0], log)
			if err != nil {
				return err
			}
			return ed.ListObjects(func(ref dictscan.Ref, body []byte) error {
				fmt.Printf("%s\n", ref.String())
				return nil
			})
		},
	}
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <file> <ref>",
		Short: "Print one object's body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			defer log.Sync()

			ed, err := openEditor(args[0], log)
			if err != nil {
				return err
			}
			ref, err := parseRef(args[1])
			if err != nil {
				return err
			}
			body, ok := ed.Read(ref)
			if !ok {
				return fmt.Errorf("object %s not found", ref.String())
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	var output string
	var full bool

	cmd := &cobra.Command{
		Use:   "set <file> <ref> <new-body>",
		Short: "Enqueue a replacement body for one object and write it out",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			defer log.Sync()

			ed, err := openEditor(args[0], log)
			if err != nil {
				return err
			}
			ref, err := parseRef(args[1])
			if err != nil {
				return err
			}
			original, _ := ed.Read(ref)
			ed.Enqueue(ref, []byte(args[2]), original)

			var out []byte
			if full {
				out, err = ed.WriteFull()
			} else {
				out, err = ed.WriteIncremental()
			}
			if err != nil {
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "out.pdf", "path to write the result to")
	cmd.Flags().BoolVar(&full, "full", false, "rewrite the whole document instead of appending an incremental update")
	return cmd
}

func clearCmd() *cobra.Command {
	var output string
	var fields, widgets string

	cmd := &cobra.Command{
		Use:   "clear <file>",
		Short: "Drop the given fields and widget annotations and rewrite the document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			defer log.Sync()

			ed, err := openEditor(args[0], log)
			if err != nil {
				return err
			}
			dropFields, err := parseRefList(fields)
			if err != nil {
				return err
			}
			dropWidgets, err := parseRefList(widgets)
			if err != nil {
				return err
			}
			out, err := ed.Clear(dropFields, dropWidgets)
			if err != nil {
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "out.pdf", "path to write the result to")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated field object refs to drop, e.g. \"4,9 0\"")
	cmd.Flags().StringVar(&widgets, "widgets", "", "comma-separated widget annotation refs to drop")
	return cmd
}

func parseRefList(s string) ([]dictscan.Ref, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var refs []dictscan.Ref
	for _, part := range strings.Split(s, ",") {
		ref, err := parseRef(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func flattenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "flatten <file>",
		Short: "Rewrite the document from scratch, discarding update history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			defer log.Sync()

			ed, err := openEditor(args[0], log)
			if err != nil {
				return err
			}
			out, err := ed.WriteFull()
			if err != nil {
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "out.pdf", "path to write the result to")
	return cmd
}
