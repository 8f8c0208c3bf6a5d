package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type importOptions struct {
	dialect   string
	force     bool
	stream    bool
	chunkSize int
	key       string
	parallel  int
	json      bool
	progress  bool
}

func (o importOptions) validate(paths []string) error {
	if o.key != "" && len(paths) > 1 {
		return errors.New("--key names one file; pass a single path")
	}
	if o.parallel < 1 {
		return errors.New("--parallel must be at least 1")
	}
	if o.chunkSize < 0 {
		return errors.New("--chunk-size must be non-negative")
	}
	return nil
}

// importOutcome is one file's line of output.
type importOutcome struct {
	Path   string        `json:"path"`
	Result *core.Result  `json:"result,omitempty"`
	Error  *outcomeError `json:"error,omitempty"`
}

type outcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	State   string `json:"state,omitempty"`
}

func newOutcomeError(err error) *outcomeError {
	msg := core.MapError(err)
	out := &outcomeError{Code: msg.Code, Message: msg.Message, Detail: core.TechnicalDetail(err)}
	var pipeErr *core.PipelineError
	if errors.As(err, &pipeErr) {
		out.State = string(pipeErr.State)
	}
	return out
}

func newImportCommand(stdout, stderr io.Writer) *cobra.Command {
	var o importOptions

	cmd := &cobra.Command{
		Use:   "import [flags] <path>...",
		Short: "Import one or more files.",
		Long: `Imports each file as its own job. Files are independent: one failing
does not stop the others, but the command exits non-zero if any failed.

Without --dialect the dialect is detected from the header row. A file whose
fingerprint is already recorded as loaded into the dialect's table is
skipped unless --force is given.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(args); err != nil {
				return err
			}

			ctx := cmd.Context()
			sess, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer sess.Close()

			var progressMu sync.Mutex
			outcomes := make([]importOutcome, len(args))

			var g errgroup.Group
			g.SetLimit(o.parallel)
			for i, path := range args {
				job := core.Job{
					Path:           path,
					Dialect:        o.dialect,
					Force:          o.force,
					Streaming:      o.stream,
					ChunkSize:      o.chunkSize,
					IdempotencyKey: o.key,
				}
				if o.progress {
					job.OnProgress = func(p core.Progress) {
						progressMu.Lock()
						defer progressMu.Unlock()
						fmt.Fprintf(stderr, "%s: %s %d rows (%d%%)\n", path, p.Stage, p.Rows, p.Percent())
					}
				}

				g.Go(func() error {
					res, err := sess.engine.Import(ctx, job)
					outcomes[i] = importOutcome{Path: path, Result: res}
					if err != nil {
						outcomes[i].Error = newOutcomeError(err)
					}
					return nil
				})
			}
			g.Wait()

			if err := writeOutcomes(stdout, outcomes, o.json); err != nil {
				return err
			}

			failed := 0
			for _, out := range outcomes {
				if out.Error != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d imports failed", failed, len(outcomes))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.dialect, "dialect", "d", "", "dialect ID to use instead of detection")
	flags.BoolVarP(&o.force, "force", "f", false, "load even if the ledger records this file as loaded")
	flags.BoolVarP(&o.stream, "stream", "s", false, "stream in bounded batches instead of buffering the file")
	flags.IntVar(&o.chunkSize, "chunk-size", 0, "rows per streamed batch (0 uses INGEST_CHUNK_SIZE)")
	flags.StringVar(&o.key, "key", "", "idempotency key to use instead of the file hash")
	flags.IntVarP(&o.parallel, "parallel", "p", 1, "number of files imported concurrently")
	flags.BoolVar(&o.json, "json", false, "print one JSON object per file")
	flags.BoolVar(&o.progress, "progress", false, "report progress on stderr")
	return cmd
}

func writeOutcomes(w io.Writer, outcomes []importOutcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, out := range outcomes {
			if err := enc.Encode(out); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSTATUS\tROWS\tDIALECT\tTABLE\tDETAIL")
	for _, out := range outcomes {
		if out.Error != nil {
			fmt.Fprintf(tw, "%s\terror\t-\t-\t-\t[%s] %s\n", out.Path, out.Error.Code, out.Error.Detail)
			continue
		}
		r := out.Result
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			out.Path, r.Status, r.Rows, r.Dialect, r.TargetTable, strings.Join(r.Warnings, "; "))
	}
	return tw.Flush()
}
