package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/akes-protocol/akes-go/pkg/log"
)

// RunExport writes the events of path matching filter as JSON lines, to the
// file output or, when output is empty, to w.
func RunExport(path string, filter log.Filter, output string, w io.Writer) (err error) {
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if err := each(path, filter, func(ev log.Event) error { return enc.Encode(ev) }); err != nil {
		return err
	}
	return bw.Flush()
}
