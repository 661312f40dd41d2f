package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"stock-stream/src/models"
)

// WriteSSEFrame writes one "data: <json>\n\n" frame and flushes when w supports it.
func WriteSSEFrame(w io.Writer, frame models.MStreamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
