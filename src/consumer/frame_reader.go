package consumer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"stock-stream/src/helpers"
	"stock-stream/src/models"
)

const maxFrameLine = 1024 * 1024

// FrameReader decodes the proxy's "data: <json>" SSE frames from a stream.
type FrameReader struct {
	scanner *bufio.Scanner
}

func NewFrameReader(r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrameLine)
	return &FrameReader{scanner: sc}
}

// Next returns the next frame, io.EOF when the stream ends cleanly, or a
// *helpers.ParseError for a frame whose payload is not valid JSON.
func (fr *FrameReader) Next() (models.MStreamFrame, error) {
	var data bytes.Buffer

	for fr.scanner.Scan() {
		line := fr.scanner.Bytes()

		if len(line) == 0 {
			if data.Len() == 0 {
				continue
			}
			return decodeFrame(data.Bytes())
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if !found || string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.Write(value)
	}

	if err := fr.scanner.Err(); err != nil {
		return models.MStreamFrame{}, err
	}
	if data.Len() > 0 {
		return decodeFrame(data.Bytes())
	}
	return models.MStreamFrame{}, io.EOF
}

func decodeFrame(data []byte) (models.MStreamFrame, error) {
	var frame models.MStreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return models.MStreamFrame{}, helpers.NewParseError("malformed stream frame", err)
	}
	return frame, nil
}
