package procpool

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// WorkerEnv marks a child process as a pool worker. The process entrypoint
// checks it before normal CLI handling and calls WorkerMain instead.
const WorkerEnv = "STAGEGRID_PROCPOOL_WORKER"

// maxFrameSize caps a single request or response frame. Payloads are
// controller data, not bulk transfers; anything larger indicates a
// corrupted stream.
const maxFrameSize = 64 << 20

// request is one unit of work sent to a worker process.
type request struct {
	ID      string `msgpack:"id"`
	Job     string `msgpack:"job"`
	Payload []byte `msgpack:"payload"`
}

// response is the worker's answer to a request.
type response struct {
	ID      string `msgpack:"id"`
	OK      bool   `msgpack:"ok"`
	Payload []byte `msgpack:"payload"`
	Error   string `msgpack:"error"`
}

// writeFrame writes a length-delimited msgpack frame: a 4-byte big-endian
// length followed by the encoded value.
func writeFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("procpool: encode frame: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("procpool: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("procpool: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-delimited msgpack frame into v.
func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("procpool: read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return fmt.Errorf("procpool: frame size %d exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("procpool: read frame body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("procpool: decode frame: %w", err)
	}
	return nil
}
