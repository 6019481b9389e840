package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

const streamBufferSize = 32 << 10

// StreamHandler serves asset bytes through the caching source.
type StreamHandler struct {
	svc usecase.StreamService
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(svc usecase.StreamService) *StreamHandler {
	return &StreamHandler{svc: svc}
}

// Stream handles GET /v1/assets/{id}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseAssetID(w, r)
	if !ok {
		return
	}

	rng, ranged := parseRange(r.Header.Get("Range"))
	out, err := h.svc.OpenStream(r.Context(), assetID, rng)
	if err != nil {
		if errors.Is(err, repository.ErrRangeNotSatisfiable) {
			Error(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "Requested range is past the end of the resource")
			return
		}
		handleServiceError(w, err)
		return
	}
	st := out.Stream
	defer st.Close()

	// The first read learns the resource length from the origin, so headers
	// are written only after it.
	buf := make([]byte, streamBufferSize)
	n, readErr := readFirst(st, buf)
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		switch {
		case errors.Is(readErr, repository.ErrRangeNotSatisfiable):
			unsatisfiable(w, st.Size())
		case errors.Is(readErr, repository.ErrNetwork):
			slog.Warn("origin read failed", "asset_id", assetID, "error", readErr)
			Error(w, http.StatusBadGateway, "origin_error", "Origin request failed")
		default:
			slog.Error("stream read failed", "asset_id", assetID, "error", readErr)
			Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		}
		return
	}

	size := st.Size()
	header := w.Header()
	header.Set("Content-Type", contentType(out.MimeType, st.ContentType()))
	header.Set("Accept-Ranges", "bytes")

	status := http.StatusOK
	if ranged && out.Ranged {
		if size == 0 {
			unsatisfiable(w, size)
			return
		}
		start := out.Offset
		switch last := lastByte(rng, start, size); {
		case size > 0:
			header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, last, size))
			header.Set("Content-Length", strconv.FormatInt(last-start+1, 10))
			status = http.StatusPartialContent
		case last >= 0:
			header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, last))
			status = http.StatusPartialContent
		case start > 0:
			// Open-ended range over a resource of unknown length.
			status = http.StatusPartialContent
		}
	} else if size >= 0 && out.Offset == 0 {
		header.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(status)

	if n > 0 {
		if _, err := w.Write(buf[:n]); err != nil {
			return
		}
	}
	if readErr != nil {
		return
	}
	if _, err := io.CopyBuffer(w, st, buf); err != nil {
		slog.Warn("stream interrupted",
			"asset_id", assetID,
			"offset", st.Offset(),
			"error", err,
		)
		// Headers are gone; dropping the connection keeps a chunked body from
		// looking complete.
		panic(http.ErrAbortHandler)
	}
}

func readFirst(r io.Reader, buf []byte) (int, error) {
	for {
		n, err := r.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// lastByte returns the inclusive end of the response range, or -1 when it
// cannot be known.
func lastByte(rng usecase.ByteRange, start, size int64) int64 {
	switch {
	case size >= 0 && rng.Length >= 0 && rng.Suffix == 0:
		if rng.Length >= size-start {
			return size - 1
		}
		return start + rng.Length - 1
	case size >= 0:
		return size - 1
	case rng.Length > 0 && rng.Suffix == 0 && rng.Length <= math.MaxInt64-start:
		return start + rng.Length - 1
	default:
		return -1
	}
}

func unsatisfiable(w http.ResponseWriter, size int64) {
	if size >= 0 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	}
	Error(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "Requested range is past the end of the resource")
}

func contentType(mimeType, origin string) string {
	switch {
	case mimeType != "":
		return mimeType
	case origin != "":
		return origin
	default:
		return "application/octet-stream"
	}
}

// parseRange parses a single-range Range header: "bytes=a-b", "bytes=a-" or
// "bytes=-n". Multiple ranges and malformed values are ignored, which serves
// the whole resource.
func parseRange(value string) (usecase.ByteRange, bool) {
	whole := usecase.ByteRange{Length: -1}
	set, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !ok || strings.Contains(set, ",") {
		return whole, false
	}
	first, last, ok := strings.Cut(strings.TrimSpace(set), "-")
	if !ok {
		return whole, false
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return whole, false
		}
		return usecase.ByteRange{Length: -1, Suffix: n}, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return whole, false
	}
	if last == "" {
		return usecase.ByteRange{Offset: start, Length: -1}, true
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return whole, false
	}
	// A last-pos past the end is valid; keep the length representable.
	length := end - start
	if length < math.MaxInt64 {
		length++
	}
	return usecase.ByteRange{Offset: start, Length: length}, true
}
