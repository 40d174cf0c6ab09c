package viewer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/capture"
	"github.com/drowsiness-detection/streaming-client/internal/encoder"
	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/internal/session"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

const (
	placeholderCaption = "NO SIGNAL"
	panelQuality       = 0.75
)

var errNotImage = errors.New("payload is not an image")

// placeholderJPEG renders the card shown while a panel has no image.
func placeholderJPEG(enc encoder.Encoder, width, height int) ([]byte, error) {
	img := capture.TestPattern(width, height, placeholderCaption, -1)
	ef, err := enc.Encode(context.Background(), &types.Frame{Image: img, Width: width, Height: height}, panelQuality)
	if err != nil {
		return nil, err
	}
	return ef.Data, nil
}

// decodePanelImage turns a base64 image from the analysis service into
// JPEG bytes. A data URI prefix is accepted. Non-JPEG images are re-encoded.
func decodePanelImage(enc encoder.Encoder, b64 string) ([]byte, error) {
	if strings.HasPrefix(b64, "data:") {
		if i := strings.IndexByte(b64, ','); i >= 0 {
			b64 = b64[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xD8 {
		return raw, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotImage, err)
	}
	b := img.Bounds()
	ef, err := enc.Encode(context.Background(), &types.Frame{Image: img, Width: b.Dx(), Height: b.Dy()}, panelQuality)
	if err != nil {
		return nil, err
	}
	return ef.Data, nil
}

// panel caches the decoded form of one display image so concurrent MJPEG
// clients decode each new image once.
type panel struct {
	name string
	pick func(session.State) string
	enc  encoder.Encoder

	mu   sync.Mutex
	src  string
	jpeg []byte
}

func (p *panel) frame(st session.State) ([]byte, bool) {
	b64 := p.pick(st)
	if b64 == "" {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b64 != p.src {
		p.src = b64
		data, err := decodePanelImage(p.enc, b64)
		if err != nil {
			logger.Debug("Viewer", "%s image unusable: %v", p.name, err)
		}
		p.jpeg = data
	}
	return p.jpeg, p.jpeg != nil
}

type jpegProvider func() ([]byte, bool)

// streamMJPEG writes multipart JPEG parts every interval until the client
// goes away or done is closed.
func streamMJPEG(ctx context.Context, w http.ResponseWriter, done <-chan struct{}, interval time.Duration, blank []byte, provider jpegProvider) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		jpegData := blank
		if data, ok := provider(); ok {
			jpegData = data
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// streamStatusEventsFromChannel streams pre-serialized status events to an
// SSE client.
func streamStatusEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, useProtobuf bool, keepalive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}

			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during status event write: %v", err)
				return
			}
			flusher.Flush()

		case <-time.After(keepalive):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
