package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/altfoxie/bing-client/internal/metrics"
	"github.com/altfoxie/bing-client/pkg/protocol"
	"go.uber.org/zap"
)

// demux turns the inbound side of one turn's connection into events.
type demux struct {
	conn  Conn
	slot  *connSlot
	lease *lease
	turn  *Turn
	log   *zap.Logger
}

// run consumes messages until the stream ends. A server close ends the
// stream cleanly and yields nil.
func (d *demux) run(ctx context.Context) error {
	for {
		data, err := d.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.log.Debug("ws closed")
				return nil
			}
			d.log.Debug("ws read failed", zap.Error(err))
			return err
		}
		d.dispatch(ctx, data)
	}
}

func (d *demux) dispatch(ctx context.Context, data []byte) {
	frames, skipped := protocol.Decode(data)
	for _, err := range skipped {
		d.log.Warn("expected json", zap.Error(err))
		metrics.FramesSkippedTotal.WithLabelValues("invalid_json").Inc()
	}

	for _, f := range frames {
		mt, ok := f.Type()
		if !ok {
			d.log.Warn("expected type id", zap.ByteString("frame", f.Raw))
			metrics.FramesSkippedTotal.WithLabelValues("missing_type").Inc()
			continue
		}

		d.log.Debug("frame received", zap.Stringer("type", mt))
		switch mt {
		case protocol.MessageTypeUpdate:
			text, ok := f.UpdateText()
			if !ok {
				d.log.Warn("no text in update message")
				metrics.FramesSkippedTotal.WithLabelValues("missing_text").Inc()
				continue
			}
			d.emit(Update(strings.TrimSpace(text)))
		case protocol.MessageTypeComplete:
			d.turn.completed.Store(true)
			d.emit(Complete())
		case protocol.MessageTypeClose:
			d.closeWriter(ctx)
		default:
			if mt.Known() {
				d.log.Debug("unexpected type id", zap.Stringer("type", mt))
				metrics.FramesSkippedTotal.WithLabelValues("unexpected_type").Inc()
				continue
			}
			d.log.Warn("unknown type id", zap.Stringer("type", mt))
			metrics.FramesSkippedTotal.WithLabelValues("unknown_type").Inc()
		}
	}
}

func (d *demux) emit(e Event) {
	metrics.EventsTotal.WithLabelValues(e.Kind.String()).Inc()
	d.turn.queue.push(e)
}

// closeWriter answers a server close instruction: the writer leaves the
// slot and a close frame is sent. Reading continues until the server's
// close arrives.
func (d *demux) closeWriter(ctx context.Context) {
	w := d.slot.take(d.lease)
	if w == nil {
		d.log.Debug("writer already released")
		return
	}
	d.log.Debug("closing ws")
	if err := w.CloseHandshake(ctx); err != nil {
		d.log.Warn("failed to close ws", zap.Error(err))
	}
}

// finish releases everything the turn holds. Safe after closeWriter.
func (d *demux) finish() {
	d.slot.take(d.lease)
	if err := d.conn.Close(); err != nil {
		d.log.Debug("failed to release connection", zap.Error(err))
	}
	d.turn.queue.close()
	d.log.Debug("idle")
}
