package producer

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/framebucket/framebucket/internal/ferrors"
	"github.com/framebucket/framebucket/internal/frame"
)

// Publisher is the minimal bus-producer contract the runner needs;
// internal/bus.Writer implements it against Kafka.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// MJPEGRunner connects to an MJPEG multipart stream and publishes one
// frame.Frame per JPEG part, reconnecting with backoff on failure.
type MJPEGRunner struct {
	URL      string
	RobotID  string
	Topic    string
	Pub      Publisher
	Client   *http.Client
	Log      *log.Logger
	seq      atomic.Uint64
}

// Run blocks, reconnecting until ctx is cancelled.
func (r *MJPEGRunner) Run(ctx context.Context) error {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	backoff := NewBackoff()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.consumeOnce(ctx, client)
		if err == nil {
			r.Log.Printf("stream ended cleanly, reconnecting")
			backoff.Reset()
		} else {
			r.Log.Printf("stream error: %v, reconnecting", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.Next()):
		}
	}
}

func (r *MJPEGRunner) consumeOnce(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-success status %d", resp.StatusCode)
	}

	parser := NewMJPEGParser()
	chunk := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			for _, jpeg := range parser.Feed(chunk[:n]) {
				if err := r.publish(ctx, jpeg); err != nil {
					r.Log.Printf("publish failed: %v", err)
				}
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (r *MJPEGRunner) publish(ctx context.Context, jpeg []byte) error {
	nowMs := time.Now().UnixMilli()
	seq := r.seq.Add(1) - 1
	f := frame.NewJPEG(jpeg, nowMs, seq)
	key := fmt.Sprintf("%s:%d", r.RobotID, nowMs)
	if err := r.Pub.Publish(ctx, key, f.Serialize()); err != nil {
		return ferrors.Wrap(ferrors.BusConsume, err)
	}
	return nil
}

// H264Runner connects to a raw TCP MPEG-TS stream and publishes one
// frame.Frame per reassembled H.264 access unit.
type H264Runner struct {
	Addr    string
	RobotID string
	Dial    func(ctx context.Context, addr string) (io.ReadCloser, error)
	Pub     Publisher
	Log     *log.Logger
	seq     atomic.Uint64
}

// Run blocks, reconnecting until ctx is cancelled.
func (r *H264Runner) Run(ctx context.Context) error {
	backoff := NewBackoff()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.consumeOnce(ctx)
		if err == nil {
			r.Log.Printf("stream ended cleanly, reconnecting")
			backoff.Reset()
		} else {
			r.Log.Printf("stream error: %v, reconnecting", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.Next()):
		}
	}
}

func (r *H264Runner) consumeOnce(ctx context.Context) error {
	conn, err := r.Dial(ctx, r.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	asm := NewPESAssembler()
	var carry []byte
	chunk := make([]byte, 64*1024)

	for {
		n, rerr := conn.Read(chunk)
		if n > 0 {
			carry = append(carry, chunk[:n]...)
			carry = r.drainPackets(ctx, asm, carry)
		}
		if rerr == io.EOF {
			if au := asm.Flush(); len(au) > 0 {
				r.publish(ctx, au)
			}
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (r *H264Runner) drainPackets(ctx context.Context, asm *PESAssembler, buf []byte) []byte {
	for {
		idx := AlignToSync(buf)
		if idx < 0 {
			if len(buf) > tsPacketSize {
				buf = buf[len(buf)-tsPacketSize:]
			}
			return buf
		}
		buf = buf[idx:]
		if len(buf) < tsPacketSize {
			return buf
		}
		pkt := buf[:tsPacketSize]
		buf = buf[tsPacketSize:]
		if au, emitted := asm.PushPacket(pkt); emitted {
			r.publish(ctx, au)
		}
	}
}

func (r *H264Runner) publish(ctx context.Context, au []byte) {
	nalType := DetectNALType(au)
	nowMs := time.Now().UnixMilli()
	seq := r.seq.Add(1) - 1
	f := frame.NewH264(au, nalType, nowMs, seq)
	key := fmt.Sprintf("%s:%d", r.RobotID, nowMs)
	if err := r.Pub.Publish(ctx, key, f.Serialize()); err != nil {
		r.Log.Printf("publish failed: %v", err)
	}
}
